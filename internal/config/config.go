// Package config holds the TaskMaster configuration: providers and
// their rate limits, the hook registry, engine behavior, and paths.
// Values come from viper (config file, TASKMASTER_ env vars, defaults).
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/taskmaster/internal/backoff"
	"github.com/Iron-Ham/taskmaster/internal/hooks"
	"github.com/Iron-Ham/taskmaster/internal/ratelimit"
)

// Config represents the complete TaskMaster configuration.
type Config struct {
	ActiveProvider string                    `mapstructure:"active_provider"`
	Providers      map[string]ProviderConfig `mapstructure:"providers"`
	Hooks          map[string]hooks.Config   `mapstructure:"hooks"`
	Engine         EngineConfig              `mapstructure:"engine"`
	Backoff        backoff.Config            `mapstructure:"backoff"`
	Prompt         PromptConfig              `mapstructure:"prompt"`
	Logging        LoggingConfig             `mapstructure:"logging"`
	Paths          PathsConfig               `mapstructure:"paths"`
}

// ProviderConfig configures one agent provider.
type ProviderConfig struct {
	// APIKey is a literal key or a $VAR reference resolved from the
	// environment.
	APIKey string `mapstructure:"api_key"`
	// APIKeyEnv names an environment variable holding the key. Takes
	// precedence over APIKey.
	APIKeyEnv string `mapstructure:"api_key_env"`

	Model      string           `mapstructure:"model"`
	BaseURL    string           `mapstructure:"base_url"`
	RateLimits ratelimit.Config `mapstructure:"rate_limits"`

	// MaxTokens is the default completion cap per request.
	MaxTokens int `mapstructure:"max_tokens"`
	// Temperature is the default sampling temperature.
	Temperature float32 `mapstructure:"temperature"`
}

// ResolveAPIKey returns the provider's API key, resolving environment
// indirection. Empty means no key is available.
func (p ProviderConfig) ResolveAPIKey() string {
	if p.APIKeyEnv != "" {
		return os.Getenv(p.APIKeyEnv)
	}
	if strings.HasPrefix(p.APIKey, "$") {
		return os.Getenv(strings.TrimPrefix(p.APIKey, "$"))
	}
	return p.APIKey
}

// EngineConfig controls the execution loop and escalation policy.
type EngineConfig struct {
	// MaxAttempts is the silent-retry ceiling per task before escalation.
	MaxAttempts int `mapstructure:"max_attempts"`
	// StopOnFirstFailure escalates on the very first failed attempt.
	StopOnFirstFailure bool `mapstructure:"stop_on_first_failure"`
	// AutoApply applies agent-suggested changes to the working tree.
	AutoApply bool `mapstructure:"auto_apply"`
	// DryRun logs changes instead of writing them.
	DryRun bool `mapstructure:"dry_run"`
	// NonInteractive disables the escalation prompt; escalations use
	// DefaultDecision instead.
	NonInteractive bool `mapstructure:"non_interactive"`
	// DefaultDecision is the decision taken when escalating without a
	// terminal: "retry", "skip" or "abort".
	DefaultDecision string `mapstructure:"default_decision"`
}

// PromptConfig controls prompt construction.
type PromptConfig struct {
	// TemplatePath points at an optional section template file.
	TemplatePath string `mapstructure:"template_path"`
	// IncludeGitStatus adds a git status fence to every prompt.
	IncludeGitStatus bool `mapstructure:"include_git_status"`
	// IncludeFileSnippets adds matching file contents to prompts.
	IncludeFileSnippets bool `mapstructure:"include_file_snippets"`
	// FilePatterns selects snippet files (glob patterns on
	// slash-relative paths).
	FilePatterns []string `mapstructure:"file_patterns"`
	// MaxFileSize bounds each included snippet in bytes.
	MaxFileSize int `mapstructure:"max_file_size"`
}

// LoggingConfig controls the run log.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// PathsConfig controls where run state and logs live, relative to the
// working directory.
type PathsConfig struct {
	StateDir string `mapstructure:"state_dir"`
	LogDir   string `mapstructure:"log_dir"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ActiveProvider: "claude",
		Providers: map[string]ProviderConfig{
			"claude": {
				APIKeyEnv:   "ANTHROPIC_API_KEY",
				Model:       "claude-3-5-sonnet-20241022",
				MaxTokens:   4096,
				Temperature: 0.7,
			},
		},
		Hooks: map[string]hooks.Config{},
		Engine: EngineConfig{
			MaxAttempts:     3,
			AutoApply:       true,
			DefaultDecision: "abort",
		},
		Backoff: backoff.Config{
			Base:       backoff.DefaultBase,
			Max:        backoff.DefaultMax,
			MaxRetries: backoff.DefaultMaxRetries,
		},
		Prompt: PromptConfig{
			IncludeGitStatus: true,
			MaxFileSize:      10_000,
		},
		Logging: LoggingConfig{Level: "INFO"},
		Paths: PathsConfig{
			StateDir: ".taskmaster",
			LogDir:   filepath.Join(".taskmaster", "logs"),
		},
	}
}

// SetDefaults registers default values with viper.
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("active_provider", defaults.ActiveProvider)

	viper.SetDefault("engine.max_attempts", defaults.Engine.MaxAttempts)
	viper.SetDefault("engine.stop_on_first_failure", defaults.Engine.StopOnFirstFailure)
	viper.SetDefault("engine.auto_apply", defaults.Engine.AutoApply)
	viper.SetDefault("engine.dry_run", defaults.Engine.DryRun)
	viper.SetDefault("engine.non_interactive", defaults.Engine.NonInteractive)
	viper.SetDefault("engine.default_decision", defaults.Engine.DefaultDecision)

	viper.SetDefault("backoff.base", defaults.Backoff.Base)
	viper.SetDefault("backoff.max", defaults.Backoff.Max)
	viper.SetDefault("backoff.max_retries", defaults.Backoff.MaxRetries)

	viper.SetDefault("prompt.include_git_status", defaults.Prompt.IncludeGitStatus)
	viper.SetDefault("prompt.include_file_snippets", defaults.Prompt.IncludeFileSnippets)
	viper.SetDefault("prompt.max_file_size", defaults.Prompt.MaxFileSize)

	viper.SetDefault("logging.level", defaults.Logging.Level)

	viper.SetDefault("paths.state_dir", defaults.Paths.StateDir)
	viper.SetDefault("paths.log_dir", defaults.Paths.LogDir)
}

// Load reads the configuration from viper into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.Providers == nil {
		cfg.Providers = Default().Providers
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// ActiveProviderConfig returns the config for the active provider.
func (c *Config) ActiveProviderConfig() (ProviderConfig, bool) {
	p, ok := c.Providers[c.ActiveProvider]
	return p, ok
}

// ConfigDir returns the path to the user's config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "taskmaster")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".taskmaster"
	}
	return filepath.Join(home, ".config", "taskmaster")
}

// ConfigFile returns the path to the user config file.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
