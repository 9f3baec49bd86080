package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/taskmaster/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or validate TaskMaster configuration",
	Long: `View or validate TaskMaster configuration.

Without arguments, displays the current configuration.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long:  `Check the configuration for invalid values and report every finding.`,
	RunE:  runConfigValidate,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/taskmaster/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fmt.Println("Current configuration:")
	fmt.Println()

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Printf("Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Printf("Config file: (none - using defaults)\n")
	}
	fmt.Println()

	fmt.Printf("active_provider: %s\n", cfg.ActiveProvider)

	fmt.Println("providers:")
	for _, name := range sortedKeys(cfg.Providers) {
		p := cfg.Providers[name]
		fmt.Printf("  %s:\n", name)
		fmt.Printf("    model: %s\n", p.Model)
		if p.BaseURL != "" {
			fmt.Printf("    base_url: %s\n", p.BaseURL)
		}
		if p.ResolveAPIKey() != "" {
			fmt.Printf("    api_key: (set)\n")
		} else {
			fmt.Printf("    api_key: (not set)\n")
		}
		rl := p.RateLimits
		if !rl.Unlimited() {
			fmt.Printf("    rate_limits: %d req/min, %d tok/hour, %d tok/day, %d tok/week (0 = unlimited)\n",
				rl.MaxRequestsMinute, rl.MaxTokensHour, rl.MaxTokensDay, rl.MaxTokensWeek)
		}
	}

	fmt.Println("engine:")
	fmt.Printf("  max_attempts: %d\n", cfg.Engine.MaxAttempts)
	fmt.Printf("  stop_on_first_failure: %v\n", cfg.Engine.StopOnFirstFailure)
	fmt.Printf("  auto_apply: %v\n", cfg.Engine.AutoApply)
	fmt.Printf("  dry_run: %v\n", cfg.Engine.DryRun)
	fmt.Printf("  non_interactive: %v\n", cfg.Engine.NonInteractive)
	fmt.Printf("  default_decision: %s\n", cfg.Engine.DefaultDecision)

	fmt.Println("backoff:")
	fmt.Printf("  base: %s\n", cfg.Backoff.Base)
	fmt.Printf("  max: %s\n", cfg.Backoff.Max)
	fmt.Printf("  max_retries: %d\n", cfg.Backoff.MaxRetries)

	if len(cfg.Hooks) > 0 {
		fmt.Println("hooks:")
		for _, id := range sortedKeys(cfg.Hooks) {
			fmt.Printf("  %s: %s\n", id, cfg.Hooks[id].Command)
		}
	}

	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to parse configuration: %w", err)
	}
	if cfg.Providers == nil {
		cfg.Providers = config.Default().Providers
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		fmt.Println(config.ValidationErrors(errs).Error())
		return fmt.Errorf("configuration has %d problem(s)", len(errs))
	}

	fmt.Println("Configuration is valid")
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s", configFile)
	}

	// Create config directory
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Generate a commented config file
	configContent := `# TaskMaster Configuration

# Provider used for agent calls
active_provider: claude

providers:
  claude:
    # API key is read from this environment variable
    api_key_env: ANTHROPIC_API_KEY
    model: claude-3-5-sonnet-20241022
    max_tokens: 4096
    temperature: 0.7
    # 0 means unlimited
    rate_limits:
      max_requests_minute: 0
      max_tokens_hour: 0
      max_tokens_day: 0
      max_tokens_week: 0

engine:
  # Attempts per task before asking what to do
  max_attempts: 3
  stop_on_first_failure: false
  # Apply agent-suggested changes to the working tree
  auto_apply: true
  dry_run: false
  # Escalation decision when running without a terminal
  # Options: retry, skip, abort
  non_interactive: false
  default_decision: abort

backoff:
  base: 2s
  max: 5m
  max_retries: 5

prompt:
  include_git_status: true
  include_file_snippets: false
  max_file_size: 10000

# Named hooks referenced by tasks as pre_hooks / post_hooks
hooks: {}
#  test:
#    command: go test ./...
#    timeout: 5m
#  lint:
#    command: golangci-lint run
#    continue_on_failure: true

logging:
  level: INFO

paths:
  state_dir: .taskmaster
  log_dir: .taskmaster/logs
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configFile := config.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Printf("Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Printf("Default path: %s (not created)\n", configFile)
	}

	// Also show config search paths
	fmt.Println("\nSearch paths:")
	fmt.Printf("  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Printf("  2. $HOME/.config/taskmaster/config.yaml\n")
	fmt.Printf("  3. ./config.yaml (current directory)\n")
	fmt.Println("\nEnvironment variables: TASKMASTER_* (e.g., TASKMASTER_ENGINE_MAX_ATTEMPTS)")

	return nil
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
