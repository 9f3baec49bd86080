// Package hooks executes configured shell commands before and after
// task attempts. A failing hook short-circuits the remaining hooks of
// its phase unless the hook is marked continue_on_failure.
package hooks

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/Iron-Ham/taskmaster/internal/errors"
	"github.com/Iron-Ham/taskmaster/internal/logging"
)

// DefaultTimeout bounds a hook that configures none.
const DefaultTimeout = 300 * time.Second

// Config describes one named hook.
type Config struct {
	// Command is run through the shell.
	Command string `json:"command" yaml:"command" mapstructure:"command"`

	// WorkingDir is resolved relative to the runner's working directory.
	WorkingDir string `json:"working_dir,omitempty" yaml:"working_dir,omitempty" mapstructure:"working_dir"`

	// Timeout bounds the command. Zero uses DefaultTimeout.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" mapstructure:"timeout"`

	// ContinueOnFailure lets the phase proceed past this hook's failure.
	ContinueOnFailure bool `json:"continue_on_failure,omitempty" yaml:"continue_on_failure,omitempty" mapstructure:"continue_on_failure"`

	// Environment is merged over the inherited environment.
	Environment map[string]string `json:"environment,omitempty" yaml:"environment,omitempty" mapstructure:"environment"`

	Description string `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
}

// Result captures one hook execution.
type Result struct {
	HookID    string        `json:"hook_id"`
	Command   string        `json:"command"`
	ExitCode  int           `json:"exit_code"`
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
	Success   bool          `json:"success"`
	TimedOut  bool          `json:"timed_out"`
}

// Runner executes hooks by ID against a registry of configs.
type Runner struct {
	registry   map[string]Config
	workingDir string
	logDir     string
	logger     *logging.Logger
}

// NewRunner creates a Runner. logDir receives per-task hook transcripts;
// empty disables transcript files.
func NewRunner(registry map[string]Config, workingDir, logDir string, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Runner{
		registry:   registry,
		workingDir: workingDir,
		logDir:     logDir,
		logger:     logger,
	}
}

// Run executes one hook and returns its result. The returned error is
// non-nil only for unknown hook IDs; command failure is reported through
// Result so the caller decides whether to continue.
func (r *Runner) Run(ctx context.Context, hookID string) (Result, error) {
	cfg, ok := r.registry[hookID]
	if !ok {
		return Result{HookID: hookID, ExitCode: -1, Timestamp: time.Now().UTC()},
			errors.NewHookError("hook not found in configuration", errors.ErrHookNotFound).WithHookID(hookID)
	}
	return r.exec(ctx, hookID, cfg), nil
}

// RunAll executes hooks in order. A failed hook without
// continue_on_failure stops the phase with a HookError; results for all
// executed hooks are returned either way.
func (r *Runner) RunAll(ctx context.Context, hookIDs []string) ([]Result, error) {
	var results []Result
	for _, hookID := range hookIDs {
		result, err := r.Run(ctx, hookID)
		results = append(results, result)
		if err != nil {
			return results, err
		}
		if result.Success {
			continue
		}

		cfg := r.registry[hookID]
		if cfg.ContinueOnFailure {
			r.logger.Warn("hook failed, continuing",
				"hook_id", hookID, "exit_code", result.ExitCode)
			continue
		}
		herr := errors.NewHookError(
			fmt.Sprintf("hook failed with exit code %d", result.ExitCode), nil).
			WithHookID(hookID).
			WithExitCode(result.ExitCode).
			WithTimedOut(result.TimedOut)
		return results, herr
	}
	return results, nil
}

func (r *Runner) exec(ctx context.Context, hookID string, cfg Config) Result {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	workDir := r.workingDir
	if cfg.WorkingDir != "" {
		workDir = filepath.Join(r.workingDir, cfg.WorkingDir)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", cfg.Command)
	cmd.Dir = workDir
	cmd.Env = mergedEnv(cfg.Environment)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	result := Result{
		HookID:    hookID,
		Command:   cfg.Command,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Duration:  duration,
		Timestamp: start.UTC(),
	}

	switch {
	case runErr == nil:
		result.Success = true
	case ctx.Err() == context.DeadlineExceeded:
		result.ExitCode = -1
		result.TimedOut = true
	default:
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
	}

	r.logger.Debug("hook executed",
		"hook_id", hookID,
		"exit_code", result.ExitCode,
		"duration", duration.String(),
		"timed_out", result.TimedOut)

	return result
}

func mergedEnv(extra map[string]string) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// SaveResults writes a plain-text transcript of a hook phase under
// <logDir>/<taskID>/<phase>.log. A Runner with no log directory skips it.
func (r *Runner) SaveResults(taskID, phase string, results []Result) error {
	if r.logDir == "" {
		return nil
	}

	dir := filepath.Join(r.logDir, taskID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create hook log directory: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== %s-TASK HOOKS ===\n", strings.ToUpper(phase))
	fmt.Fprintf(&b, "Task: %s\n", taskID)
	fmt.Fprintf(&b, "Total hooks: %d\n\n", len(results))

	for _, res := range results {
		fmt.Fprintf(&b, "--- Hook: %s ---\n", res.HookID)
		fmt.Fprintf(&b, "Command: %s\n", res.Command)
		fmt.Fprintf(&b, "Timestamp: %s\n", res.Timestamp.Format(time.RFC3339))
		fmt.Fprintf(&b, "Duration: %.2fs\n", res.Duration.Seconds())
		fmt.Fprintf(&b, "Exit code: %d\n", res.ExitCode)
		fmt.Fprintf(&b, "Success: %t\n", res.Success)
		if res.TimedOut {
			b.WriteString("Status: TIMED OUT\n")
		}
		if res.Stdout != "" {
			fmt.Fprintf(&b, "\nStdout:\n%s\n", res.Stdout)
		}
		if res.Stderr != "" {
			fmt.Fprintf(&b, "\nStderr:\n%s\n", res.Stderr)
		}
		b.WriteString("\n")
	}

	path := filepath.Join(dir, phase+".log")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write hook log: %w", err)
	}
	return nil
}
