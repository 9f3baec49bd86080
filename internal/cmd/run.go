package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/taskmaster/internal/agent"
	"github.com/Iron-Ham/taskmaster/internal/apply"
	"github.com/Iron-Ham/taskmaster/internal/backoff"
	"github.com/Iron-Ham/taskmaster/internal/config"
	"github.com/Iron-Ham/taskmaster/internal/engine"
	"github.com/Iron-Ham/taskmaster/internal/errors"
	"github.com/Iron-Ham/taskmaster/internal/escalate"
	"github.com/Iron-Ham/taskmaster/internal/hooks"
	"github.com/Iron-Ham/taskmaster/internal/logging"
	"github.com/Iron-Ham/taskmaster/internal/prompt"
	"github.com/Iron-Ham/taskmaster/internal/repo"
	"github.com/Iron-Ham/taskmaster/internal/report"
	"github.com/Iron-Ham/taskmaster/internal/state"
	"github.com/Iron-Ham/taskmaster/internal/task"

	// Provider clients register themselves with the agent factory.
	_ "github.com/Iron-Ham/taskmaster/internal/agent/anthropic"
	_ "github.com/Iron-Ham/taskmaster/internal/agent/openai"
)

var runCmd = &cobra.Command{
	Use:   "run <task-file>",
	Short: "Execute a task file from the beginning",
	Long: `Execute the tasks in a YAML or JSON task file sequentially.

Run state is saved under the workspace state directory after every
step, so an interrupted or rate-limited run can be continued with
'taskmaster resume'. If a previous run's state exists, 'run' refuses
to start unless --force clears it first.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Bool("force", false, "discard existing run state and start over")
	runCmd.Flags().Bool("dry-run", false, "log changes instead of writing them")
	runCmd.Flags().Bool("non-interactive", false, "never prompt; use engine.default_decision on escalation")
	runCmd.Flags().Bool("stop-on-first-failure", false, "escalate on the first failed attempt")
	runCmd.Flags().Int("max-attempts", 0, "attempts per task before escalating")
	runCmd.Flags().String("provider", "", "provider to use (overrides active_provider)")

	_ = viper.BindPFlag("engine.dry_run", runCmd.Flags().Lookup("dry-run"))
	_ = viper.BindPFlag("engine.non_interactive", runCmd.Flags().Lookup("non-interactive"))
	_ = viper.BindPFlag("engine.stop_on_first_failure", runCmd.Flags().Lookup("stop-on-first-failure"))
	_ = viper.BindPFlag("active_provider", runCmd.Flags().Lookup("provider"))
}

func runRun(cmd *cobra.Command, args []string) error {
	taskFile := args[0]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if n, _ := cmd.Flags().GetInt("max-attempts"); n > 0 {
		cfg.Engine.MaxAttempts = n
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	store := state.NewStoreAt(filepath.Join(cwd, cfg.Paths.StateDir, state.StateFileName))
	existing, err := store.Load()
	if err != nil {
		return fmt.Errorf("existing run state is unreadable: %w\nRun 'taskmaster clear' to discard it", err)
	}
	force, _ := cmd.Flags().GetBool("force")
	if err := checkExistingState(existing, taskFile, force); err != nil {
		return err
	}
	if existing != nil {
		if err := store.Clear(); err != nil {
			return fmt.Errorf("failed to clear previous run state: %w", err)
		}
	}

	return executeRun(cfg, cwd, store, taskFile, state.New(taskFile))
}

// checkExistingState decides whether a new run may start over saved
// state. force discards the saved run regardless of which task file it
// belongs to.
func checkExistingState(existing *state.RunState, taskFile string, force bool) error {
	if existing == nil || force {
		return nil
	}
	if existing.TaskFile != taskFile {
		return fmt.Errorf("%w: saved run is for %s\nFinish it with 'taskmaster resume', or discard it with 'taskmaster run --force'",
			errors.ErrStateMismatch, existing.TaskFile)
	}
	return fmt.Errorf("a previous run exists for %s\nContinue it with 'taskmaster resume', or start over with 'taskmaster run --force'", existing.TaskFile)
}

// executeRun wires the engine's collaborators from config and drives a
// run to its terminal outcome. Shared between run and resume.
func executeRun(cfg *config.Config, cwd string, store *state.Store, taskFile string, st *state.RunState) error {
	provider, ok := cfg.ActiveProviderConfig()
	if !ok {
		return fmt.Errorf("provider %q not configured", cfg.ActiveProvider)
	}

	logger, err := logging.NewLogger(filepath.Join(cwd, cfg.Paths.StateDir), cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("failed to open run log: %w", err)
	}
	defer func() { _ = logger.Close() }()

	list, err := task.Load(taskFile)
	if err != nil {
		return fmt.Errorf("failed to load task file: %w", err)
	}

	client, err := agent.NewClient(agent.Options{
		Provider: cfg.ActiveProvider,
		Model:    provider.Model,
		APIKey:   provider.ResolveAPIKey(),
		BaseURL:  provider.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to create agent client: %w", err)
	}

	builder := prompt.NewBuilder()
	if cfg.Prompt.TemplatePath != "" {
		builder, err = prompt.NewBuilderFromTemplate(cfg.Prompt.TemplatePath)
		if err != nil {
			return fmt.Errorf("failed to load prompt template: %w", err)
		}
	}

	var decider escalate.Decider = escalate.NewInteractive()
	if cfg.Engine.NonInteractive {
		decider = escalate.Fixed{Decision: defaultDecision(cfg.Engine.DefaultDecision)}
	}

	eng := engine.New(engine.Options{
		Config: engine.Config{
			Provider:            cfg.ActiveProvider,
			MaxAttempts:         cfg.Engine.MaxAttempts,
			StopOnFirstFailure:  cfg.Engine.StopOnFirstFailure,
			AutoApply:           cfg.Engine.AutoApply,
			MaxTokens:           provider.MaxTokens,
			Temperature:         provider.Temperature,
			RateLimits:          provider.RateLimits,
			IncludeGitStatus:    cfg.Prompt.IncludeGitStatus,
			IncludeFileSnippets: cfg.Prompt.IncludeFileSnippets,
			FilePatterns:        cfg.Prompt.FilePatterns,
			MaxFileSize:         cfg.Prompt.MaxFileSize,
			WorkingDir:          cwd,
		},
		Client:   client,
		Backoff:  backoff.New(cfg.Backoff, logger),
		Hooks:    hooks.NewRunner(cfg.Hooks, cwd, filepath.Join(cwd, cfg.Paths.LogDir), logger),
		Applier:  apply.New(cwd, cfg.Engine.DryRun, logger),
		Snap:     repo.NewSnapshotter(cwd),
		Builder:  builder,
		Store:    store,
		Reporter: report.NewConsole(os.Stdout),
		Decider:  decider,
		Logger:   logger,
	})

	// Ctrl-C cancels the run context; the engine saves state and reports
	// the interrupted outcome.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Rate-limit ceilings follow config file edits during long runs.
	config.Watch(logger, func(c *config.Config) {
		if p, ok := c.ActiveProviderConfig(); ok {
			eng.UpdateRateLimits(p.RateLimits)
		}
	})

	res, runErr := eng.Run(ctx, list, st)
	exitCode = codeForOutcome(res.Outcome)

	switch res.Outcome {
	case engine.OutcomeRateLimitPaused:
		fmt.Println("\nRun paused on a rate limit. Continue later with 'taskmaster resume'.")
	case engine.OutcomeInterrupted:
		fmt.Println("\nRun interrupted. Continue with 'taskmaster resume'.")
	case engine.OutcomeTaskFailed:
		if runErr != nil {
			return fmt.Errorf("task %s failed: %w", res.FailedTaskID, runErr)
		}
		return fmt.Errorf("task %s failed", res.FailedTaskID)
	}
	return nil
}

// codeForOutcome maps run outcomes to process exit codes.
func codeForOutcome(o engine.Outcome) int {
	switch o {
	case engine.OutcomeCompleted:
		return 0
	case engine.OutcomeTaskFailed:
		return 1
	case engine.OutcomeAborted:
		return 2
	case engine.OutcomeRateLimitPaused:
		return 3
	case engine.OutcomeInterrupted:
		return 130
	default:
		return 1
	}
}

func defaultDecision(s string) state.Intervention {
	switch s {
	case "retry":
		return state.InterventionRetry
	case "skip":
		return state.InterventionSkip
	default:
		return state.InterventionAbort
	}
}
