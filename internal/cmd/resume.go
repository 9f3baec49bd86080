package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/taskmaster/internal/config"
	"github.com/Iron-Ham/taskmaster/internal/errors"
	"github.com/Iron-Ham/taskmaster/internal/state"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Continue an interrupted or paused run",
	Long: `Continue a run from its saved state. Completed tasks are skipped
and the task that was in flight is attempted again. A decision that was
recorded but not yet acted on (retry, skip or abort) is applied instead
of prompting again.`,
	Args: cobra.NoArgs,
	RunE: runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	store := state.NewStoreAt(filepath.Join(cwd, cfg.Paths.StateDir, state.StateFileName))
	st, err := store.Load()
	if err != nil {
		return fmt.Errorf("run state is unreadable: %w\nRun 'taskmaster clear' to discard it", err)
	}
	if st == nil {
		return fmt.Errorf("%w; start one with 'taskmaster run <task-file>'", errors.ErrStateNotFound)
	}

	return executeRun(cfg, cwd, store, st.TaskFile, st)
}
