package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/taskmaster/internal/config"
	"github.com/Iron-Ham/taskmaster/internal/state"
	"github.com/Iron-Ham/taskmaster/internal/util"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the saved run's progress",
	Long:  `Display the saved run state: progress, per-task counters and recent token usage.`,
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
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
		return fmt.Errorf("run state is unreadable: %w", err)
	}
	if st == nil {
		fmt.Println("No run in progress")
		return nil
	}

	fmt.Printf("Task file: %s\n", st.TaskFile)
	fmt.Printf("Started:   %s\n", st.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated:   %s\n", st.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("Completed: %d tasks\n", len(st.CompletedTaskIDs))
	fmt.Printf("Position:  task %d\n\n", st.CurrentTaskIndex+1)

	ids := attemptedTaskIDs(st)
	if len(ids) > 0 {
		fmt.Println("Attempted tasks:")
		for _, id := range ids {
			stats := st.Stats(id)
			fmt.Printf("  %s: %d attempts, %d failures", id, stats.Attempts, stats.Failures)
			if stats.NonProgress > 0 {
				fmt.Printf(", %d without progress", stats.NonProgress)
			}
			fmt.Println()
			if stats.LastError != "" {
				// Saved errors can carry ANSI escapes from hook stderr.
				fmt.Printf("    last error: %s\n", util.TruncateANSI(util.FirstLine(stats.LastError), 120))
			}
		}
		fmt.Println()
	}

	for id, decision := range st.UserInterventions {
		fmt.Printf("Pending decision for %s: %s (applied on resume)\n", id, decision)
	}

	now := time.Now().UTC()
	for _, window := range []struct {
		name   string
		cutoff time.Time
	}{
		{"last hour", now.Add(-time.Hour)},
		{"last 24h", now.Add(-24 * time.Hour)},
		{"last 7d", now.Add(-7 * 24 * time.Hour)},
	} {
		tokens, requests := st.UsageSince(cfg.ActiveProvider, window.cutoff)
		fmt.Printf("Usage (%s): %d tokens across %d requests\n", window.name, tokens, requests)
	}

	return nil
}

func attemptedTaskIDs(st *state.RunState) []string {
	ids := make([]string, 0, len(st.AttemptCounts))
	for id := range st.AttemptCounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
