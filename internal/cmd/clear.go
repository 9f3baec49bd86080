package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/taskmaster/internal/config"
	"github.com/Iron-Ham/taskmaster/internal/state"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard the saved run state",
	Long:  `Remove the saved run state so the next 'taskmaster run' starts fresh. Safe to run when no state exists.`,
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

func init() {
	rootCmd.AddCommand(clearCmd)
}

func runClear(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	store := state.NewStoreAt(filepath.Join(cwd, cfg.Paths.StateDir, state.StateFileName))
	if err := store.Clear(); err != nil {
		return fmt.Errorf("failed to clear run state: %w", err)
	}

	fmt.Println("Run state cleared")
	return nil
}
