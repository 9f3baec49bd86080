package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/taskmaster/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "taskmaster",
	Short: "Sequential AI task execution orchestrator",
	Long: `TaskMaster executes a list of tasks one at a time through an AI
agent provider, with hooks around each task, rate-limit aware pausing,
and resumable state so an interrupted run picks up where it left off.`,
	SilenceUsage: true,
}

// Execute runs the root command and returns the process exit code.
// Run outcomes map to distinct codes so automation can tell a pause
// from a failure.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		if exitCode != 0 {
			return exitCode
		}
		return 1
	}
	return exitCode
}

// exitCode is set by run/resume from the engine's terminal outcome.
var exitCode int

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/taskmaster/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/taskmaster")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("TASKMASTER")
	// Replace dots with underscores for nested keys in env vars
	// e.g., TASKMASTER_ENGINE_MAX_ATTEMPTS for engine.max_attempts
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
