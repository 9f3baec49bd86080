package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/taskmaster/internal/logging"
)

// Watch re-reads the configuration whenever the config file changes and
// delivers the updated Config to onChange. Long runs pick up new
// rate-limit ceilings without a restart; a change that fails validation
// is logged and dropped, keeping the previous config in effect.
func Watch(logger *logging.Logger, onChange func(*Config)) {
	if logger == nil {
		logger = logging.NopLogger()
	}

	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := Load()
		if err != nil {
			logger.Warn("config change ignored",
				"file", e.Name, "error", err.Error())
			return
		}
		logger.Info("config reloaded", "file", e.Name, "op", e.Op.String())
		onChange(cfg)
	})
	viper.WatchConfig()
}
