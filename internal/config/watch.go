package config

import (
	"fmt"
	"path/filepath"

	"barfeed/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ReloadFunc receives the freshly validated config after the file changes.
type ReloadFunc func(*Config)

// Watch re-reads path whenever it changes on disk and hands the result to fn.
// Only hot-safe settings should be acted upon by fn; feed timing is fixed for
// the process lifetime.
func Watch(path string, fn ReloadFunc) error {
	if fn == nil {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	v := viper.New()
	v.SetConfigFile(abs)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("watch config %s: %w", abs, err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
			return
		}
		cfg, err := Load(abs)
		if err != nil {
			logger.Errorf("[config] reload failed (%s): %v", evt.Name, err)
			return
		}
		logger.Infof("[config] reloaded %s", evt.Name)
		fn(cfg)
	})
	v.WatchConfig()
	return nil
}

// ApplyLogSettings pushes the hot-reloadable app.* logging keys into the
// process logger.
func ApplyLogSettings(cfg *Config) {
	if cfg == nil {
		return
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.SetFormat(cfg.App.LogFormat)
}
