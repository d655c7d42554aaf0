package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// reloadDebounce absorbs editor save bursts so one edit produces one reload.
const reloadDebounce = 200 * time.Millisecond

// Watch hot-reloads the config file at path whenever it changes on disk.
// Run in a goroutine; it returns when ctx is canceled. Every successful
// reload swaps the in-memory config and runs the RegisterOnReload callbacks.
func Watch(ctx context.Context, path string) {
	if path == "" {
		path = Path()
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		slog.Warn("config watch initial read failed", "path", path, "error", err)
		return
	}

	var debounce *time.Timer
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		if filepath.Clean(e.Name) != filepath.Clean(path) {
			return
		}
		if debounce != nil {
			debounce.Stop()
		}
		debounce = time.AfterFunc(reloadDebounce, func() { reloadFile(path) })
	})

	<-ctx.Done()
}

func reloadFile(path string) {
	cfg, err := Load(path)
	if err != nil {
		slog.Warn("config hot-reload load failed", "path", path, "error", err)
		return
	}
	Set(cfg)
	notifyReload(cfg)
	slog.Info("config hot-reloaded", "path", path)
}
