package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounceDelay = 500 * time.Millisecond

// ReloadFunc receives every configuration that loaded and validated after a file change.
type ReloadFunc func(cfg *Config)

// StartWatcher watches the directory of configPath so that editors replacing
// the file by rename are seen too. It blocks until ctx is cancelled.
func StartWatcher(ctx context.Context, configPath string, onReload ReloadFunc, debounceDelay time.Duration) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		absPath = filepath.Clean(configPath)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("Failed to create config file watcher", "error", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		slog.Error("Failed to watch config directory", "path", filepath.Dir(absPath), "error", err)
		return
	}

	delay := debounceDelay
	if delay <= 0 {
		delay = defaultDebounceDelay
	}
	slog.Info("Started configuration watcher", "path", absPath, "debounce", delay)

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		newCfg, _, err := Load(absPath, false)
		if err != nil {
			slog.Error("Config reload failed, keeping current configuration", "path", absPath, "error", err)
			return
		}
		onReload(newCfg)
		slog.Info("Configuration reloaded", "path", absPath)
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			slog.Info("Stopping configuration watcher")
			return

		case event, ok := <-watcher.Events:
			if !ok {
				slog.Warn("Config watcher event channel closed")
				return
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(delay, reload)
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				slog.Warn("Config watcher error channel closed")
				return
			}
			slog.Error("Config watcher error", "error", err)
		}
	}
}
