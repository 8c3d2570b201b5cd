package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const debounceDuration = 500 * time.Millisecond

// ReloadFunc receives the scheduler/stamina parameter groups after a
// config file change. Only these two groups are hot-reloadable; every
// other field (credentials, admin identity, database) requires a restart.
type ReloadFunc func(SchedulerConfig, StaminaConfig)

// Watch watches every config file that could have produced the currently
// loaded configuration and re-runs Load on change, debounced, invoking
// onReload with the refreshed scheduler/stamina sections. Runs until ctx is
// cancelled.
func Watch(ctx context.Context, logger *zap.Logger, onReload ReloadFunc) {
	logger = logger.With(zap.String("component", "config-watcher"))

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create fsnotify watcher, hot reload disabled", zap.Error(err))
		return
	}

	for _, path := range candidatePaths() {
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		if err := watcher.Add(path); err != nil {
			logger.Warn("could not watch config file", zap.String("path", path), zap.Error(err))
			continue
		}
		logger.Debug("watching config file", zap.String("path", path))
	}

	go func() {
		defer watcher.Close()

		var timer *time.Timer
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				path := event.Name
				timer = time.AfterFunc(debounceDuration, func() {
					reload(logger, path, onReload)
				})
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", zap.Error(watchErr))
			}
		}
	}()
}

func reload(logger *zap.Logger, path string, onReload ReloadFunc) {
	cfg, err := Load()
	if err != nil {
		logger.Error("config reload failed, keeping previous values", zap.String("path", path), zap.Error(err))
		return
	}
	logger.Info("config reloaded", zap.String("path", path))
	onReload(cfg.Scheduler, cfg.Stamina)
}

func candidatePaths() []string {
	paths := []string{filepath.Join(HomeDir(), "config.yaml")}
	for _, dir := range []string{"./config", "."} {
		paths = append(paths, filepath.Join(dir, "config.yaml"))
	}
	return paths
}
