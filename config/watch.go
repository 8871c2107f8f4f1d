package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher re-runs the analysis when the config file or the input panel
// changes on disk. Reload storms from editors that write in multiple
// events are absorbed by a cooldown.
type Watcher struct {
	ConfigPath string
	// Cooldown suppresses reloads closer together than this.
	Cooldown time.Duration
	Logger   *zap.Logger

	mu         sync.Mutex
	lastReload time.Time
}

// Start watches the config file and the panel it points at, invoking
// onUpdate with the freshly loaded config after each change. It blocks until
// the context is cancelled.
func (w *Watcher) Start(ctx context.Context, onUpdate func(AppConfig)) error {
	logger := w.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if w.Cooldown <= 0 {
		w.Cooldown = 5 * time.Second
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.ConfigPath); err != nil {
		return fmt.Errorf("watch config file: %w", err)
	}
	cfg, err := LoadWithEnvOverrides(w.ConfigPath)
	if err != nil {
		return err
	}
	if err := watcher.Add(cfg.Data.PanelPath); err != nil {
		logger.Warn("cannot watch panel file; config changes only",
			zap.String("path", cfg.Data.PanelPath), zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !w.shouldReload() {
				continue
			}
			next, err := LoadWithEnvOverrides(w.ConfigPath)
			if err != nil {
				logger.Warn("reload skipped: config invalid", zap.Error(err))
				continue
			}
			logger.Info("inputs changed; reloading",
				zap.String("path", event.Name))
			if onUpdate != nil {
				onUpdate(next)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) shouldReload() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if time.Since(w.lastReload) < w.Cooldown {
		return false
	}
	w.lastReload = time.Now()
	return true
}
