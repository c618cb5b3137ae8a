// control/watcher.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// File-backed hot reload. The watcher observes the directory holding the
// config file so editors that replace the file by rename are still seen.

package control

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events a single save produces.
const DefaultDebounce = 100 * time.Millisecond

// LoadFunc parses the config file into flat reloadable keys.
type LoadFunc func(path string) (map[string]any, error)

// ConfigWatcher re-reads a config file on change and merges it into a store.
type ConfigWatcher struct {
	path     string
	load     LoadFunc
	store    *ConfigStore
	log      *slog.Logger
	debounce time.Duration
}

// NewConfigWatcher builds a watcher. Run starts it.
func NewConfigWatcher(path string, load LoadFunc, store *ConfigStore, log *slog.Logger) *ConfigWatcher {
	if log == nil {
		log = slog.Default()
	}
	return &ConfigWatcher{
		path:     filepath.Clean(path),
		load:     load,
		store:    store,
		log:      log.With("component", "config-watcher", "path", path),
		debounce: DefaultDebounce,
	}
}

// SetDebounce overrides DefaultDebounce. Call before Run.
func (w *ConfigWatcher) SetDebounce(d time.Duration) { w.debounce = d }

// Reload loads the file once and applies it. It returns the changed keys.
func (w *ConfigWatcher) Reload() ([]string, error) {
	cfg, err := w.load(w.path)
	if err != nil {
		return nil, fmt.Errorf("reload %s: %w", w.path, err)
	}
	return w.store.SetConfig(cfg), nil
}

// Run watches until ctx is cancelled. Load errors are logged and the
// previous values stay in effect.
func (w *ConfigWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("config watcher: watch %s: %w", filepath.Dir(w.path), err)
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", "err", err)
		case <-timer.C:
			changed, err := w.Reload()
			if err != nil {
				w.log.Error("config reload failed", "err", err)
				continue
			}
			if len(changed) > 0 {
				w.log.Info("config reloaded", "changed", changed)
			}
		}
	}
}
