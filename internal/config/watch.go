package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultWatchDebounce = 500 * time.Millisecond

// Watcher reloads the config file when it changes on disk and hands every
// valid, changed config to onChange. Invalid edits are logged and ignored so
// the running config stays in effect.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(*Config)
	lastHash string
}

// NewWatcher watches path. current is the config already in use; reloads
// that hash the same as current are skipped.
func NewWatcher(path string, current *Config, onChange func(*Config)) *Watcher {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	w := &Watcher{
		path:     filepath.Clean(path),
		debounce: defaultWatchDebounce,
		onChange: onChange,
	}
	if current != nil {
		w.lastHash = current.Hash()
	}
	return w
}

// Run blocks until ctx is done. The parent directory is watched rather than
// the file so that editors replacing the file by rename are seen.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	slog.Info("watching config for changes", "path", w.path)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		slog.Warn("config reload failed, keeping current config", "path", w.path, "error", err)
		return
	}
	warnings, err := Validate(cfg)
	if err != nil {
		slog.Warn("reloaded config is invalid, keeping current config", "path", w.path, "error", err)
		return
	}
	hash := cfg.Hash()
	if hash == w.lastHash {
		return
	}
	w.lastHash = hash
	for _, msg := range warnings {
		slog.Warn("config warning", "detail", msg)
	}
	slog.Info("config reloaded", "path", w.path, "hash", hash)
	w.onChange(cfg)
}
