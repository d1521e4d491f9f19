package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Holder publishes the current configuration to concurrent readers.
type Holder struct {
	path string
	cur  atomic.Pointer[Config]
}

func NewHolder(path string, cfg *Config) *Holder {
	h := &Holder{path: path}
	h.cur.Store(cfg)
	return h
}

// Get returns the current configuration. Callers must treat it as
// read-only.
func (h *Holder) Get() *Config {
	return h.cur.Load()
}

// Reload re-reads the config file and environment.
func (h *Holder) Reload() error {
	cfg, err := Load(h.path)
	if err != nil {
		return err
	}
	h.cur.Store(cfg)
	return nil
}

// Watch reloads the configuration when the file changes, until ctx ends.
// Bursts of events are collapsed into one reload.
func (h *Holder) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(h.path)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}
	file := filepath.Base(h.path)

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	schedule := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() {
			if err := h.Reload(); err != nil {
				slog.Warn("config reload failed", "path", h.path, "error", err)
				return
			}
			slog.Info("config reloaded", "path", h.path)
		})
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				schedule()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}
