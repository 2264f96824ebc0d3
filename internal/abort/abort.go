// Package abort lets an operator stop a running conversion from another
// shell by creating a file in the state directory. The running process
// watches the file's directory and cancels its context, which makes the
// driver roll everything back.
package abort

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lyndonlyu/distroconv/internal/logging"
)

// PollInterval is used when inotify is unavailable.
const PollInterval = 200 * time.Millisecond

type Trigger struct {
	path      string
	interval  time.Duration
	triggered atomic.Bool
}

func New(path string) *Trigger {
	return &Trigger{path: filepath.Clean(path), interval: PollInterval}
}

func (t *Trigger) Path() string { return t.path }

func (t *Trigger) IsActive() bool {
	_, err := os.Stat(t.path)
	return err == nil
}

// Reason returns what the operator wrote into the abort file.
func (t *Trigger) Reason() string {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// WasTriggered reports whether Watch cancelled its context because the abort
// file appeared. It stays true after the file is cleared.
func (t *Trigger) WasTriggered() bool {
	return t.triggered.Load()
}

func (t *Trigger) Activate(reason string) error {
	if err := os.MkdirAll(filepath.Dir(t.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(t.path, []byte(reason), 0o600)
}

func (t *Trigger) Clear() error {
	err := os.Remove(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Watch returns a context that is cancelled as soon as the abort file
// exists. If the file is already present the context is cancelled before
// Watch returns.
func (t *Trigger) Watch(ctx context.Context) (context.Context, context.CancelFunc) {
	watchCtx, cancel := context.WithCancel(ctx)
	fire := func() {
		t.triggered.Store(true)
		cancel()
	}

	if t.IsActive() {
		fire()
		return watchCtx, cancel
	}

	log := logging.New("abort")
	w, err := t.newWatcher()
	if err != nil {
		log.Warn("inotify unavailable, polling for abort file", "path", t.path, "error", err)
		go t.poll(watchCtx, fire)
		return watchCtx, cancel
	}

	// The file may have appeared between the first check and Add.
	if t.IsActive() {
		w.Close()
		fire()
		return watchCtx, cancel
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-watchCtx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) == t.path && ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					log.Warn("abort requested", "path", t.path, "reason", t.Reason())
					fire()
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("abort watcher error, falling back to polling", "error", err)
				t.poll(watchCtx, fire)
				return
			}
		}
	}()
	return watchCtx, cancel
}

func (t *Trigger) newWatcher() (*fsnotify.Watcher, error) {
	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

func (t *Trigger) poll(ctx context.Context, fire func()) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if t.IsActive() {
				fire()
				return
			}
		}
	}
}
