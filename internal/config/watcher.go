package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ///////////////////////////////////////////////
// Watcher
// ///////////////////////////////////////////////

// Watcher signals when the config file changes. It watches the containing
// directory, since atomic saves replace the file instead of writing in place,
// and falls back to stat polling when fsnotify is unavailable.
type Watcher struct {
	// path is the absolute path to the config file being monitored.
	path string
	// events delivers a signal each time the config file changes.
	// The channel is buffered to 1 so back-to-back writes coalesce.
	events chan struct{}
	// done is closed by [Watcher.Close] to signal goroutines to exit.
	done chan struct{}
	// fsw is the fsnotify watcher, set once at construction; nil when polling
	// from the start.
	fsw *fsnotify.Watcher
	once sync.Once
	// polling is true when the watcher has fallen back to stat-based polling.
	polling      atomic.Bool
	pollInterval time.Duration
}

// NewWatcher starts watching the config file at path.
func NewWatcher(path string) (*Watcher, error) {
	return newWatcher(path, 2*time.Second, false)
}

// newWatcher builds a Watcher. forcePoll skips fsnotify entirely.
func newWatcher(path string, pollInterval time.Duration, forcePoll bool) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	w := &Watcher{
		path:         abs,
		events:       make(chan struct{}, 1),
		done:         make(chan struct{}),
		pollInterval: pollInterval,
	}
	if forcePoll {
		w.startPolling()
		return w, nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Info("fsnotify unavailable, falling back to polling", "error", err)
		w.startPolling()
		return w, nil
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		slog.Info("cannot watch config directory, falling back to polling", "path", abs, "error", err)
		fsw.Close()
		w.startPolling()
		return w, nil
	}
	w.fsw = fsw
	go w.watch(fsw)
	return w, nil
}

// Polling reports whether the watcher is using polling instead of fsnotify.
func (w *Watcher) Polling() bool {
	return w.polling.Load()
}

// Events returns a channel that receives a signal when the config file changes.
func (w *Watcher) Events() <-chan struct{} {
	return w.events
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		if w.fsw != nil {
			if closeErr := w.fsw.Close(); closeErr != nil {
				err = fmt.Errorf("closing fsnotify watcher: %w", closeErr)
			}
		}
	})
	return err
}

// watch forwards write, create and rename events for the config file. On an
// fsnotify error it switches to polling.
func (w *Watcher) watch(fsw *fsnotify.Watcher) {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.notify()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.fallBack(fsw, err)
			return
		}
	}
}

// fallBack closes fsw and starts polling unless the watcher is closed.
func (w *Watcher) fallBack(fsw *fsnotify.Watcher, cause error) {
	slog.Info("fsnotify error, switching to polling", "error", cause)
	fsw.Close()
	select {
	case <-w.done:
		return
	default:
	}
	w.startPolling()
}

func (w *Watcher) startPolling() {
	w.polling.Store(true)
	go w.poll()
}

// poll stats the config file and signals when its modification time or size
// changes.
func (w *Watcher) poll() {
	var lastMod time.Time
	var lastSize int64
	if info, err := os.Stat(w.path); err == nil {
		lastMod, lastSize = info.ModTime(), info.Size()
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err != nil {
				continue
			}
			if !info.ModTime().Equal(lastMod) || info.Size() != lastSize {
				lastMod, lastSize = info.ModTime(), info.Size()
				w.notify()
			}
		}
	}
}

// notify sends a single signal to the events channel. A pending signal
// absorbs the new one.
func (w *Watcher) notify() {
	select {
	case w.events <- struct{}{}:
	default:
	}
}
