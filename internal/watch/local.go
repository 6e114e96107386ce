package watch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/laszoo/laszoo/internal/errs"
	"github.com/laszoo/laszoo/internal/manifest"
)

// LocalWatcher detects local edits to enrolled paths via the OS's native
// filesystem-notification facility, debounces per path, and pushes a
// coalesced Event to queue — mirroring the teacher's webhook.debouncer
// (timer-based debounce, mutex-guarded callback swap) in
// internal/webhook/webhook.go.
type LocalWatcher struct {
	watcher  *fsnotify.Watcher
	queue    *Queue
	ignore   *IgnoreSet
	debounce time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	paths  map[string]watchedPath
	timers map[string]*time.Timer
}

// NewLocalWatcher returns a LocalWatcher pushing coalesced events to queue.
// A debounce of zero uses defaultDebounce; logger nil uses slog.Default().
func NewLocalWatcher(queue *Queue, ignore *IgnoreSet, debounce time.Duration, logger *slog.Logger) (*LocalWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: creating local watcher: %v", errs.ErrIOError, err)
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalWatcher{
		watcher:  w,
		queue:    queue,
		ignore:   ignore,
		debounce: debounce,
		logger:   logger,
		paths:    make(map[string]watchedPath),
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Watch adds entry.Path to the watch set. Enrolling or unenrolling a path
// mutates this set, per spec.md §4.8.
func (lw *LocalWatcher) Watch(group string, kind manifest.Kind, entry manifest.Entry) error {
	if err := lw.watcher.Add(entry.Path); err != nil {
		return fmt.Errorf("%w: watching %s: %v", errs.ErrIOError, entry.Path, err)
	}
	lw.mu.Lock()
	lw.paths[entry.Path] = watchedPath{Group: group, Kind: kind, Entry: entry}
	lw.mu.Unlock()
	return nil
}

// Unwatch removes path from the watch set.
func (lw *LocalWatcher) Unwatch(path string) error {
	lw.mu.Lock()
	delete(lw.paths, path)
	if t, ok := lw.timers[path]; ok {
		t.Stop()
		delete(lw.timers, path)
	}
	lw.mu.Unlock()

	if err := lw.watcher.Remove(path); err != nil {
		return fmt.Errorf("%w: unwatching %s: %v", errs.ErrIOError, path, err)
	}
	return nil
}

// Run drains fsnotify events until ctx is done. Cancellation is
// cooperative: Run returns once ctx.Done fires or the underlying watcher's
// channels close, mid-debounce timers are abandoned, not fired early.
func (lw *LocalWatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-lw.watcher.Events:
			if !ok {
				return
			}
			lw.handleEvent(event)
		case err, ok := <-lw.watcher.Errors:
			if !ok {
				return
			}
			lw.logger.Error("local watcher error", "error", err)
		}
	}
}

// Close releases the underlying OS watch descriptors.
func (lw *LocalWatcher) Close() error {
	return lw.watcher.Close()
}

func (lw *LocalWatcher) handleEvent(event fsnotify.Event) {
	if lw.ignore.Contains(event.Name) {
		return
	}

	lw.mu.Lock()
	wp, ok := lw.paths[event.Name]
	if !ok {
		lw.mu.Unlock()
		return
	}
	if t, exists := lw.timers[event.Name]; exists {
		t.Stop()
	}
	lw.timers[event.Name] = time.AfterFunc(lw.debounce, func() {
		lw.queue.Push(Event{Path: event.Name, Group: wp.Group, Kind: wp.Kind, Entry: wp.Entry, Source: "local"})
	})
	lw.mu.Unlock()
}
