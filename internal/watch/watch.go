// Package watch implements the Watch Loop: a local filesystem-notification
// watcher and a checksum-polled remote scanner feed a single coalescing
// queue, drained by one consumer that dispatches to the Sync Engine while
// suppressing events the engine's own writes would otherwise re-trigger,
// per spec.md §4.8.
package watch

import (
	"context"
	"sync"
	"time"

	"github.com/laszoo/laszoo/internal/manifest"
)

// Event is one detected change, either a local edit or a remote template
// update, ready for the Sync Engine to reconcile.
type Event struct {
	Path   string
	Group  string
	Kind   manifest.Kind
	Entry  manifest.Entry
	Source string // "local" or "remote"
}

// watchedPath is what the local watcher and remote scanner both need to
// turn a bare path back into a dispatchable Reconcile call.
type watchedPath struct {
	Group string
	Kind  manifest.Kind
	Entry manifest.Entry
}

// defaultDebounce is the local watcher's default coalescing window
// (spec.md §4.8: "debounce window (default 500 ms)").
const defaultDebounce = 500 * time.Millisecond

// defaultIgnoreTTL is the echo-suppression ignore set's default TTL
// (spec.md §4.8: "short-lived ignore set (default 5 s TTL)").
const defaultIgnoreTTL = 5 * time.Second

// defaultPollInterval is the remote scanner's default tick (spec.md §4.8:
// "checksum-polled remote scanner (default 2 s)").
const defaultPollInterval = 2 * time.Second

// IgnoreSet is a TTL-expiring set of paths whose filesystem events should
// be discarded: added immediately before the engine writes L or T, so the
// watcher does not re-enqueue its own write as a fresh change.
type IgnoreSet struct {
	ttl time.Duration
	mu  sync.Mutex
	set map[string]struct{}
}

// NewIgnoreSet returns an IgnoreSet with the given TTL. A zero TTL uses
// defaultIgnoreTTL.
func NewIgnoreSet(ttl time.Duration) *IgnoreSet {
	if ttl <= 0 {
		ttl = defaultIgnoreTTL
	}
	return &IgnoreSet{ttl: ttl, set: make(map[string]struct{})}
}

// Add marks path as ignored until the TTL elapses.
func (s *IgnoreSet) Add(path string) {
	s.mu.Lock()
	s.set[path] = struct{}{}
	s.mu.Unlock()

	time.AfterFunc(s.ttl, func() {
		s.mu.Lock()
		delete(s.set, path)
		s.mu.Unlock()
	})
}

// Contains reports whether path is currently ignored.
func (s *IgnoreSet) Contains(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.set[path]
	return ok
}

// Queue is a single-consumer, coalescing-by-path event queue: pushing a
// second event for a path already waiting to be drained is a no-op, so a
// burst of edits to the same file collapses to one reconciliation, per
// spec.md §4.8 "A single consumer drains the queue sequentially."
type Queue struct {
	mu      sync.Mutex
	items   []Event
	pending map[string]bool
	notify  chan struct{}
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	return &Queue{pending: make(map[string]bool), notify: make(chan struct{}, 1)}
}

// Push enqueues e, unless a and event for e.Path is already pending.
func (q *Queue) Push(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending[e.Path] {
		return
	}
	q.pending[e.Path] = true
	q.items = append(q.items, e)

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Event{}, false
	}
	e := q.items[0]
	q.items = q.items[1:]
	delete(q.pending, e.Path)
	return e, true
}

// Len reports the number of events currently queued, for tests and status
// reporting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Next blocks until an event is available or ctx is done, returning
// (Event{}, false) in the latter case.
func (q *Queue) Next(ctx context.Context) (Event, bool) {
	for {
		if e, ok := q.pop(); ok {
			return e, true
		}
		select {
		case <-ctx.Done():
			return Event{}, false
		case <-q.notify:
		}
	}
}
