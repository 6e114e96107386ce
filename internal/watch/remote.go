package watch

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/laszoo/laszoo/internal/checksum"
	"github.com/laszoo/laszoo/internal/layout"
	"github.com/laszoo/laszoo/internal/manifest"
)

// RemoteScanner polls the shared tree's template files for changes other
// hosts made, checksumming each watched template on a tick and diffing
// against the last-seen table — the remote half of the watch loop
// spec.md §4.8 describes, grounded on the teacher's buildPlan hash-and-
// compare loop in internal/sync/sync.go.
type RemoteScanner struct {
	layout   *layout.Layout
	queue    *Queue
	ignore   *IgnoreSet
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	subjects map[string]watchedPath // templatePath -> entry info
	lastSeen map[string]string      // templatePath -> last-seen checksum
}

// NewRemoteScanner returns a RemoteScanner rooted at l. A zero interval
// uses defaultPollInterval; logger nil uses slog.Default().
func NewRemoteScanner(l *layout.Layout, queue *Queue, ignore *IgnoreSet, interval time.Duration, logger *slog.Logger) *RemoteScanner {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteScanner{
		layout:   l,
		queue:    queue,
		ignore:   ignore,
		interval: interval,
		logger:   logger,
		subjects: make(map[string]watchedPath),
		lastSeen: make(map[string]string),
	}
}

// Watch adds the shared-tree template for (group, kind, entry) to the scan
// set, seeding lastSeen so the first tick after enrollment does not fire a
// spurious change event for content the host itself just seeded.
func (rs *RemoteScanner) Watch(group string, kind manifest.Kind, entry manifest.Entry, templatePath string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.subjects[templatePath] = watchedPath{Group: group, Kind: kind, Entry: entry}
	if sum, err := checksum.File(templatePath); err == nil {
		rs.lastSeen[templatePath] = sum
	}
}

// Unwatch removes templatePath from the scan set.
func (rs *RemoteScanner) Unwatch(templatePath string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	delete(rs.subjects, templatePath)
	delete(rs.lastSeen, templatePath)
}

// Run ticks every interval until ctx is done, scanning the current watch
// set each time. Cancellation is cooperative: a scan already in progress
// completes its current walk before Run observes ctx.Done (spec.md §4.8
// "Suspension points").
func (rs *RemoteScanner) Run(ctx context.Context) {
	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs.scanOnce(ctx)
		}
	}
}

// scanOnce checksums every watched template once. If the shared root
// itself cannot be statted, the whole tick is treated as a mount outage
// (spec.md §7 MountUnavailable, §8 scenario 6) and skipped entirely rather
// than reporting spurious deletions; the next tick retries once the mount
// recovers.
func (rs *RemoteScanner) scanOnce(ctx context.Context) {
	if _, err := os.Stat(rs.layout.Root); err != nil {
		rs.logger.Warn("mount unavailable, skipping remote scan", "root", rs.layout.Root, "error", err)
		return
	}

	rs.mu.Lock()
	subjects := make(map[string]watchedPath, len(rs.subjects))
	for path, wp := range rs.subjects {
		subjects[path] = wp
	}
	rs.mu.Unlock()

	for templatePath, wp := range subjects {
		rs.scanOne(templatePath, wp)
	}
}

func (rs *RemoteScanner) scanOne(templatePath string, wp watchedPath) {
	if _, err := os.Stat(templatePath); err != nil {
		if !os.IsNotExist(err) {
			rs.logger.Warn("remote scan failed", "template", templatePath, "error", err)
		}
		return
	}

	sum, err := checksum.File(templatePath)
	if err != nil {
		rs.logger.Warn("remote scan failed", "template", templatePath, "error", err)
		return
	}

	rs.mu.Lock()
	prev, seen := rs.lastSeen[templatePath]
	rs.lastSeen[templatePath] = sum
	rs.mu.Unlock()

	if seen && prev == sum {
		return
	}
	if rs.ignore.Contains(templatePath) {
		return
	}
	rs.queue.Push(Event{Path: wp.Entry.Path, Group: wp.Group, Kind: wp.Kind, Entry: wp.Entry, Source: "remote"})
}
