package watch

import (
	"context"
	"log/slog"

	"github.com/laszoo/laszoo/internal/hostinfo"
	"github.com/laszoo/laszoo/internal/manifest"
	syncengine "github.com/laszoo/laszoo/internal/sync"
)

// Loop is the single consumer draining Queue: for each event it adds the
// local path and the shared template path to the ignore set before calling
// the Sync Engine, so the write the engine is about to make does not
// re-enqueue itself when the watcher (or the next poll tick) observes it,
// per spec.md §4.8 "the watcher... adds the path to a short-lived ignore
// set... immediately before the engine writes L or T".
type Loop struct {
	engine *syncengine.Engine
	local  *LocalWatcher
	remote *RemoteScanner
	queue  *Queue
	ignore *IgnoreSet
	cfg    hostinfo.Config
	logger *slog.Logger
}

// NewLoop wires a LocalWatcher, RemoteScanner, and Sync Engine around a
// shared Queue and IgnoreSet. logger nil uses slog.Default().
func NewLoop(engine *syncengine.Engine, local *LocalWatcher, remote *RemoteScanner, queue *Queue, ignore *IgnoreSet, cfg hostinfo.Config, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{engine: engine, local: local, remote: remote, queue: queue, ignore: ignore, cfg: cfg, logger: logger}
}

// Watch registers a manifest entry with both the local watcher and the
// remote scanner, so a change from either side is observed.
func (lp *Loop) Watch(group string, kind manifest.Kind, entry manifest.Entry) error {
	if entry.IsDirectory {
		return nil
	}
	if err := lp.local.Watch(group, kind, entry); err != nil {
		return err
	}
	templatePath := lp.engine.TemplatePath(group, kind, entry.Path)
	lp.remote.Watch(group, kind, entry, templatePath)
	return nil
}

// Unwatch removes a path from both the local watcher and the remote
// scanner.
func (lp *Loop) Unwatch(group string, kind manifest.Kind, entry manifest.Entry) error {
	templatePath := lp.engine.TemplatePath(group, kind, entry.Path)
	lp.remote.Unwatch(templatePath)
	return lp.local.Unwatch(entry.Path)
}

// Run starts the local watcher and remote scanner in the background and
// drains the queue until ctx is done. Cancellation is cooperative: a
// reconciliation already underway completes before Run returns.
func (lp *Loop) Run(ctx context.Context) {
	go lp.local.Run(ctx)
	go lp.remote.Run(ctx)

	bindings, err := hostinfo.Bindings(lp.cfg)
	if err != nil {
		lp.logger.Error("resolving bindings failed, watch loop cannot reconcile", "error", err)
		return
	}

	for {
		event, ok := lp.queue.Next(ctx)
		if !ok {
			return
		}
		lp.dispatch(ctx, event, bindings)
	}
}

func (lp *Loop) dispatch(ctx context.Context, event Event, bindings map[string]string) {
	templatePath := lp.engine.TemplatePath(event.Group, event.Kind, event.Entry.Path)

	// Suppress the write the engine is about to make before making it, not
	// after, so the watcher's own fsnotify event (or the scanner's next
	// tick) never reaches the queue for this reconciliation's writes.
	lp.ignore.Add(event.Entry.Path)
	lp.ignore.Add(templatePath)

	result := lp.engine.Reconcile(ctx, event.Group, event.Kind, event.Entry, bindings)
	if result.Err != nil {
		lp.logger.Warn("reconcile failed", "path", result.Path, "action", result.Action, "source", event.Source, "error", result.Err)
		return
	}
	if result.Diverged {
		lp.logger.Info("reconciled", "path", result.Path, "action", result.Action, "source", event.Source,
			"local_written", result.LocalWritten, "template_written", result.TemplateWritten)
	}
}
