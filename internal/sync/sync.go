// Package sync implements the Sync Engine: given an enrollment entry, it
// reconciles the local file L, the shared template T, and the host's
// recorded quacks Q according to the entry's sync_action, per spec.md §4.7.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/laszoo/laszoo/internal/checksum"
	"github.com/laszoo/laszoo/internal/errs"
	"github.com/laszoo/laszoo/internal/hostinfo"
	"github.com/laszoo/laszoo/internal/layout"
	"github.com/laszoo/laszoo/internal/manifest"
	"github.com/laszoo/laszoo/internal/template"
	"github.com/laszoo/laszoo/internal/versionlog"
)

// casAttempts is the number of read-prepare-recheck-write cycles the engine
// retries before giving up on a template write, per spec.md §4.7 "optimistic
// CAS (read-checksum, prepare, re-read-checksum, rename)".
const casAttempts = 3

// Recorder records a completed template mutation to the version log.
// internal/versionlog.Logger satisfies this; a nil Recorder disables
// recording.
type Recorder interface {
	Record(ctx context.Context, host string, changes []versionlog.Change) error
}

// Engine reconciles enrollment entries against the shared tree rooted at
// Layout, acting as Host.
type Engine struct {
	Layout   *layout.Layout
	Host     string
	Recorder Recorder // nil disables version-log recording
	Logger   *slog.Logger
}

// New returns an Engine. rec and logger may both be nil.
func New(l *layout.Layout, host string, rec Recorder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{Layout: l, Host: host, Recorder: rec, Logger: logger}
}

// Result reports the outcome of reconciling one manifest entry.
type Result struct {
	Path            string
	Action          manifest.Action
	LocalWritten    bool
	TemplateWritten bool
	Diverged        bool
	Err             error
}

// Sync reads the manifest for (group, kind), reconciles every non-directory
// entry in lexicographic path order (spec.md §4.7 "Ordering"), and returns
// one Result per entry. filter, if non-empty, restricts reconciliation to
// entries whose path equals one of the given paths.
func (e *Engine) Sync(ctx context.Context, group string, kind manifest.Kind, cfg hostinfo.Config, filter []string) ([]Result, error) {
	manifestPath := e.manifestPathFor(group, kind)
	mf, err := manifest.Read(manifestPath)
	if err != nil {
		return nil, err
	}

	bindings, err := hostinfo.Bindings(cfg)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(filter))
	for _, f := range filter {
		wanted[f] = true
	}

	entries := make([]manifest.Entry, len(mf.Entries))
	copy(entries, mf.Entries)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	var results []Result
	for _, entry := range entries {
		if entry.IsDirectory {
			continue
		}
		if len(wanted) > 0 && !wanted[entry.Path] {
			continue
		}
		results = append(results, e.Reconcile(ctx, group, kind, entry, bindings))
	}
	return results, nil
}

// Reconcile dispatches a single entry to its sync_action strategy.
func (e *Engine) Reconcile(ctx context.Context, group string, kind manifest.Kind, entry manifest.Entry, bindings map[string]string) Result {
	result := Result{Path: entry.Path, Action: entry.Action}

	if entry.Action != manifest.ActionDrift {
		if _, err := os.Stat(e.Layout.Root); err != nil {
			result.Err = fmt.Errorf("%w: %v", errs.ErrMountUnavailable, err)
			return result
		}
	}

	switch entry.Action {
	case manifest.ActionConverge:
		e.reconcileConverge(ctx, group, kind, entry, bindings, &result)
	case manifest.ActionRollback:
		e.reconcileRollback(ctx, group, kind, entry, bindings, &result)
	case manifest.ActionForward:
		e.reconcileForward(ctx, group, kind, entry, bindings, &result)
	case manifest.ActionFreeze:
		e.reconcileFreeze(ctx, group, kind, entry, bindings, &result)
	case manifest.ActionDrift:
		// Neither reports nor reconciles (spec.md §4.7).
	default:
		result.Err = fmt.Errorf("unknown sync_action %q for %s", entry.Action, entry.Path)
	}
	return result
}

// reconcileConverge implements the bidirectional strategy: when L diverges
// from Render(T,B,Q), Extract realigns the template and quacks to the
// host's edit, writes them back, then re-renders and writes L so the host
// ends up exactly where the new template says it should be.
func (e *Engine) reconcileConverge(ctx context.Context, group string, kind manifest.Kind, entry manifest.Entry, bindings map[string]string, result *Result) {
	templatePath := e.templatePathFor(group, kind, entry.Path)
	isGroupTemplate := kind != manifest.KindMachine
	quackPath := e.Layout.QuackStorePath(e.Host, entry.Path)

	local, err := os.ReadFile(entry.Path)
	if err != nil {
		result.Err = fmt.Errorf("%w: reading %s: %v", errs.ErrIOError, entry.Path, err)
		return
	}

	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		src, srcSum, err := readWithChecksum(templatePath)
		if err != nil {
			result.Err = err
			return
		}

		doc, err := template.Parse(src)
		if err != nil {
			result.Err = err
			return
		}

		quacks, err := template.ReadQuacks(quackPath)
		if err != nil {
			result.Err = err
			return
		}

		rendered, err := template.Render(doc, bindings, quacks, isGroupTemplate)
		if err != nil {
			result.Err = err
			return
		}
		if string(local) == rendered {
			return // no divergence, nothing to converge
		}
		result.Diverged = true

		extracted, err := template.Extract(doc, bindings, quacks, isGroupTemplate, string(local))
		if err != nil {
			result.Err = err
			return
		}
		if extracted.Degenerate {
			e.Logger.Warn("extract degenerated, falling back to forward-style overwrite",
				"path", entry.Path, "template", templatePath)
			extracted.Document = literalDocument(string(local))
			extracted.Quacks = map[int]string{}
		}
		newSrc := extracted.Document.Source()

		if _, currentSum, err := readWithChecksum(templatePath); err != nil {
			result.Err = err
			return
		} else if currentSum != srcSum {
			lastErr = fmt.Errorf("%w: %s changed during convergence", errs.ErrManifestConflict, templatePath)
			continue
		}

		if err := writeFileAtomic(templatePath, []byte(newSrc), 0o644); err != nil {
			result.Err = err
			return
		}
		result.TemplateWritten = true

		if isGroupTemplate {
			if err := template.WriteQuacks(quackPath, extracted.Quacks); err != nil {
				result.Err = err
				return
			}
		}

		final, err := template.Render(extracted.Document, bindings, extracted.Quacks, isGroupTemplate)
		if err != nil {
			result.Err = err
			return
		}
		if err := writeFileAtomic(entry.Path, []byte(final), filePerm(entry.Path)); err != nil {
			result.Err = err
			return
		}
		result.LocalWritten = true

		e.record(ctx, templatePath, src, newSrc)
		return
	}

	result.Err = fmt.Errorf("%w: %s after %d attempts: %v", errs.ErrConvergenceRetryExhausted, templatePath, casAttempts, lastErr)
}

// reconcileRollback overwrites L with Render(T,B,Q), discarding local
// drift. Only the local file is written, so no cross-host CAS is needed.
func (e *Engine) reconcileRollback(_ context.Context, group string, kind manifest.Kind, entry manifest.Entry, bindings map[string]string, result *Result) {
	templatePath := e.templatePathFor(group, kind, entry.Path)
	isGroupTemplate := kind != manifest.KindMachine

	src, err := os.ReadFile(templatePath)
	if err != nil {
		result.Err = fmt.Errorf("%w: reading template %s: %v", errs.ErrIOError, templatePath, err)
		return
	}
	doc, err := template.Parse(string(src))
	if err != nil {
		result.Err = err
		return
	}

	var quacks map[int]string
	if isGroupTemplate {
		quacks, err = template.ReadQuacks(e.Layout.QuackStorePath(e.Host, entry.Path))
		if err != nil {
			result.Err = err
			return
		}
	}

	rendered, err := template.Render(doc, bindings, quacks, isGroupTemplate)
	if err != nil {
		result.Err = err
		return
	}

	local, err := os.ReadFile(entry.Path)
	if err == nil && string(local) == rendered {
		return
	}
	result.Diverged = true

	if err := writeFileAtomic(entry.Path, []byte(rendered), filePerm(entry.Path)); err != nil {
		result.Err = err
		return
	}
	result.LocalWritten = true
}

// reconcileForward overwrites T with L as a flat template, discarding the
// template's hole and quack structure entirely — it is the one action that
// unconditionally overwrites a peer's change (spec.md §4.7 "Cross-host
// coordination").
func (e *Engine) reconcileForward(ctx context.Context, group string, kind manifest.Kind, entry manifest.Entry, bindings map[string]string, result *Result) {
	templatePath := e.templatePathFor(group, kind, entry.Path)
	isGroupTemplate := kind != manifest.KindMachine
	quackPath := e.Layout.QuackStorePath(e.Host, entry.Path)

	local, err := os.ReadFile(entry.Path)
	if err != nil {
		result.Err = fmt.Errorf("%w: reading %s: %v", errs.ErrIOError, entry.Path, err)
		return
	}

	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		src, srcSum, err := readWithChecksum(templatePath)
		if err != nil {
			// A template that does not exist yet is the first forward for
			// this entry; treat the prior source as empty.
			src, srcSum = "", ""
		}

		doc, perr := template.Parse(src)
		if perr == nil {
			var quacks map[int]string
			if isGroupTemplate {
				quacks, _ = template.ReadQuacks(quackPath)
			}
			if rendered, rerr := template.Render(doc, bindings, quacks, isGroupTemplate); rerr == nil && rendered == string(local) {
				return // already converged, nothing to forward
			}
		}
		result.Diverged = true

		if _, currentSum, err := readWithChecksum(templatePath); err == nil && currentSum != srcSum {
			lastErr = fmt.Errorf("%w: %s changed during forward", errs.ErrManifestConflict, templatePath)
			continue
		}

		if err := writeFileAtomic(templatePath, local, 0o644); err != nil {
			result.Err = err
			return
		}
		result.TemplateWritten = true

		if isGroupTemplate {
			if err := os.Remove(quackPath); err != nil && !os.IsNotExist(err) {
				result.Err = fmt.Errorf("%w: %v", errs.ErrIOError, err)
				return
			}
		}

		e.record(ctx, templatePath, src, string(local))
		return
	}

	result.Err = fmt.Errorf("%w: %s after %d attempts: %v", errs.ErrConvergenceRetryExhausted, templatePath, casAttempts, lastErr)
}

// reconcileFreeze reports divergence without writing anything, per
// spec.md §4.7.
func (e *Engine) reconcileFreeze(_ context.Context, group string, kind manifest.Kind, entry manifest.Entry, bindings map[string]string, result *Result) {
	e.checkDivergence(group, kind, entry, bindings, result)
}

// Status reports whether entry currently diverges from Render(T,B,Q),
// without regard to (and without invoking) its configured sync_action,
// and without writing anything. Exported for the `status` CLI command,
// which reports every enrolled entry's drift regardless of how each one
// is configured to reconcile.
func (e *Engine) Status(_ context.Context, group string, kind manifest.Kind, entry manifest.Entry, bindings map[string]string) Result {
	result := Result{Path: entry.Path, Action: entry.Action}
	e.checkDivergence(group, kind, entry, bindings, &result)
	return result
}

// checkDivergence renders entry's current template and compares it to the
// local file, reporting the result without mutating anything. Shared by
// reconcileFreeze and Status.
func (e *Engine) checkDivergence(group string, kind manifest.Kind, entry manifest.Entry, bindings map[string]string, result *Result) {
	templatePath := e.templatePathFor(group, kind, entry.Path)
	isGroupTemplate := kind != manifest.KindMachine

	src, err := os.ReadFile(templatePath)
	if err != nil {
		result.Err = fmt.Errorf("%w: reading template %s: %v", errs.ErrIOError, templatePath, err)
		return
	}
	doc, err := template.Parse(string(src))
	if err != nil {
		result.Err = err
		return
	}

	var quacks map[int]string
	if isGroupTemplate {
		quacks, err = template.ReadQuacks(e.Layout.QuackStorePath(e.Host, entry.Path))
		if err != nil {
			result.Err = err
			return
		}
	}

	rendered, err := template.Render(doc, bindings, quacks, isGroupTemplate)
	if err != nil {
		result.Err = err
		return
	}

	local, err := os.ReadFile(entry.Path)
	if err != nil {
		result.Err = fmt.Errorf("%w: reading %s: %v", errs.ErrIOError, entry.Path, err)
		return
	}
	result.Diverged = string(local) != rendered
}

// record appends a best-effort version-log entry for a template write. A
// failure here is logged and discarded, not propagated, per spec.md §4.9.
func (e *Engine) record(ctx context.Context, path, before, after string) {
	if e.Recorder == nil {
		return
	}
	changes := []versionlog.Change{{Path: path, Before: before, After: after}}
	if err := e.Recorder.Record(ctx, e.Host, changes); err != nil {
		e.Logger.Warn("version log record failed", "path", path, "error", err)
	}
}

func (e *Engine) manifestPathFor(group string, kind manifest.Kind) string {
	if kind == manifest.KindMachine {
		return e.Layout.MachineManifestPath(e.Host)
	}
	return e.Layout.GroupManifestPath(group)
}

// TemplatePath returns the shared-tree location Reconcile would read or
// write for (group, kind, localPath). Exported for the Watch Loop, which
// needs it to add a template path to its echo-suppression ignore set
// before triggering a reconciliation that may write it.
func (e *Engine) TemplatePath(group string, kind manifest.Kind, localPath string) string {
	return e.templatePathFor(group, kind, localPath)
}

func (e *Engine) templatePathFor(group string, kind manifest.Kind, localPath string) string {
	if kind == manifest.KindMachine {
		return e.Layout.MachineTemplatePath(e.Host, localPath)
	}
	return e.Layout.GroupTemplatePath(group, localPath)
}

// literalDocument builds a single-literal-node Document, the template
// representation of a flat, hole-free file.
func literalDocument(content string) *template.Document {
	return &template.Document{Nodes: []template.Node{{Kind: template.Literal, Literal: content}}}
}

func readWithChecksum(path string) (string, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("%w: reading %s: %v", errs.ErrIOError, path, err)
	}
	return string(data), checksum.Bytes(data), nil
}

// filePerm returns path's current permission bits, including setuid,
// setgid, and sticky, so reconciliation never silently drops them from a
// managed file (spec.md §4.6: "preserving the file's permission bits
// (owner mode and setuid/gid)").
func filePerm(path string) os.FileMode {
	if info, err := os.Stat(path); err == nil {
		return info.Mode() & (os.ModePerm | os.ModeSetuid | os.ModeSetgid | os.ModeSticky)
	}
	return 0o644
}

// writeFileAtomic writes data to path via a temp-file-then-rename,
// preserving mode, mirroring the teacher's Engine.copyFile atomic-write
// discipline in internal/sync/sync.go.
func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIOError, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".laszoo-tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIOError, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: %v", errs.ErrIOError, err)
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: %v", errs.ErrIOError, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIOError, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIOError, err)
	}
	return nil
}
