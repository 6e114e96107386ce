// Package enroll implements the Enrollment Manager: bringing a local path
// under laszoo's management (Enroll), releasing it (Unenroll), and
// materializing a template onto the local filesystem (Apply), per
// spec.md §4.6.
package enroll

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/laszoo/laszoo/internal/checksum"
	"github.com/laszoo/laszoo/internal/errs"
	"github.com/laszoo/laszoo/internal/hostinfo"
	"github.com/laszoo/laszoo/internal/layout"
	"github.com/laszoo/laszoo/internal/manifest"
	"github.com/laszoo/laszoo/internal/template"
)

// Manager ties together the shared-tree layout and the local host's
// identity for enrollment operations.
type Manager struct {
	Layout *layout.Layout
	Host   string
}

// New returns a Manager rooted at l, acting as host.
func New(l *layout.Layout, host string) *Manager {
	return &Manager{Layout: l, Host: host}
}

// Enroll brings localPath under management in group, per spec.md §4.6.
func (m *Manager) Enroll(group, localPath string, kind manifest.Kind, action manifest.Action, before, after string) error {
	abs, err := canonicalPath(localPath)
	if err != nil {
		return err
	}

	isDir, err := isDirectory(abs)
	if err != nil {
		return err
	}

	manifestPath := m.manifestPathFor(group, kind)

	return manifest.Update(manifestPath, 3, func(mf *manifest.Manifest) error {
		if _, ok := mf.UnderDirectory(abs); ok {
			return fmt.Errorf("%s is already covered by an enrolled directory", abs)
		}

		if isDir {
			return m.enrollDirectory(mf, group, abs, kind, action, before, after)
		}
		return m.enrollFile(mf, group, abs, kind, action, before, after)
	})
}

func (m *Manager) enrollDirectory(mf *manifest.Manifest, group, dir string, kind manifest.Kind, action manifest.Action, before, after string) error {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if err := m.seedOrReconcileOne(group, path, kind); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: enrolling directory %s: %v", errs.ErrIOError, dir, err)
	}

	mf.Upsert(manifest.Entry{
		Group:       group,
		Path:        dir,
		Kind:        kind,
		Action:      action,
		Before:      before,
		After:       after,
		IsDirectory: true,
	})
	return nil
}

func (m *Manager) enrollFile(mf *manifest.Manifest, group, path string, kind manifest.Kind, action manifest.Action, before, after string) error {
	if err := m.seedOrReconcileOne(group, path, kind); err != nil {
		return err
	}

	sum, err := checksum.File(path)
	if err != nil {
		return err
	}

	mf.Upsert(manifest.Entry{
		Group:    group,
		Path:     path,
		Kind:     kind,
		Action:   action,
		Before:   before,
		After:    after,
		Checksum: sum,
	})
	return nil
}

// seedOrReconcileOne implements step 2-3 of spec.md §4.6's Enroll
// algorithm for a single file: if no template exists yet, seed it
// verbatim; otherwise reconcile per kind.
func (m *Manager) seedOrReconcileOne(group, path string, kind manifest.Kind) error {
	templatePath := m.templatePathFor(group, kind, path)

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %v", errs.ErrIOError, path, err)
	}

	existing, err := os.ReadFile(templatePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("%w: reading template %s: %v", errs.ErrIOError, templatePath, err)
		}
		return writeFileAtomic(templatePath, content, 0o644)
	}

	if string(existing) == string(content) {
		return nil
	}

	switch kind {
	case manifest.KindMachine:
		return writeFileAtomic(templatePath, content, 0o644)
	case manifest.KindHybrid:
		return m.wrapDivergenceInQuack(templatePath, existing, content)
	default: // manifest.KindGroup
		// The divergent local content becomes a candidate to reconcile via
		// the entry's sync_action; Enroll itself does not force a
		// direction here, leaving that to the Sync Engine's next pass
		// (spec.md §4.6 step 3: "reconciled via the entry's sync_action").
		return nil
	}
}

// wrapDivergenceInQuack replaces the whole template body with a single
// quack region carrying the local content, the simplest hybrid
// reconciliation that satisfies "a quack region replaces the divergent
// span" without requiring a prior template structure to align against.
func (m *Manager) wrapDivergenceInQuack(templatePath string, existing, local []byte) error {
	body := string(local)
	wrapped := "[[x " + body + " x]]"
	return writeFileAtomic(templatePath, []byte(wrapped), 0o644)
}

// Unenroll removes the manifest entry for localPath, deletes its
// template(s), and leaves the local file untouched.
func (m *Manager) Unenroll(group, localPath string, kind manifest.Kind) error {
	abs, err := canonicalPath(localPath)
	if err != nil {
		return err
	}

	manifestPath := m.manifestPathFor(group, kind)

	return manifest.Update(manifestPath, 3, func(mf *manifest.Manifest) error {
		entry, ok := mf.Find(abs)
		if !ok {
			return nil
		}

		if entry.IsDirectory {
			if err := m.removeTemplateTree(group, abs, kind); err != nil {
				return err
			}
		} else {
			templatePath := m.templatePathFor(group, kind, abs)
			if err := os.Remove(templatePath); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("%w: %v", errs.ErrIOError, err)
			}
		}

		mf.Remove(abs)
		return nil
	})
}

func (m *Manager) removeTemplateTree(group, dir string, kind manifest.Kind) error {
	// A directory's descendants have their templates beneath <scope><dir>/,
	// mirroring layout's scope+localPath+".lasz" mapping.
	scopeDir := m.Layout.GroupDir(group)
	if kind == manifest.KindMachine {
		scopeDir = m.Layout.MachineDir(m.Host)
	}
	templateDir := scopeDir + dir
	if err := os.RemoveAll(templateDir); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIOError, err)
	}
	return nil
}

// ApplyResult reports the outcome of applying one manifest entry.
type ApplyResult struct {
	Path    string
	Written bool
	Err     error
}

// Apply renders every matching entry's template and writes the result to
// its local path, per spec.md §4.6. filter, if non-empty, restricts Apply
// to entries whose path equals one of the given paths.
func (m *Manager) Apply(ctx context.Context, group string, kind manifest.Kind, cfg hostinfo.Config, filter []string) ([]ApplyResult, error) {
	manifestPath := m.manifestPathFor(group, kind)
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
		abs, err := canonicalPath(f)
		if err == nil {
			wanted[abs] = true
		}
	}

	entries := make([]manifest.Entry, len(mf.Entries))
	copy(entries, mf.Entries)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	var results []ApplyResult
	for _, entry := range entries {
		if entry.IsDirectory {
			continue
		}
		if len(wanted) > 0 && !wanted[entry.Path] {
			continue
		}
		results = append(results, m.applyOne(ctx, group, kind, entry, bindings))
	}
	return results, nil
}

func (m *Manager) applyOne(ctx context.Context, group string, kind manifest.Kind, entry manifest.Entry, bindings map[string]string) ApplyResult {
	result := ApplyResult{Path: entry.Path}

	templatePath := m.templatePathFor(group, kind, entry.Path)
	src, err := os.ReadFile(templatePath)
	if err != nil {
		result.Err = fmt.Errorf("%w: reading template %s: %v", errs.ErrIOError, templatePath, err)
		return result
	}

	doc, err := template.Parse(string(src))
	if err != nil {
		result.Err = err
		return result
	}

	isGroupTemplate := kind != manifest.KindMachine

	var quacks map[int]string
	if isGroupTemplate {
		quacks, err = template.ReadQuacks(m.Layout.QuackStorePath(m.Host, entry.Path))
		if err != nil {
			result.Err = err
			return result
		}
	}

	rendered, err := template.Render(doc, bindings, quacks, isGroupTemplate)
	if err != nil {
		result.Err = err
		return result
	}

	if entry.Before != "" {
		if err := runHook(ctx, entry.Before); err != nil {
			result.Err = fmt.Errorf("%w: %v", errs.ErrBeforeHookFailed, err)
			return result
		}
	}

	mode := os.FileMode(0o644)
	if info, err := os.Stat(entry.Path); err == nil {
		mode = info.Mode() & (os.ModePerm | os.ModeSetuid | os.ModeSetgid | os.ModeSticky)
	}
	if err := writeFileAtomic(entry.Path, []byte(rendered), mode); err != nil {
		result.Err = err
		return result
	}
	result.Written = true

	if entry.After != "" {
		if err := runHook(ctx, entry.After); err != nil {
			result.Err = fmt.Errorf("%w: %v", errs.ErrAfterHookFailed, err)
		}
	}

	return result
}

func runHook(ctx context.Context, command string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %v: %s", command, err, string(output))
	}
	return nil
}

func (m *Manager) manifestPathFor(group string, kind manifest.Kind) string {
	if kind == manifest.KindMachine {
		return m.Layout.MachineManifestPath(m.Host)
	}
	return m.Layout.GroupManifestPath(group)
}

func (m *Manager) templatePathFor(group string, kind manifest.Kind, localPath string) string {
	if kind == manifest.KindMachine {
		return m.Layout.MachineTemplatePath(m.Host, localPath)
	}
	return m.Layout.GroupTemplatePath(group, localPath)
}

func canonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrIOError, err)
	}
	return filepath.Clean(abs), nil
}

func isDirectory(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("%w: %v", errs.ErrIOError, err)
	}
	return info.IsDir(), nil
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
