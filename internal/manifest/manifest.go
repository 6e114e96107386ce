// Package manifest persists per-host and per-group enrollment records to
// the shared tree as stable-key JSON, per spec.md §4.4 and §6. Reads
// tolerate a missing file (an empty manifest); writes are atomic via
// write-temp-then-rename, and callers needing cross-host safety use the
// CAS helpers in cas.go.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/laszoo/laszoo/internal/errs"
)

// Kind is the enrollment_kind of an entry.
type Kind string

const (
	KindGroup   Kind = "group"
	KindMachine Kind = "machine"
	KindHybrid  Kind = "hybrid"
)

// Action is the sync_action of an entry. Defined here (rather than in
// package sync) so manifest does not depend on sync, and sync depends on
// manifest instead — the teacher's config package similarly owns its
// RestartPolicy enum rather than importing it from the engine package.
type Action string

const (
	ActionConverge Action = "converge"
	ActionRollback Action = "rollback"
	ActionForward  Action = "forward"
	ActionFreeze   Action = "freeze"
	ActionDrift    Action = "drift"
)

// Entry is one enrollment record: (group, local_path, enrollment_kind,
// sync_action, before?, after?) plus bookkeeping fields from the §6 wire
// schema.
type Entry struct {
	Group       string `json:"group"`
	Path        string `json:"path"`
	Kind        Kind   `json:"kind"`
	Action      Action `json:"action"`
	Before      string `json:"before,omitempty"`
	After       string `json:"after,omitempty"`
	IsDirectory bool   `json:"is_directory"`
	Checksum    string `json:"checksum"`
}

// Manifest is the in-memory form of a manifest JSON file: an ordered list
// of entries keyed by path.
type Manifest struct {
	Entries []Entry `json:"entries"`
}

// Empty returns a manifest with no entries.
func Empty() *Manifest {
	return &Manifest{Entries: []Entry{}}
}

// Find returns the entry for path, if any.
func (m *Manifest) Find(path string) (Entry, bool) {
	for _, e := range m.Entries {
		if e.Path == path {
			return e, true
		}
	}
	return Entry{}, false
}

// Upsert inserts or replaces the entry for e.Path.
func (m *Manifest) Upsert(e Entry) {
	for i, existing := range m.Entries {
		if existing.Path == e.Path {
			m.Entries[i] = e
			return
		}
	}
	m.Entries = append(m.Entries, e)
}

// Remove deletes the entry for path, if present.
func (m *Manifest) Remove(path string) {
	for i, e := range m.Entries {
		if e.Path == path {
			m.Entries = append(m.Entries[:i], m.Entries[i+1:]...)
			return
		}
	}
}

// UnderDirectory returns true if path lies strictly beneath any entry in m
// that is itself a directory enrollment. Used to enforce invariant 2 of
// spec.md §3: a path under an enrolled directory must not have its own
// manifest entry.
func (m *Manifest) UnderDirectory(path string) (Entry, bool) {
	for _, e := range m.Entries {
		if !e.IsDirectory {
			continue
		}
		rel, err := filepath.Rel(e.Path, path)
		if err == nil && rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return e, true
		}
	}
	return Entry{}, false
}

// sortedCopy returns m's entries sorted lexicographically by path, for
// deterministic JSON key ordering (spec.md §4.4: "stable key ordering
// (lexicographic)").
func (m *Manifest) sortedCopy() []Entry {
	out := make([]Entry, len(m.Entries))
	copy(out, m.Entries)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Read loads the manifest at path. A missing file yields an empty
// manifest, not an error.
func Read(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Empty(), nil
		}
		return nil, fmt.Errorf("%w: reading manifest %s: %v", errs.ErrIOError, path, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: parsing manifest %s: %v", errs.ErrIOError, path, err)
	}
	if m.Entries == nil {
		m.Entries = []Entry{}
	}
	return &m, nil
}

// Write persists m to path atomically: it writes a uniquely named temporary
// file (.manifest-*.tmp) in path's directory, then renames it over path; no
// fixed path+".tmp" name is used. Entries are sorted by path first so repeated writes of
// logically-equal manifests are byte-identical.
func Write(path string, m *Manifest) error {
	ordered := &Manifest{Entries: m.sortedCopy()}

	data, err := json.MarshalIndent(ordered, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding manifest: %v", errs.ErrIOError, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIOError, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*.tmp")
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
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIOError, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("%w: renaming manifest into place: %v", errs.ErrIOError, err)
	}
	return nil
}
