package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/laszoo/laszoo/internal/errs"
)

func TestReadMissingFileIsEmpty(t *testing.T) {
	m, err := Read(filepath.Join(t.TempDir(), "manifest.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Entries) != 0 {
		t.Errorf("Entries = %v, want empty", m.Entries)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	m := Empty()
	m.Upsert(Entry{Group: "web", Path: "/etc/nginx/nginx.conf", Kind: KindGroup, Action: ActionConverge})
	m.Upsert(Entry{Group: "web", Path: "/etc/nginx/sites/a.conf", Kind: KindGroup, Action: ActionRollback})

	if err := Write(path, m); err != nil {
		t.Fatal(err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Entries) != 2 {
		t.Fatalf("Entries = %d, want 2", len(got.Entries))
	}
	e, ok := got.Find("/etc/nginx/nginx.conf")
	if !ok || e.Action != ActionConverge {
		t.Errorf("Find() = %+v, %v", e, ok)
	}
}

func TestWriteIsSortedByPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	m := Empty()
	m.Upsert(Entry{Path: "/z"})
	m.Upsert(Entry{Path: "/a"})
	m.Upsert(Entry{Path: "/m"})

	if err := Write(path, m); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	az := indexOf(string(data), `"/a"`)
	mz := indexOf(string(data), `"/m"`)
	zz := indexOf(string(data), `"/z"`)
	if !(az < mz && mz < zz) {
		t.Errorf("entries not sorted in output: %s", data)
	}
}

func TestWriteNoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	if err := Write(path, Empty()); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "manifest.json" {
		t.Errorf("directory contents = %v, want only manifest.json", entries)
	}
}

func TestUpsertReplacesExisting(t *testing.T) {
	m := Empty()
	m.Upsert(Entry{Path: "/a", Action: ActionConverge})
	m.Upsert(Entry{Path: "/a", Action: ActionFreeze})
	if len(m.Entries) != 1 {
		t.Fatalf("Entries = %d, want 1", len(m.Entries))
	}
	if m.Entries[0].Action != ActionFreeze {
		t.Errorf("Action = %v, want %v", m.Entries[0].Action, ActionFreeze)
	}
}

func TestRemove(t *testing.T) {
	m := Empty()
	m.Upsert(Entry{Path: "/a"})
	m.Remove("/a")
	if len(m.Entries) != 0 {
		t.Errorf("Entries = %v, want empty after Remove", m.Entries)
	}
}

func TestUnderDirectory(t *testing.T) {
	m := Empty()
	m.Upsert(Entry{Path: "/etc/nginx", IsDirectory: true})

	if _, ok := m.UnderDirectory("/etc/nginx/sites/a.conf"); !ok {
		t.Error("expected /etc/nginx/sites/a.conf to be under /etc/nginx")
	}
	if _, ok := m.UnderDirectory("/etc/other.conf"); ok {
		t.Error("did not expect /etc/other.conf to be under /etc/nginx")
	}
}

func TestUpdateAppliesMutation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	err := Update(path, 3, func(m *Manifest) error {
		m.Upsert(Entry{Path: "/a", Action: ActionConverge})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := got.Find("/a"); !ok {
		t.Error("expected /a to be present after Update()")
	}
}

func TestUpdateDetectsConcurrentWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	if err := Write(path, Empty()); err != nil {
		t.Fatal(err)
	}

	var once sync.Once
	err := Update(path, 1, func(m *Manifest) error {
		once.Do(func() {
			// Simulate a concurrent writer landing between our Read and
			// our Write by mutating the file out from under us.
			racer := Empty()
			racer.Upsert(Entry{Path: "/racer"})
			_ = Write(path, racer)
		})
		m.Upsert(Entry{Path: "/ours"})
		return nil
	})
	if !errors.Is(err, errs.ErrManifestConflict) {
		t.Errorf("Update() error = %v, want ErrManifestConflict", err)
	}
}

func TestUpdateRetriesThenSucceeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	if err := Write(path, Empty()); err != nil {
		t.Fatal(err)
	}

	racesLeft := 1
	err := Update(path, 3, func(m *Manifest) error {
		if racesLeft > 0 {
			racesLeft--
			racer := Empty()
			racer.Upsert(Entry{Path: "/racer"})
			_ = Write(path, racer)
		}
		m.Upsert(Entry{Path: "/ours"})
		return nil
	})
	if err != nil {
		t.Fatalf("Update() with room to retry should succeed, got %v", err)
	}
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
