package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/laszoo/laszoo/internal/layout"
	"github.com/laszoo/laszoo/internal/manifest"
)

func TestRemoteScannerDetectsChange(t *testing.T) {
	root := t.TempDir()
	l := layout.New(root)
	localPath := filepath.Join(t.TempDir(), "a.conf")
	tplPath := l.GroupTemplatePath("grp1", localPath)
	if err := os.MkdirAll(filepath.Dir(tplPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(tplPath, []byte("v1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	queue := NewQueue()
	ignore := NewIgnoreSet(time.Minute)
	rs := NewRemoteScanner(l, queue, ignore, 20*time.Millisecond, nil)

	entry := manifest.Entry{Group: "grp1", Path: localPath, Kind: manifest.KindGroup, Action: manifest.ActionConverge}
	rs.Watch("grp1", manifest.KindGroup, entry, tplPath)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go rs.Run(ctx)

	if err := os.WriteFile(tplPath, []byte("v2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	event, ok := queue.Next(ctx)
	if !ok {
		t.Fatal("expected a remote change event")
	}
	if event.Path != localPath || event.Source != "remote" {
		t.Errorf("event = %+v, want remote event for %s", event, localPath)
	}
}

func TestRemoteScannerNoEventWhenUnchanged(t *testing.T) {
	root := t.TempDir()
	l := layout.New(root)
	localPath := filepath.Join(t.TempDir(), "a.conf")
	tplPath := l.GroupTemplatePath("grp1", localPath)
	if err := os.MkdirAll(filepath.Dir(tplPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(tplPath, []byte("v1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	queue := NewQueue()
	ignore := NewIgnoreSet(time.Minute)
	rs := NewRemoteScanner(l, queue, ignore, 20*time.Millisecond, nil)

	entry := manifest.Entry{Group: "grp1", Path: localPath, Kind: manifest.KindGroup, Action: manifest.ActionConverge}
	rs.Watch("grp1", manifest.KindGroup, entry, tplPath)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	rs.Run(ctx)

	if queue.Len() != 0 {
		t.Errorf("Len() = %d, want 0 for an unchanged template across several ticks", queue.Len())
	}
}

func TestRemoteScannerSkipsTickWhenMountUnavailable(t *testing.T) {
	root := filepath.Join(t.TempDir(), "mounted")
	if err := os.Mkdir(root, 0o755); err != nil {
		t.Fatal(err)
	}
	l := layout.New(root)
	localPath := filepath.Join(t.TempDir(), "a.conf")
	tplPath := l.GroupTemplatePath("grp1", localPath)
	if err := os.MkdirAll(filepath.Dir(tplPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(tplPath, []byte("v1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	queue := NewQueue()
	ignore := NewIgnoreSet(time.Minute)
	rs := NewRemoteScanner(l, queue, ignore, 20*time.Millisecond, nil)
	entry := manifest.Entry{Group: "grp1", Path: localPath, Kind: manifest.KindGroup, Action: manifest.ActionConverge}
	rs.Watch("grp1", manifest.KindGroup, entry, tplPath)

	if err := os.RemoveAll(root); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(tplPath, []byte("v2\n"), 0o644); err != nil {
		// The template write itself fails once the mount is gone too; that
		// is fine, the point of this test is scanOnce must not panic or
		// report a spurious change when the root disappears.
		_ = err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	rs.Run(ctx)

	if queue.Len() != 0 {
		t.Errorf("Len() = %d, want 0 while the mount is unavailable", queue.Len())
	}
}

func TestRemoteScannerIgnoresIgnoredPath(t *testing.T) {
	root := t.TempDir()
	l := layout.New(root)
	localPath := filepath.Join(t.TempDir(), "a.conf")
	tplPath := l.GroupTemplatePath("grp1", localPath)
	if err := os.MkdirAll(filepath.Dir(tplPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(tplPath, []byte("v1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	queue := NewQueue()
	ignore := NewIgnoreSet(time.Minute)
	rs := NewRemoteScanner(l, queue, ignore, 20*time.Millisecond, nil)
	entry := manifest.Entry{Group: "grp1", Path: localPath, Kind: manifest.KindGroup, Action: manifest.ActionConverge}
	rs.Watch("grp1", manifest.KindGroup, entry, tplPath)

	ignore.Add(tplPath)
	if err := os.WriteFile(tplPath, []byte("v2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	rs.Run(ctx)

	if queue.Len() != 0 {
		t.Errorf("Len() = %d, want 0 for an ignored template path", queue.Len())
	}
}
