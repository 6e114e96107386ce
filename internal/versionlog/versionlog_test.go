package versionlog

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func gitLog(t *testing.T, root string, args ...string) string {
	t.Helper()
	full := append([]string{"-C", root}, args...)
	out, err := exec.Command("git", full...).CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v: %s", args, err, out)
	}
	return string(out)
}

func TestEnsureInitializedCreatesGitDir(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	root := t.TempDir()
	l := New(root, nil)
	if err := l.EnsureInitialized(context.Background()); err != nil {
		t.Fatal(err)
	}
	out := gitLog(t, root, "rev-parse", "--is-inside-work-tree")
	if strings.TrimSpace(out) != "true" {
		t.Errorf("expected a git work tree, got %q", out)
	}
}

func TestEnsureInitializedIsIdempotent(t *testing.T) {
	root := t.TempDir()
	l := New(root, nil)
	if err := l.EnsureInitialized(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := l.EnsureInitialized(context.Background()); err != nil {
		t.Fatalf("second EnsureInitialized() should be a no-op, got %v", err)
	}
}

func TestRecordWithNoAnnotatorUsesFallbackSummary(t *testing.T) {
	root := t.TempDir()
	l := New(root, nil)

	changes := []Change{
		{Path: filepath.Join(root, "a.conf"), Before: "x\n", After: "y\n"},
	}
	if err := l.Record(context.Background(), "h1", changes); err != nil {
		t.Fatal(err)
	}

	log := gitLog(t, root, "log", "-1", "--pretty=%B")
	if !strings.Contains(log, "update 1 files") {
		t.Errorf("commit message = %q, want fallback summary", log)
	}
	if !strings.Contains(log, "host: h1") {
		t.Errorf("commit message = %q, want host trailer", log)
	}
}

type stubSummarizer struct {
	summary string
	err     error
}

func (s stubSummarizer) Summarize(ctx context.Context, diff string) (string, error) {
	return s.summary, s.err
}

func TestRecordUsesAnnotatorSummary(t *testing.T) {
	root := t.TempDir()
	l := New(root, stubSummarizer{summary: "bumped config value"})

	changes := []Change{
		{Path: filepath.Join(root, "a.conf"), Before: "x\n", After: "y\n"},
	}
	if err := l.Record(context.Background(), "h1", changes); err != nil {
		t.Fatal(err)
	}

	log := gitLog(t, root, "log", "-1", "--pretty=%B")
	if !strings.Contains(log, "bumped config value") {
		t.Errorf("commit message = %q, want annotator summary", log)
	}
}

func TestRecordFallsBackWhenAnnotatorErrors(t *testing.T) {
	root := t.TempDir()
	l := New(root, stubSummarizer{err: errTest})

	changes := []Change{
		{Path: filepath.Join(root, "a.conf"), Before: "x\n", After: "y\n"},
	}
	if err := l.Record(context.Background(), "h1", changes); err != nil {
		t.Fatal(err)
	}

	log := gitLog(t, root, "log", "-1", "--pretty=%B")
	if !strings.Contains(log, "update 1 files") {
		t.Errorf("commit message = %q, want fallback summary on annotator error", log)
	}
}

func TestRecordNoChangesIsNoOp(t *testing.T) {
	root := t.TempDir()
	l := New(root, nil)
	if err := l.Record(context.Background(), "h1", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := exec.Command("git", "-C", root, "rev-parse", "HEAD").CombinedOutput(); err == nil {
		t.Error("expected no commit to exist for an empty change set")
	}
}

func TestCommitNowCommitsEvenWithNoChanges(t *testing.T) {
	root := t.TempDir()
	l := New(root, nil)

	if err := l.CommitNow(context.Background(), "h1", "manual checkpoint"); err != nil {
		t.Fatal(err)
	}

	log := gitLog(t, root, "log", "-1", "--pretty=%B")
	if !strings.Contains(log, "manual checkpoint") {
		t.Errorf("commit message = %q, want manual checkpoint", log)
	}
	if !strings.Contains(log, "host: h1") {
		t.Errorf("commit message = %q, want host trailer", log)
	}
}

func TestBuildDiffPromptIncludesPaths(t *testing.T) {
	prompt := buildDiffPrompt([]Change{{Path: "/etc/a.conf", Before: "x\n", After: "y\n"}})
	if !strings.Contains(prompt, "/etc/a.conf") {
		t.Errorf("buildDiffPrompt() = %q, want path header", prompt)
	}
}

var errTest = &testError{"summarize failed"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
