// Package versionlog records the append-only history of template mutations
// under the shared tree, per spec.md §4.9: a real git repository at
// <root>/.git, one commit per reconciliation that writes a template.
package versionlog

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/laszoo/laszoo/internal/errs"
)

// Summarizer generates a human-readable summary of a set of file changes.
// internal/annotator.Client satisfies this; tests can supply a stub.
type Summarizer interface {
	Summarize(ctx context.Context, diff string) (string, error)
}

// Change is one file's before/after content, used to build the annotator's
// diff prompt.
type Change struct {
	Path   string
	Before string
	After  string
}

// Logger appends commits to the version log at root.
type Logger struct {
	Root        string
	Annotator   Summarizer // nil disables the annotator; fallback is always used
	AuthorName  string
	AuthorEmail string
}

// defaultAuthor* are used when Logger fields are left empty: the log is a
// machine-authored history, not a personal one, so a fixed identity keeps
// every host's commits attributable to the tool rather than to whichever
// OS user happened to run it.
const (
	defaultAuthorName  = "laszoo"
	defaultAuthorEmail = "laszoo@localhost"
)

// New returns a Logger rooted at root. ann may be nil.
func New(root string, ann Summarizer) *Logger {
	return &Logger{Root: root, Annotator: ann}
}

// EnsureInitialized creates the git repository at <root>/.git if it does
// not already exist. Safe to call on every startup.
func (l *Logger) EnsureInitialized(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(l.Root, ".git")); err == nil {
		return nil
	}

	if err := os.MkdirAll(l.Root, 0o755); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIOError, err)
	}

	if err := l.runGit(ctx, "init"); err != nil {
		return err
	}
	return nil
}

// Record appends one commit recording host's reconciliation of changes. A
// failure to record is never fatal to the caller's reconciliation — per
// spec.md §4.9, "the log is best-effort" — so Record returns an error the
// caller is expected to log and discard, not propagate.
func (l *Logger) Record(ctx context.Context, host string, changes []Change) error {
	if len(changes) == 0 {
		return nil
	}

	if err := l.EnsureInitialized(ctx); err != nil {
		return err
	}

	summary, err := l.summarize(ctx, changes)
	if err != nil {
		// summarize already falls back internally; this branch is
		// defense in depth and should not normally trigger.
		summary = fallbackSummary(changes)
	}

	message := fmt.Sprintf("%s\n\nhost: %s\ntimestamp: %s\npaths:\n%s",
		summary, host, time.Now().UTC().Format(time.RFC3339), pathList(changes))

	return l.commit(ctx, message)
}

// CommitNow stages and commits the shared tree's current state with an
// operator-supplied message, bypassing the annotator/fallback summary
// machinery entirely. This backs the `commit` CLI command, which lets an
// operator force a checkpoint independent of any reconciliation.
func (l *Logger) CommitNow(ctx context.Context, host, message string) error {
	if err := l.EnsureInitialized(ctx); err != nil {
		return err
	}
	full := fmt.Sprintf("%s\n\nhost: %s\ntimestamp: %s", message, host, time.Now().UTC().Format(time.RFC3339))
	return l.commit(ctx, full)
}

// commit stages every change under Root and commits message, machine-
// authored unless AuthorName/AuthorEmail override the default identity.
func (l *Logger) commit(ctx context.Context, message string) error {
	if err := l.runGit(ctx, "add", "-A"); err != nil {
		return err
	}

	args := []string{
		"-c", "user.name=" + l.authorName(),
		"-c", "user.email=" + l.authorEmail(),
		"commit", "--allow-empty", "-m", message,
	}
	return l.runGit(ctx, args...)
}

func (l *Logger) authorName() string {
	if l.AuthorName != "" {
		return l.AuthorName
	}
	return defaultAuthorName
}

func (l *Logger) authorEmail() string {
	if l.AuthorEmail != "" {
		return l.AuthorEmail
	}
	return defaultAuthorEmail
}

// summarize asks the annotator for a summary, falling back to the
// deterministic form on any error (unavailable endpoint, timeout,
// malformed response — internal/annotator maps all of these to
// errs.ErrAnnotatorUnavailable).
func (l *Logger) summarize(ctx context.Context, changes []Change) (string, error) {
	if l.Annotator == nil {
		return fallbackSummary(changes), nil
	}

	diff := buildDiffPrompt(changes)
	summary, err := l.Annotator.Summarize(ctx, diff)
	if err != nil {
		return fallbackSummary(changes), nil
	}
	return summary, nil
}

// fallbackSummary implements spec.md §4.9's deterministic fallback:
// "update <N> files: <paths>".
func fallbackSummary(changes []Change) string {
	return fmt.Sprintf("update %d files: %s", len(changes), pathList(changes))
}

func pathList(changes []Change) string {
	paths := make([]string, len(changes))
	for i, c := range changes {
		paths[i] = c.Path
	}
	return strings.Join(paths, ", ")
}

// buildDiffPrompt renders a unified-style diff of every change using
// diffmatchpatch, concatenated into one prompt for the annotator.
func buildDiffPrompt(changes []Change) string {
	dmp := diffmatchpatch.New()
	var sb strings.Builder
	for _, c := range changes {
		fmt.Fprintf(&sb, "--- %s\n", c.Path)
		diffs := dmp.DiffMain(c.Before, c.After, false)
		patches := dmp.PatchMake(c.Before, diffs)
		sb.WriteString(dmp.PatchToText(patches))
		sb.WriteString("\n")
	}
	return sb.String()
}

// runGit executes git in l.Root, returning a wrapped error (including
// captured combined output) on failure.
func (l *Logger) runGit(ctx context.Context, args ...string) error {
	fullArgs := append([]string{"-C", l.Root}, args...)
	cmd := exec.CommandContext(ctx, "git", fullArgs...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: git %s: %v: %s", errs.ErrIOError, strings.Join(args, " "), err, string(output))
	}
	return nil
}
