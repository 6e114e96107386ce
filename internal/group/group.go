// Package group maintains the membership roster for a laszoo group: which
// hosts belong to it, recorded as symlinks under
// <root>/memberships/<group>/<host> -> ../../machines/<host>, per spec.md
// §4.5.
package group

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/laszoo/laszoo/internal/errs"
	"github.com/laszoo/laszoo/internal/layout"
)

// Add enrolls host into group by creating its membership symlink. Add is
// idempotent: enrolling an already-member host is a no-op.
func Add(l *layout.Layout, group, host string) error {
	dir := l.MembershipDir(group)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating membership directory for %s: %v", errs.ErrIOError, group, err)
	}

	link := l.MembershipLink(group, host)
	target := layout.MembershipTarget(host)

	if existing, err := os.Readlink(link); err == nil {
		if existing == target {
			return nil
		}
	}

	return atomicSymlink(target, link)
}

// Remove disenrolls host from group. Removing a non-member is a no-op.
func Remove(l *layout.Layout, group, host string) error {
	link := l.MembershipLink(group, host)
	if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: removing membership link %s: %v", errs.ErrIOError, link, err)
	}
	return nil
}

// List returns the hosts currently enrolled in group, sorted
// lexicographically. A group with no members (or no membership directory
// at all) returns an empty slice, not an error.
func List(l *layout.Layout, group string) ([]string, error) {
	dir := l.MembershipDir(group)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: listing membership directory %s: %v", errs.ErrIOError, dir, err)
	}

	hosts := make([]string, 0, len(entries))
	for _, e := range entries {
		hosts = append(hosts, e.Name())
	}
	sort.Strings(hosts)
	return hosts, nil
}

// Rename moves every membership link in group from oldHost to newHost,
// preserving group membership across a host rename. The caller is
// responsible for renaming the underlying machines/<host> tree itself;
// Rename only updates the symlink name and target.
func Rename(l *layout.Layout, group, oldHost, newHost string) error {
	oldLink := l.MembershipLink(group, oldHost)
	if _, err := os.Lstat(oldLink); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: %v", errs.ErrIOError, err)
	}

	if err := Add(l, group, newHost); err != nil {
		return err
	}
	return Remove(l, group, oldHost)
}

// atomicSymlink creates or replaces the symlink at link so that it points
// to target, by creating a temporary symlink alongside it and renaming
// over the final path — the same two-step dance the teacher's
// machine-upgrade doctor uses to swap installed binaries without ever
// leaving link missing or half-written.
func atomicSymlink(target, link string) error {
	tempPath := link + ".new"
	_ = os.Remove(tempPath)

	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIOError, err)
	}

	if err := os.Symlink(target, tempPath); err != nil {
		return fmt.Errorf("%w: create symlink %s -> %s: %v", errs.ErrIOError, tempPath, target, err)
	}
	if err := os.Rename(tempPath, link); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("%w: rename %s -> %s: %v", errs.ErrIOError, tempPath, link, err)
	}
	return nil
}
