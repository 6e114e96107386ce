// Package layout maps hostnames and absolute local paths onto locations
// under the shared root, per the bit-exact tree described in spec.md §4.1:
//
//	<root>/groups/<group>/manifest.json
//	<root>/groups/<group>/<local-absolute-path>.lasz
//	<root>/machines/<host>/manifest.json
//	<root>/machines/<host>/<local-absolute-path>.lasz
//	<root>/memberships/<group>/<host>        # symlink
//	<root>/.git/                             # version log
//	<root>/.laszoo/version                   # format-version gate
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/laszoo/laszoo/internal/errs"
)

// FormatVersion is the shared-tree layout version this build understands.
// A root whose .laszoo/version file names a different value is refused.
const FormatVersion = "1"

const templateSuffix = ".lasz"

// Layout resolves paths under a single shared root.
type Layout struct {
	Root string
}

// New returns a Layout rooted at root. root is not required to exist yet.
func New(root string) *Layout {
	return &Layout{Root: filepath.Clean(root)}
}

// GroupDir returns <root>/groups/<group>.
func (l *Layout) GroupDir(group string) string {
	return filepath.Join(l.Root, "groups", group)
}

// GroupManifestPath returns <root>/groups/<group>/manifest.json.
func (l *Layout) GroupManifestPath(group string) string {
	return filepath.Join(l.GroupDir(group), "manifest.json")
}

// GroupTemplatePath maps a local absolute path to its group-scoped template
// location: <root>/groups/<group>/<local-absolute-path>.lasz
func (l *Layout) GroupTemplatePath(group, localPath string) string {
	return l.scopedTemplatePath(l.GroupDir(group), localPath)
}

// MachineDir returns <root>/machines/<host>.
func (l *Layout) MachineDir(host string) string {
	return filepath.Join(l.Root, "machines", host)
}

// MachineManifestPath returns <root>/machines/<host>/manifest.json.
func (l *Layout) MachineManifestPath(host string) string {
	return filepath.Join(l.MachineDir(host), "manifest.json")
}

// MachineTemplatePath maps a local absolute path to its machine-scoped
// template location: <root>/machines/<host>/<local-absolute-path>.lasz
func (l *Layout) MachineTemplatePath(host, localPath string) string {
	return l.scopedTemplatePath(l.MachineDir(host), localPath)
}

func (l *Layout) scopedTemplatePath(scopeDir, localPath string) string {
	return scopeDir + localPath + templateSuffix
}

// LocalPathFromTemplate is the reverse mapping: it strips the scope
// directory prefix and the .lasz suffix from a template path, returning the
// original local absolute path. Returns an error if templatePath does not
// lie under scopeDir or does not carry the template suffix.
func LocalPathFromTemplate(scopeDir, templatePath string) (string, error) {
	if !strings.HasSuffix(templatePath, templateSuffix) {
		return "", fmt.Errorf("%w: %s has no %s suffix", errs.ErrMalformedTemplate, templatePath, templateSuffix)
	}
	trimmed := strings.TrimSuffix(templatePath, templateSuffix)

	rel, err := filepath.Rel(scopeDir, trimmed)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("template path %s is not under scope %s", templatePath, scopeDir)
	}
	return string(filepath.Separator) + rel, nil
}

// QuackStorePath returns the path holding a host's recorded quack
// overrides for a group template at localPath:
// <root>/machines/<host>/<local-absolute-path>.lasz.quacks.json. Quack
// content is host-private by definition, so it lives under the host's own
// machine directory even though the template it overrides is shared.
func (l *Layout) QuackStorePath(host, localPath string) string {
	return l.scopedTemplatePath(l.MachineDir(host), localPath) + ".quacks.json"
}

// MembershipDir returns <root>/memberships/<group>.
func (l *Layout) MembershipDir(group string) string {
	return filepath.Join(l.Root, "memberships", group)
}

// MembershipLink returns <root>/memberships/<group>/<host>.
func (l *Layout) MembershipLink(group, host string) string {
	return filepath.Join(l.MembershipDir(group), host)
}

// MembershipTarget returns the symlink target used for a membership entry:
// machines/<host>, relative to the memberships/<group> directory, matching
// the "memberships/<group>/<host> -> machines/<host>" shape of spec.md §3.
// The link's presence is authoritative; the target need not resolve.
func MembershipTarget(host string) string {
	return filepath.Join("..", "..", "machines", host)
}

// VersionLogDir returns <root>/.git.
func (l *Layout) VersionLogDir() string {
	return filepath.Join(l.Root, ".git")
}

// FormatVersionPath returns <root>/.laszoo/version.
func (l *Layout) FormatVersionPath() string {
	return filepath.Join(l.Root, ".laszoo", "version")
}

// CheckFormatVersion reads the format-version file, if present, and returns
// an error if it names a version this build does not understand. A missing
// file is treated as version "1" (pre-existing roots created before the
// file was introduced).
func (l *Layout) CheckFormatVersion() error {
	data, err := os.ReadFile(l.FormatVersionPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: reading format version: %v", errs.ErrIOError, err)
	}
	version := strings.TrimSpace(string(data))
	if version != FormatVersion {
		return fmt.Errorf("shared tree format version %q is not supported by this build (expected %q)", version, FormatVersion)
	}
	return nil
}

// WriteFormatVersion writes the current format version to
// <root>/.laszoo/version, creating parent directories as needed.
func (l *Layout) WriteFormatVersion() error {
	path := l.FormatVersionPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIOError, err)
	}
	if err := os.WriteFile(path, []byte(FormatVersion+"\n"), 0o644); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIOError, err)
	}
	return nil
}
