package manifest

import (
	"errors"
	"fmt"
	"os"

	"github.com/laszoo/laszoo/internal/errs"
)

// Update reads the manifest at path, applies mutate to it, and writes the
// result back, retrying up to attempts times if another process wins the
// race (detected by the file's mtime changing between read and write).
// This is the optimistic CAS discipline spec.md §4.4 requires for
// concurrent writers sharing one manifest file: there is no server to
// arbitrate, so the filesystem's own rename atomicity and a read-compare
// loop stand in for a lock.
//
// mutate receives the manifest to modify in place and may return an error
// to abort without writing (e.g. the change turned out to be a no-op, or a
// higher-level invariant failed).
func Update(path string, attempts int, mutate func(*Manifest) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		before, statErr := os.Stat(path)

		m, err := Read(path)
		if err != nil {
			return err
		}

		if err := mutate(m); err != nil {
			return err
		}

		if err := writeIfUnchanged(path, m, before, statErr); err != nil {
			if errors.Is(err, errs.ErrManifestConflict) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}

	return fmt.Errorf("%w: exhausted %d attempts writing %s: %v", errs.ErrManifestConflict, attempts, path, lastErr)
}

// writeIfUnchanged writes m to path, but first re-stats path and fails with
// errs.ErrManifestConflict if its mtime moved since before/statErr were
// captured — meaning some other writer raced us between Read and here.
func writeIfUnchanged(path string, m *Manifest, before os.FileInfo, beforeErr error) error {
	after, afterErr := os.Stat(path)

	switch {
	case beforeErr != nil && afterErr != nil:
		// File did not exist before or after the mutate call: no race.
	case beforeErr == nil && afterErr == nil:
		if !before.ModTime().Equal(after.ModTime()) || before.Size() != after.Size() {
			return fmt.Errorf("%w: %s changed underneath us", errs.ErrManifestConflict, path)
		}
	default:
		return fmt.Errorf("%w: %s existence changed underneath us", errs.ErrManifestConflict, path)
	}

	return Write(path, m)
}
