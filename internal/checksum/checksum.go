// Package checksum computes the lowercase hex SHA-256 digest that is the
// coordination engine's sole change signal. Timestamps are never used:
// clocks on a clustered filesystem are unreliable under partition and many
// filesystems round mtimes, so content hashing is the only trustworthy
// comparison.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/laszoo/laszoo/internal/errs"
)

// File streams the file at path through SHA-256 and returns the lowercase
// hex digest. Memory use is bounded regardless of file size.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %v", errs.ErrIOError, path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("%w: read %s: %v", errs.ErrIOError, path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Bytes returns the lowercase hex SHA-256 digest of b.
func Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
