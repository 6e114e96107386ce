package template

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/laszoo/laszoo/internal/errs"
)

// ReadQuacks loads a host's recorded quack overrides from path. A missing
// file yields an empty map, not an error — a host that has never diverged
// inside a quack region simply has nothing recorded.
func ReadQuacks(path string) (map[int]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[int]string{}, nil
		}
		return nil, fmt.Errorf("%w: reading quack store %s: %v", errs.ErrIOError, path, err)
	}

	var quacks map[int]string
	if err := json.Unmarshal(data, &quacks); err != nil {
		return nil, fmt.Errorf("%w: parsing quack store %s: %v", errs.ErrIOError, path, err)
	}
	return quacks, nil
}

// WriteQuacks persists quacks to path atomically via write-temp-then-rename.
func WriteQuacks(path string, quacks map[int]string) error {
	data, err := json.MarshalIndent(quacks, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding quack store: %v", errs.ErrIOError, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIOError, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".quacks-*.tmp")
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
		return fmt.Errorf("%w: %v", errs.ErrIOError, err)
	}
	return nil
}
