// Package snapshot persists record sequences as pretty-printed JSON documents.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

var (
	// ErrNotFound is returned by Load when the snapshot file does not exist.
	ErrNotFound = errors.New("snapshot not found")
	// ErrMalformed is returned by Load when the file is not a valid JSON document.
	ErrMalformed = errors.New("snapshot malformed")
)

// Encode renders records as an indented JSON array. Non-ASCII and HTML
// characters are written literally. A nil slice encodes as [].
func Encode[T any](records []T) ([]byte, error) {
	if records == nil {
		records = []T{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// Write stores data at path, creating parent directories and replacing any
// existing file.
func Write(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	return nil
}

// Save encodes records and writes them to path. It returns the bytes written
// so callers can hash or mirror the exact document.
func Save[T any](path string, records []T) ([]byte, error) {
	data, err := Encode(records)
	if err != nil {
		return nil, err
	}
	if err := Write(path, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Load reads the JSON array at path.
func Load[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	var records []T
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformed, path, err)
	}
	if records == nil {
		records = []T{}
	}
	return records, nil
}
