// Package watermark persists the time of the last successful sync.
//
// The value lives in a small text file holding decimal Unix seconds with a
// fractional part, e.g. "1718000000.123456789". RFC 3339 timestamps are
// accepted on read.
package watermark

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// Store reads and writes the last-sync watermark
type Store struct {
	fs   afero.Fs
	path string
}

// NewStore creates a store backed by the file at path
func NewStore(fs afero.Fs, path string) *Store {
	return &Store{fs: fs, path: path}
}

// Path returns the watermark file path
func (s *Store) Path() string {
	return s.path
}

// Read returns the stored timestamp. ok is false when no watermark has been
// written yet.
func (s *Store) Read() (t time.Time, ok bool, err error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to read watermark: %w", err)
	}

	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return time.Time{}, false, nil
	}

	t, err = Parse(raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid watermark in %s: %w", s.path, err)
	}
	return t, true, nil
}

// Write atomically replaces the stored timestamp
func (s *Store) Write(t time.Time) error {
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create watermark directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, []byte(Format(t)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write watermark: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		s.fs.Remove(tmp)
		return fmt.Errorf("failed to replace watermark: %w", err)
	}
	return nil
}

// Format renders t as decimal Unix seconds with nanosecond precision
func Format(t time.Time) string {
	return fmt.Sprintf("%d.%09d", t.Unix(), t.Nanosecond())
}

// Parse accepts decimal Unix seconds or an RFC 3339 timestamp
func Parse(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}

	secPart, fracPart, _ := strings.Cut(raw, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("not a timestamp: %q", raw)
	}

	var nsec int64
	if fracPart != "" {
		if len(fracPart) > 9 {
			fracPart = fracPart[:9]
		}
		fracPart += strings.Repeat("0", 9-len(fracPart))
		nsec, err = strconv.ParseInt(fracPart, 10, 64)
		if err != nil || nsec < 0 {
			return time.Time{}, fmt.Errorf("not a timestamp: %q", raw)
		}
	}
	return time.Unix(sec, nsec), nil
}
