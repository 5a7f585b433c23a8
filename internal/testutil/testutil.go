package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
)

// TempDir creates a temporary directory for testing
// It returns the directory path and a cleanup function
func TempDir(t *testing.T) (string, func()) {
	t.Helper()

	dir, err := os.MkdirTemp("", "phonesync-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	cleanup := func() {
		os.RemoveAll(dir)
	}

	return dir, cleanup
}

// CreateTestFile creates a test file with the given content
func CreateTestFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create parent dir: %v", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	return path
}

// File describes a fixture file for WriteFiles
type File struct {
	Name    string
	Size    int
	ModTime time.Time
}

// WriteFiles creates each file under root on fs with Size bytes of content
// and, when set, the given modification time. It returns the absolute paths
// in input order.
func WriteFiles(t *testing.T, fs afero.Fs, root string, files ...File) []string {
	t.Helper()

	paths := make([]string, 0, len(files))
	for _, f := range files {
		path := filepath.Join(root, filepath.FromSlash(f.Name))
		if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("failed to create parent dir: %v", err)
		}
		if err := afero.WriteFile(fs, path, bytes.Repeat([]byte("x"), f.Size), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", path, err)
		}
		if !f.ModTime.IsZero() {
			if err := fs.Chtimes(path, f.ModTime, f.ModTime); err != nil {
				t.Fatalf("failed to set mtime on %s: %v", path, err)
			}
		}
		paths = append(paths, path)
	}
	return paths
}

// MemFs returns an in-memory filesystem holding an empty root directory
func MemFs(t *testing.T, root string) afero.Fs {
	t.Helper()

	fs := afero.NewMemMapFs()
	if err := fs.MkdirAll(root, 0755); err != nil {
		t.Fatalf("failed to create root: %v", err)
	}
	return fs
}

// AssertExists fails the test when path is missing on fs
func AssertExists(t *testing.T, fs afero.Fs, path string) {
	t.Helper()

	if ok, _ := afero.Exists(fs, path); !ok {
		t.Errorf("expected %s to exist", path)
	}
}

// AssertNotExists fails the test when path is present on fs
func AssertNotExists(t *testing.T, fs afero.Fs, path string) {
	t.Helper()

	if ok, _ := afero.Exists(fs, path); ok {
		t.Errorf("expected %s to be removed", path)
	}
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return true
		}

		if time.Now().After(deadline) {
			return false
		}

		<-ticker.C
	}
}
