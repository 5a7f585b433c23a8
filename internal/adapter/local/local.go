package local

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/Ning0612/Phonesync/internal/domain"
)

// Adapter gives rooted access to the desktop source directory.
// Every path argument is relative to the root; errors are *domain.IOError
// wrapping a domain sentinel when one applies.
type Adapter struct {
	fs   afero.Fs
	root string
}

// New creates a new source adapter rooted at root, which must be an
// existing directory on fs
func New(fsys afero.Fs, root string) (*Adapter, error) {
	// Convert to absolute path
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, &domain.IOError{Op: "resolve", Path: root, Err: err}
	}

	// Verify root exists and is a directory
	info, err := fsys.Stat(absRoot)
	if err != nil {
		return nil, &domain.IOError{Op: "stat", Path: absRoot, Err: mapError(err)}
	}
	if !info.IsDir() {
		return nil, &domain.IOError{Op: "stat", Path: absRoot, Err: domain.ErrNotDirectory}
	}

	return &Adapter{fs: fsys, root: absRoot}, nil
}

// NewOS creates an adapter over the real filesystem
func NewOS(root string) (*Adapter, error) {
	return New(afero.NewOsFs(), root)
}

// Root returns the absolute root path of this adapter
func (a *Adapter) Root() string {
	return a.root
}

// resolvePath safely resolves a relative path to absolute path within root
// Returns error if path attempts to escape root directory
func (a *Adapter) resolvePath(relPath string) (string, error) {
	// Handle empty path as root
	if relPath == "" || relPath == "." {
		return a.root, nil
	}

	relPath = filepath.Clean(filepath.FromSlash(relPath))

	// Reject absolute paths
	if filepath.IsAbs(relPath) {
		return "", domain.ErrPermissionDenied
	}

	fullPath := filepath.Join(a.root, relPath)

	// Use filepath.Rel to safely verify the path is within root
	// This handles edge cases like root="/photos" and fullPath="/photos2"
	rel, err := filepath.Rel(a.root, fullPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", domain.ErrPermissionDenied
	}

	return fullPath, nil
}

// Rel converts an absolute path under the root into a slash-separated
// relative path
func (a *Adapter) Rel(absPath string) (string, error) {
	rel, err := filepath.Rel(a.root, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &domain.IOError{Op: "resolve", Path: absPath, Err: domain.ErrPermissionDenied}
	}
	return filepath.ToSlash(rel), nil
}

// Files walks the tree below root and returns every regular file sorted by
// relative path. Directories and symlinks are not returned. Unreadable
// subdirectories fail the walk.
func (a *Adapter) Files(ctx context.Context) ([]domain.FileEntry, error) {
	var entries []domain.FileEntry

	err := afero.Walk(a.fs, a.root, func(path string, info fs.FileInfo, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			return &domain.IOError{Op: "walk", Path: path, Err: mapError(err)}
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := a.Rel(path)
		if err != nil {
			return err
		}

		entries = append(entries, domain.FileEntry{
			Path:    path,
			RelPath: rel,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].RelPath < entries[j].RelPath
	})
	return entries, nil
}

// Remove deletes a single file. Directories are refused so the source tree
// structure is never altered.
func (a *Adapter) Remove(relPath string) error {
	fullPath, err := a.resolvePath(relPath)
	if err != nil {
		return &domain.IOError{Op: "remove", Path: relPath, Err: err}
	}
	if fullPath == a.root {
		return &domain.IOError{Op: "remove", Path: fullPath, Err: domain.ErrNotFile}
	}

	info, err := a.fs.Stat(fullPath)
	if err != nil {
		return &domain.IOError{Op: "remove", Path: fullPath, Err: mapError(err)}
	}
	if info.IsDir() {
		return &domain.IOError{Op: "remove", Path: fullPath, Err: domain.ErrNotFile}
	}

	if err := a.fs.Remove(fullPath); err != nil {
		return &domain.IOError{Op: "remove", Path: fullPath, Err: mapError(err)}
	}
	return nil
}

// mapError converts OS errors to domain errors
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, os.ErrNotExist):
		return domain.ErrNotFound
	case errors.Is(err, os.ErrPermission):
		return domain.ErrPermissionDenied
	}
	return err
}
