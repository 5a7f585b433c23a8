package domain

import "time"

// FileEntry is a candidate file found in the source directory.
// Entries are derived on every run and never persisted.
type FileEntry struct {
	// Path is the absolute path on the local filesystem
	Path string

	// RelPath is the slash-separated path relative to the source root
	RelPath string

	// Size in bytes
	Size int64

	// ModTime is the last modification time
	ModTime time.Time
}

// TotalSize returns the sum of entry sizes
func TotalSize(entries []FileEntry) int64 {
	var total int64
	for _, e := range entries {
		total += e.Size
	}
	return total
}
