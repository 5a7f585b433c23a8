package adapter

import (
	"context"
)

// Device defines the interface for the phone side of a transfer.
// All paths are absolute device paths using forward slashes, and failures
// are returned as *domain.ExternalToolError when the bridge tool reports
// them.
type Device interface {
	// Serial returns the identifier of the bound device
	Serial() string

	// Mkdir creates a directory and any necessary parents
	// No error if directory already exists
	Mkdir(ctx context.Context, dir string) error

	// Push copies a local file to remotePath, overwriting it
	// The parent directory must already exist
	Push(ctx context.Context, localPath, remotePath string) error

	// ScanMedia asks the device to index the given files so they show up
	// in gallery apps
	ScanMedia(ctx context.Context, remotePaths []string) error
}
