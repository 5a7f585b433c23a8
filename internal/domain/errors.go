package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Filesystem errors - 檔案系統層錯誤
var (
	// ErrNotFound indicates the requested path does not exist
	ErrNotFound = errors.New("path not found")

	// ErrPermissionDenied indicates insufficient permissions
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotDirectory indicates expected a directory but got a file
	ErrNotDirectory = errors.New("not a directory")

	// ErrNotFile indicates expected a file but got a directory
	ErrNotFile = errors.New("not a file")
)

// Sync errors - 同步邏輯層錯誤
var (
	// ErrNoDevice indicates no authorized device is connected
	ErrNoDevice = errors.New("no device connected")

	// ErrCancelled indicates the user declined a prompt or interrupted input
	ErrCancelled = errors.New("cancelled by user")

	// ErrSyncInProgress indicates another sync is already running
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrInvalidMode indicates an unknown sync mode
	ErrInvalidMode = errors.New("invalid sync mode")

	// ErrToolNotFound indicates the external tool binary could not be located
	ErrToolNotFound = errors.New("external tool not found")
)

// Config errors - 設定檔錯誤
var (
	// ErrConfigNotFound indicates config file not found
	ErrConfigNotFound = errors.New("config file not found")

	// ErrConfigInvalid indicates config file is malformed
	ErrConfigInvalid = errors.New("invalid config")
)

// IOError reports a failed filesystem operation on the source or destination.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// ExternalToolError reports a bridge or conversion tool that could not be
// started or exited with a non-zero status.
type ExternalToolError struct {
	Tool     string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExternalToolError) Error() string {
	cmd := strings.TrimSpace(e.Tool + " " + strings.Join(e.Args, " "))
	msg := fmt.Sprintf("%s: exit code %d", cmd, e.ExitCode)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExternalToolError) Unwrap() error {
	return e.Err
}

// ConversionError reports that no conversion method could produce an output.
// It never aborts a run: the original file is transferred instead.
type ConversionError struct {
	Path string
	Err  error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert %s: %v", e.Path, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// IsExternalToolError reports whether err wraps an ExternalToolError
func IsExternalToolError(err error) bool {
	var toolErr *ExternalToolError
	return errors.As(err, &toolErr)
}
