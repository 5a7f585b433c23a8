package domain

import (
	"fmt"
	"strings"
	"time"
)

// SyncMode defines which source files a run selects
type SyncMode string

const (
	// SyncModeAll transfers every file in the source directory
	SyncModeAll SyncMode = "all"

	// SyncModeIncremental transfers files modified after the last sync
	SyncModeIncremental SyncMode = "incremental"
)

// IsValid checks if the sync mode is a known value
func (m SyncMode) IsValid() bool {
	switch m {
	case SyncModeAll, SyncModeIncremental:
		return true
	}
	return false
}

// ParseSyncMode parses a mode name (case-insensitive). "new" is accepted as an
// alias for incremental.
func ParseSyncMode(s string) (SyncMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "all", "full":
		return SyncModeAll, nil
	case "incremental", "new":
		return SyncModeIncremental, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// TransferPlan summarizes the files selected for a run.
// FileCount always equals len(Entries) and TotalBytes their summed size.
type TransferPlan struct {
	FileCount         int
	TotalBytes        int64
	EstimatedDuration time.Duration
	Entries           []FileEntry
}

// IsEmpty reports whether the plan selects no files
func (p TransferPlan) IsEmpty() bool {
	return p.FileCount == 0
}

// TransferResult is the per-file outcome of the transfer executor
type TransferResult struct {
	Entry      FileEntry
	RemotePath string
	Err        error

	// Source is the HEIC Entry was converted from; zero when Entry was
	// transferred as enumerated
	Source FileEntry
}

// Succeeded reports whether the file reached the device
func (r TransferResult) Succeeded() bool {
	return r.Err == nil
}

// ConversionResult is the per-file outcome of the format converter
type ConversionResult struct {
	// Original is the entry as enumerated
	Original FileEntry

	// Output is the entry handed to the transfer executor. It equals
	// Original when the file needed no conversion or conversion failed.
	Output FileEntry

	// Converted is true when Output is a newly written file
	Converted bool

	// Err is a *ConversionError when every method failed
	Err error
}

// RunStatus is the final status of a sync run
type RunStatus string

const (
	RunSuccess   RunStatus = "success"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
	RunNoop      RunStatus = "noop"
)

// IsValid checks if the status is a known value
func (s RunStatus) IsValid() bool {
	switch s {
	case RunSuccess, RunPartial, RunFailed, RunCancelled, RunNoop:
		return true
	}
	return false
}
