// Package progress reports per-file and overall transfer progress.
package progress

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Reporter handles progress reporting for a transfer batch
type Reporter interface {
	// SetTotal sets the number of files and bytes in the batch
	SetTotal(totalFiles int, totalBytes int64)
	// Start begins tracking a new file
	Start(path string, totalBytes int64)
	// Update reports bytes sent so far for the current file
	Update(bytesTransferred int64)
	// Complete marks the current file as transferred
	Complete()
	// Error marks the current file as failed
	Error(err error)
	// OverallProgress reports overall batch progress
	OverallProgress(filesCompleted int, bytesCompleted int64)
}

// Callback is a function that receives progress updates
type Callback func(update Update)

// Update represents a progress update
type Update struct {
	Type           UpdateType
	CurrentFile    string
	CurrentBytes   int64
	CurrentTotal   int64
	FilesCompleted int
	FilesFailed    int
	FilesTotal     int
	BytesCompleted int64
	BytesTotal     int64
	BytesPerSecond float64
	Error          error
}

// Percent returns overall completion in bytes, falling back to file count
// when the batch has no bytes
func (u Update) Percent() float64 {
	if u.BytesTotal > 0 {
		return float64(u.BytesCompleted) / float64(u.BytesTotal) * 100
	}
	if u.FilesTotal > 0 {
		return float64(u.FilesCompleted+u.FilesFailed) / float64(u.FilesTotal) * 100
	}
	return 0
}

// UpdateType indicates the type of progress update
type UpdateType int

const (
	UpdateStart UpdateType = iota
	UpdateProgress
	UpdateComplete
	UpdateError
	UpdateOverall
)

// CallbackReporter implements Reporter with a callback function.
// The callback is always invoked without the internal lock held, so it may
// call back into the reporter.
type CallbackReporter struct {
	callback Callback

	mu             sync.Mutex
	currentFile    string
	currentTotal   int64
	currentBytes   int64
	filesTotal     int
	bytesTotal     int64
	filesCompleted int
	filesFailed    int
	bytesCompleted int64
	startTime      time.Time
}

// NewCallbackReporter creates a new CallbackReporter
func NewCallbackReporter(callback Callback) *CallbackReporter {
	return &CallbackReporter{callback: callback}
}

// snapshot builds an update from the current state; r.mu must be held
func (r *CallbackReporter) snapshot(t UpdateType) Update {
	return Update{
		Type:           t,
		CurrentFile:    r.currentFile,
		CurrentBytes:   r.currentBytes,
		CurrentTotal:   r.currentTotal,
		FilesCompleted: r.filesCompleted,
		FilesFailed:    r.filesFailed,
		FilesTotal:     r.filesTotal,
		BytesCompleted: r.bytesCompleted,
		BytesTotal:     r.bytesTotal,
	}
}

func (r *CallbackReporter) emit(u Update) {
	if r.callback != nil {
		r.callback(u)
	}
}

// SetTotal sets the total number of files and bytes
func (r *CallbackReporter) SetTotal(totalFiles int, totalBytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filesTotal = totalFiles
	r.bytesTotal = totalBytes
}

// Start begins tracking a new file
func (r *CallbackReporter) Start(path string, totalBytes int64) {
	r.mu.Lock()
	r.currentFile = path
	r.currentTotal = totalBytes
	r.currentBytes = 0
	r.startTime = time.Now()
	u := r.snapshot(UpdateStart)
	r.mu.Unlock()

	r.emit(u)
}

// Update reports progress on the current file
func (r *CallbackReporter) Update(bytesTransferred int64) {
	r.mu.Lock()
	r.currentBytes = bytesTransferred
	u := r.snapshot(UpdateProgress)
	u.BytesCompleted += bytesTransferred
	if elapsed := time.Since(r.startTime).Seconds(); elapsed > 0 {
		u.BytesPerSecond = float64(bytesTransferred) / elapsed
	}
	r.mu.Unlock()

	r.emit(u)
}

// Complete marks the current file as transferred
func (r *CallbackReporter) Complete() {
	r.mu.Lock()
	r.filesCompleted++
	r.bytesCompleted += r.currentTotal
	r.currentBytes = r.currentTotal
	u := r.snapshot(UpdateComplete)
	if elapsed := time.Since(r.startTime).Seconds(); elapsed > 0 {
		u.BytesPerSecond = float64(r.currentTotal) / elapsed
	}
	r.mu.Unlock()

	r.emit(u)
}

// Error marks the current file as failed
func (r *CallbackReporter) Error(err error) {
	r.mu.Lock()
	r.filesFailed++
	u := r.snapshot(UpdateError)
	u.Error = err
	r.mu.Unlock()

	r.emit(u)
}

// OverallProgress reports overall progress
func (r *CallbackReporter) OverallProgress(filesCompleted int, bytesCompleted int64) {
	r.mu.Lock()
	u := r.snapshot(UpdateOverall)
	u.FilesCompleted = filesCompleted
	u.BytesCompleted = bytesCompleted
	r.mu.Unlock()

	r.emit(u)
}

// NullReporter is a no-op reporter
type NullReporter struct{}

func (NullReporter) SetTotal(totalFiles int, totalBytes int64)                {}
func (NullReporter) Start(path string, totalBytes int64)                      {}
func (NullReporter) Update(bytesTransferred int64)                            {}
func (NullReporter) Complete()                                                {}
func (NullReporter) Error(err error)                                          {}
func (NullReporter) OverallProgress(filesCompleted int, bytesCompleted int64) {}

// FormatBytes formats bytes into a human-readable SI string ("12 MB")
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.Bytes(uint64(bytes))
}

// FormatSpeed formats bytes per second into a human-readable string
func FormatSpeed(bytesPerSecond float64) string {
	return FormatBytes(int64(bytesPerSecond)) + "/s"
}

// FormatProgress returns a progress bar string such as "[===>  ]  42.0%"
func FormatProgress(current, total int64, width int) string {
	if total <= 0 || width <= 0 {
		return ""
	}

	percent := float64(current) / float64(total)
	if percent > 1 {
		percent = 1
	}
	filled := int(percent * float64(width))

	var b strings.Builder
	b.WriteByte('[')
	for i := 0; i < width; i++ {
		switch {
		case i < filled:
			b.WriteByte('=')
		case i == filled:
			b.WriteByte('>')
		default:
			b.WriteByte(' ')
		}
	}
	b.WriteByte(']')

	return fmt.Sprintf("%s %5.1f%%", b.String(), percent*100)
}
