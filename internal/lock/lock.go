// Package lock keeps two phonesync runs from working on the same data
// directory at once.
//
// The lock is a small JSON file created with O_EXCL. It names the holder so
// `phonesync status` can say who is syncing, and so a lock left behind by a
// crashed run can be recognised and replaced.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Ning0612/Phonesync/internal/domain"
	"github.com/Ning0612/Phonesync/internal/proc"
)

const (
	// LockFileName is the name of the lock file inside the data directory
	LockFileName = ".phonesync.lock"
	// DefaultStaleTimeout is the age after which a lock from another host is considered stale
	DefaultStaleTimeout = 30 * time.Minute
)

// ErrNotHeld is returned when updating a lock this instance does not hold
var ErrNotHeld = errors.New("lock not held by this instance")

// Holder describes the run holding the lock
type Holder struct {
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartTime time.Time `json:"start_time"`
	Source    string    `json:"source,omitempty"`
	Device    string    `json:"device,omitempty"`
}

// FileLock guards one data directory
type FileLock struct {
	path         string
	staleTimeout time.Duration

	// held is what this instance wrote; nil while unlocked
	held *Holder
}

// NewFileLock returns the lock for dataDir, creating the directory if needed
func NewFileLock(dataDir string) (*FileLock, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("%w: empty data directory", domain.ErrConfigInvalid)
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	return &FileLock{
		path:         filepath.Join(dataDir, LockFileName),
		staleTimeout: DefaultStaleTimeout,
	}, nil
}

// Path returns the lock file path
func (l *FileLock) Path() string {
	return l.path
}

// SetStaleTimeout sets the age after which a foreign-host lock is ignored
func (l *FileLock) SetStaleTimeout(d time.Duration) {
	l.staleTimeout = d
}

// Acquire takes the lock for a sync of source. A live holder fails with a
// *HeldError matching domain.ErrSyncInProgress; a stale file is replaced.
func (l *FileLock) Acquire(source string) error {
	if l.held != nil {
		return fmt.Errorf("lock already acquired by this instance")
	}

	existing, err := l.read()
	switch {
	case err == nil:
		if !l.isStale(existing) {
			return &HeldError{Holder: existing, Path: l.path}
		}
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale lock: %w", err)
		}
	case !errors.Is(err, os.ErrNotExist):
		// half-written by a competing run, or corrupt
		return &HeldError{Path: l.path}
	}

	hostname, _ := os.Hostname()
	h := &Holder{
		PID:       proc.Self(),
		Hostname:  hostname,
		StartTime: time.Now().UTC(),
		Source:    source,
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			// lost the race to another run
			if existing, readErr := l.read(); readErr == nil {
				return &HeldError{Holder: existing, Path: l.path}
			}
			return &HeldError{Path: l.path}
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(h); err != nil {
		os.Remove(l.path)
		return fmt.Errorf("failed to write lock file: %w", err)
	}

	l.held = h
	return nil
}

// SetDevice records the device the run is pushing to
func (l *FileLock) SetDevice(device string) error {
	if !l.ownsFile() {
		return ErrNotHeld
	}

	updated := *l.held
	updated.Device = device
	data, err := json.MarshalIndent(&updated, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(l.path, data, 0644); err != nil {
		return fmt.Errorf("failed to update lock file: %w", err)
	}
	l.held = &updated
	return nil
}

// Release removes the lock file if this instance still owns it
func (l *FileLock) Release() error {
	if l.held == nil {
		return nil
	}
	defer func() { l.held = nil }()

	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		return nil
	}
	if !l.ownsFile() {
		return fmt.Errorf("lock at %s was taken over by another process", l.path)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// Exists reports whether a lock file is present, live or not
func (l *FileLock) Exists() bool {
	_, err := os.Stat(l.path)
	return err == nil
}

// IsLocked reports whether a live run holds the lock
func (l *FileLock) IsLocked() bool {
	h, err := l.read()
	return err == nil && !l.isStale(h)
}

// GetHolder returns the live holder of the lock
func (l *FileLock) GetHolder() (*Holder, error) {
	h, err := l.read()
	if err != nil {
		return nil, err
	}
	if l.isStale(h) {
		return nil, fmt.Errorf("lock is stale")
	}
	return h, nil
}

// ForceRelease removes the lock file whoever holds it.
// Only safe when the holder is known to have crashed.
func (l *FileLock) ForceRelease() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to force remove lock: %w", err)
	}
	l.held = nil
	return nil
}

func (l *FileLock) read() (*Holder, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}

	var h Holder
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("invalid lock file %s: %w", l.path, err)
	}
	return &h, nil
}

// isStale reports whether the holder is gone. On this host that means the
// PID is dead; a lock from another host can only expire by age.
func (l *FileLock) isStale(h *Holder) bool {
	hostname, _ := os.Hostname()
	if h.Hostname == hostname {
		return !proc.Alive(h.PID)
	}
	return time.Since(h.StartTime) > l.staleTimeout
}

func (l *FileLock) ownsFile() bool {
	if l.held == nil {
		return false
	}
	h, err := l.read()
	if err != nil {
		return false
	}
	return h.PID == l.held.PID &&
		h.Hostname == l.held.Hostname &&
		h.StartTime.Equal(l.held.StartTime)
}

// HeldError reports a lock owned by another live run
type HeldError struct {
	Holder *Holder
	Path   string
}

func (e *HeldError) Error() string {
	if e.Holder == nil {
		return fmt.Sprintf("another sync is in progress or %s is unreadable; run `phonesync unlock` if no sync is running", e.Path)
	}
	msg := fmt.Sprintf("another sync is in progress (PID %d on %s since %s",
		e.Holder.PID, e.Holder.Hostname, e.Holder.StartTime.Local().Format(time.DateTime))
	if e.Holder.Device != "" {
		msg += ", device " + e.Holder.Device
	}
	return msg + ")"
}

// Unwrap lets errors.Is match domain.ErrSyncInProgress
func (e *HeldError) Unwrap() error {
	return domain.ErrSyncInProgress
}
