// Package daemon tracks the background watcher process.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Ning0612/Phonesync/internal/proc"
)

// PIDFileName is written into the data directory by a running watcher
const PIDFileName = "watch.pid"

// ErrNotRunning indicates no live watcher owns the PID file
var ErrNotRunning = errors.New("watcher is not running")

// RunningError reports a live watcher that already owns the PID file
type RunningError struct {
	PID  int
	Path string
}

func (e *RunningError) Error() string {
	return fmt.Sprintf("watcher already running (PID %d, %s)", e.PID, e.Path)
}

// PIDFile manages the watcher process ID file
type PIDFile struct {
	path string
}

// NewPIDFile creates a new PID file manager
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// ForDataDir returns the PID file of the watcher using dataDir
func ForDataDir(dataDir string) *PIDFile {
	return NewPIDFile(filepath.Join(dataDir, PIDFileName))
}

// Path returns the PID file location
func (p *PIDFile) Path() string {
	return p.path
}

// Acquire records the current process. A stale file left by a dead
// process is replaced; a live one fails with *RunningError.
func (p *PIDFile) Acquire() error {
	if pid, ok := p.Running(); ok {
		return &RunningError{PID: pid, Path: p.path}
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}
	content := strconv.Itoa(proc.Self()) + "\n"
	if err := os.WriteFile(p.path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// Read reads the PID from the PID file
func (p *PIDFile) Read() (int, error) {
	content, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotRunning
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	pidStr := strings.TrimSpace(string(content))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in %s: %q", p.path, pidStr)
	}

	return pid, nil
}

// Running returns the PID of a live watcher
func (p *PIDFile) Running() (int, bool) {
	pid, err := p.Read()
	if err != nil {
		return 0, false
	}
	return pid, proc.Alive(pid)
}

// Release removes the PID file if it belongs to this process
func (p *PIDFile) Release() error {
	pid, err := p.Read()
	if errors.Is(err, ErrNotRunning) {
		return nil
	}
	if err == nil && pid != proc.Self() {
		return nil
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// Stop asks the running watcher to exit and returns its PID
func (p *PIDFile) Stop() (int, error) {
	pid, ok := p.Running()
	if !ok {
		return 0, ErrNotRunning
	}
	if pid == proc.Self() {
		return 0, fmt.Errorf("refusing to stop the current process")
	}
	return pid, proc.Terminate(pid)
}
