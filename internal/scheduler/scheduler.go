// Package scheduler repeats unattended syncs while phonesync watches for a
// connected device.
package scheduler

import (
	"context"
	"time"
)

// Scheduler defines the interface for sync schedulers
type Scheduler interface {
	// Start begins the scheduling loop
	Start(ctx context.Context) error

	// Stop gracefully stops the scheduler
	Stop() error

	// Status returns the current scheduler status
	Status() *Status
}

// Status represents the current state of a scheduler
type Status struct {
	Running        bool
	LastRunTime    time.Time
	NextRunTime    time.Time
	TotalRuns      int
	SuccessfulRuns int
	FailedRuns     int
	// IdleRuns counts ticks that found no device or nothing to transfer
	IdleRuns int
	// ConsecutiveFailures resets on the first attempt that does not fail
	ConsecutiveFailures int
	LastError           string
}

// Config contains scheduler configuration
type Config struct {
	// Interval specifies the duration between sync attempts
	Interval time.Duration

	// Immediate runs the first attempt on Start instead of after Interval
	Immediate bool

	// MaxBackoff caps the wait after consecutive failures, which doubles
	// from Interval each time. Zero disables backoff.
	MaxBackoff time.Duration
}

// delay returns the wait before the next attempt
func (c Config) delay(failures int) time.Duration {
	d := c.Interval
	if c.MaxBackoff <= c.Interval {
		return d
	}
	for i := 0; i < failures && d < c.MaxBackoff; i++ {
		d *= 2
	}
	return min(d, c.MaxBackoff)
}

// SyncRunner is the interface that schedulers use to execute sync operations.
// RunSync returns ErrIdle when there was nothing to do.
type SyncRunner interface {
	RunSync(ctx context.Context) error
}

// RunnerFunc adapts a function to SyncRunner
type RunnerFunc func(ctx context.Context) error

// RunSync implements SyncRunner
func (f RunnerFunc) RunSync(ctx context.Context) error {
	return f(ctx)
}
