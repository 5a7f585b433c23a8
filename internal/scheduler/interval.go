package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Ning0612/Phonesync/internal/logger"
)

// ErrIdle is returned by a SyncRunner that found no device or no new files
var ErrIdle = errors.New("nothing to sync")

// IntervalScheduler runs a SyncRunner every Interval, one attempt at a time.
// A failed attempt pushes the next one back, up to Config.MaxBackoff.
type IntervalScheduler struct {
	config Config
	runner SyncRunner

	mu      sync.RWMutex
	started bool
	done    chan struct{}
	quit    chan struct{}
	quitOne sync.Once
	stats   Status
}

// NewIntervalScheduler creates a scheduler; it does nothing until Start
func NewIntervalScheduler(config Config, runner SyncRunner) (*IntervalScheduler, error) {
	if config.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", config.Interval)
	}
	if runner == nil {
		return nil, errors.New("sync runner cannot be nil")
	}

	return &IntervalScheduler{
		config: config,
		runner: runner,
		done:   make(chan struct{}),
		quit:   make(chan struct{}),
	}, nil
}

// Start launches the loop. A scheduler runs once; it cannot be restarted.
func (s *IntervalScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		select {
		case <-s.done:
			return errors.New("scheduler cannot be restarted after stop")
		default:
			return errors.New("scheduler is already running")
		}
	}
	s.started = true
	s.stats.Running = true

	go s.loop(ctx)
	return nil
}

// Done is closed once the loop has exited
func (s *IntervalScheduler) Done() <-chan struct{} {
	return s.done
}

func (s *IntervalScheduler) loop(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.stats.Running = false
		s.mu.Unlock()
		close(s.done)
	}()

	wait := s.config.Interval
	if s.config.Immediate {
		wait = 0
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	s.setNext(wait)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		case <-timer.C:
		}

		wait = s.attempt(ctx)
		timer.Reset(wait)
		s.setNext(wait)
	}
}

func (s *IntervalScheduler) setNext(wait time.Duration) {
	s.mu.Lock()
	s.stats.NextRunTime = time.Now().Add(wait)
	s.mu.Unlock()
}

// attempt runs the sync once, records the outcome and returns the wait
// before the next attempt
func (s *IntervalScheduler) attempt(ctx context.Context) time.Duration {
	s.mu.Lock()
	s.stats.LastRunTime = time.Now()
	s.stats.TotalRuns++
	s.mu.Unlock()

	err := s.runner.RunSync(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case errors.Is(err, ErrIdle):
		s.stats.IdleRuns++
		s.stats.ConsecutiveFailures = 0
	case err != nil:
		s.stats.FailedRuns++
		s.stats.ConsecutiveFailures++
		s.stats.LastError = err.Error()
	default:
		s.stats.SuccessfulRuns++
		s.stats.ConsecutiveFailures = 0
		s.stats.LastError = ""
	}

	wait := s.config.delay(s.stats.ConsecutiveFailures)
	if err != nil && !errors.Is(err, ErrIdle) {
		logger.Component("scheduler").Error("scheduled sync failed",
			"error", err,
			"failures", s.stats.ConsecutiveFailures,
			"retry_in", wait,
		)
	}
	return wait
}

// Stop ends the loop and waits for an attempt in progress to finish
func (s *IntervalScheduler) Stop() error {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()

	if !started {
		return errors.New("scheduler is not running")
	}

	s.quitOne.Do(func() { close(s.quit) })
	<-s.done
	return nil
}

// Status returns a snapshot of the scheduler's counters
func (s *IntervalScheduler) Status() *Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.stats
	return &st
}
