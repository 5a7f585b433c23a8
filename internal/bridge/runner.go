// Package bridge runs external command-line tools (adb, image converters)
// and turns their exit status into errors.
package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/Ning0612/Phonesync/internal/domain"
	"github.com/Ning0612/Phonesync/internal/logger"
)

// Result holds the captured output of a finished command
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes a program with arguments and waits for it to finish.
// A non-zero exit status is returned as a *domain.ExternalToolError
// together with the captured Result.
type Runner interface {
	Run(ctx context.Context, program string, args ...string) (*Result, error)
}

// Options configures command execution behavior
type Options struct {
	// Timeout bounds a single attempt; zero means no timeout
	Timeout time.Duration

	// MaxRetries is the number of extra attempts after a failure
	MaxRetries int

	// RetryDelay is the pause between attempts
	RetryDelay time.Duration
}

// Option is a function that modifies Options
type Option func(*Options)

// WithTimeout sets the per-attempt timeout
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithRetry configures retry behavior
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(o *Options) {
		o.MaxRetries = maxRetries
		o.RetryDelay = delay
	}
}

// ExecRunner implements Runner with os/exec
type ExecRunner struct {
	opts Options
}

// NewExecRunner creates a runner with the given options
func NewExecRunner(opts ...Option) *ExecRunner {
	o := Options{RetryDelay: time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	return &ExecRunner{opts: o}
}

// Run implements Runner
func (r *ExecRunner) Run(ctx context.Context, program string, args ...string) (*Result, error) {
	maxAttempts := r.opts.MaxRetries + 1
	var result *Result
	var err error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err = r.runOnce(ctx, program, args)
		if err == nil || attempt == maxAttempts || errors.Is(err, domain.ErrToolNotFound) {
			return result, err
		}

		logger.Get().Warn("command failed, retrying",
			"program", program,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(r.opts.RetryDelay):
		}
	}

	return result, err
}

func (r *ExecRunner) runOnce(ctx context.Context, program string, args []string) (*Result, error) {
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, program, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Get().Debug("running command", "program", program, "args", fmt.Sprint(args))
	runErr := cmd.Run()

	result := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if runErr == nil {
		return result, nil
	}

	toolErr := &domain.ExternalToolError{
		Tool:     program,
		Args:     args,
		ExitCode: -1,
		Stderr:   result.Stderr,
		Err:      runErr,
	}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(runErr, exec.ErrNotFound):
		toolErr.Err = fmt.Errorf("%w: %v", domain.ErrToolNotFound, runErr)
	case ctx.Err() != nil:
		toolErr.Err = fmt.Errorf("%w: %v", ctx.Err(), runErr)
	case errors.As(runErr, &exitErr):
		toolErr.ExitCode = exitErr.ExitCode()
	}
	result.ExitCode = toolErr.ExitCode

	return result, toolErr
}
