package bridge

import (
	"context"
	"strings"
	"sync"

	"github.com/Ning0612/Phonesync/internal/domain"
)

// Call records one invocation made through a FakeRunner
type Call struct {
	Program string
	Args    []string
}

// String renders the call as a command line
func (c Call) String() string {
	return strings.TrimSpace(c.Program + " " + strings.Join(c.Args, " "))
}

// FakeRunner is a scripted Runner for tests. Handler decides the outcome of
// each call; a nil Handler makes every command succeed with empty output.
type FakeRunner struct {
	Handler func(call Call) (*Result, error)

	mu    sync.Mutex
	calls []Call
}

// Run implements Runner
func (f *FakeRunner) Run(ctx context.Context, program string, args ...string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	call := Call{Program: program, Args: append([]string(nil), args...)}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	if f.Handler == nil {
		return &Result{}, nil
	}
	return f.Handler(call)
}

// Calls returns the recorded invocations
func (f *FakeRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Fail builds the error a real runner returns for a non-zero exit status
func Fail(call Call, exitCode int, stderr string) (*Result, error) {
	return &Result{Stderr: stderr, ExitCode: exitCode}, &domain.ExternalToolError{
		Tool:     call.Program,
		Args:     call.Args,
		ExitCode: exitCode,
		Stderr:   stderr,
	}
}
