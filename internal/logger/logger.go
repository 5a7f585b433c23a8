package logger

import (
	"fmt"
	"sync"
)

var (
	mu      sync.RWMutex
	current Logger
)

// Init installs the process-wide logger built from config.
// It fails if a logger is already installed; call Shutdown first.
func Init(config Config) error {
	mu.Lock()
	defer mu.Unlock()

	if current != nil {
		return fmt.Errorf("logger already initialized; call Shutdown() before re-initializing")
	}

	l, err := NewSlogLogger(config)
	if err != nil {
		return fmt.Errorf("failed to create slog logger: %w", err)
	}
	current = l
	return nil
}

// Get returns the installed logger, or a NullLogger before Init
func Get() Logger {
	mu.RLock()
	defer mu.RUnlock()

	if current == nil {
		return NullLogger{}
	}
	return current
}

// With returns a child of the installed logger carrying args
func With(args ...any) Logger {
	return Get().With(args...)
}

// Component returns a child logger tagged with the subsystem name,
// e.g. "adb", "transfer" or "watch"
func Component(name string) Logger {
	return Get().With("component", name)
}

// Sync flushes the installed logger
func Sync() error {
	return Get().Sync()
}

// Shutdown closes the installed logger's files and uninstalls it.
// Safe to call more than once.
func Shutdown() error {
	mu.Lock()
	l := current
	current = nil
	mu.Unlock()

	if l == nil {
		return nil
	}
	return l.Shutdown()
}

// NullLogger drops every record
type NullLogger struct{}

func (NullLogger) Debug(msg string, args ...any) {}
func (NullLogger) Info(msg string, args ...any)  {}
func (NullLogger) Warn(msg string, args ...any)  {}
func (NullLogger) Error(msg string, args ...any) {}
func (n NullLogger) With(args ...any) Logger     { return n }
func (NullLogger) Sync() error                   { return nil }
func (NullLogger) Shutdown() error               { return nil }
