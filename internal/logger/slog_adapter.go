package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

// SlogLogger implements Logger on top of log/slog. Loggers returned by
// With share the handlers but own no files, so only the root closes them.
type SlogLogger struct {
	logger    *slog.Logger
	sanitizer *Sanitizer
	closers   []io.Closer
}

// NewSlogLogger builds a logger writing to every configured output
func NewSlogLogger(config Config) (*SlogLogger, error) {
	opts := &slog.HandlerOptions{Level: config.Level}

	var (
		plain    []io.Writer
		closers  []io.Closer
		handlers []slog.Handler
	)

	for _, out := range config.Outputs {
		switch out.Type {
		case OutputStdout, OutputStderr:
			w := out.Writer
			if w == nil {
				w = os.Stdout
				if out.Type == OutputStderr {
					w = os.Stderr
				}
			}
			plain = append(plain, w)
			if c, ok := ownedCloser(w); ok {
				closers = append(closers, c)
			}
		case OutputConsole:
			w := out.Writer
			if w == nil {
				w = os.Stderr
			}
			handlers = append(handlers, newConsoleHandler(w, config.Level))
		case OutputFile:
			if !config.File.Enabled {
				continue
			}
			fw, err := newFileWriter(config.File)
			if err != nil {
				for _, c := range closers {
					c.Close()
				}
				return nil, fmt.Errorf("failed to create file writer: %w", err)
			}
			plain = append(plain, fw)
			closers = append(closers, fw)
		}
	}

	if len(plain) == 0 && len(handlers) == 0 {
		plain = append(plain, os.Stdout)
	}

	if len(plain) > 0 {
		w := io.MultiWriter(plain...)
		if config.Format == FormatJSON {
			handlers = append(handlers, slog.NewJSONHandler(w, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(w, opts))
		}
	}

	return &SlogLogger{
		logger:    slog.New(newMultiHandler(handlers...)),
		sanitizer: NewSanitizer(),
		closers:   closers,
	}, nil
}

// newConsoleHandler writes short tinted lines, coloured only on a terminal
func newConsoleHandler(w io.Writer, level slog.Level) slog.Handler {
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
	}
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    noColor,
	})
}

// ownedCloser reports whether w must be closed by the logger.
// Standard streams are never closed.
func ownedCloser(w io.Writer) (io.Closer, bool) {
	c, ok := w.(io.Closer)
	if !ok || w == os.Stdout || w == os.Stderr {
		return nil, false
	}
	return c, true
}

func newFileWriter(config FileConfig) (io.WriteCloser, error) {
	if config.Path == "" {
		return nil, errors.New("log file path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return &lumberjack.Logger{
		Filename:   config.Path,
		MaxSize:    config.MaxSizeMB,
		MaxAge:     config.MaxAgeDays,
		MaxBackups: config.MaxBackups,
		Compress:   config.Compress,
	}, nil
}

func (l *SlogLogger) log(level slog.Level, msg string, args []any) {
	l.logger.Log(context.Background(), level, l.sanitizer.Sanitize(msg), l.sanitizer.SanitizeArgs(args)...)
}

func (l *SlogLogger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args) }
func (l *SlogLogger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args) }
func (l *SlogLogger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args) }
func (l *SlogLogger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args) }

// With returns a child logger carrying args on every record
func (l *SlogLogger) With(args ...any) Logger {
	return &SlogLogger{
		logger:    l.logger.With(l.sanitizer.SanitizeArgs(args)...),
		sanitizer: l.sanitizer,
	}
}

// Sync is a no-op; lumberjack writes through
func (l *SlogLogger) Sync() error {
	return nil
}

// Shutdown closes the files this logger opened
func (l *SlogLogger) Shutdown() error {
	var errs []error
	for _, c := range l.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.closers = nil
	return errors.Join(errs...)
}
