// Package transfer pushes files to the device one at a time.
package transfer

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/Ning0612/Phonesync/internal/adapter"
	"github.com/Ning0612/Phonesync/internal/domain"
	"github.com/Ning0612/Phonesync/internal/logger"
	"github.com/Ning0612/Phonesync/internal/progress"
)

// Executor transfers entries to a device on a best-effort basis: a failed
// file is recorded and the batch continues.
type Executor struct {
	device    adapter.Device
	targetDir string
	reporter  progress.Reporter

	// ScanMedia announces pushed files to the media scanner after the batch
	ScanMedia bool

	// Verifier, when set, checks every pushed file; a mismatch fails it
	Verifier Verifier
}

// Verifier checks a pushed file against its source
type Verifier interface {
	Verify(ctx context.Context, localPath, remotePath string) error
}

// NewExecutor creates an executor writing below targetDir on device
func NewExecutor(device adapter.Device, targetDir string, reporter progress.Reporter) *Executor {
	if reporter == nil {
		reporter = progress.NullReporter{}
	}
	return &Executor{
		device:    device,
		targetDir: strings.TrimRight(targetDir, "/"),
		reporter:  reporter,
		ScanMedia: true,
	}
}

// RemotePath maps an entry to its device path below the target directory
func (e *Executor) RemotePath(entry domain.FileEntry) string {
	return path.Join(e.targetDir, entry.RelPath)
}

// Transfer pushes every entry and returns one result per entry, aligned
// with the input. When ctx is cancelled the remaining entries are marked
// with domain.ErrCancelled without being attempted.
func (e *Executor) Transfer(ctx context.Context, entries []domain.FileEntry) []domain.TransferResult {
	log := logger.Component("transfer").With("device", e.device.Serial())
	results := make([]domain.TransferResult, len(entries))
	made := make(map[string]bool)

	e.reporter.SetTotal(len(entries), domain.TotalSize(entries))

	var filesDone int
	var bytesDone int64
	for i, entry := range entries {
		remote := e.RemotePath(entry)
		results[i] = domain.TransferResult{Entry: entry, RemotePath: remote}

		if err := ctx.Err(); err != nil {
			results[i].Err = domain.ErrCancelled
			continue
		}

		e.reporter.Start(entry.RelPath, entry.Size)

		err := e.push(ctx, entry, remote, made)
		if err != nil {
			if ctx.Err() != nil {
				err = errors.Join(domain.ErrCancelled, err)
			}
			results[i].Err = err
			e.reporter.Error(err)
			log.Error("transfer failed", "path", entry.RelPath, "error", err)
			continue
		}

		filesDone++
		bytesDone += entry.Size
		e.reporter.Complete()
		e.reporter.OverallProgress(filesDone, bytesDone)
		log.Debug("transferred", "path", entry.RelPath, "remote", remote)
	}

	if e.ScanMedia {
		e.scan(ctx, results)
	}

	log.Info("transfer finished",
		"succeeded", filesDone,
		"failed", len(entries)-filesDone,
		"bytes", bytesDone,
	)
	return results
}

func (e *Executor) push(ctx context.Context, entry domain.FileEntry, remote string, made map[string]bool) error {
	dir := path.Dir(remote)
	if !made[dir] {
		if err := e.device.Mkdir(ctx, dir); err != nil {
			return err
		}
		made[dir] = true
	}
	if err := e.device.Push(ctx, entry.Path, remote); err != nil {
		return err
	}
	if e.Verifier != nil {
		return e.Verifier.Verify(ctx, entry.Path, remote)
	}
	return nil
}

func (e *Executor) scan(ctx context.Context, results []domain.TransferResult) {
	var pushed []string
	for _, r := range results {
		if r.Succeeded() {
			pushed = append(pushed, r.RemotePath)
		}
	}
	if len(pushed) == 0 || ctx.Err() != nil {
		return
	}
	if err := e.device.ScanMedia(ctx, pushed); err != nil {
		logger.Get().Warn("media scan incomplete", "error", err)
	}
}

// Summary counts results and bytes of a finished batch
type Summary struct {
	Succeeded int
	Failed    int
	Cancelled int
	Bytes     int64
}

// Summarize aggregates transfer results
func Summarize(results []domain.TransferResult) Summary {
	var s Summary
	for _, r := range results {
		switch {
		case r.Succeeded():
			s.Succeeded++
			s.Bytes += r.Entry.Size
		case errors.Is(r.Err, domain.ErrCancelled):
			s.Cancelled++
		default:
			s.Failed++
		}
	}
	return s
}

// AllSucceeded reports whether every result succeeded
func (s Summary) AllSucceeded() bool {
	return s.Failed == 0 && s.Cancelled == 0
}
