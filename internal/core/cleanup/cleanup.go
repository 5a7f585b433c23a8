// Package cleanup removes source files that reached the device.
package cleanup

import (
	"context"
	"errors"
	"fmt"

	"github.com/Ning0612/Phonesync/internal/adapter/local"
	"github.com/Ning0612/Phonesync/internal/domain"
	"github.com/Ning0612/Phonesync/internal/logger"
)

// Failure is a file that could not be deleted
type Failure struct {
	Path string
	Err  error
}

// Result lists what a cleanup pass did
type Result struct {
	Deleted []string
	Failed  []Failure
}

// Agent deletes transferred files from the source directory. It must only
// be run after the user confirmed the deletion.
type Agent struct {
	source *local.Adapter
}

// NewAgent creates an agent operating on source
func NewAgent(source *local.Adapter) *Agent {
	return &Agent{source: source}
}

// Clean deletes the source file of every succeeded result and nothing else.
// For a converted file that is both the pushed JPEG and the HEIC it was
// made from. Directories are left in place even when they become empty. A
// failed deletion is recorded and the remaining files are still processed.
func (a *Agent) Clean(ctx context.Context, results []domain.TransferResult) (*Result, error) {
	log := logger.Get()
	res := &Result{}

	for _, r := range results {
		if !r.Succeeded() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		a.remove(r.Entry, false, res)
		if r.Source.Path != "" && r.Source.Path != r.Entry.Path {
			// already gone when the converter removed originals
			a.remove(r.Source, true, res)
		}
	}

	log.Info("cleanup finished", "deleted", len(res.Deleted), "failed", len(res.Failed))
	return res, nil
}

func (a *Agent) remove(e domain.FileEntry, missingOK bool, res *Result) {
	log := logger.Get()

	rel, err := a.source.Rel(e.Path)
	if err == nil {
		err = a.source.Remove(rel)
	}
	if missingOK && errors.Is(err, domain.ErrNotFound) {
		return
	}
	if err != nil {
		log.Warn("failed to delete source file", "path", e.RelPath, "error", err)
		res.Failed = append(res.Failed, Failure{Path: e.Path, Err: err})
		return
	}

	log.Debug("deleted source file", "path", e.RelPath)
	res.Deleted = append(res.Deleted, e.Path)
}

// Err summarizes the failures as one error, or nil
func (r *Result) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	return fmt.Errorf("%d file(s) could not be deleted, first: %w", len(r.Failed), r.Failed[0].Err)
}
