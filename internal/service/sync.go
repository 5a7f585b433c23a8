package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/afero"

	"github.com/Ning0612/Phonesync/internal/adapter/adb"
	"github.com/Ning0612/Phonesync/internal/adapter/local"
	"github.com/Ning0612/Phonesync/internal/bridge"
	"github.com/Ning0612/Phonesync/internal/config"
	"github.com/Ning0612/Phonesync/internal/core/checksum"
	"github.com/Ning0612/Phonesync/internal/core/cleanup"
	"github.com/Ning0612/Phonesync/internal/core/convert"
	"github.com/Ning0612/Phonesync/internal/core/planner"
	"github.com/Ning0612/Phonesync/internal/core/scan"
	"github.com/Ning0612/Phonesync/internal/core/transfer"
	"github.com/Ning0612/Phonesync/internal/daemon"
	"github.com/Ning0612/Phonesync/internal/domain"
	"github.com/Ning0612/Phonesync/internal/lock"
	"github.com/Ning0612/Phonesync/internal/logger"
	"github.com/Ning0612/Phonesync/internal/progress"
	"github.com/Ning0612/Phonesync/internal/state"
	"github.com/Ning0612/Phonesync/internal/watermark"
)

// Prompter asks the user questions during a run
type Prompter interface {
	Choose(question string, options []string, def string) (string, error)
	Confirm(question string, def bool) (bool, error)
	Select(question string, items []string) (int, error)
}

// Deps are the collaborators of a SyncService. Fs and Runner are required.
type Deps struct {
	// Fs is the filesystem holding the source directory and the watermark
	Fs afero.Fs

	// Runner runs adb
	Runner bridge.Runner

	// ToolRunner runs conversion tools; defaults to Runner
	ToolRunner bridge.Runner

	// Prompter answers questions not pre-answered by Options
	Prompter Prompter

	// Reporter receives transfer progress
	Reporter progress.Reporter

	// Out receives the plan summary and status messages
	Out io.Writer

	// History and Lock are optional
	History *state.Manager
	Lock    *lock.FileLock

	// Now defaults to time.Now
	Now func() time.Time
}

// Options pre-answer the interactive questions of a run
type Options struct {
	// Mode overrides the configured sync mode
	Mode domain.SyncMode

	// Convert overrides the configured conversion choice
	Convert *bool

	// AssumeYes confirms the transfer without asking and takes defaults
	// for every question that is not otherwise answered. It never implies
	// deletion.
	AssumeYes bool

	// Delete answers the deletion question
	Delete *bool
}

// SyncService orchestrates a sync run
type SyncService struct {
	config    *config.Config
	deps      Deps
	store     *watermark.Store
	adb       *adb.Client
	planner   planner.Planner
	maxSize   int64
	converter *convert.Converter
}

// NewSyncService creates a new sync service
func NewSyncService(cfg *config.Config, deps Deps) (*SyncService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if deps.Fs == nil || deps.Runner == nil {
		return nil, fmt.Errorf("filesystem and runner are required")
	}
	if deps.ToolRunner == nil {
		deps.ToolRunner = deps.Runner
	}
	if deps.Reporter == nil {
		deps.Reporter = progress.NullReporter{}
	}
	if deps.Out == nil {
		deps.Out = io.Discard
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	rate, err := cfg.AssumedRateBytes()
	if err != nil {
		return nil, err
	}
	maxSize, err := cfg.MaxFileSizeBytes()
	if err != nil {
		return nil, err
	}

	converter, err := convert.NewConverter(deps.Fs, deps.ToolRunner, convert.Options{
		Tools:          cfg.Convert.Tools,
		Quality:        cfg.Convert.Quality,
		RemoveOriginal: cfg.Convert.RemoveOriginal,
	})
	if err != nil {
		return nil, err
	}

	return &SyncService{
		config:    cfg,
		deps:      deps,
		store:     watermark.NewStore(deps.Fs, cfg.WatermarkPath()),
		adb:       adb.NewClient(deps.Runner, cfg.Bridge.AdbPath),
		planner:   planner.NewDefaultPlanner(rate),
		maxSize:   maxSize,
		converter: converter,
	}, nil
}

// ADB returns the adb client used by the service
func (s *SyncService) ADB() *adb.Client {
	return s.adb
}

// Watermark returns the timestamp store
func (s *SyncService) Watermark() *watermark.Store {
	return s.store
}

// Preparation is the read-only part of a run: selection and plan
type Preparation struct {
	Mode  domain.SyncMode
	Since time.Time
	Scan  *scan.Result
	Plan  domain.TransferPlan
}

// Prepare enumerates the source directory for mode and plans the transfer.
// It changes nothing on disk or device.
func (s *SyncService) Prepare(ctx context.Context, mode domain.SyncMode) (*Preparation, error) {
	if !mode.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidMode, mode)
	}

	var since time.Time
	if mode == domain.SyncModeIncremental {
		t, ok, err := s.store.Read()
		if err != nil {
			return nil, err
		}
		if ok {
			since = t
		} else {
			logger.Get().Info("no previous sync recorded, selecting all files")
		}
	}

	source, err := local.New(s.deps.Fs, s.config.SourceDir)
	if err != nil {
		return nil, err
	}
	enum, err := scan.NewEnumerator(source, scan.Options{
		Ignore:      s.config.Sync.Ignore,
		SkipEmpty:   s.config.Sync.SkipEmpty,
		MaxFileSize: s.maxSize,
	})
	if err != nil {
		return nil, err
	}

	res, err := enum.Enumerate(ctx, mode, since)
	if err != nil {
		return nil, err
	}

	plan := s.planner.Plan(res.Entries)
	logger.Get().Info("transfer planned",
		"mode", string(mode),
		"files", plan.FileCount,
		"bytes", plan.TotalBytes,
		"estimate", plan.EstimatedDuration.String(),
	)

	return &Preparation{Mode: mode, Since: since, Scan: res, Plan: plan}, nil
}

// ResolveMode picks the sync mode from opts, then config, then the user
func (s *SyncService) ResolveMode(opts Options) (domain.SyncMode, error) {
	if opts.Mode != "" {
		return domain.ParseSyncMode(string(opts.Mode))
	}
	if s.config.Sync.Mode != "" {
		return domain.ParseSyncMode(s.config.Sync.Mode)
	}
	if opts.AssumeYes || s.deps.Prompter == nil {
		return domain.SyncModeIncremental, nil
	}

	answer, err := s.deps.Prompter.Choose("Sync all files or only new files?", []string{"all", "new"}, "new")
	if err != nil {
		return "", err
	}
	return domain.ParseSyncMode(answer)
}

// Close releases the history database
func (s *SyncService) Close() error {
	if s.deps.History != nil {
		return s.deps.History.Close()
	}
	return nil
}

var _ io.Closer = (*SyncService)(nil)

// Status describes the persisted state of phonesync
type Status struct {
	LastSync    time.Time
	HasLastSync bool
	Locked      bool
	Holder      *lock.Holder
	LastRun     *state.ExecutionRecord
	LastSuccess *state.ExecutionRecord

	// WatcherPID is the process running `watch`, 0 if none
	WatcherPID int
}

// Status reads the watermark, lock and history
func (s *SyncService) Status() (*Status, error) {
	st := &Status{}

	t, ok, err := s.store.Read()
	if err != nil {
		return nil, err
	}
	st.LastSync, st.HasLastSync = t, ok

	if s.deps.Lock != nil && s.deps.Lock.IsLocked() {
		st.Locked = true
		st.Holder, _ = s.deps.Lock.GetHolder()
	}

	if pid, ok := daemon.ForDataDir(s.config.DataDir).Running(); ok {
		st.WatcherPID = pid
	}

	if s.deps.History != nil {
		runs, err := s.deps.History.GetHistory(1)
		if err != nil {
			return nil, err
		}
		if len(runs) > 0 {
			st.LastRun = &runs[0]
		}
		if st.LastSuccess, err = s.deps.History.GetLastSuccess(); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// errorText renders err for the history table
func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// isCancel reports whether err stems from the user or an interrupt
func isCancel(err error) bool {
	return errors.Is(err, domain.ErrCancelled) || errors.Is(err, context.Canceled)
}

// newCleanupAgent builds the agent over the source directory
func (s *SyncService) newCleanupAgent() (*cleanup.Agent, error) {
	source, err := local.New(s.deps.Fs, s.config.SourceDir)
	if err != nil {
		return nil, err
	}
	return cleanup.NewAgent(source), nil
}

// newExecutor builds a transfer executor for device
func (s *SyncService) newExecutor(device *adb.Session) (*transfer.Executor, error) {
	exec := transfer.NewExecutor(device, s.config.TargetDir, s.deps.Reporter)
	if s.config.Transfer.Verify {
		v, err := checksum.NewVerifier(s.deps.Fs, device, checksum.Algorithm(s.config.Transfer.Checksum))
		if err != nil {
			return nil, err
		}
		exec.Verifier = v
	}
	return exec, nil
}
