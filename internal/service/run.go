package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Ning0612/Phonesync/internal/adapter/adb"
	"github.com/Ning0612/Phonesync/internal/core/convert"
	"github.com/Ning0612/Phonesync/internal/core/planner"
	"github.com/Ning0612/Phonesync/internal/core/transfer"
	"github.com/Ning0612/Phonesync/internal/domain"
	"github.com/Ning0612/Phonesync/internal/logger"
	"github.com/Ning0612/Phonesync/internal/state"
)

// Report summarizes a finished run
type Report struct {
	Mode      domain.SyncMode
	Status    domain.RunStatus
	StartTime time.Time
	EndTime   time.Time
	Device    string

	Plan    domain.TransferPlan
	Skipped int

	Converted     int
	ConvertFailed int

	Results  []domain.TransferResult
	Transfer transfer.Summary

	Deleted      int
	DeleteFailed int

	WatermarkUpdated bool
	Err              error
}

// Run performs a full sync: select, plan, confirm, convert, transfer,
// clean up and advance the watermark. The returned report is non-nil
// whenever the run got past startup, including cancelled runs.
func (s *SyncService) Run(ctx context.Context, opts Options) (*Report, error) {
	log := logger.Get()
	report := &Report{StartTime: s.deps.Now()}

	// adb must work before anything else happens
	version, err := s.adb.Verify(ctx)
	if err != nil {
		return nil, err
	}
	log.Debug("adb found", "version", version)

	if s.deps.Lock != nil {
		if err := s.deps.Lock.Acquire(s.config.SourceDir); err != nil {
			return nil, fmt.Errorf("failed to acquire sync lock: %w", err)
		}
		defer func() {
			if err := s.deps.Lock.Release(); err != nil {
				log.Error("failed to release sync lock", "error", err)
			}
		}()
	}

	err = s.run(ctx, opts, report)
	report.EndTime = s.deps.Now()
	report.Err = err
	report.Status = runStatus(report, err)

	if report.Mode != "" {
		s.record(report)
	}

	log.Info("sync finished",
		"status", string(report.Status),
		"transferred", report.Transfer.Succeeded,
		"failed", report.Transfer.Failed,
		"deleted", report.Deleted,
		"duration", report.EndTime.Sub(report.StartTime).String(),
	)

	if report.Status == domain.RunCancelled {
		return report, nil
	}
	return report, err
}

func (s *SyncService) run(ctx context.Context, opts Options, report *Report) error {
	log := logger.Get()
	out := s.deps.Out

	mode, err := s.ResolveMode(opts)
	if err != nil {
		return err
	}
	report.Mode = mode

	prep, err := s.Prepare(ctx, mode)
	if err != nil {
		return err
	}
	report.Plan = prep.Plan
	report.Skipped = len(prep.Scan.Skipped)

	if prep.Plan.IsEmpty() {
		fmt.Fprintln(out, "Nothing to sync.")
		return nil
	}

	fmt.Fprintln(out, planner.Summary(prep.Plan))
	if !opts.AssumeYes {
		ok, err := s.ask(func(p Prompter) (bool, error) {
			return p.Confirm("Proceed with transfer?", true)
		})
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrCancelled
		}
	}

	entries, sources, err := s.convertStage(ctx, opts, prep.Plan.Entries, report)
	if err != nil {
		return err
	}

	device, err := s.adb.Select(ctx, s.chooser(opts))
	if err != nil {
		return err
	}
	report.Device = device.Info().Label()
	if s.deps.Lock != nil {
		if err := s.deps.Lock.SetDevice(device.Serial()); err != nil {
			log.Warn("failed to record device in lock", "error", err)
		}
	}
	fmt.Fprintf(out, "Transferring to %s\n", report.Device)

	exec, err := s.newExecutor(device)
	if err != nil {
		return err
	}
	report.Results = exec.Transfer(ctx, entries)
	for i, r := range report.Results {
		if src, ok := sources[r.Entry.Path]; ok {
			report.Results[i].Source = src
		}
	}
	if f, ok := s.deps.Reporter.(interface{ Finish() }); ok {
		f.Finish()
	}
	report.Transfer = transfer.Summarize(report.Results)

	if report.Transfer.Succeeded > 0 && ctx.Err() == nil {
		if err := s.cleanupStage(ctx, opts, report); err != nil {
			return err
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if report.Transfer.AllSucceeded() {
		if err := s.store.Write(report.StartTime); err != nil {
			return err
		}
		report.WatermarkUpdated = true
		return nil
	}

	return fmt.Errorf("%d of %d file(s) failed to transfer", report.Transfer.Failed+report.Transfer.Cancelled, len(report.Results))
}

// convertStage returns the entries to transfer and, keyed by output path,
// the HEIC files that were converted into them
func (s *SyncService) convertStage(ctx context.Context, opts Options, entries []domain.FileEntry, report *Report) ([]domain.FileEntry, map[string]domain.FileEntry, error) {
	var heic int
	for _, e := range entries {
		if convert.IsHEIC(e.Path) {
			heic++
		}
	}
	if heic == 0 {
		return entries, nil, nil
	}

	enabled, err := s.resolveConvert(opts, heic)
	if err != nil || !enabled {
		return entries, nil, err
	}

	results, err := s.converter.ConvertAll(ctx, entries)
	if err != nil {
		return nil, nil, err
	}
	report.Converted, report.ConvertFailed = convert.Stats(results)
	if report.ConvertFailed > 0 {
		fmt.Fprintf(s.deps.Out, "%d file(s) could not be converted and will be transferred as HEIC\n", report.ConvertFailed)
	}
	return convert.Outputs(results), convert.Sources(results), nil
}

func (s *SyncService) resolveConvert(opts Options, heic int) (bool, error) {
	switch {
	case opts.Convert != nil:
		return *opts.Convert, nil
	case s.config.Convert.Enabled != nil:
		return *s.config.Convert.Enabled, nil
	case opts.AssumeYes:
		return false, nil
	}
	return s.ask(func(p Prompter) (bool, error) {
		return p.Confirm(fmt.Sprintf("Convert %d HEIC file(s) to JPG before transfer?", heic), true)
	})
}

func (s *SyncService) cleanupStage(ctx context.Context, opts Options, report *Report) error {
	var del bool
	switch {
	case opts.Delete != nil:
		del = *opts.Delete
	case opts.AssumeYes:
		del = false
	default:
		var err error
		del, err = s.ask(func(p Prompter) (bool, error) {
			return p.Confirm(fmt.Sprintf("Delete %d transferred file(s) from the source folder?", report.Transfer.Succeeded), false)
		})
		if errors.Is(err, domain.ErrCancelled) {
			// transfer already happened; a declined deletion is not a failed run
			return nil
		}
		if err != nil {
			return err
		}
	}
	if !del {
		return nil
	}

	agent, err := s.newCleanupAgent()
	if err != nil {
		return err
	}
	res, err := agent.Clean(ctx, report.Results)
	if res != nil {
		report.Deleted = len(res.Deleted)
		report.DeleteFailed = len(res.Failed)
		if failErr := res.Err(); failErr != nil {
			fmt.Fprintf(s.deps.Out, "Warning: %v\n", failErr)
		}
	}
	return err
}

// ask runs q against the prompter; without one every question is cancelled
func (s *SyncService) ask(q func(Prompter) (bool, error)) (bool, error) {
	if s.deps.Prompter == nil {
		return false, domain.ErrCancelled
	}
	return q(s.deps.Prompter)
}

func (s *SyncService) chooser(opts Options) adb.Chooser {
	if opts.AssumeYes || s.deps.Prompter == nil {
		return nil
	}
	return func(devices []adb.DeviceInfo) (int, error) {
		labels := make([]string, len(devices))
		for i, d := range devices {
			labels[i] = d.Label()
		}
		return s.deps.Prompter.Select("Multiple devices detected. Please select one:", labels)
	}
}

// runStatus derives the final status of a run
func runStatus(r *Report, err error) domain.RunStatus {
	switch {
	case isCancel(err):
		return domain.RunCancelled
	case r.Plan.IsEmpty() && err == nil:
		return domain.RunNoop
	case len(r.Results) == 0:
		return domain.RunFailed
	case r.Transfer.AllSucceeded() && err == nil:
		return domain.RunSuccess
	case r.Transfer.Succeeded > 0:
		return domain.RunPartial
	}
	return domain.RunFailed
}

// historyKeep is how many runs the history database retains
const historyKeep = 500

func (s *SyncService) record(r *Report) {
	if s.deps.History == nil {
		return
	}

	rec := &state.ExecutionRecord{
		StartTime:      r.StartTime,
		EndTime:        r.EndTime,
		Mode:           r.Mode,
		Device:         r.Device,
		Status:         r.Status,
		FilesSynced:    r.Transfer.Succeeded,
		BytesSynced:    r.Transfer.Bytes,
		FilesFailed:    r.Transfer.Failed + r.Transfer.Cancelled,
		FilesDeleted:   r.Deleted,
		FilesConverted: r.Converted,
		Error:          errorText(r.Err),
	}
	if err := s.deps.History.SaveExecution(rec); err != nil {
		logger.Get().Error("failed to record run", "error", err)
		return
	}
	if _, err := s.deps.History.Prune(historyKeep); err != nil {
		logger.Get().Warn("failed to prune history", "error", err)
	}
}
