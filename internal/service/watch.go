package service

import (
	"context"

	"github.com/Ning0612/Phonesync/internal/logger"
	"github.com/Ning0612/Phonesync/internal/scheduler"
)

// RunWhenReady performs an unattended sync if a device is connected and
// there is something to transfer; otherwise it returns scheduler.ErrIdle
// without touching the lock or the history. Questions not answered by opts
// take their defaults, so files are never deleted unless opts.Delete says so.
func (s *SyncService) RunWhenReady(ctx context.Context, opts Options) (*Report, error) {
	opts.AssumeYes = true

	devices, err := s.adb.Devices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		logger.Component("watch").Debug("no device connected, waiting")
		return nil, scheduler.ErrIdle
	}

	mode, err := s.ResolveMode(opts)
	if err != nil {
		return nil, err
	}
	prep, err := s.Prepare(ctx, mode)
	if err != nil {
		return nil, err
	}
	if prep.Plan.IsEmpty() {
		return nil, scheduler.ErrIdle
	}

	opts.Mode = mode
	return s.Run(ctx, opts)
}
