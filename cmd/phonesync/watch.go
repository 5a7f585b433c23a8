package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/Phonesync/internal/daemon"
	"github.com/Ning0612/Phonesync/internal/domain"
	"github.com/Ning0612/Phonesync/internal/logger"
	"github.com/Ning0612/Phonesync/internal/scheduler"
	"github.com/Ning0612/Phonesync/internal/service"
)

func newWatchCmd(f *flags) *cobra.Command {
	var interval, maxBackoff time.Duration
	var convert bool
	var stop bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync new files automatically whenever a device is connected",
		Long: `Watch polls for a connected device and pushes new files without asking.
Transferred files are never deleted from the source folder in this mode.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pidFile := daemon.ForDataDir(f.cfg.DataDir)
			if stop {
				pid, err := pidFile.Stop()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stopped watcher (PID %d)\n", pid)
				return nil
			}

			if err := pidFile.Acquire(); err != nil {
				return fmt.Errorf("%w: %v", domain.ErrSyncInProgress, err)
			}
			defer pidFile.Release()

			svc, err := newService(f.cfg, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer svc.Close()

			if _, err := svc.ADB().Verify(cmd.Context()); err != nil {
				return err
			}

			opts := service.Options{}
			if cmd.Flags().Changed("convert") {
				opts.Convert = &convert
			}

			out := cmd.OutOrStdout()
			runner := scheduler.RunnerFunc(func(ctx context.Context) error {
				report, err := svc.RunWhenReady(ctx, opts)
				if report != nil {
					printReport(out, report)
				}
				if errors.Is(err, domain.ErrSyncInProgress) {
					logger.Get().Info("another sync is running, skipping")
					return scheduler.ErrIdle
				}
				return err
			})

			sched, err := scheduler.NewIntervalScheduler(scheduler.Config{
				Interval:   interval,
				Immediate:  true,
				MaxBackoff: maxBackoff,
			}, runner)
			if err != nil {
				return fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
			}
			if err := sched.Start(cmd.Context()); err != nil {
				return err
			}

			fmt.Fprintf(out, "Watching for devices every %s. Press Ctrl+C to stop.\n", interval)
			<-sched.Done()

			st := sched.Status()
			logger.Get().Info("watch stopped",
				"attempts", st.TotalRuns,
				"synced", st.SuccessfulRuns,
				"failed", st.FailedRuns,
				"idle", st.IdleRuns,
			)
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Minute, "time between device checks")
	cmd.Flags().DurationVar(&maxBackoff, "max-backoff", 15*time.Minute, "longest wait after repeated failures")
	cmd.Flags().BoolVar(&convert, "convert", false, "convert HEIC files to JPG before transfer")
	cmd.Flags().BoolVar(&stop, "stop", false, "stop a running watcher")
	return cmd
}
