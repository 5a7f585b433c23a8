package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Ning0612/Phonesync/internal/core/planner"
	"github.com/Ning0612/Phonesync/internal/domain"
	"github.com/Ning0612/Phonesync/internal/lock"
	"github.com/Ning0612/Phonesync/internal/service"
	"github.com/Ning0612/Phonesync/internal/state"
)

func newPlanCmd(f *flags) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what a sync would transfer without changing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := domain.ParseSyncMode(mode)
			if err != nil {
				return err
			}

			svc, err := newService(f.cfg, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer svc.Close()

			prep, err := svc.Prepare(cmd.Context(), m)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !prep.Since.IsZero() {
				fmt.Fprintf(out, "Changes since: %s\n", prep.Since.Local().Format(time.DateTime))
			}
			for _, e := range prep.Plan.Entries {
				fmt.Fprintf(out, "  %s (%s)\n", e.RelPath, humanize.Bytes(uint64(e.Size)))
			}
			for _, s := range prep.Scan.Skipped {
				fmt.Fprintf(out, "  skip %s: %s\n", s.Entry.RelPath, s.Reason)
			}
			fmt.Fprintln(out, planner.Summary(prep.Plan))
			return nil
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", string(domain.SyncModeIncremental), "sync mode: all or new")
	return cmd
}

func newDevicesCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List connected devices ready for transfer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService(f.cfg, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer svc.Close()

			client := svc.ADB()
			if _, err := client.Verify(cmd.Context()); err != nil {
				return err
			}
			devices, err := client.Devices(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(devices) == 0 {
				fmt.Fprintln(out, "No devices connected.")
				return nil
			}
			for _, d := range devices {
				fmt.Fprintln(out, d.Label())
			}
			return nil
		},
	}
}

func newHistoryCmd(f *flags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent sync runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			history, err := state.NewManager(f.cfg.DataDir)
			if err != nil {
				return err
			}
			defer history.Close()

			runs, err := history.GetHistory(limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sync runs recorded.")
				return nil
			}
			printHistory(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to show")
	return cmd
}

func printHistory(w io.Writer, runs []state.ExecutionRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tMODE\tSTATUS\tFILES\tSIZE\tFAILED\tDELETED\tDEVICE")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%d\t%d\t%s\n",
			r.StartTime.Local().Format(time.DateTime),
			r.Mode,
			r.Status,
			r.FilesSynced,
			humanize.Bytes(uint64(r.BytesSynced)),
			r.FilesFailed,
			r.FilesDeleted,
			r.Device,
		)
	}
	tw.Flush()
}

func newStatusCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last sync time and whether a sync is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService(f.cfg, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer svc.Close()

			st, err := svc.Status()
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), f.cfg.SourceDir, st)
			return nil
		},
	}
}

func printStatus(w io.Writer, source string, st *service.Status) {
	fmt.Fprintf(w, "Source: %s\n", source)
	if st.HasLastSync {
		fmt.Fprintf(w, "Last sync: %s (%s)\n", st.LastSync.Local().Format(time.DateTime), humanize.Time(st.LastSync))
	} else {
		fmt.Fprintln(w, "Last sync: never")
	}

	if st.Locked {
		if st.Holder != nil {
			fmt.Fprintf(w, "Sync in progress: PID %d on %s since %s\n",
				st.Holder.PID, st.Holder.Hostname, st.Holder.StartTime.Local().Format(time.DateTime))
		} else {
			fmt.Fprintln(w, "Sync in progress")
		}
	}

	if st.WatcherPID != 0 {
		fmt.Fprintf(w, "Watcher running: PID %d\n", st.WatcherPID)
	}

	if st.LastRun != nil {
		fmt.Fprintf(w, "Last run: %s, %d file(s), %s\n",
			st.LastRun.Status, st.LastRun.FilesSynced, st.LastRun.Duration().Round(time.Second))
	}
}

func newUnlockCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Remove a lock left behind by a crashed sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fileLock, err := lock.NewFileLock(f.cfg.DataDir)
			if err != nil {
				return err
			}
			if !fileLock.Exists() {
				fmt.Fprintln(cmd.OutOrStdout(), "No lock held.")
				return nil
			}
			if holder, err := fileLock.GetHolder(); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Warning: PID %d on %s still holds the lock\n", holder.PID, holder.Hostname)
			}
			if err := fileLock.ForceRelease(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", fileLock.Path())
			return nil
		},
	}
}

func newConfigCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := f.cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the phonesync version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "phonesync %s\n", version)
			return err
		},
	}
}

// printReport prints the outcome of a sync run
func printReport(w io.Writer, r *service.Report) {
	switch r.Status {
	case domain.RunNoop:
		return
	case domain.RunCancelled:
		fmt.Fprintln(w, "Sync cancelled.")
		if len(r.Results) == 0 {
			return
		}
	}

	fmt.Fprintf(w, "Transferred %d of %d file(s), %s in %s\n",
		r.Transfer.Succeeded,
		len(r.Results),
		humanize.Bytes(uint64(r.Transfer.Bytes)),
		r.EndTime.Sub(r.StartTime).Round(time.Second),
	)
	if r.Converted > 0 || r.ConvertFailed > 0 {
		fmt.Fprintf(w, "Converted %d HEIC file(s), %d kept as HEIC\n", r.Converted, r.ConvertFailed)
	}
	for _, res := range r.Results {
		if res.Err != nil {
			fmt.Fprintf(w, "  failed: %s: %v\n", res.Entry.RelPath, res.Err)
		}
	}
	if r.Deleted > 0 || r.DeleteFailed > 0 {
		fmt.Fprintf(w, "Deleted %d file(s) from the source folder", r.Deleted)
		if r.DeleteFailed > 0 {
			fmt.Fprintf(w, ", %d could not be deleted", r.DeleteFailed)
		}
		fmt.Fprintln(w)
	}
	if r.WatermarkUpdated {
		fmt.Fprintf(w, "Last sync time set to %s\n", r.StartTime.Local().Format(time.DateTime))
	}
}
