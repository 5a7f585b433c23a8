package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Ning0612/Phonesync/internal/bridge"
	"github.com/Ning0612/Phonesync/internal/config"
	"github.com/Ning0612/Phonesync/internal/domain"
	"github.com/Ning0612/Phonesync/internal/lock"
	"github.com/Ning0612/Phonesync/internal/logger"
	"github.com/Ning0612/Phonesync/internal/progress"
	"github.com/Ning0612/Phonesync/internal/prompt"
	"github.com/Ning0612/Phonesync/internal/service"
	"github.com/Ning0612/Phonesync/internal/state"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// flags holds the global command line options
type flags struct {
	configPath string
	source     string
	target     string
	mode       string
	convert    bool
	delete     bool
	yes        bool
	verbose    bool

	// cfg is loaded before any command runs
	cfg *config.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	err := root.ExecuteContext(ctx)
	logger.Shutdown()
	if err != nil {
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:     "phonesync",
		Short:   "Push photos from a desktop folder to an Android phone over adb",
		Version: version,
		Args:    cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			f.cfg = cfg
			cmd.SilenceUsage = true
			return initLogger(cfg, f.verbose)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, f)
		},
	}
	cmd.SilenceErrors = true

	pf := cmd.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "config file (default: search ./config.yaml, user config dir, ~/.phonesync)")
	pf.StringVar(&f.source, "source", "", "source directory on this computer")
	pf.StringVar(&f.target, "target", "", "target directory on the device")
	pf.BoolVarP(&f.verbose, "verbose", "v", false, "enable debug logging")

	fl := cmd.Flags()
	fl.SortFlags = false
	fl.StringVarP(&f.mode, "mode", "m", "", "sync mode: all or new")
	fl.BoolVar(&f.convert, "convert", false, "convert HEIC files to JPG before transfer")
	fl.BoolVar(&f.delete, "delete", false, "delete transferred files from the source folder")
	fl.BoolVarP(&f.yes, "yes", "y", false, "do not ask; take defaults for unanswered questions")

	cmd.AddCommand(
		newPlanCmd(f),
		newDevicesCmd(f),
		newHistoryCmd(f),
		newStatusCmd(f),
		newWatchCmd(f),
		newUnlockCmd(f),
		newConfigCmd(f),
		newVersionCmd(),
	)
	return cmd
}

// loadConfig reads the config file and applies the path flags on top
func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	v := config.New()
	if err := config.ReadInto(v, f.configPath); err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("source") {
		v.Set("source_dir", f.source)
	}
	if cmd.Flags().Changed("target") {
		v.Set("target_dir", f.target)
	}
	return config.Decode(v)
}

// initLogger sends logs to the console and the rotating log file
func initLogger(cfg *config.Config, verbose bool) error {
	level := logger.ParseLevel(cfg.Log.Level)
	if verbose {
		level = logger.LevelDebug
	}

	return logger.Init(logger.Config{
		Level:  level,
		Format: logger.ParseFormat(cfg.Log.Format),
		Outputs: []logger.OutputConfig{
			{Type: logger.OutputConsole},
			{Type: logger.OutputFile},
		},
		File: logger.FileConfig{
			Enabled:    true,
			Path:       cfg.LogFilePath(),
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			MaxBackups: cfg.Log.MaxBackups,
			Compress:   cfg.Log.Compress,
		},
	})
}

// newService wires the sync service against the real filesystem and adb
func newService(cfg *config.Config, in io.Reader, out io.Writer) (*service.SyncService, error) {
	adbRunner := bridge.NewExecRunner(
		bridge.WithTimeout(cfg.Bridge.Timeout),
		bridge.WithRetry(cfg.Bridge.Retries, time.Second),
	)

	history, err := state.NewManager(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	fileLock, err := lock.NewFileLock(cfg.DataDir)
	if err != nil {
		history.Close()
		return nil, err
	}

	svc, err := service.NewSyncService(cfg, service.Deps{
		Fs:         afero.NewOsFs(),
		Runner:     adbRunner,
		ToolRunner: bridge.NewExecRunner(),
		Prompter:   prompt.New(in, out),
		Reporter:   progress.NewTerminalReporter(out),
		Out:        out,
		History:    history,
		Lock:       fileLock,
	})
	if err != nil {
		history.Close()
		return nil, err
	}
	return svc, nil
}

func runSync(cmd *cobra.Command, f *flags) error {
	svc, err := newService(f.cfg, cmd.InOrStdin(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer svc.Close()

	opts := service.Options{AssumeYes: f.yes}
	if f.mode != "" {
		mode, err := domain.ParseSyncMode(f.mode)
		if err != nil {
			return err
		}
		opts.Mode = mode
	}
	if cmd.Flags().Changed("convert") {
		opts.Convert = &f.convert
	}
	if cmd.Flags().Changed("delete") {
		opts.Delete = &f.delete
	}

	report, err := svc.Run(cmd.Context(), opts)
	if report != nil {
		printReport(cmd.OutOrStdout(), report)
	}
	return err
}

// exitCode maps an error to the process exit status
func exitCode(err error) int {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	switch {
	case errors.Is(err, domain.ErrToolNotFound), errors.Is(err, domain.ErrNoDevice):
		return 3
	case errors.Is(err, domain.ErrSyncInProgress):
		return 4
	case errors.Is(err, domain.ErrConfigInvalid), errors.Is(err, domain.ErrConfigNotFound), errors.Is(err, domain.ErrInvalidMode):
		return 2
	}
	return 1
}
