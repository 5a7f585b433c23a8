package service

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/Ning0612/Phonesync/internal/adapter/adb"
	"github.com/Ning0612/Phonesync/internal/bridge"
	"github.com/Ning0612/Phonesync/internal/config"
	"github.com/Ning0612/Phonesync/internal/core/convert"
	"github.com/Ning0612/Phonesync/internal/domain"
	"github.com/Ning0612/Phonesync/internal/lock"
	"github.com/Ning0612/Phonesync/internal/prompt"
	"github.com/Ning0612/Phonesync/internal/state"
	"github.com/Ning0612/Phonesync/internal/testutil"
	"github.com/Ning0612/Phonesync/internal/watermark"
)

const (
	srcDir    = "/photos"
	dataDir   = "/data"
	targetDir = "/sdcard/Sync"
)

var runStart = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		SourceDir: srcDir,
		TargetDir: targetDir,
		DataDir:   dataDir,
		Sync: config.SyncConfig{
			Ignore:    []string{"**/.DS_Store"},
			SkipEmpty: true,
		},
		Transfer: config.TransferConfig{AssumedRate: "1MB"},
		Bridge:   config.BridgeConfig{AdbPath: "adb"},
		Convert: config.ConvertConfig{
			Quality: 95,
			Tools:   []string{"heif-convert", "magick"},
		},
	}
}

// fakePhone simulates adb and records pushed remote paths
type fakePhone struct {
	mu       sync.Mutex
	devices  string
	missing  bool
	failPush map[string]bool
	pushed   []string
}

func newFakePhone() *fakePhone {
	return &fakePhone{devices: "List of devices attached\n1A2B3C device model:Pixel_6\n"}
}

func (p *fakePhone) runner() *bridge.FakeRunner {
	return &bridge.FakeRunner{Handler: func(call bridge.Call) (*bridge.Result, error) {
		if p.missing {
			return nil, &domain.ExternalToolError{Tool: call.Program, ExitCode: -1, Err: domain.ErrToolNotFound}
		}

		args := call.Args
		if len(args) > 2 && args[0] == "-s" {
			args = args[2:]
		}
		switch {
		case args[0] == "version":
			return &bridge.Result{Stdout: "Android Debug Bridge version 1.0.41\n"}, nil
		case args[0] == "devices":
			return &bridge.Result{Stdout: p.devices}, nil
		case args[0] == "push":
			remote := args[2]
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.failPush[remote] {
				return bridge.Fail(call, 1, "adb: error: failed to copy")
			}
			p.pushed = append(p.pushed, remote)
			return &bridge.Result{}, nil
		case args[0] == "shell" && strings.Contains(args[1], "getprop ro.product.model"):
			return &bridge.Result{Stdout: "Pixel 6\n"}, nil
		case args[0] == "shell" && strings.Contains(args[1], "getprop ro.product.manufacturer"):
			return &bridge.Result{Stdout: "Google\n"}, nil
		}
		return &bridge.Result{}, nil
	}}
}

func (p *fakePhone) pushes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.pushed...)
}

type fixture struct {
	fs      afero.Fs
	phone   *fakePhone
	out     *bytes.Buffer
	history *state.Manager
	svc     *SyncService
}

func newFixture(t *testing.T, cfg *config.Config, answers string, files ...testutil.File) *fixture {
	t.Helper()

	fs := testutil.MemFs(t, srcDir)
	testutil.WriteFiles(t, fs, srcDir, files...)

	history, err := state.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("state.NewManager() error = %v", err)
	}
	t.Cleanup(func() { history.Close() })

	fileLock, err := lock.NewFileLock(t.TempDir())
	if err != nil {
		t.Fatalf("lock.NewFileLock() error = %v", err)
	}

	f := &fixture{fs: fs, phone: newFakePhone(), out: &bytes.Buffer{}, history: history}

	// no conversion tool works unless a test replaces ToolRunner
	failingTools := &bridge.FakeRunner{Handler: func(call bridge.Call) (*bridge.Result, error) {
		return bridge.Fail(call, 1, "no decoder")
	}}

	svc, err := NewSyncService(cfg, Deps{
		Fs:         fs,
		Runner:     f.phone.runner(),
		ToolRunner: failingTools,
		Prompter:   prompt.New(strings.NewReader(answers), f.out),
		Out:        f.out,
		History:    history,
		Lock:       fileLock,
		Now:        func() time.Time { return runStart },
	})
	if err != nil {
		t.Fatalf("NewSyncService() error = %v", err)
	}
	f.svc = svc
	return f
}

func (f *fixture) watermark(t *testing.T) (time.Time, bool) {
	t.Helper()
	ts, ok, err := watermark.NewStore(f.fs, dataDir+"/last_sync_time.txt").Read()
	if err != nil {
		t.Fatalf("watermark Read() error = %v", err)
	}
	return ts, ok
}

func boolPtr(b bool) *bool { return &b }

func mustConverter(t *testing.T, fs afero.Fs, runner bridge.Runner) *convert.Converter {
	t.Helper()
	c, err := convert.NewConverter(fs, runner, convert.Options{Tools: []string{"heif-convert"}, Quality: 90})
	if err != nil {
		t.Fatalf("NewConverter() error = %v", err)
	}
	return c
}

func old(name string, size int) testutil.File {
	return testutil.File{Name: name, Size: size, ModTime: runStart.Add(-48 * time.Hour)}
}

func TestRun_FirstIncrementalRunTransfersEverything(t *testing.T) {
	f := newFixture(t, testConfig(), "",
		old("a.jpg", 10),
		old("trip/b.jpg", 20),
		old("trip/.DS_Store", 1),
	)

	report, err := f.svc.Run(context.Background(), Options{
		Mode:      domain.SyncModeIncremental,
		AssumeYes: true,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.Status != domain.RunSuccess {
		t.Errorf("Status = %s, want success", report.Status)
	}
	want := []string{targetDir + "/a.jpg", targetDir + "/trip/b.jpg"}
	if got := f.phone.pushes(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("pushed = %v, want %v", got, want)
	}
	if report.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", report.Skipped)
	}
	if report.Device != "Google Pixel 6 (1A2B3C)" {
		t.Errorf("Device = %q", report.Device)
	}

	ts, ok := f.watermark(t)
	if !ok || !ts.Equal(runStart) {
		t.Errorf("watermark = %v (ok=%v), want %v", ts, ok, runStart)
	}
	if !report.WatermarkUpdated {
		t.Error("WatermarkUpdated should be true")
	}

	// AssumeYes never deletes
	testutil.AssertExists(t, f.fs, srcDir+"/a.jpg")

	last, err := f.history.GetLastSuccess()
	if err != nil || last == nil {
		t.Fatalf("GetLastSuccess() = %v, %v", last, err)
	}
	if last.FilesSynced != 2 || last.BytesSynced != 30 || last.Mode != domain.SyncModeIncremental {
		t.Errorf("history record = %+v", last)
	}
}

func TestRun_IncrementalUsesWatermark(t *testing.T) {
	stored := runStart.Add(-time.Hour)
	f := newFixture(t, testConfig(), "",
		testutil.File{Name: "before.jpg", Size: 1, ModTime: stored.Add(-time.Second)},
		testutil.File{Name: "after.jpg", Size: 1, ModTime: stored.Add(time.Second)},
	)
	if err := watermark.NewStore(f.fs, dataDir+"/last_sync_time.txt").Write(stored); err != nil {
		t.Fatal(err)
	}

	report, err := f.svc.Run(context.Background(), Options{Mode: domain.SyncModeIncremental, AssumeYes: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := f.phone.pushes(); len(got) != 1 || got[0] != targetDir+"/after.jpg" {
		t.Errorf("pushed = %v, want only after.jpg", got)
	}
	if report.Plan.FileCount != 1 {
		t.Errorf("Plan.FileCount = %d", report.Plan.FileCount)
	}
}

func TestRun_PartialFailureKeepsWatermarkAndDeletesOnlySucceeded(t *testing.T) {
	f := newFixture(t, testConfig(), "y\ny\n",
		old("a.jpg", 10),
		old("b.jpg", 10),
		old("c.jpg", 10),
	)
	f.phone.failPush = map[string]bool{targetDir + "/b.jpg": true}

	report, err := f.svc.Run(context.Background(), Options{Mode: domain.SyncModeAll})
	if err == nil {
		t.Fatal("expected an error for the failed file")
	}
	if report == nil || report.Status != domain.RunPartial {
		t.Fatalf("report = %+v", report)
	}

	if report.Transfer.Succeeded != 2 || report.Transfer.Failed != 1 {
		t.Errorf("Transfer = %+v", report.Transfer)
	}
	if report.Deleted != 2 {
		t.Errorf("Deleted = %d, want 2", report.Deleted)
	}
	testutil.AssertNotExists(t, f.fs, srcDir+"/a.jpg")
	testutil.AssertExists(t, f.fs, srcDir+"/b.jpg")
	testutil.AssertNotExists(t, f.fs, srcDir+"/c.jpg")

	if _, ok := f.watermark(t); ok {
		t.Error("watermark must not be written after a partial run")
	}
}

func TestRun_DeclinedTransferMutatesNothing(t *testing.T) {
	f := newFixture(t, testConfig(), "n\n", old("a.jpg", 10))

	report, err := f.svc.Run(context.Background(), Options{Mode: domain.SyncModeAll, Delete: boolPtr(true)})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Status != domain.RunCancelled {
		t.Errorf("Status = %s, want cancelled", report.Status)
	}
	if len(f.phone.pushes()) != 0 {
		t.Error("nothing should be pushed")
	}
	testutil.AssertExists(t, f.fs, srcDir+"/a.jpg")
	if _, ok := f.watermark(t); ok {
		t.Error("watermark must not be written")
	}
	if !strings.Contains(f.out.String(), "Files to transfer: 1") {
		t.Errorf("summary not shown:\n%s", f.out.String())
	}
}

func TestRun_DeletionDeclined(t *testing.T) {
	f := newFixture(t, testConfig(), "y\nn\n", old("a.jpg", 10))

	report, err := f.svc.Run(context.Background(), Options{Mode: domain.SyncModeAll})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Status != domain.RunSuccess || report.Deleted != 0 {
		t.Errorf("report = %+v", report)
	}
	testutil.AssertExists(t, f.fs, srcDir+"/a.jpg")
}

func TestRun_NothingToSync(t *testing.T) {
	stored := runStart.Add(-time.Hour)
	f := newFixture(t, testConfig(), "", testutil.File{Name: "a.jpg", Size: 1, ModTime: stored.Add(-time.Minute)})
	store := watermark.NewStore(f.fs, dataDir+"/last_sync_time.txt")
	if err := store.Write(stored); err != nil {
		t.Fatal(err)
	}

	report, err := f.svc.Run(context.Background(), Options{Mode: domain.SyncModeIncremental})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Status != domain.RunNoop {
		t.Errorf("Status = %s, want noop", report.Status)
	}
	if ts, _ := f.watermark(t); !ts.Equal(stored) {
		t.Errorf("watermark changed to %v", ts)
	}
	if !strings.Contains(f.out.String(), "Nothing to sync.") {
		t.Errorf("output = %q", f.out.String())
	}
}

func TestRun_ModeFromPrompt(t *testing.T) {
	f := newFixture(t, testConfig(), "all\ny\nn\n", old("a.jpg", 1))

	report, err := f.svc.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Mode != domain.SyncModeAll {
		t.Errorf("Mode = %s, want all", report.Mode)
	}
}

func TestRun_ConversionFallbackTransfersOriginal(t *testing.T) {
	f := newFixture(t, testConfig(), "", old("IMG_1.HEIC", 10), old("b.jpg", 10))

	report, err := f.svc.Run(context.Background(), Options{
		Mode:      domain.SyncModeAll,
		AssumeYes: true,
		Convert:   boolPtr(true),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.ConvertFailed != 1 || report.Converted != 0 {
		t.Errorf("Converted=%d ConvertFailed=%d", report.Converted, report.ConvertFailed)
	}
	pushed := f.phone.pushes()
	if len(pushed) != 2 || pushed[0] != targetDir+"/IMG_1.HEIC" {
		t.Errorf("pushed = %v, want original HEIC kept in the batch", pushed)
	}
	if report.Status != domain.RunSuccess {
		t.Errorf("Status = %s", report.Status)
	}
}

func TestRun_ConversionSucceeds(t *testing.T) {
	f := newFixture(t, testConfig(), "", old("IMG_1.HEIC", 10))
	f.svc.converter = mustConverter(t, f.fs, &bridge.FakeRunner{Handler: func(call bridge.Call) (*bridge.Result, error) {
		out := call.Args[len(call.Args)-1]
		return &bridge.Result{}, afero.WriteFile(f.fs, out, []byte("jpeg"), 0644)
	}})

	report, err := f.svc.Run(context.Background(), Options{Mode: domain.SyncModeAll, AssumeYes: true, Convert: boolPtr(true)})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Converted != 1 {
		t.Errorf("Converted = %d", report.Converted)
	}
	if pushed := f.phone.pushes(); len(pushed) != 1 || pushed[0] != targetDir+"/IMG_1.jpg" {
		t.Errorf("pushed = %v", pushed)
	}
}

func TestRun_ConvertAndDeleteRemovesHEIC(t *testing.T) {
	f := newFixture(t, testConfig(), "", old("IMG_1.HEIC", 10), old("b.jpg", 10))
	f.svc.converter = mustConverter(t, f.fs, &bridge.FakeRunner{Handler: func(call bridge.Call) (*bridge.Result, error) {
		out := call.Args[len(call.Args)-1]
		return &bridge.Result{}, afero.WriteFile(f.fs, out, []byte("jpeg"), 0644)
	}})

	report, err := f.svc.Run(context.Background(), Options{
		Mode:      domain.SyncModeAll,
		AssumeYes: true,
		Convert:   boolPtr(true),
		Delete:    boolPtr(true),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	testutil.AssertNotExists(t, f.fs, srcDir+"/IMG_1.HEIC")
	testutil.AssertNotExists(t, f.fs, srcDir+"/IMG_1.jpg")
	testutil.AssertNotExists(t, f.fs, srcDir+"/b.jpg")
	if report.Deleted != 3 || report.DeleteFailed != 0 {
		t.Errorf("Deleted=%d DeleteFailed=%d", report.Deleted, report.DeleteFailed)
	}
}

func TestRun_FallbackAndDeleteRemovesPushedHEIC(t *testing.T) {
	f := newFixture(t, testConfig(), "", old("IMG_1.HEIC", 10))

	report, err := f.svc.Run(context.Background(), Options{
		Mode:      domain.SyncModeAll,
		AssumeYes: true,
		Convert:   boolPtr(true),
		Delete:    boolPtr(true),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	testutil.AssertNotExists(t, f.fs, srcDir+"/IMG_1.HEIC")
	if report.Deleted != 1 || report.DeleteFailed != 0 {
		t.Errorf("Deleted=%d DeleteFailed=%d", report.Deleted, report.DeleteFailed)
	}
}

func TestRun_AdbMissingIsFatal(t *testing.T) {
	f := newFixture(t, testConfig(), "", old("a.jpg", 1))
	f.phone.missing = true

	report, err := f.svc.Run(context.Background(), Options{Mode: domain.SyncModeAll, AssumeYes: true})
	if !errors.Is(err, domain.ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
	if report != nil {
		t.Error("no report expected when adb is unavailable")
	}
}

func TestRun_NoDevice(t *testing.T) {
	f := newFixture(t, testConfig(), "", old("a.jpg", 1))
	f.phone.devices = "List of devices attached\n1A2B3C unauthorized\n"

	report, err := f.svc.Run(context.Background(), Options{Mode: domain.SyncModeAll, AssumeYes: true})
	if !errors.Is(err, domain.ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice, got %v", err)
	}
	if report.Status != domain.RunFailed {
		t.Errorf("Status = %s, want failed", report.Status)
	}
	if _, ok := f.watermark(t); ok {
		t.Error("watermark must not be written")
	}

	runs, _ := f.history.GetHistory(1)
	if len(runs) != 1 || runs[0].Status != domain.RunFailed {
		t.Errorf("history = %+v", runs)
	}
}

func TestRun_ChoosesAmongDevices(t *testing.T) {
	f := newFixture(t, testConfig(), "y\n2\n", old("a.jpg", 1))
	f.phone.devices = "List of devices attached\nAAA device model:One\nBBB device model:Two\n"

	report, err := f.svc.Run(context.Background(), Options{Mode: domain.SyncModeAll, Delete: boolPtr(false)})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(report.Device, "(BBB)") {
		t.Errorf("Device = %q, want BBB", report.Device)
	}
	for _, remote := range f.phone.pushes() {
		if remote != targetDir+"/a.jpg" {
			t.Errorf("unexpected push %s", remote)
		}
	}
}

func TestRun_AssumeYesTakesFirstDevice(t *testing.T) {
	f := newFixture(t, testConfig(), "", old("a.jpg", 1))
	f.phone.devices = "List of devices attached\nAAA device model:One\nBBB device model:Two\n"

	report, err := f.svc.Run(context.Background(), Options{Mode: domain.SyncModeAll, AssumeYes: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(report.Device, "(AAA)") {
		t.Errorf("Device = %q, want AAA", report.Device)
	}
}

func TestRun_LockHeld(t *testing.T) {
	f := newFixture(t, testConfig(), "", old("a.jpg", 1))

	competitor, err := lock.NewFileLock(filepath.Dir(f.svc.deps.Lock.Path()))
	if err != nil {
		t.Fatal(err)
	}
	if err := competitor.Acquire(srcDir); err != nil {
		t.Fatal(err)
	}
	defer competitor.Release()

	_, err = f.svc.Run(context.Background(), Options{Mode: domain.SyncModeAll, AssumeYes: true})
	if !errors.Is(err, domain.ErrSyncInProgress) {
		t.Errorf("expected ErrSyncInProgress, got %v", err)
	}
	if len(f.phone.pushes()) != 0 {
		t.Error("nothing should be pushed while locked")
	}
}

func TestRun_CancelledContext(t *testing.T) {
	f := newFixture(t, testConfig(), "", old("a.jpg", 1), old("b.jpg", 1))

	ctx, cancel := context.WithCancel(context.Background())
	runner := f.phone.runner()
	inner := runner.Handler
	runner.Handler = func(call bridge.Call) (*bridge.Result, error) {
		res, err := inner(call)
		if len(call.Args) > 2 && call.Args[2] == "push" {
			cancel()
		}
		return res, err
	}
	f.svc.adb = adb.NewClient(runner, "adb")

	report, err := f.svc.Run(ctx, Options{Mode: domain.SyncModeAll, AssumeYes: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Status != domain.RunCancelled {
		t.Errorf("Status = %s, want cancelled", report.Status)
	}
	if report.Transfer.Succeeded != 1 || report.Transfer.Cancelled != 1 {
		t.Errorf("Transfer = %+v", report.Transfer)
	}
	if _, ok := f.watermark(t); ok {
		t.Error("watermark must not be written after cancellation")
	}
}

func TestPrepare_DoesNotMutate(t *testing.T) {
	f := newFixture(t, testConfig(), "", old("a.jpg", 1_000_000), old("b.jpg", 2_000_000), old("c.jpg", 3_000_000))

	prep, err := f.svc.Prepare(context.Background(), domain.SyncModeAll)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if prep.Plan.FileCount != 3 || prep.Plan.TotalBytes != 6_000_000 || prep.Plan.EstimatedDuration != 6*time.Second {
		t.Errorf("Plan = %+v", prep.Plan)
	}
	if len(f.phone.pushes()) != 0 {
		t.Error("Prepare must not push")
	}
}

func TestPrepare_MissingSource(t *testing.T) {
	cfg := testConfig()
	cfg.SourceDir = "/nowhere"
	f := newFixture(t, cfg, "")

	_, err := f.svc.Prepare(context.Background(), domain.SyncModeAll)
	var ioErr *domain.IOError
	if !errors.As(err, &ioErr) || !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected IOError wrapping ErrNotFound, got %v", err)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t, testConfig(), "", old("a.jpg", 1))

	st, err := f.svc.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.HasLastSync || st.Locked || st.LastRun != nil {
		t.Errorf("fresh status = %+v", st)
	}

	if _, err := f.svc.Run(context.Background(), Options{Mode: domain.SyncModeAll, AssumeYes: true}); err != nil {
		t.Fatal(err)
	}

	st, err = f.svc.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !st.HasLastSync || !st.LastSync.Equal(runStart) {
		t.Errorf("LastSync = %v", st.LastSync)
	}
	if st.LastRun == nil || st.LastSuccess == nil || st.LastRun.ID != st.LastSuccess.ID {
		t.Errorf("history = %+v / %+v", st.LastRun, st.LastSuccess)
	}
}

func TestRun_VerifyMismatchKeepsSource(t *testing.T) {
	cfg := testConfig()
	cfg.Transfer.Verify = true
	cfg.Transfer.Checksum = "md5"

	f := newFixture(t, cfg, "", old("a.jpg", 4), old("b.jpg", 4))
	runner := f.phone.runner()
	inner := runner.Handler
	runner.Handler = func(call bridge.Call) (*bridge.Result, error) {
		if len(call.Args) == 4 && strings.HasPrefix(call.Args[3], "md5sum ") {
			// md5 of "xxxx"; b.jpg reports a different digest
			digest := "ea416ed0759d46a8de58f63a59077499"
			if strings.Contains(call.Args[3], "b.jpg") {
				digest = "00000000000000000000000000000000"
			}
			return &bridge.Result{Stdout: digest + "  file\n"}, nil
		}
		return inner(call)
	}
	f.svc.adb = adb.NewClient(runner, "adb")

	report, err := f.svc.Run(context.Background(), Options{Mode: domain.SyncModeAll, AssumeYes: true, Delete: boolPtr(true)})
	if err == nil {
		t.Fatal("expected an error for the mismatching file")
	}
	if report.Transfer.Succeeded != 1 || report.Transfer.Failed != 1 {
		t.Errorf("Transfer = %+v", report.Transfer)
	}
	testutil.AssertNotExists(t, f.fs, srcDir+"/a.jpg")
	testutil.AssertExists(t, f.fs, srcDir+"/b.jpg")
	if _, ok := f.watermark(t); ok {
		t.Error("watermark must not be written")
	}
}
