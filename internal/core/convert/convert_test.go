package convert

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/Ning0612/Phonesync/internal/bridge"
	"github.com/Ning0612/Phonesync/internal/domain"
	"github.com/Ning0612/Phonesync/internal/testutil"
)

const root = "/photos"

var mtime = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

// toolRunner simulates conversion tools on fs. Tools listed in working
// write a JPEG to their output argument; all others exit 1.
func toolRunner(fs afero.Fs, working ...string) *bridge.FakeRunner {
	ok := make(map[string]bool)
	for _, w := range working {
		ok[w] = true
	}
	return &bridge.FakeRunner{Handler: func(call bridge.Call) (*bridge.Result, error) {
		if !ok[call.Program] {
			return bridge.Fail(call, 1, "unsupported file")
		}
		out := call.Args[len(call.Args)-1]
		if err := afero.WriteFile(fs, out, []byte("jpeg-data"), 0644); err != nil {
			return nil, err
		}
		return &bridge.Result{}, nil
	}}
}

func setup(t *testing.T) (afero.Fs, domain.FileEntry) {
	t.Helper()
	fs := testutil.MemFs(t, root)
	paths := testutil.WriteFiles(t, fs, root, testutil.File{Name: "2024/IMG_1.HEIC", Size: 64, ModTime: mtime})
	return fs, domain.FileEntry{Path: paths[0], RelPath: "2024/IMG_1.HEIC", Size: 64, ModTime: mtime}
}

func newConverter(t *testing.T, fs afero.Fs, runner bridge.Runner, opts Options) *Converter {
	t.Helper()
	if opts.Tools == nil {
		opts.Tools = []string{"heif-convert", "magick"}
	}
	c, err := NewConverter(fs, runner, opts)
	if err != nil {
		t.Fatalf("NewConverter() error = %v", err)
	}
	return c
}

func TestConvert_FirstMethod(t *testing.T) {
	fs, entry := setup(t)
	runner := toolRunner(fs, "heif-convert", "magick")
	c := newConverter(t, fs, runner, Options{})

	res := c.Convert(context.Background(), entry)
	if res.Err != nil || !res.Converted {
		t.Fatalf("Convert() = %+v", res)
	}
	if res.Output.Path != "/photos/2024/IMG_1.jpg" || res.Output.RelPath != "2024/IMG_1.jpg" {
		t.Errorf("Output = %+v", res.Output)
	}
	if res.Output.Size != int64(len("jpeg-data")) {
		t.Errorf("Output.Size = %d", res.Output.Size)
	}
	if !res.Output.ModTime.Equal(mtime) {
		t.Errorf("Output.ModTime = %v, want %v", res.Output.ModTime, mtime)
	}

	calls := runner.Calls()
	if len(calls) != 1 || calls[0].Program != "heif-convert" {
		t.Fatalf("calls = %v", calls)
	}
	if calls[0].Args[0] != "-q" || calls[0].Args[1] != "95" {
		t.Errorf("default quality not passed: %v", calls[0].Args)
	}

	// original kept by default
	testutil.AssertExists(t, fs, entry.Path)
}

func TestConvert_FallsBackToSecondMethod(t *testing.T) {
	fs, entry := setup(t)
	runner := toolRunner(fs, "magick")
	c := newConverter(t, fs, runner, Options{Quality: 80})

	res := c.Convert(context.Background(), entry)
	if !res.Converted {
		t.Fatalf("expected conversion by magick, got %+v", res)
	}

	calls := runner.Calls()
	if len(calls) != 2 || calls[1].Program != "magick" {
		t.Fatalf("calls = %v", calls)
	}
	if calls[1].Args[2] != "80" {
		t.Errorf("quality arg = %q, want 80", calls[1].Args[2])
	}
}

func TestConvert_AllMethodsFail(t *testing.T) {
	fs, entry := setup(t)
	c := newConverter(t, fs, toolRunner(fs), Options{})

	res := c.Convert(context.Background(), entry)
	if res.Converted {
		t.Fatal("expected no conversion")
	}

	var convErr *domain.ConversionError
	if !errors.As(res.Err, &convErr) {
		t.Fatalf("expected ConversionError, got %v", res.Err)
	}
	if !domain.IsExternalToolError(res.Err) {
		t.Error("ConversionError should wrap the tool errors")
	}

	// fallback: original goes to the executor
	if res.Output != entry {
		t.Errorf("Output = %+v, want original", res.Output)
	}
	testutil.AssertNotExists(t, fs, "/photos/2024/IMG_1.jpg")
}

func TestConvert_EmptyOutputIsFailure(t *testing.T) {
	fs, entry := setup(t)
	runner := &bridge.FakeRunner{Handler: func(call bridge.Call) (*bridge.Result, error) {
		out := call.Args[len(call.Args)-1]
		return &bridge.Result{}, afero.WriteFile(fs, out, nil, 0644)
	}}
	c := newConverter(t, fs, runner, Options{Tools: []string{"heif-convert"}})

	res := c.Convert(context.Background(), entry)
	if res.Converted || res.Err == nil {
		t.Fatalf("empty output should fail, got %+v", res)
	}
	testutil.AssertNotExists(t, fs, "/photos/2024/IMG_1.jpg")
}

func TestConvert_RemoveOriginal(t *testing.T) {
	fs, entry := setup(t)
	c := newConverter(t, fs, toolRunner(fs, "heif-convert"), Options{RemoveOriginal: true})

	res := c.Convert(context.Background(), entry)
	if !res.Converted {
		t.Fatalf("Convert() = %+v", res)
	}
	testutil.AssertNotExists(t, fs, entry.Path)
	testutil.AssertExists(t, fs, res.Output.Path)
}

func TestConvert_NonHEICPassesThrough(t *testing.T) {
	fs := testutil.MemFs(t, root)
	runner := toolRunner(fs, "heif-convert")
	c := newConverter(t, fs, runner, Options{})

	entry := domain.FileEntry{Path: "/photos/a.png", RelPath: "a.png", Size: 3}
	res := c.Convert(context.Background(), entry)
	if res.Converted || res.Err != nil || res.Output != entry {
		t.Errorf("Convert() = %+v", res)
	}
	if len(runner.Calls()) != 0 {
		t.Error("no tool should run for non-HEIC files")
	}
}

func TestConvertAll_KeepsOrderAndFallback(t *testing.T) {
	fs := testutil.MemFs(t, root)
	paths := testutil.WriteFiles(t, fs, root,
		testutil.File{Name: "a.jpg", Size: 1},
		testutil.File{Name: "b.heic", Size: 1},
	)
	entries := []domain.FileEntry{
		{Path: paths[0], RelPath: "a.jpg", Size: 1},
		{Path: paths[1], RelPath: "b.heic", Size: 1},
	}

	c := newConverter(t, fs, toolRunner(fs), Options{})
	results, err := c.ConvertAll(context.Background(), entries)
	if err != nil {
		t.Fatalf("ConvertAll() error = %v", err)
	}

	outs := Outputs(results)
	if len(outs) != 2 || outs[0].RelPath != "a.jpg" || outs[1].RelPath != "b.heic" {
		t.Errorf("Outputs() = %+v", outs)
	}

	converted, failed := Stats(results)
	if converted != 0 || failed != 1 {
		t.Errorf("Stats() = %d, %d; want 0, 1", converted, failed)
	}
}

func TestConvertAll_Cancelled(t *testing.T) {
	fs, entry := setup(t)
	c := newConverter(t, fs, toolRunner(fs, "heif-convert"), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := c.ConvertAll(ctx, []domain.FileEntry{entry})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestOutputs_ReplacesStaleJPEG(t *testing.T) {
	stale := domain.FileEntry{Path: "/photos/IMG_1.jpg", RelPath: "IMG_1.jpg", Size: 5}
	fresh := domain.FileEntry{Path: "/photos/IMG_1.jpg", RelPath: "IMG_1.jpg", Size: 9}
	heic := domain.FileEntry{Path: "/photos/IMG_1.HEIC", RelPath: "IMG_1.HEIC"}

	outs := Outputs([]domain.ConversionResult{
		{Original: heic, Output: fresh, Converted: true},
		{Original: stale, Output: stale},
	})
	if len(outs) != 1 || outs[0].Size != 9 {
		t.Errorf("Outputs() = %+v, want only the converted entry", outs)
	}
}

func TestNewConverter_Validation(t *testing.T) {
	fs := afero.NewMemMapFs()
	runner := &bridge.FakeRunner{}

	tests := []struct {
		name string
		opts Options
	}{
		{"unknown tool", Options{Tools: []string{"gimp"}}},
		{"no tools", Options{Tools: []string{}}},
		{"bad quality", Options{Tools: []string{"magick"}, Quality: 101}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewConverter(fs, runner, tt.opts); !errors.Is(err, domain.ErrConfigInvalid) {
				t.Errorf("expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestIsHEICAndOutputPath(t *testing.T) {
	for _, name := range []string{"a.heic", "a.HEIC", "b.heif"} {
		if !IsHEIC(name) {
			t.Errorf("IsHEIC(%q) = false", name)
		}
	}
	if IsHEIC("a.jpg") || IsHEIC("heic") {
		t.Error("IsHEIC matched a non-HEIC name")
	}
	if got := OutputPath("/p/IMG_1.HEIC"); got != "/p/IMG_1.jpg" {
		t.Errorf("OutputPath() = %q", got)
	}
}

func TestConvertAll_SameBaseNameGetsSuffix(t *testing.T) {
	fs := testutil.MemFs(t, root)
	paths := testutil.WriteFiles(t, fs, root,
		testutil.File{Name: "IMG_1.HEIC", Size: 1},
		testutil.File{Name: "IMG_1.heif", Size: 1},
	)
	entries := []domain.FileEntry{
		{Path: paths[0], RelPath: "IMG_1.HEIC", Size: 1},
		{Path: paths[1], RelPath: "IMG_1.heif", Size: 1},
	}

	c := newConverter(t, fs, toolRunner(fs, "heif-convert"), Options{})
	results, err := c.ConvertAll(context.Background(), entries)
	if err != nil {
		t.Fatalf("ConvertAll() error = %v", err)
	}

	outs := Outputs(results)
	if len(outs) != 2 || outs[0].RelPath != "IMG_1.jpg" || outs[1].RelPath != "IMG_1_1.jpg" {
		t.Fatalf("Outputs() = %+v", outs)
	}
	testutil.AssertExists(t, fs, "/photos/IMG_1_1.jpg")

	src := Sources(results)
	if src["/photos/IMG_1.jpg"].Path != paths[0] || src["/photos/IMG_1_1.jpg"].Path != paths[1] {
		t.Errorf("Sources() = %+v", src)
	}
}

func TestConvert_OverwritesUnclaimedJPEG(t *testing.T) {
	fs, entry := setup(t)
	testutil.WriteFiles(t, fs, root, testutil.File{Name: "2024/IMG_1.jpg", Size: 3})

	c := newConverter(t, fs, toolRunner(fs, "heif-convert"), Options{})
	res := c.Convert(context.Background(), entry)
	if !res.Converted || res.Output.Path != "/photos/2024/IMG_1.jpg" {
		t.Fatalf("Convert() = %+v", res)
	}
	if res.Output.Size != int64(len("jpeg-data")) {
		t.Errorf("Output.Size = %d, existing file not replaced", res.Output.Size)
	}
}

func TestConvert_FailureKeepsExistingJPEG(t *testing.T) {
	fs, entry := setup(t)
	testutil.WriteFiles(t, fs, root, testutil.File{Name: "2024/IMG_1.jpg", Size: 3})

	c := newConverter(t, fs, toolRunner(fs), Options{})
	if res := c.Convert(context.Background(), entry); res.Converted {
		t.Fatalf("Convert() = %+v", res)
	}
	testutil.AssertExists(t, fs, "/photos/2024/IMG_1.jpg")
}
