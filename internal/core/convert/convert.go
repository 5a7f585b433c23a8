// Package convert turns HEIC images into JPEG before transfer.
package convert

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/Ning0612/Phonesync/internal/bridge"
	"github.com/Ning0612/Phonesync/internal/domain"
	"github.com/Ning0612/Phonesync/internal/logger"
)

// DefaultQuality is the JPEG quality used when none is configured
const DefaultQuality = 95

// Method is one external conversion tool
type Method struct {
	Name string
	// Args builds the argument list converting in to out at quality
	Args func(in, out string, quality int) []string
}

// knownMethods maps tool names to their invocation
var knownMethods = map[string]Method{
	"heif-convert": {
		Name: "heif-convert",
		Args: func(in, out string, q int) []string {
			return []string{"-q", strconv.Itoa(q), in, out}
		},
	},
	"magick": {
		Name: "magick",
		Args: func(in, out string, q int) []string {
			return []string{in, "-quality", strconv.Itoa(q), out}
		},
	},
	// ImageMagick 6
	"convert": {
		Name: "convert",
		Args: func(in, out string, q int) []string {
			return []string{in, "-quality", strconv.Itoa(q), out}
		},
	},
}

// LookupMethod returns the method registered under name
func LookupMethod(name string) (Method, bool) {
	m, ok := knownMethods[name]
	return m, ok
}

// Options configures a Converter
type Options struct {
	// Tools lists method names in the order they are tried
	Tools []string

	// Quality is the JPEG quality, 1..100
	Quality int

	// RemoveOriginal deletes the HEIC file after a successful conversion
	RemoveOriginal bool
}

// Converter converts HEIC files with a chain of external tools. The first
// tool that exits cleanly and leaves a non-empty output wins.
type Converter struct {
	fs      afero.Fs
	runner  bridge.Runner
	methods []Method
	opts    Options
}

// NewConverter creates a converter for the source filesystem fs
func NewConverter(fs afero.Fs, runner bridge.Runner, opts Options) (*Converter, error) {
	if opts.Quality == 0 {
		opts.Quality = DefaultQuality
	}
	if opts.Quality < 1 || opts.Quality > 100 {
		return nil, fmt.Errorf("%w: quality %d out of range", domain.ErrConfigInvalid, opts.Quality)
	}

	methods := make([]Method, 0, len(opts.Tools))
	for _, name := range opts.Tools {
		m, ok := LookupMethod(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown conversion tool %q", domain.ErrConfigInvalid, name)
		}
		methods = append(methods, m)
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("%w: no conversion tools configured", domain.ErrConfigInvalid)
	}

	return &Converter{fs: fs, runner: runner, methods: methods, opts: opts}, nil
}

// IsHEIC reports whether name has a HEIC/HEIF extension
func IsHEIC(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".heic", ".heif":
		return true
	}
	return false
}

// OutputPath returns the JPEG path written for a HEIC file
func OutputPath(p string) string {
	return strings.TrimSuffix(p, filepath.Ext(p)) + ".jpg"
}

// Convert converts one entry. Non-HEIC entries pass through untouched. When
// every method fails the result carries a *domain.ConversionError and its
// Output is the original entry.
func (c *Converter) Convert(ctx context.Context, entry domain.FileEntry) domain.ConversionResult {
	return c.convert(ctx, entry, nil)
}

// convert writes entry's JPEG to the first output path not in claimed and
// records the path there.
func (c *Converter) convert(ctx context.Context, entry domain.FileEntry, claimed map[string]bool) domain.ConversionResult {
	res := domain.ConversionResult{Original: entry, Output: entry}
	if !IsHEIC(entry.Path) {
		return res
	}

	log := logger.Get().With("path", entry.RelPath)
	out := c.freeOutput(entry.Path, claimed)
	existed, _ := afero.Exists(c.fs, out)
	if existed {
		log.Warn("overwriting existing file with converted jpg", "output", filepath.Base(out))
	}

	var errs []error
	for _, m := range c.methods {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		err := c.try(ctx, m, entry.Path, out)
		if err == nil {
			if claimed != nil {
				claimed[out] = true
			}
			res.Output = c.outputEntry(entry, out)
			res.Converted = true
			log.Info("converted to jpg", "tool", m.Name, "output", res.Output.RelPath)
			c.removeOriginal(entry)
			return res
		}

		log.Debug("conversion method failed", "tool", m.Name, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", m.Name, err))
		if !existed {
			_ = c.fs.Remove(out)
		}
	}

	res.Err = &domain.ConversionError{Path: entry.Path, Err: errors.Join(errs...)}
	log.Warn("conversion failed, transferring original", "error", res.Err)
	return res
}

// freeOutput returns OutputPath(p), or IMG_1_2.jpg style variants of it
// when another HEIC of the batch (IMG_1.heif next to IMG_1.HEIC) already
// claimed that name.
func (c *Converter) freeOutput(p string, claimed map[string]bool) string {
	out := OutputPath(p)
	if !claimed[out] {
		return out
	}
	base := strings.TrimSuffix(out, ".jpg")
	for i := 1; ; i++ {
		candidate := base + "_" + strconv.Itoa(i) + ".jpg"
		if claimed[candidate] {
			continue
		}
		if exists, _ := afero.Exists(c.fs, candidate); !exists {
			return candidate
		}
	}
}

func (c *Converter) try(ctx context.Context, m Method, in, out string) error {
	if _, err := c.runner.Run(ctx, m.Name, m.Args(in, out, c.opts.Quality)...); err != nil {
		return err
	}

	info, err := c.fs.Stat(out)
	if err != nil {
		return fmt.Errorf("no output written: %w", err)
	}
	if info.Size() == 0 {
		return errors.New("empty output written")
	}
	return nil
}

// outputEntry describes the new JPEG. It keeps the original modification
// time so watermark comparisons treat both files alike.
func (c *Converter) outputEntry(orig domain.FileEntry, out string) domain.FileEntry {
	if err := c.fs.Chtimes(out, orig.ModTime, orig.ModTime); err != nil {
		logger.Get().Debug("could not preserve mtime", "path", out, "error", err)
	}

	entry := domain.FileEntry{
		Path:    out,
		RelPath: path.Join(path.Dir(orig.RelPath), path.Base(filepath.ToSlash(out))),
		ModTime: orig.ModTime,
	}
	if info, err := c.fs.Stat(out); err == nil {
		entry.Size = info.Size()
	}
	return entry
}

func (c *Converter) removeOriginal(entry domain.FileEntry) {
	if !c.opts.RemoveOriginal {
		return
	}
	if err := c.fs.Remove(entry.Path); err != nil {
		logger.Get().Warn("failed to remove original", "path", entry.RelPath, "error", err)
	}
}

// ConvertAll converts every entry in order. It returns early with the
// context error if ctx is cancelled; entries not reached are absent from
// the results.
func (c *Converter) ConvertAll(ctx context.Context, entries []domain.FileEntry) ([]domain.ConversionResult, error) {
	results := make([]domain.ConversionResult, 0, len(entries))
	claimed := make(map[string]bool)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, c.convert(ctx, e, claimed))
	}
	return results, nil
}

// Outputs returns the entries to hand to the transfer executor, in order.
// A pre-existing file at the path of a converted output is replaced by the
// converted entry.
func Outputs(results []domain.ConversionResult) []domain.FileEntry {
	converted := make(map[string]bool)
	for _, r := range results {
		if r.Converted {
			converted[r.Output.Path] = true
		}
	}

	out := make([]domain.FileEntry, 0, len(results))
	for _, r := range results {
		if !r.Converted && converted[r.Output.Path] {
			continue
		}
		out = append(out, r.Output)
	}
	return out
}

// Sources maps the path of every converted output to the HEIC it was
// made from
func Sources(results []domain.ConversionResult) map[string]domain.FileEntry {
	src := make(map[string]domain.FileEntry)
	for _, r := range results {
		if r.Converted {
			src[r.Output.Path] = r.Original
		}
	}
	return src
}

// Stats counts converted and failed results
func Stats(results []domain.ConversionResult) (converted, failed int) {
	for _, r := range results {
		switch {
		case r.Converted:
			converted++
		case r.Err != nil:
			failed++
		}
	}
	return converted, failed
}
