package progress

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
)

const barWidth = 30

// TerminalReporter renders progress to a console. On a terminal it redraws
// a single bar line; otherwise it prints one line per finished file.
type TerminalReporter struct {
	*CallbackReporter

	mu          sync.Mutex
	out         io.Writer
	interactive bool
	drawn       bool
}

// NewTerminalReporter creates a reporter writing to out. Interactive
// redrawing is enabled only when out is a terminal.
func NewTerminalReporter(out io.Writer) *TerminalReporter {
	t := &TerminalReporter{
		out:         out,
		interactive: IsTerminal(out),
	}
	t.CallbackReporter = NewCallbackReporter(t.render)
	return t
}

// IsTerminal reports whether w is a terminal (including Cygwin/MSYS ptys)
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Finish ends the bar line so later output starts on a fresh line
func (t *TerminalReporter) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.drawn {
		fmt.Fprintln(t.out)
		t.drawn = false
	}
}

func (t *TerminalReporter) render(u Update) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.interactive {
		switch u.Type {
		case UpdateComplete:
			fmt.Fprintf(t.out, "[%d/%d] %s (%s)\n", u.FilesCompleted+u.FilesFailed, u.FilesTotal, u.CurrentFile, FormatBytes(u.CurrentTotal))
		case UpdateError:
			fmt.Fprintf(t.out, "[%d/%d] %s FAILED: %v\n", u.FilesCompleted+u.FilesFailed, u.FilesTotal, u.CurrentFile, u.Error)
		}
		return
	}

	if u.Type == UpdateError {
		// keep failures visible above the bar
		fmt.Fprintf(t.out, "\r\033[K%s FAILED: %v\n", u.CurrentFile, u.Error)
	}
	fmt.Fprintf(t.out, "\r\033[K%s", BarLine(u))
	t.drawn = true
}

// BarLine formats u as "[=====>   ]  42.0% 3/7 files 12 MB / 30 MB"
func BarLine(u Update) string {
	done := u.FilesCompleted + u.FilesFailed
	bar := FormatProgress(int64(u.Percent()*10), 1000, barWidth)
	if bar == "" {
		bar = FormatProgress(0, 1, barWidth)
	}
	return fmt.Sprintf("%s %d/%d files %s / %s",
		bar, done, u.FilesTotal, FormatBytes(u.BytesCompleted), FormatBytes(u.BytesTotal))
}
