package planner

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Ning0612/Phonesync/internal/domain"
)

// Planner aggregates selected files into a transfer plan
type Planner interface {
	Plan(entries []domain.FileEntry) domain.TransferPlan
}

// DefaultPlanner estimates duration from a fixed assumed transfer rate
type DefaultPlanner struct {
	// Rate is the assumed throughput in bytes per second
	Rate int64
}

// NewDefaultPlanner creates a planner assuming rate bytes per second
func NewDefaultPlanner(rate int64) *DefaultPlanner {
	return &DefaultPlanner{Rate: rate}
}

// Plan implements Planner
func (p *DefaultPlanner) Plan(entries []domain.FileEntry) domain.TransferPlan {
	return Plan(entries, p.Rate)
}

// Plan is a pure aggregation of entries: count, summed size and the
// estimated duration at rate bytes per second. A non-positive rate yields a
// zero estimate.
func Plan(entries []domain.FileEntry, rate int64) domain.TransferPlan {
	total := domain.TotalSize(entries)
	return domain.TransferPlan{
		FileCount:         len(entries),
		TotalBytes:        total,
		EstimatedDuration: Estimate(total, rate),
		Entries:           entries,
	}
}

// Estimate returns how long total bytes take at rate bytes per second
func Estimate(total, rate int64) time.Duration {
	if rate <= 0 || total <= 0 {
		return 0
	}
	// whole seconds stay exact; only the remainder goes through float
	secs := total / rate
	rem := total % rate
	return time.Duration(secs)*time.Second + time.Duration(float64(rem)/float64(rate)*float64(time.Second))
}

// Summary renders the plan for the confirmation prompt
func Summary(plan domain.TransferPlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Files to transfer: %d\n", plan.FileCount)
	fmt.Fprintf(&b, "Total size:        %s\n", humanize.Bytes(uint64(plan.TotalBytes)))
	fmt.Fprintf(&b, "Estimated time:    %s", FormatDuration(plan.EstimatedDuration))
	return b.String()
}

// FormatDuration renders d rounded to whole seconds, "<1s" for shorter
// non-zero durations
func FormatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Second:
		return "<1s"
	}
	return d.Round(time.Second).String()
}
