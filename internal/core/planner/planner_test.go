package planner

import (
	"strings"
	"testing"
	"time"

	"github.com/Ning0612/Phonesync/internal/domain"
)

const mb = 1_000_000

func entries(sizes ...int64) []domain.FileEntry {
	out := make([]domain.FileEntry, len(sizes))
	for i, s := range sizes {
		out[i] = domain.FileEntry{RelPath: string(rune('a'+i)) + ".jpg", Size: s}
	}
	return out
}

func TestPlan_ThreeFiles(t *testing.T) {
	plan := Plan(entries(1*mb, 2*mb, 3*mb), 1*mb)

	if plan.FileCount != 3 {
		t.Errorf("FileCount = %d, want 3", plan.FileCount)
	}
	if plan.TotalBytes != 6*mb {
		t.Errorf("TotalBytes = %d, want %d", plan.TotalBytes, 6*mb)
	}
	if plan.EstimatedDuration != 6*time.Second {
		t.Errorf("EstimatedDuration = %v, want 6s", plan.EstimatedDuration)
	}
	if len(plan.Entries) != plan.FileCount {
		t.Errorf("len(Entries) = %d, want %d", len(plan.Entries), plan.FileCount)
	}
}

func TestPlan_Empty(t *testing.T) {
	plan := Plan(nil, mb)
	if !plan.IsEmpty() {
		t.Error("plan of no entries should be empty")
	}
	if plan.TotalBytes != 0 || plan.EstimatedDuration != 0 {
		t.Errorf("unexpected plan %+v", plan)
	}
}

func TestPlan_NonPositiveRate(t *testing.T) {
	for _, rate := range []int64{0, -5} {
		plan := Plan(entries(10), rate)
		if plan.EstimatedDuration != 0 {
			t.Errorf("rate %d: EstimatedDuration = %v, want 0", rate, plan.EstimatedDuration)
		}
		if plan.TotalBytes != 10 {
			t.Errorf("rate %d: TotalBytes = %d, want 10", rate, plan.TotalBytes)
		}
	}
}

func TestEstimate(t *testing.T) {
	tests := []struct {
		total, rate int64
		want        time.Duration
	}{
		{6 * mb, mb, 6 * time.Second},
		{mb / 2, mb, 500 * time.Millisecond},
		{3, 2, 1500 * time.Millisecond},
		{1 << 40, 1 << 20, (1 << 20) * time.Second},
	}

	for _, tt := range tests {
		if got := Estimate(tt.total, tt.rate); got != tt.want {
			t.Errorf("Estimate(%d, %d) = %v, want %v", tt.total, tt.rate, got, tt.want)
		}
	}
}

func TestDefaultPlanner(t *testing.T) {
	var p Planner = NewDefaultPlanner(2 * mb)
	plan := p.Plan(entries(4 * mb))
	if plan.EstimatedDuration != 2*time.Second {
		t.Errorf("EstimatedDuration = %v, want 2s", plan.EstimatedDuration)
	}
}

func TestSummary(t *testing.T) {
	s := Summary(Plan(entries(1*mb, 2*mb, 3*mb), mb))

	for _, want := range []string{"Files to transfer: 3", "6.0 MB", "6s"} {
		if !strings.Contains(s, want) {
			t.Errorf("Summary() missing %q:\n%s", want, s)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := map[time.Duration]string{
		0:                       "0s",
		300 * time.Millisecond:  "<1s",
		1500 * time.Millisecond: "2s",
		90 * time.Second:        "1m30s",
	}
	for d, want := range tests {
		if got := FormatDuration(d); got != want {
			t.Errorf("FormatDuration(%v) = %q, want %q", d, got, want)
		}
	}
}
