package sampler

import (
	"context"
	"os"
	"runtime"
	"testing"

	"github.com/Dicklesworthstone/pcinfo/internal/model"
)

func TestSnapshot(t *testing.T) {
	got, err := New().Snapshot(context.Background())
	if err != nil {
		// containers commonly hide some host facts; the rest must still be set
		t.Logf("partial snapshot: %v", err)
	}

	if got.CPUCount <= 0 {
		t.Fatalf("expected positive cpu count, got %d", got.CPUCount)
	}
	if got.GoVersion != runtime.Version() {
		t.Fatalf("go version = %q, want %q", got.GoVersion, runtime.Version())
	}
	if got.Architecture == "" {
		t.Fatalf("expected architecture to be set")
	}
	if got.TakenAt.IsZero() {
		t.Fatalf("expected timestamp to be set")
	}
}

func TestProcesses(t *testing.T) {
	s := New()
	ctx := context.Background()

	// two passes: the first reports lifetime averages, the second deltas
	for pass := 0; pass < 2; pass++ {
		rows, err := s.Processes(ctx)
		if err != nil {
			t.Fatalf("unexpected error = %v", err)
		}
		if len(rows) == 0 {
			t.Fatalf("expected at least one process")
		}

		self := int32(os.Getpid())
		found := false
		for i, r := range rows {
			if r.PID == self {
				found = true
			}
			if r.Name == model.IdleProcessName {
				t.Fatalf("idle sentinel must not be listed")
			}
			if r.CPUPercent < 0 {
				t.Fatalf("negative cpu for pid %d: %f", r.PID, r.CPUPercent)
			}
			if i > 0 && rows[i-1].CPUPercent < r.CPUPercent {
				t.Fatalf("rows not sorted at %d: %f < %f", i, rows[i-1].CPUPercent, r.CPUPercent)
			}
		}
		if !found {
			t.Fatalf("own pid %d not listed", self)
		}

		listed := make(map[int32]bool, len(rows))
		for _, r := range rows {
			listed[r.PID] = true
		}
		for pid := range s.tracked {
			if !listed[pid] {
				t.Fatalf("pid %d tracked but not listed", pid)
			}
		}
	}
}

func TestAlive(t *testing.T) {
	s := New()
	ctx := context.Background()

	ok, err := s.Alive(ctx, int32(os.Getpid()))
	if err != nil {
		t.Fatalf("unexpected error = %v", err)
	}
	if !ok {
		t.Fatalf("expected own pid to be alive")
	}

	ok, _ = s.Alive(ctx, 1<<30)
	if ok {
		t.Fatalf("expected pid %d to be absent", 1<<30)
	}
}

func TestRoundGiB(t *testing.T) {
	tests := []struct {
		in   uint64
		want int
	}{
		{0, 0},
		{gib / 2, 1},
		{gib/2 - 1, 0},
		{16 * gib, 16},
		{15*gib + gib*3/4, 16},
	}
	for _, tt := range tests {
		if got := roundGiB(tt.in); got != tt.want {
			t.Errorf("roundGiB(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
