package automation

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestSQLiteHistoryRoundTrip(t *testing.T) {
	t.Parallel()
	h, err := OpenSQLiteHistory(filepath.Join(t.TempDir(), "automations.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.Close()

	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	records := []ExecutionRecord{
		{At: base, OK: true, DurationMs: 12},
		{At: base.Add(time.Minute), OK: false, DurationMs: 30_000, Error: "timeout"},
		{At: base.Add(2 * time.Minute), OK: true, DurationMs: 8},
	}
	for _, rec := range records {
		if err := h.Save(ctx, "daily-report.yml", rec); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if err := h.Save(ctx, "other.yml", ExecutionRecord{At: base, OK: true, DurationMs: 1}); err != nil {
		t.Fatalf("save other: %v", err)
	}

	got, err := h.Recent(ctx, "daily-report.yml", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3 (got %v)", len(got), got)
	}
	if !got[0].At.Equal(base) || !got[2].At.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("records not newest-last: %v", got)
	}
	if got[1].OK || got[1].Error != "timeout" {
		t.Fatalf("failed record not preserved: %+v", got[1])
	}
}

func TestSQLiteHistoryRecentHonorsLimit(t *testing.T) {
	t.Parallel()
	h, err := OpenSQLiteHistory(filepath.Join(t.TempDir(), "automations.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.Close()

	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		rec := ExecutionRecord{At: base.Add(time.Duration(i) * time.Second), OK: true, DurationMs: int64(i)}
		if err := h.Save(ctx, "a.yml", rec); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	got, err := h.Recent(ctx, "a.yml", 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	// The 3 newest, oldest of those first.
	if got[0].DurationMs != 7 || got[2].DurationMs != 9 {
		t.Fatalf("unexpected window: %v", got)
	}
}
