package db

import (
	"testing"
	"time"

	"github.com/wesm/github-mirror/internal/models"
)

func mustOpen(t *testing.T) *DB {
	t.Helper()
	d, err := New(":memory:")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := d.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return d
}

func TestLastSyncTime(t *testing.T) {
	d := mustOpen(t)

	got, err := d.GetLastSyncTime("api.github.com")
	if err != nil {
		t.Fatalf("GetLastSyncTime() error = %v", err)
	}
	if !got.IsZero() {
		t.Errorf("GetLastSyncTime() = %v, want zero", got)
	}

	first := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)
	for _, ts := range []time.Time{first, second} {
		if err := d.UpdateLastSyncTime("api.github.com", ts); err != nil {
			t.Fatalf("UpdateLastSyncTime() error = %v", err)
		}
	}
	got, err = d.GetLastSyncTime("api.github.com")
	if err != nil {
		t.Fatalf("GetLastSyncTime() error = %v", err)
	}
	if !got.Equal(second) {
		t.Errorf("GetLastSyncTime() = %v, want %v", got, second)
	}
}

func TestRecentRuns(t *testing.T) {
	d := mustOpen(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		run := &models.SyncRun{
			ID:         id,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FinishedAt: base.Add(time.Duration(i)*time.Minute + time.Second),
			FullPurge:  i == 2,
			Cost:       i + 1,
			Remaining:  5000 - i,
			NewItems:   i,
		}
		if err := d.SaveRun(run); err != nil {
			t.Fatalf("SaveRun(%s) error = %v", id, err)
		}
	}

	runs, err := d.RecentRuns(2)
	if err != nil {
		t.Fatalf("RecentRuns() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}
	if runs[0].ID != "c" || runs[1].ID != "b" {
		t.Errorf("order = %s, %s; want c, b", runs[0].ID, runs[1].ID)
	}
	if !runs[0].FullPurge || runs[0].Cost != 3 || runs[0].Remaining != 4998 {
		t.Errorf("runs[0] = %+v", runs[0])
	}
	if !runs[0].StartedAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("StartedAt = %v", runs[0].StartedAt)
	}
}
