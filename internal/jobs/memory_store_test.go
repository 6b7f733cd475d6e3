package jobs

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_CreateFinalizeLatest(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	start := time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC)

	rec := ExecutionRecord{
		JobName:     "pipeline",
		ExecutionID: "e1",
		Status:      StatusRunning,
		StartedAt:   start,
	}
	if err := s.CreateRunning(ctx, rec); err != nil {
		t.Fatalf("CreateRunning: %v", err)
	}
	if err := s.CreateRunning(ctx, rec); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("duplicate id: got %v", err)
	}

	if err := s.Finalize(ctx, "pipeline", "e1", StatusCompleted, []byte("ok"), "", time.Minute); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	// Exactly once.
	if err := s.Finalize(ctx, "pipeline", "e1", StatusFailed, nil, "late", time.Minute); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("second finalize: got %v want ErrAlreadyFinalized", err)
	}

	got, err := s.Latest(ctx, "pipeline")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got.Status != StatusCompleted || string(got.Result) != "ok" {
		t.Fatalf("latest: got %+v", got)
	}

	if _, err := s.Latest(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown job: got %v", err)
	}
}

func TestMemoryStore_HistoryNewestFirst(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	start := time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC)

	for i, id := range []string{"e1", "e2", "e3"} {
		if err := s.CreateRunning(ctx, ExecutionRecord{
			JobName:     "pipeline",
			ExecutionID: id,
			Status:      StatusRunning,
			StartedAt:   start.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("CreateRunning %s: %v", id, err)
		}
	}

	hist, err := s.History(ctx, "pipeline", 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 || hist[0].ExecutionID != "e3" || hist[1].ExecutionID != "e2" {
		t.Fatalf("history order: got %+v", hist)
	}
}

func TestMemoryStore_StuckAndCounts(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	start := time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC)

	mk := func(id string, at time.Time) {
		t.Helper()
		if err := s.CreateRunning(ctx, ExecutionRecord{
			JobName:     "ingest",
			ExecutionID: id,
			Status:      StatusRunning,
			StartedAt:   at,
		}); err != nil {
			t.Fatalf("CreateRunning %s: %v", id, err)
		}
	}

	mk("old", start)
	mk("new", start.Add(2*time.Hour))
	if err := s.Finalize(ctx, "ingest", "new", StatusFailed, nil, "x", time.Second); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	stuck, err := s.ListRunningBefore(ctx, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("ListRunningBefore: %v", err)
	}
	if len(stuck) != 1 || stuck[0].ExecutionID != "old" {
		t.Fatalf("stuck: got %+v", stuck)
	}

	completed, failed, err := s.CountSince(ctx, "ingest", start)
	if err != nil {
		t.Fatalf("CountSince: %v", err)
	}
	if completed != 0 || failed != 1 {
		t.Fatalf("counts: got %d/%d want 0/1", completed, failed)
	}

	names, err := s.JobNames(ctx)
	if err != nil {
		t.Fatalf("JobNames: %v", err)
	}
	if len(names) != 1 || names[0] != "ingest" {
		t.Fatalf("names: got %v", names)
	}
}
