package results

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/scorecast/scorecast/internal/outcome"
)

func intp(v int) *int { return &v }

func settled(t *testing.T, id string, home, away int, status EntityStatus, fetchedAt time.Time) EntityResult {
	t.Helper()
	set, err := outcome.Derive(home, away, nil, nil, nil)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	fin := fetchedAt
	return EntityResult{
		EntityID:    id,
		Status:      status,
		ScheduledAt: fetchedAt.Add(-3 * time.Hour),
		HomeScore:   intp(home),
		AwayScore:   intp(away),
		Outcomes:    &set,
		FinishedAt:  &fin,
		FetchedAt:   fetchedAt,
	}
}

func TestMemoryStore_TrackAndStatus(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	kickoff := time.Date(2026, 8, 1, 15, 0, 0, 0, time.UTC)

	if err := s.Track(ctx, "m1", kickoff); err != nil {
		t.Fatalf("Track: %v", err)
	}
	// Idempotent.
	if err := s.Track(ctx, "m1", kickoff.Add(time.Hour)); err != nil {
		t.Fatalf("Track #2: %v", err)
	}

	r, err := s.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if r.Status != StatusScheduled || !r.ScheduledAt.Equal(kickoff) {
		t.Fatalf("tracked: got %+v", r)
	}

	if err := s.UpdateStatus(ctx, "m1", StatusInPlay, kickoff.Add(10*time.Minute)); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	r, _ = s.Get(ctx, "m1")
	if r.Status != StatusInPlay {
		t.Fatalf("status: got %s", r.Status)
	}
	if err := s.UpdateStatus(ctx, "missing", StatusInPlay, kickoff); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown entity: got %v", err)
	}
}

func TestMemoryStore_SaveSettlementIdempotent(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 20, 0, 0, 0, time.UTC)

	r := settled(t, "m1", 2, 1, StatusFinished, now)
	if err := s.Track(ctx, "m1", r.ScheduledAt); err != nil {
		t.Fatalf("Track: %v", err)
	}

	changed, err := s.SaveSettlement(ctx, r)
	if err != nil {
		t.Fatalf("SaveSettlement: %v", err)
	}
	if !changed {
		t.Fatalf("first save must report changed")
	}

	// Identical re-ingestion: no semantic change, freshness still moves.
	r2 := settled(t, "m1", 2, 1, StatusFinished, now.Add(time.Hour))
	changed, err = s.SaveSettlement(ctx, r2)
	if err != nil {
		t.Fatalf("SaveSettlement #2: %v", err)
	}
	if changed {
		t.Fatalf("identical re-ingestion must be a no-op")
	}

	got, _ := s.Get(ctx, "m1")
	if !got.FetchedAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("freshness must refresh: got %v", got.FetchedAt)
	}
	if *got.HomeScore != 2 || *got.AwayScore != 1 {
		t.Fatalf("scores: got %d-%d", *got.HomeScore, *got.AwayScore)
	}
	if !got.Settled() {
		t.Fatalf("entity must be settled")
	}
}

func TestMemoryStore_SaveSettlementRejectsPartial(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 20, 0, 0, 0, time.UTC)

	if err := s.Track(ctx, "m1", now.Add(-2*time.Hour)); err != nil {
		t.Fatalf("Track: %v", err)
	}

	// One-sided scores are invalid.
	bad := EntityResult{
		EntityID:    "m1",
		Status:      StatusFinished,
		ScheduledAt: now.Add(-2 * time.Hour),
		HomeScore:   intp(2),
		FetchedAt:   now,
	}
	if _, err := s.SaveSettlement(ctx, bad); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("one-sided scores: got %v", err)
	}

	// Scores without outcomes are not a settlement.
	bad = EntityResult{
		EntityID:    "m1",
		Status:      StatusFinished,
		ScheduledAt: now.Add(-2 * time.Hour),
		HomeScore:   intp(2),
		AwayScore:   intp(0),
		FetchedAt:   now,
	}
	if _, err := s.SaveSettlement(ctx, bad); !errors.Is(err, ErrNotSettled) {
		t.Fatalf("settlement without outcomes: got %v", err)
	}
}

func TestMemoryStore_Selectors(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 20, 0, 0, 0, time.UTC)

	// m1: finished 3h ago, settled.
	if err := s.Track(ctx, "m1", now.Add(-3*time.Hour)); err != nil {
		t.Fatalf("Track: %v", err)
	}
	if _, err := s.SaveSettlement(ctx, settled(t, "m1", 1, 0, StatusFinished, now)); err != nil {
		t.Fatalf("SaveSettlement: %v", err)
	}
	// m2: kicked off 2h ago, still unsettled -> due.
	if err := s.Track(ctx, "m2", now.Add(-2*time.Hour)); err != nil {
		t.Fatalf("Track: %v", err)
	}
	// m3: kicked off 3h ago, still "in_play" -> stuck and due.
	if err := s.Track(ctx, "m3", now.Add(-3*time.Hour)); err != nil {
		t.Fatalf("Track: %v", err)
	}
	if err := s.UpdateStatus(ctx, "m3", StatusInPlay, now.Add(-2*time.Hour)); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	// m4: kicks off in the future -> neither.
	if err := s.Track(ctx, "m4", now.Add(time.Hour)); err != nil {
		t.Fatalf("Track: %v", err)
	}

	due, err := s.ListDueUnsettled(ctx, now, time.Hour, 10)
	if err != nil {
		t.Fatalf("ListDueUnsettled: %v", err)
	}
	if len(due) != 2 || due[0].EntityID != "m3" || due[1].EntityID != "m2" {
		t.Fatalf("due: got %+v", due)
	}

	stuck, err := s.ListStuck(ctx, now, 130*time.Minute, 10)
	if err != nil {
		t.Fatalf("ListStuck: %v", err)
	}
	if len(stuck) != 1 || stuck[0].EntityID != "m3" {
		t.Fatalf("stuck: got %+v", stuck)
	}

	// Bounded batches.
	due, err = s.ListDueUnsettled(ctx, now, time.Hour, 1)
	if err != nil {
		t.Fatalf("ListDueUnsettled: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("limit: got %d", len(due))
	}
}

func TestMemoryStore_OutcomeBackfill(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 20, 0, 0, 0, time.UTC)

	// Simulate a legacy row: scores without outcomes, written directly.
	if err := s.Track(ctx, "m1", now.Add(-3*time.Hour)); err != nil {
		t.Fatalf("Track: %v", err)
	}
	r, _ := s.Get(ctx, "m1")
	r.HomeScore = intp(2)
	r.AwayScore = intp(2)
	r.Status = StatusFinished
	s.Seed(r)

	missing, err := s.ListMissingOutcomes(ctx, 10)
	if err != nil {
		t.Fatalf("ListMissingOutcomes: %v", err)
	}
	if len(missing) != 1 || missing[0].EntityID != "m1" {
		t.Fatalf("missing: got %+v", missing)
	}

	set, err := outcome.Derive(2, 2, nil, nil, nil)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if err := s.SetOutcomes(ctx, "m1", set, now); err != nil {
		t.Fatalf("SetOutcomes: %v", err)
	}

	got, _ := s.Get(ctx, "m1")
	if !got.Settled() {
		t.Fatalf("backfilled entity must be settled")
	}
	if missing, _ := s.ListMissingOutcomes(ctx, 10); len(missing) != 0 {
		t.Fatalf("missing after backfill: got %+v", missing)
	}

	// Backfilling a row with no scores fails.
	if err := s.Track(ctx, "m2", now.Add(-time.Hour)); err != nil {
		t.Fatalf("Track: %v", err)
	}
	if err := s.SetOutcomes(ctx, "m2", set, now); !errors.Is(err, ErrNotSettled) {
		t.Fatalf("SetOutcomes without scores: got %v", err)
	}
}
