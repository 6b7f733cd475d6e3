package slips

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/scorecast/scorecast/internal/outcome"
)

func testSlip(id, owner string, cycleID uint64, submittedAt time.Time) Slip {
	return Slip{
		ID:      id,
		Owner:   owner,
		CycleID: cycleID,
		Predictions: []Prediction{
			{EntityID: "m1", Market: outcome.MarketMoneyline, Selection: outcome.SelectionHome},
			{EntityID: "m2", Market: outcome.MarketTotal, Selection: outcome.SelectionOver, Line: 25},
		},
		SubmittedAt: submittedAt,
	}
}

func TestMemoryStore_CreateValidates(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	if err := s.Create(ctx, testSlip("s1", "alice", 1, now)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, testSlip("s1", "bob", 1, now)); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate: got %v", err)
	}

	bad := testSlip("s2", "bob", 1, now)
	bad.Predictions[0].Selection = outcome.SelectionOver // over on moneyline
	if err := s.Create(ctx, bad); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("invalid selection: got %v", err)
	}

	bad = testSlip("s3", "bob", 1, now)
	bad.Predictions[1].Line = 0 // total without a line
	if err := s.Create(ctx, bad); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("total without line: got %v", err)
	}

	bad = testSlip("s4", "bob", 1, now)
	bad.Predictions[0].Line = 25 // line on moneyline
	if err := s.Create(ctx, bad); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("line on moneyline: got %v", err)
	}
}

func TestMemoryStore_FinalizeEvaluationOneShot(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	if err := s.Create(ctx, testSlip("s1", "alice", 1, now)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rank := 2
	score := Score{CorrectCount: 1, FinalScore: 10, Rank: &rank, EvaluatedAt: now.Add(time.Hour)}

	applied, err := s.FinalizeEvaluation(ctx, "s1", score)
	if err != nil || !applied {
		t.Fatalf("first finalize: applied=%v err=%v", applied, err)
	}
	applied, err = s.FinalizeEvaluation(ctx, "s1", Score{CorrectCount: 2, FinalScore: 20, EvaluatedAt: now.Add(2 * time.Hour)})
	if err != nil || applied {
		t.Fatalf("second finalize must not apply: applied=%v err=%v", applied, err)
	}

	got, _ := s.Get(ctx, "s1")
	if !got.IsEvaluated || got.CorrectCount != 1 || got.FinalScore != 10 || got.Rank == nil || *got.Rank != 2 {
		t.Fatalf("losing write must not overwrite: got %+v", got)
	}

	if _, err := s.FinalizeEvaluation(ctx, "missing", score); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown slip: got %v", err)
	}
}

func TestMemoryStore_FinalizeEvaluationConcurrent(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	if err := s.Create(ctx, testSlip("s1", "alice", 1, now)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	const n = 16
	var wg sync.WaitGroup
	appliedCh := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			applied, err := s.FinalizeEvaluation(ctx, "s1", Score{CorrectCount: 1, FinalScore: 10, EvaluatedAt: now})
			if err != nil {
				t.Errorf("FinalizeEvaluation: %v", err)
				return
			}
			appliedCh <- applied
		}()
	}
	wg.Wait()
	close(appliedCh)

	wins := 0
	for applied := range appliedCh {
		if applied {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("exactly one concurrent finalize must apply, got %d", wins)
	}
}

func TestMemoryStore_ListAndCount(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	if err := s.Create(ctx, testSlip("s2", "bob", 1, now.Add(time.Minute))); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, testSlip("s1", "alice", 1, now)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, testSlip("s3", "carol", 2, now)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	pending, err := s.ListUnevaluated(ctx, 1, 10)
	if err != nil {
		t.Fatalf("ListUnevaluated: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "s1" || pending[1].ID != "s2" {
		t.Fatalf("pending: got %+v", pending)
	}

	if _, err := s.FinalizeEvaluation(ctx, "s1", Score{CorrectCount: 0, EvaluatedAt: now}); err != nil {
		t.Fatalf("FinalizeEvaluation: %v", err)
	}

	total, evaluated, err := s.CountByCycle(ctx, 1)
	if err != nil || total != 2 || evaluated != 1 {
		t.Fatalf("CountByCycle: total=%d evaluated=%d err=%v", total, evaluated, err)
	}
	if pending, _ := s.ListUnevaluated(ctx, 1, 10); len(pending) != 1 || pending[0].ID != "s2" {
		t.Fatalf("pending after finalize: got %+v", pending)
	}
}
