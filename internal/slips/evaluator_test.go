package slips

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/scorecast/scorecast/internal/cycles"
	"github.com/scorecast/scorecast/internal/outcome"
	"github.com/scorecast/scorecast/internal/results"
)

type fixture struct {
	slips   *MemoryStore
	results *results.MemoryStore
	cycles  *cycles.MemoryStore
	eval    *Evaluator
	now     time.Time
	end     time.Time
}

// newFixture builds a resolved two-entity cycle where m1 finished 2-1 and m2
// never settled.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		slips:   NewMemoryStore(),
		results: results.NewMemoryStore(),
		cycles:  cycles.NewMemoryStore(),
	}
	day := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	f.end = day.Add(24 * time.Hour)
	f.now = f.end.Add(3 * time.Hour)

	err := f.cycles.Create(ctx, cycles.Cycle{
		ID:        1,
		Entities:  []cycles.Entity{{EntityID: "m1"}, {EntityID: "m2"}},
		StartTime: day,
		EndTime:   f.end,
	})
	if err != nil {
		t.Fatalf("create cycle: %v", err)
	}

	if err := f.results.Track(ctx, "m1", day.Add(time.Hour)); err != nil {
		t.Fatalf("Track m1: %v", err)
	}
	if err := f.results.Track(ctx, "m2", day.Add(time.Hour)); err != nil {
		t.Fatalf("Track m2: %v", err)
	}
	set, err := outcome.Derive(2, 1, nil, nil, nil)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	home, away := 2, 1
	fin := f.end
	if _, err := f.results.SaveSettlement(ctx, results.EntityResult{
		EntityID:    "m1",
		Status:      results.StatusFinished,
		ScheduledAt: day.Add(time.Hour),
		HomeScore:   &home,
		AwayScore:   &away,
		Outcomes:    &set,
		FinishedAt:  &fin,
		FetchedAt:   f.end,
	}); err != nil {
		t.Fatalf("SaveSettlement: %v", err)
	}

	f.eval, err = NewEvaluator(EvaluatorConfig{Now: func() time.Time { return f.now }},
		f.slips, f.results, f.cycles, nil)
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	return f
}

func (f *fixture) resolve(t *testing.T) {
	t.Helper()
	if err := f.cycles.MarkResolved(context.Background(), 1, f.now); err != nil {
		t.Fatalf("MarkResolved: %v", err)
	}
}

func TestEvaluator_RefusesUnresolvedCycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if _, err := f.eval.EvaluateCycle(context.Background(), 1); !errors.Is(err, ErrCycleNotResolved) {
		t.Fatalf("unresolved cycle: got %v", err)
	}
}

func TestEvaluator_ScoresAndCompletes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.resolve(t)
	ctx := context.Background()

	// Two correct picks (m1 home, m1 over 2.5).
	if err := f.slips.Create(ctx, Slip{
		ID: "s1", Owner: "alice", CycleID: 1,
		Predictions: []Prediction{
			{EntityID: "m1", Market: outcome.MarketMoneyline, Selection: outcome.SelectionHome},
			{EntityID: "m1", Market: outcome.MarketTotal, Selection: outcome.SelectionOver, Line: 25},
		},
		SubmittedAt: f.end.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("Create s1: %v", err)
	}
	// One wrong pick, one pick on unsettled m2 (counts wrong, never throws).
	if err := f.slips.Create(ctx, Slip{
		ID: "s2", Owner: "bob", CycleID: 1,
		Predictions: []Prediction{
			{EntityID: "m1", Market: outcome.MarketMoneyline, Selection: outcome.SelectionAway},
			{EntityID: "m2", Market: outcome.MarketBothScore, Selection: outcome.SelectionYes},
		},
		SubmittedAt: f.end.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("Create s2: %v", err)
	}

	rep, err := f.eval.EvaluateCycle(ctx, 1)
	if err != nil {
		t.Fatalf("EvaluateCycle: %v", err)
	}
	if rep.Evaluated != 2 || rep.Total != 2 || !rep.Completed {
		t.Fatalf("report: got %+v", rep)
	}

	s1, _ := f.slips.Get(ctx, "s1")
	if s1.CorrectCount != 2 || s1.FinalScore != 20 {
		t.Fatalf("s1: got %+v", s1)
	}
	if s1.Rank == nil || *s1.Rank != 1 {
		t.Fatalf("s1 rank: got %v", s1.Rank)
	}
	s2, _ := f.slips.Get(ctx, "s2")
	if s2.CorrectCount != 0 || s2.FinalScore != 0 || s2.Rank != nil {
		t.Fatalf("s2: got %+v", s2)
	}

	c, _ := f.cycles.Get(ctx, 1)
	if !c.EvaluationCompleted {
		t.Fatalf("evaluation_completed must be set")
	}
}

func TestEvaluator_SecondRunIsNoOp(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.resolve(t)
	ctx := context.Background()

	if err := f.slips.Create(ctx, Slip{
		ID: "s1", Owner: "alice", CycleID: 1,
		Predictions: []Prediction{
			{EntityID: "m1", Market: outcome.MarketMoneyline, Selection: outcome.SelectionHome},
		},
		SubmittedAt: f.end.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rep, err := f.eval.EvaluateCycle(ctx, 1)
	if err != nil || rep.Evaluated != 1 {
		t.Fatalf("first run: rep=%+v err=%v", rep, err)
	}
	first, _ := f.slips.Get(ctx, "s1")

	rep, err = f.eval.EvaluateCycle(ctx, 1)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if rep.Evaluated != 0 || !rep.Completed {
		t.Fatalf("second run must score nothing: rep=%+v", rep)
	}
	second, _ := f.slips.Get(ctx, "s1")
	if second.CorrectCount != first.CorrectCount || !second.EvaluatedAt.Equal(*first.EvaluatedAt) {
		t.Fatalf("second run must not touch the slip: %+v vs %+v", first, second)
	}
}

func TestEvaluator_SweepResolved(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.resolve(t)
	ctx := context.Background()

	if err := f.slips.Create(ctx, Slip{
		ID: "s1", Owner: "alice", CycleID: 1,
		Predictions: []Prediction{
			{EntityID: "m1", Market: outcome.MarketBothScore, Selection: outcome.SelectionYes},
		},
		SubmittedAt: f.end.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	done, err := f.eval.SweepResolved(ctx, 10)
	if err != nil || done != 1 {
		t.Fatalf("SweepResolved: done=%d err=%v", done, err)
	}
	// Nothing pending afterwards.
	done, err = f.eval.SweepResolved(ctx, 10)
	if err != nil || done != 0 {
		t.Fatalf("SweepResolved #2: done=%d err=%v", done, err)
	}

	s1, _ := f.slips.Get(ctx, "s1")
	if s1.CorrectCount != 1 || s1.FinalScore != 10 {
		t.Fatalf("s1: got %+v", s1)
	}
}

func TestEvaluator_EmptyCycleCompletesImmediately(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.resolve(t)

	rep, err := f.eval.EvaluateCycle(context.Background(), 1)
	if err != nil {
		t.Fatalf("EvaluateCycle: %v", err)
	}
	if rep.Total != 0 || !rep.Completed {
		t.Fatalf("empty cycle: got %+v", rep)
	}
}
