package slips

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/scorecast/scorecast/internal/cycles"
	"github.com/scorecast/scorecast/internal/policy"
	"github.com/scorecast/scorecast/internal/results"
)

const defaultBatchSize = 200

type EvaluatorConfig struct {
	// PointsPerCorrect defaults to the platform-wide flat score.
	PointsPerCorrect int

	// BatchSize bounds one ListUnevaluated page. Defaults to 200.
	BatchSize int

	// Now is injectable for tests. Defaults to time.Now.
	Now func() time.Time
}

// Evaluator scores unevaluated slips against settled outcomes once their
// cycle is resolved. Evaluation is idempotent: the store's conditional flip
// guarantees one scoring per slip no matter how many evaluators run.
type Evaluator struct {
	cfg     EvaluatorConfig
	slips   Store
	results results.Store
	cycles  cycles.Store
	log     *slog.Logger
}

func NewEvaluator(cfg EvaluatorConfig, slipStore Store, resultStore results.Store, cycleStore cycles.Store, log *slog.Logger) (*Evaluator, error) {
	if slipStore == nil || resultStore == nil || cycleStore == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidInput)
	}
	if cfg.PointsPerCorrect == 0 {
		cfg.PointsPerCorrect = policy.PointsPerCorrectPick
	}
	if cfg.PointsPerCorrect < 0 {
		return nil, fmt.Errorf("%w: negative points per correct pick", ErrInvalidInput)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Evaluator{cfg: cfg, slips: slipStore, results: resultStore, cycles: cycleStore, log: log}, nil
}

// Report summarizes one EvaluateCycle pass. Evaluated counts slips this pass
// scored; AlreadyDone counts slips a concurrent evaluator got to first.
type Report struct {
	Total       int
	Evaluated   int
	AlreadyDone int
	Errors      int
	Completed   bool
}

// EvaluateCycle scores every unevaluated slip in a resolved cycle and sets
// the cycle's evaluation-completed flag once none remain. Partial settlement
// data never aborts a slip: a pick whose entity result is missing or
// unsettled simply counts as wrong.
func (e *Evaluator) EvaluateCycle(ctx context.Context, cycleID uint64) (Report, error) {
	c, err := e.cycles.Get(ctx, cycleID)
	if err != nil {
		return Report{}, fmt.Errorf("slips: load cycle %d: %w", cycleID, err)
	}
	if !c.IsResolved {
		return Report{}, fmt.Errorf("%w: cycle %d", ErrCycleNotResolved, cycleID)
	}

	settled, err := e.results.GetMany(ctx, c.EntityIDs())
	if err != nil {
		return Report{}, fmt.Errorf("slips: load results for cycle %d: %w", cycleID, err)
	}

	var rep Report
	for {
		batch, err := e.slips.ListUnevaluated(ctx, cycleID, e.cfg.BatchSize)
		if err != nil {
			return rep, fmt.Errorf("slips: list unevaluated for cycle %d: %w", cycleID, err)
		}
		if len(batch) == 0 {
			break
		}

		progressed := false
		for _, sl := range batch {
			score := e.scoreSlip(sl, settled)
			applied, err := e.slips.FinalizeEvaluation(ctx, sl.ID, score)
			if err != nil {
				rep.Errors++
				e.log.Error("slip evaluation failed", "slip", sl.ID, "cycle", cycleID, "error", err)
				continue
			}
			progressed = true
			if applied {
				rep.Evaluated++
			} else {
				rep.AlreadyDone++
			}
		}
		// Every slip in the batch errored; bail instead of spinning on the
		// same page.
		if !progressed {
			break
		}
	}

	total, evaluated, err := e.slips.CountByCycle(ctx, cycleID)
	if err != nil {
		return rep, fmt.Errorf("slips: count for cycle %d: %w", cycleID, err)
	}
	rep.Total = total

	if total == evaluated {
		if err := e.cycles.MarkEvaluationCompleted(ctx, cycleID); err != nil {
			return rep, fmt.Errorf("slips: mark cycle %d evaluated: %w", cycleID, err)
		}
		rep.Completed = true
		e.log.Info("cycle evaluation completed", "cycle", cycleID, "slips", total)
	}
	return rep, nil
}

// SweepResolved evaluates every resolved-but-unevaluated cycle. This is the
// poll fallback behind the event trigger; both paths converge on the same
// idempotent per-slip flip.
func (e *Evaluator) SweepResolved(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		return 0, ErrInvalidInput
	}

	pending, err := e.cycles.ListResolvedUnevaluated(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("slips: list resolved unevaluated: %w", err)
	}

	done := 0
	for _, c := range pending {
		rep, err := e.EvaluateCycle(ctx, c.ID)
		if err != nil {
			e.log.Error("cycle evaluation sweep failed", "cycle", c.ID, "error", err)
			continue
		}
		if rep.Completed {
			done++
		}
	}
	return done, nil
}

// scoreSlip evaluates every pick against the settled outcomes. It never
// fails: bad data on one pick makes that pick wrong, nothing more.
func (e *Evaluator) scoreSlip(sl Slip, settled map[string]results.EntityResult) Score {
	correct := 0
	for _, p := range sl.Predictions {
		res, ok := settled[p.EntityID]
		if !ok || !res.Settled() {
			continue
		}
		got, ok := res.Outcomes.Lookup(p.Market, p.Line)
		if ok && got == p.Selection {
			correct++
		}
	}

	score := Score{
		CorrectCount: correct,
		FinalScore:   correct * e.cfg.PointsPerCorrect,
		EvaluatedAt:  e.cfg.Now(),
	}
	if tier, ok := policy.RankTier(correct, len(sl.Predictions)); ok {
		score.Rank = &tier
	}
	return score
}
