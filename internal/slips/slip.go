package slips

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scorecast/scorecast/internal/outcome"
)

var (
	ErrInvalidInput     = errors.New("slips: invalid input")
	ErrNotFound         = errors.New("slips: not found")
	ErrDuplicate        = errors.New("slips: slip already exists")
	ErrCycleNotResolved = errors.New("slips: cycle not resolved")
)

// Prediction is one pick on a slip. Market and selection are fixed closed
// enums decided at submission time; evaluation compares them directly against
// the settled outcome, never through re-derived keys.
type Prediction struct {
	EntityID  string
	Market    outcome.Market
	Selection outcome.Selection

	// Line is the total line in half-goal units, set only for MarketTotal.
	Line outcome.TotalLine
}

func (p Prediction) Validate() error {
	if p.EntityID == "" {
		return fmt.Errorf("%w: missing entity id", ErrInvalidInput)
	}
	if !p.Selection.ValidFor(p.Market) {
		return fmt.Errorf("%w: selection %s invalid for market %s", ErrInvalidInput, p.Selection, p.Market)
	}
	if p.Market == outcome.MarketTotal && p.Line <= 0 {
		return fmt.Errorf("%w: total pick without a line", ErrInvalidInput)
	}
	if p.Market != outcome.MarketTotal && p.Line != 0 {
		return fmt.Errorf("%w: line on a non-total pick", ErrInvalidInput)
	}
	return nil
}

// Slip is one user's full set of picks for one cycle. CorrectCount,
// FinalScore, and Rank are meaningful only once IsEvaluated is true, and
// IsEvaluated flips false to true exactly once.
type Slip struct {
	ID          string
	Owner       string
	CycleID     uint64
	Predictions []Prediction

	IsEvaluated  bool
	CorrectCount int
	FinalScore   int
	Rank         *int

	SubmittedAt time.Time
	EvaluatedAt *time.Time
}

func (s Slip) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: missing slip id", ErrInvalidInput)
	}
	if s.Owner == "" {
		return fmt.Errorf("%w: slip %s has no owner", ErrInvalidInput, s.ID)
	}
	if s.CycleID == 0 {
		return fmt.Errorf("%w: slip %s has no cycle", ErrInvalidInput, s.ID)
	}
	if len(s.Predictions) == 0 {
		return fmt.Errorf("%w: slip %s has no predictions", ErrInvalidInput, s.ID)
	}
	for _, p := range s.Predictions {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("slip %s: %w", s.ID, err)
		}
	}
	return nil
}

// Score is the outcome of evaluating one slip.
type Score struct {
	CorrectCount int
	FinalScore   int
	Rank         *int
	EvaluatedAt  time.Time
}

// Store persists prediction slips. FinalizeEvaluation is a conditional
// one-shot write: it applies only while is_evaluated is still false, so
// concurrent evaluators cannot double-score a slip.
type Store interface {
	Create(ctx context.Context, s Slip) error

	Get(ctx context.Context, slipID string) (Slip, error)

	// ListUnevaluated returns unevaluated slips for a cycle, oldest
	// submission first, bounded.
	ListUnevaluated(ctx context.Context, cycleID uint64, limit int) ([]Slip, error)

	// FinalizeEvaluation writes the score and flips is_evaluated, only if it
	// was still false. applied is false when another evaluator won the race.
	FinalizeEvaluation(ctx context.Context, slipID string, score Score) (applied bool, err error)

	// CountByCycle reports total and evaluated slip counts for a cycle.
	CountByCycle(ctx context.Context, cycleID uint64) (total, evaluated int, err error)
}
