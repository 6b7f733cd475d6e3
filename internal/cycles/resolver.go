package cycles

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/scorecast/scorecast/internal/outcome"
	"github.com/scorecast/scorecast/internal/policy"
	"github.com/scorecast/scorecast/internal/results"
)

// ErrStateDivergence means the resolution was confirmed on-chain but the local
// resolved flag could not be written. The next tick would submit again, so
// this must page an operator instead of self-healing.
var ErrStateDivergence = errors.New("cycles: resolution confirmed but local state update failed")

// EntityOutcome is one entity's settled moneyline in cycle order.
// SelectionUnknown marks an entity that never settled; the chain contract
// records it as void.
type EntityOutcome struct {
	EntityID  string
	Moneyline outcome.Selection
}

// Submitter is the chain gateway contract. SubmitResolution returns only
// after the transaction is confirmed; a revert or timeout is an error.
type Submitter interface {
	SubmitResolution(ctx context.Context, cycleID uint64, outcomes []EntityOutcome) error
}

// Readiness is the resolver's verdict on one cycle. Not-ready is the normal
// state for a freshly ended cycle, never an error.
type Readiness struct {
	Phase        Phase
	SettledCount int
	EntityCount  int
	Ready        bool
	Reason       string
}

type ResolverConfig struct {
	Policy policy.Resolution

	// Now is injectable for tests. Defaults to time.Now.
	Now func() time.Time
}

// Resolver drives ended cycles through readiness checks and on-chain
// resolution. It is stateless between calls; every decision is recomputed
// from the stores.
type Resolver struct {
	cfg       ResolverConfig
	cycles    Store
	results   results.Store
	submitter Submitter
	log       *slog.Logger
}

func NewResolver(cfg ResolverConfig, cycleStore Store, resultStore results.Store, submitter Submitter, log *slog.Logger) (*Resolver, error) {
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if cycleStore == nil || resultStore == nil || submitter == nil {
		return nil, fmt.Errorf("%w: nil store or submitter", ErrInvalidInput)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Resolver{cfg: cfg, cycles: cycleStore, results: resultStore, submitter: submitter, log: log}, nil
}

// Check classifies one cycle. A cycle is ready once the cool-down has elapsed
// and either enough entities settled or the max-wait escape valve tripped.
func (r *Resolver) Check(ctx context.Context, c Cycle) (Readiness, error) {
	if err := c.Validate(); err != nil {
		return Readiness{}, err
	}

	now := r.cfg.Now()
	rd := Readiness{Phase: c.Phase(now), EntityCount: len(c.Entities)}

	settled, err := r.settledCount(ctx, c)
	if err != nil {
		return Readiness{}, err
	}
	rd.SettledCount = settled

	switch rd.Phase {
	case PhaseResolved:
		rd.Reason = "already resolved"
		return rd, nil
	case PhaseActive:
		rd.Reason = "cycle still open"
		return rd, nil
	}

	sinceEnd := now.Sub(c.EndTime)
	if sinceEnd < r.cfg.Policy.Cooldown {
		rd.Reason = "cooldown not elapsed"
		return rd, nil
	}
	if r.cfg.Policy.SettledEnough(settled, len(c.Entities)) {
		rd.Phase = PhaseReadyForResolution
		rd.Ready = true
		rd.Reason = "settle threshold met"
		return rd, nil
	}
	// Escape valve: entities abandoned upstream never settle; past the max
	// wait the cycle resolves with whatever is available.
	if sinceEnd >= r.cfg.Policy.MaxSettleWait {
		rd.Phase = PhaseReadyForResolution
		rd.Ready = true
		rd.Reason = "max settle wait exceeded"
		return rd, nil
	}
	rd.Reason = fmt.Sprintf("settled %d of %d below threshold", settled, len(c.Entities))
	return rd, nil
}

// Resolve submits the cycle's outcomes on-chain and marks it resolved. The
// local flag flips only after the submission is confirmed; a failed
// submission leaves the cycle ready for the next tick. Losing the MarkResolved
// race to a concurrent resolver is a no-op.
func (r *Resolver) Resolve(ctx context.Context, c Cycle) error {
	outcomes, err := r.entityOutcomes(ctx, c)
	if err != nil {
		return err
	}

	if err := r.submitter.SubmitResolution(ctx, c.ID, outcomes); err != nil {
		return fmt.Errorf("cycles: submit resolution for cycle %d: %w", c.ID, err)
	}

	err = r.cycles.MarkResolved(ctx, c.ID, r.cfg.Now())
	if errors.Is(err, ErrAlreadyResolved) {
		r.log.Info("cycle resolved by concurrent run", "cycle", c.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: cycle %d: %v", ErrStateDivergence, c.ID, err)
	}
	r.log.Info("cycle resolved", "cycle", c.ID, "entities", len(c.Entities))
	return nil
}

// Report summarizes one ResolveDue pass.
type Report struct {
	Checked  int
	Resolved int
	NotReady int
	Errors   int
}

// ResolveDue checks every ended unresolved cycle and resolves the ready ones.
// One cycle's failure is counted and does not abort the pass; only a
// state-divergence failure propagates.
func (r *Resolver) ResolveDue(ctx context.Context, limit int) (Report, error) {
	if limit <= 0 {
		return Report{}, ErrInvalidInput
	}

	ended, err := r.cycles.ListEndedUnresolved(ctx, r.cfg.Now(), limit)
	if err != nil {
		return Report{}, fmt.Errorf("cycles: list ended unresolved: %w", err)
	}

	var rep Report
	for _, c := range ended {
		rep.Checked++

		rd, err := r.Check(ctx, c)
		if err != nil {
			rep.Errors++
			r.log.Error("cycle readiness check failed", "cycle", c.ID, "error", err)
			continue
		}
		if !rd.Ready {
			rep.NotReady++
			r.log.Info("cycle not ready", "cycle", c.ID,
				"settled", rd.SettledCount, "entities", rd.EntityCount, "reason", rd.Reason)
			continue
		}

		if err := r.Resolve(ctx, c); err != nil {
			if errors.Is(err, ErrStateDivergence) {
				return rep, err
			}
			rep.Errors++
			r.log.Error("cycle resolution failed", "cycle", c.ID, "error", err)
			continue
		}
		rep.Resolved++
	}
	return rep, nil
}

func (r *Resolver) settledCount(ctx context.Context, c Cycle) (int, error) {
	rs, err := r.results.GetMany(ctx, c.EntityIDs())
	if err != nil {
		return 0, fmt.Errorf("cycles: load results for cycle %d: %w", c.ID, err)
	}
	settled := 0
	for _, e := range c.Entities {
		if res, ok := rs[e.EntityID]; ok && res.Settled() {
			settled++
		}
	}
	return settled, nil
}

// entityOutcomes builds the submission payload in cycle order. Unsettled
// entities carry SelectionUnknown, which the chain encoding maps to void.
func (r *Resolver) entityOutcomes(ctx context.Context, c Cycle) ([]EntityOutcome, error) {
	rs, err := r.results.GetMany(ctx, c.EntityIDs())
	if err != nil {
		return nil, fmt.Errorf("cycles: load results for cycle %d: %w", c.ID, err)
	}
	out := make([]EntityOutcome, len(c.Entities))
	for i, e := range c.Entities {
		out[i] = EntityOutcome{EntityID: e.EntityID}
		if res, ok := rs[e.EntityID]; ok && res.Settled() {
			out[i].Moneyline = res.Outcomes.Moneyline
		}
	}
	return out, nil
}
