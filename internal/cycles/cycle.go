package cycles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scorecast/scorecast/internal/outcome"
)

var (
	ErrInvalidInput    = errors.New("cycles: invalid input")
	ErrNotFound        = errors.New("cycles: not found")
	ErrDuplicate       = errors.New("cycles: cycle already exists")
	ErrCycleOpen       = errors.New("cycles: another cycle is still open")
	ErrAlreadyResolved = errors.New("cycles: cycle already resolved")
	ErrNotResolved     = errors.New("cycles: cycle not resolved")
)

// Entity is one match inside a cycle, with the total lines it settles at.
// The list is structured and validated on read; a malformed entry never
// reaches resolution logic.
type Entity struct {
	EntityID   string
	TotalLines []outcome.TotalLine
}

func (e Entity) Validate() error {
	if e.EntityID == "" {
		return fmt.Errorf("%w: missing entity id", ErrInvalidInput)
	}
	for _, line := range e.TotalLines {
		if line <= 0 {
			return fmt.Errorf("%w: entity %s: non-positive total line %d", ErrInvalidInput, e.EntityID, line)
		}
	}
	return nil
}

// Phase is the resolver's view of where a cycle sits. ReadyForResolution is
// never persisted; it is recomputed from settlement state on every check.
type Phase string

const (
	PhaseActive             Phase = "active"
	PhaseEnded              Phase = "ended"
	PhaseReadyForResolution Phase = "ready_for_resolution"
	PhaseResolved           Phase = "resolved"
)

// Cycle is one batch of entities that open, close, and settle together.
type Cycle struct {
	ID        uint64
	Entities  []Entity
	StartTime time.Time
	EndTime   time.Time

	IsResolved bool
	ResolvedAt *time.Time

	EvaluationCompleted bool
}

func (c Cycle) Validate() error {
	if c.ID == 0 {
		return fmt.Errorf("%w: missing cycle id", ErrInvalidInput)
	}
	if len(c.Entities) == 0 {
		return fmt.Errorf("%w: cycle %d has no entities", ErrInvalidInput, c.ID)
	}
	seen := make(map[string]struct{}, len(c.Entities))
	for _, e := range c.Entities {
		if err := e.Validate(); err != nil {
			return err
		}
		if _, dup := seen[e.EntityID]; dup {
			return fmt.Errorf("%w: cycle %d lists entity %s twice", ErrInvalidInput, c.ID, e.EntityID)
		}
		seen[e.EntityID] = struct{}{}
	}
	if c.StartTime.IsZero() || c.EndTime.IsZero() || !c.EndTime.After(c.StartTime) {
		return fmt.Errorf("%w: cycle %d end time must follow start time", ErrInvalidInput, c.ID)
	}
	if c.IsResolved && c.ResolvedAt == nil {
		return fmt.Errorf("%w: cycle %d resolved without a resolution time", ErrInvalidInput, c.ID)
	}
	if c.EvaluationCompleted && !c.IsResolved {
		return fmt.Errorf("%w: cycle %d evaluated before resolution", ErrInvalidInput, c.ID)
	}
	return nil
}

// EntityIDs returns the entity ids in cycle order.
func (c Cycle) EntityIDs() []string {
	ids := make([]string, len(c.Entities))
	for i, e := range c.Entities {
		ids[i] = e.EntityID
	}
	return ids
}

// Phase classifies the cycle against the wall clock. Readiness for resolution
// is a resolver decision, not derivable from the cycle row alone.
func (c Cycle) Phase(now time.Time) Phase {
	if c.IsResolved {
		return PhaseResolved
	}
	if now.Before(c.EndTime) {
		return PhaseActive
	}
	return PhaseEnded
}

// Store persists cycles. MarkResolved and MarkEvaluationCompleted are
// conditional one-shot transitions; concurrent callers race safely and the
// loser sees the already-done sentinel.
type Store interface {
	// Create registers a new cycle. At most one cycle may be open (not yet
	// ended) at a time; creating a second open cycle fails with ErrCycleOpen.
	Create(ctx context.Context, c Cycle) error

	Get(ctx context.Context, id uint64) (Cycle, error)

	// Current returns the single open cycle, ErrNotFound when none is open.
	Current(ctx context.Context, now time.Time) (Cycle, error)

	// ListEndedUnresolved returns cycles past their end time and not yet
	// resolved, oldest first, bounded.
	ListEndedUnresolved(ctx context.Context, now time.Time, limit int) ([]Cycle, error)

	// MarkResolved flips is_resolved exactly once. ErrAlreadyResolved when a
	// concurrent resolver got there first.
	MarkResolved(ctx context.Context, id uint64, resolvedAt time.Time) error

	// ListResolvedUnevaluated returns resolved cycles whose slips have not all
	// been evaluated, oldest resolution first, bounded.
	ListResolvedUnevaluated(ctx context.Context, limit int) ([]Cycle, error)

	// MarkEvaluationCompleted flips evaluation_completed once all slips are
	// scored. Requires the cycle to be resolved (ErrNotResolved otherwise);
	// repeating the call is a no-op.
	MarkEvaluationCompleted(ctx context.Context, id uint64) error
}
