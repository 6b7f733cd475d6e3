package results

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scorecast/scorecast/internal/outcome"
)

var (
	ErrInvalidInput = errors.New("results: invalid input")
	ErrNotFound     = errors.New("results: not found")
	ErrNotSettled   = errors.New("results: raw scores not present")
)

// EntityStatus is the feed lifecycle of one entity (match). Only the listed
// values are persisted; anything else from the feed maps to StatusUnknown and
// is ignored.
type EntityStatus string

const (
	StatusUnknown   EntityStatus = ""
	StatusScheduled EntityStatus = "scheduled"
	StatusInPlay    EntityStatus = "in_play"
	StatusFinished  EntityStatus = "finished"
	StatusCancelled EntityStatus = "cancelled"
	StatusAbandoned EntityStatus = "abandoned"
)

// Terminal reports whether the status can still change upstream.
func (s EntityStatus) Terminal() bool {
	switch s {
	case StatusFinished, StatusCancelled, StatusAbandoned:
		return true
	default:
		return false
	}
}

// EntityResult is the settlement record for one entity. Raw scores are
// both-present or both-nil, never one-sided; derived outcomes exist only once
// raw scores do; an entity is settled when both are in place.
type EntityResult struct {
	EntityID    string
	Status      EntityStatus
	ScheduledAt time.Time

	HomeScore *int
	AwayScore *int
	HTHome    *int
	HTAway    *int

	// Outcomes is nil until derived from the raw scores above.
	Outcomes *outcome.Set

	FinishedAt *time.Time

	// FetchedAt is freshness metadata: it moves on every ingestion touch,
	// including idempotent re-ingestion of identical data.
	FetchedAt time.Time
}

func (r EntityResult) Validate() error {
	if r.EntityID == "" {
		return fmt.Errorf("%w: missing entity id", ErrInvalidInput)
	}
	if r.ScheduledAt.IsZero() {
		return fmt.Errorf("%w: missing scheduled time", ErrInvalidInput)
	}
	if (r.HomeScore == nil) != (r.AwayScore == nil) {
		return fmt.Errorf("%w: full-time scores must be both present or both absent", ErrInvalidInput)
	}
	if (r.HTHome == nil) != (r.HTAway == nil) {
		return fmt.Errorf("%w: half-time scores must be both present or both absent", ErrInvalidInput)
	}
	if r.HTHome != nil && r.HomeScore == nil {
		return fmt.Errorf("%w: half-time scores without full-time scores", ErrInvalidInput)
	}
	if r.Outcomes != nil && r.HomeScore == nil {
		return fmt.Errorf("%w: derived outcomes without raw scores", ErrInvalidInput)
	}
	return nil
}

// Settled reports whether the entity has authoritative scores and derived
// outcomes, the condition cycle resolution counts.
func (r EntityResult) Settled() bool {
	return r.HomeScore != nil && r.Outcomes != nil
}

// Store persists entity results. SaveSettlement is the only multi-field write
// and must be atomic: no reader ever observes raw scores without outcomes for
// a settled entity.
type Store interface {
	// Track registers an entity (id + scheduled start) if absent. Idempotent.
	Track(ctx context.Context, entityID string, scheduledAt time.Time) error

	Get(ctx context.Context, entityID string) (EntityResult, error)
	GetMany(ctx context.Context, entityIDs []string) (map[string]EntityResult, error)

	// UpdateStatus records a feed status transition and refreshes FetchedAt.
	UpdateStatus(ctx context.Context, entityID string, status EntityStatus, now time.Time) error

	// SaveSettlement upserts raw scores, derived outcomes, status, and
	// finished time in one atomic write keyed by entity id. Re-saving
	// identical data is a no-op that still refreshes FetchedAt; changed is
	// false in that case.
	SaveSettlement(ctx context.Context, r EntityResult) (changed bool, err error)

	// SetOutcomes backfills derived outcomes on a row that already has raw
	// scores (legacy/partially-migrated rows). Fails with ErrNotSettled when
	// scores are absent.
	SetOutcomes(ctx context.Context, entityID string, set outcome.Set, now time.Time) error

	// ListDueUnsettled returns entities whose scheduled start is at least lag
	// in the past and which are not settled, oldest first, bounded.
	ListDueUnsettled(ctx context.Context, now time.Time, lag time.Duration, limit int) ([]EntityResult, error)

	// ListStuck returns entities past the stuck age with no terminal status,
	// regardless of change tracking. The feed drops status updates sometimes;
	// these get force-refreshed.
	ListStuck(ctx context.Context, now time.Time, age time.Duration, limit int) ([]EntityResult, error)

	// ListMissingOutcomes returns rows with raw scores but nil outcomes,
	// bounded.
	ListMissingOutcomes(ctx context.Context, limit int) ([]EntityResult, error)
}
