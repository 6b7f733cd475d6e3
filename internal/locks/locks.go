package locks

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidInput = errors.New("locks: invalid input")
	ErrNotFound     = errors.New("locks: not found")
)

// Lock is a named, expiring mutual-exclusion record for one recurring job.
//
// The lock table is the single arbiter of "who runs": multiple scheduler
// processes share the same job definitions and rely on this store, never on
// in-process state.
type Lock struct {
	JobName   string
	HolderID  string
	LockedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the lock should be treated as absent at now.
func (l Lock) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// Store is the table-backed mutex every coordinated job goes through.
//
// Semantics:
//   - TryAcquire succeeds iff no non-expired lock row exists for the job at the
//     store's notion of "now"; it must be a single conditional write, never
//     read-then-write with a gap.
//   - Release deletes the holder's own row and is idempotent when the row is
//     already absent or was stolen after expiry.
//   - ForceRelease is the operator escape hatch: it deletes the row regardless
//     of holder or expiry.
type Store interface {
	TryAcquire(ctx context.Context, jobName, holderID string, ttl time.Duration) (Lock, bool, error)
	Release(ctx context.Context, jobName, holderID string) error
	ForceRelease(ctx context.Context, jobName string) (bool, error)
	IsLocked(ctx context.Context, jobName string) (bool, error)
	Get(ctx context.Context, jobName string) (Lock, error)

	// ListHeld returns all non-expired locks, oldest first. Used by health
	// checks to flag stuck holders.
	ListHeld(ctx context.Context) ([]Lock, error)
}

func validate(jobName, holderID string, ttl time.Duration) error {
	if jobName == "" || holderID == "" || ttl <= 0 {
		return fmt.Errorf("%w: job name/holder must be non-empty and ttl must be > 0", ErrInvalidInput)
	}
	return nil
}
