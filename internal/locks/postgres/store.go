package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/scorecast/scorecast/internal/locks"
)

var ErrInvalidConfig = errors.New("locks/postgres: invalid config")

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidConfig)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	_, err := s.pool.Exec(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("locks/postgres: ensure schema: %w", err)
	}
	return nil
}

// TryAcquire is a single conditional write: the upsert only lands when the
// existing row is expired, so two concurrent callers can never both win.
func (s *Store) TryAcquire(ctx context.Context, jobName, holderID string, ttl time.Duration) (locks.Lock, bool, error) {
	if s == nil || s.pool == nil {
		return locks.Lock{}, false, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if err := validateInput(jobName, holderID, ttl); err != nil {
		return locks.Lock{}, false, err
	}

	ttlMS := ttlMilliseconds(ttl)

	var (
		gotHolder string
		lockedAt  time.Time
		expires   time.Time
	)
	err := s.pool.QueryRow(ctx, `
		INSERT INTO job_locks (job_name, holder_id, locked_at, expires_at, created_at, updated_at)
		VALUES ($1, $2, now(), now() + ($3::bigint * interval '1 millisecond'), now(), now())
		ON CONFLICT (job_name) DO UPDATE
		SET holder_id = EXCLUDED.holder_id,
			locked_at = EXCLUDED.locked_at,
			expires_at = EXCLUDED.expires_at,
			updated_at = now()
		WHERE job_locks.expires_at <= now()
		RETURNING holder_id, locked_at, expires_at
	`, jobName, holderID, ttlMS).Scan(&gotHolder, &lockedAt, &expires)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Someone else currently holds it; report the current lock.
			l, gerr := s.Get(ctx, jobName)
			if errors.Is(gerr, locks.ErrNotFound) {
				// Raced with a release between upsert and read; treat as a
				// plain miss, the next tick will win.
				return locks.Lock{}, false, nil
			}
			if gerr != nil {
				return locks.Lock{}, false, gerr
			}
			return l, false, nil
		}
		return locks.Lock{}, false, fmt.Errorf("locks/postgres: try acquire: %w", err)
	}

	return locks.Lock{
		JobName:   jobName,
		HolderID:  gotHolder,
		LockedAt:  lockedAt,
		ExpiresAt: expires,
	}, true, nil
}

func (s *Store) Release(ctx context.Context, jobName, holderID string) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if jobName == "" || holderID == "" {
		return locks.ErrInvalidInput
	}

	// Scoped to the holder so a stale releaser cannot evict a holder that
	// legitimately stole the lock after our TTL lapsed. Absent rows and
	// stolen rows both release as a no-op.
	_, err := s.pool.Exec(ctx, `DELETE FROM job_locks WHERE job_name = $1 AND holder_id = $2`, jobName, holderID)
	if err != nil {
		return fmt.Errorf("locks/postgres: release: %w", err)
	}
	return nil
}

func (s *Store) ForceRelease(ctx context.Context, jobName string) (bool, error) {
	if s == nil || s.pool == nil {
		return false, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if jobName == "" {
		return false, locks.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM job_locks WHERE job_name = $1`, jobName)
	if err != nil {
		return false, fmt.Errorf("locks/postgres: force release: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) IsLocked(ctx context.Context, jobName string) (bool, error) {
	_, err := s.Get(ctx, jobName)
	if errors.Is(err, locks.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Get(ctx context.Context, jobName string) (locks.Lock, error) {
	if s == nil || s.pool == nil {
		return locks.Lock{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if jobName == "" {
		return locks.Lock{}, locks.ErrInvalidInput
	}

	var (
		holder   string
		lockedAt time.Time
		expires  time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT holder_id, locked_at, expires_at
		FROM job_locks
		WHERE job_name = $1 AND expires_at > now()
	`, jobName).Scan(&holder, &lockedAt, &expires)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return locks.Lock{}, locks.ErrNotFound
		}
		return locks.Lock{}, fmt.Errorf("locks/postgres: get: %w", err)
	}

	return locks.Lock{
		JobName:   jobName,
		HolderID:  holder,
		LockedAt:  lockedAt,
		ExpiresAt: expires,
	}, nil
}

func (s *Store) ListHeld(ctx context.Context) ([]locks.Lock, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT job_name, holder_id, locked_at, expires_at
		FROM job_locks
		WHERE expires_at > now()
		ORDER BY locked_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("locks/postgres: list held: %w", err)
	}
	defer rows.Close()

	var out []locks.Lock
	for rows.Next() {
		var l locks.Lock
		if err := rows.Scan(&l.JobName, &l.HolderID, &l.LockedAt, &l.ExpiresAt); err != nil {
			return nil, fmt.Errorf("locks/postgres: scan lock row: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("locks/postgres: list held: %w", err)
	}
	return out, nil
}

// SweepExpired physically deletes expired rows. Correctness never depends on
// this running; reads already treat expired rows as absent.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM job_locks WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("locks/postgres: sweep expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

func ttlMilliseconds(ttl time.Duration) int64 {
	ms := ttl.Milliseconds()
	if ms <= 0 {
		return 1
	}
	return ms
}

func validateInput(jobName, holderID string, ttl time.Duration) error {
	if jobName == "" || holderID == "" || ttl <= 0 {
		return locks.ErrInvalidInput
	}
	return nil
}
