package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/scorecast/scorecast/internal/cycles"
	"github.com/scorecast/scorecast/internal/outcome"
)

var ErrInvalidConfig = errors.New("cycles/postgres: invalid config")

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
		return fmt.Errorf("cycles/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, c cycles.Cycle) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if err := c.Validate(); err != nil {
		return err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("cycles/postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serialize creations so two writers cannot both pass the overlap check.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('cycles.create'))`); err != nil {
		return fmt.Errorf("cycles/postgres: create lock: %w", err)
	}

	var open bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM cycles
			WHERE NOT is_resolved
			AND cycle_end_time > $1
			AND cycle_start_time < $2
		)
	`, c.StartTime, c.EndTime).Scan(&open)
	if err != nil {
		return fmt.Errorf("cycles/postgres: overlap check: %w", err)
	}
	if open {
		return cycles.ErrCycleOpen
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO cycles (cycle_id, cycle_start_time, cycle_end_time, is_resolved, resolved_at, evaluation_completed)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, int64(c.ID), c.StartTime, c.EndTime, c.IsResolved, c.ResolvedAt, c.EvaluationCompleted)
	if isUniqueViolation(err) {
		return cycles.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("cycles/postgres: insert cycle: %w", err)
	}

	for i, e := range c.Entities {
		lines := make([]int32, len(e.TotalLines))
		for j, line := range e.TotalLines {
			lines[j] = int32(line)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO cycle_entities (cycle_id, position, entity_id, total_lines)
			VALUES ($1, $2, $3, $4)
		`, int64(c.ID), i, e.EntityID, lines)
		if err != nil {
			return fmt.Errorf("cycles/postgres: insert entity %s: %w", e.EntityID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("cycles/postgres: commit create: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id uint64) (cycles.Cycle, error) {
	if s == nil || s.pool == nil {
		return cycles.Cycle{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if id == 0 {
		return cycles.Cycle{}, cycles.ErrInvalidInput
	}

	row := s.pool.QueryRow(ctx, `
		SELECT cycle_id, cycle_start_time, cycle_end_time, is_resolved, resolved_at, evaluation_completed
		FROM cycles WHERE cycle_id = $1
	`, int64(id))
	c, err := scanCycle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return cycles.Cycle{}, cycles.ErrNotFound
	}
	if err != nil {
		return cycles.Cycle{}, fmt.Errorf("cycles/postgres: get: %w", err)
	}
	if err := s.loadEntities(ctx, []*cycles.Cycle{&c}); err != nil {
		return cycles.Cycle{}, err
	}
	return c, nil
}

func (s *Store) Current(ctx context.Context, now time.Time) (cycles.Cycle, error) {
	if s == nil || s.pool == nil {
		return cycles.Cycle{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	row := s.pool.QueryRow(ctx, `
		SELECT cycle_id, cycle_start_time, cycle_end_time, is_resolved, resolved_at, evaluation_completed
		FROM cycles
		WHERE NOT is_resolved AND cycle_start_time <= $1 AND cycle_end_time > $1
		ORDER BY cycle_id DESC
		LIMIT 1
	`, now)
	c, err := scanCycle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return cycles.Cycle{}, cycles.ErrNotFound
	}
	if err != nil {
		return cycles.Cycle{}, fmt.Errorf("cycles/postgres: current: %w", err)
	}
	if err := s.loadEntities(ctx, []*cycles.Cycle{&c}); err != nil {
		return cycles.Cycle{}, err
	}
	return c, nil
}

func (s *Store) ListEndedUnresolved(ctx context.Context, now time.Time, limit int) ([]cycles.Cycle, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if limit <= 0 {
		return nil, cycles.ErrInvalidInput
	}

	return s.list(ctx, `
		SELECT cycle_id, cycle_start_time, cycle_end_time, is_resolved, resolved_at, evaluation_completed
		FROM cycles
		WHERE NOT is_resolved AND cycle_end_time <= $1
		ORDER BY cycle_end_time ASC, cycle_id ASC
		LIMIT $2
	`, now, limit)
}

func (s *Store) MarkResolved(ctx context.Context, id uint64, resolvedAt time.Time) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if id == 0 || resolvedAt.IsZero() {
		return cycles.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE cycles
		SET is_resolved = TRUE, resolved_at = $2, updated_at = now()
		WHERE cycle_id = $1 AND NOT is_resolved
	`, int64(id), resolvedAt)
	if err != nil {
		return fmt.Errorf("cycles/postgres: mark resolved: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var resolved bool
	err = s.pool.QueryRow(ctx, `SELECT is_resolved FROM cycles WHERE cycle_id = $1`, int64(id)).Scan(&resolved)
	if errors.Is(err, pgx.ErrNoRows) {
		return cycles.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("cycles/postgres: mark resolved check: %w", err)
	}
	if resolved {
		return cycles.ErrAlreadyResolved
	}
	return cycles.ErrNotFound
}

func (s *Store) ListResolvedUnevaluated(ctx context.Context, limit int) ([]cycles.Cycle, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if limit <= 0 {
		return nil, cycles.ErrInvalidInput
	}

	return s.list(ctx, `
		SELECT cycle_id, cycle_start_time, cycle_end_time, is_resolved, resolved_at, evaluation_completed
		FROM cycles
		WHERE is_resolved AND NOT evaluation_completed
		ORDER BY resolved_at ASC, cycle_id ASC
		LIMIT $1
	`, limit)
}

func (s *Store) MarkEvaluationCompleted(ctx context.Context, id uint64) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if id == 0 {
		return cycles.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE cycles
		SET evaluation_completed = TRUE, updated_at = now()
		WHERE cycle_id = $1 AND is_resolved
	`, int64(id))
	if err != nil {
		return fmt.Errorf("cycles/postgres: mark evaluation completed: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if qerr := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM cycles WHERE cycle_id = $1)`, int64(id)).Scan(&exists); qerr != nil {
		return fmt.Errorf("cycles/postgres: mark evaluation check: %w", qerr)
	}
	if !exists {
		return cycles.ErrNotFound
	}
	return cycles.ErrNotResolved
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]cycles.Cycle, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("cycles/postgres: list: %w", err)
	}
	defer rows.Close()

	var out []cycles.Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("cycles/postgres: scan cycle: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cycles/postgres: rows: %w", err)
	}

	refs := make([]*cycles.Cycle, len(out))
	for i := range out {
		refs[i] = &out[i]
	}
	if err := s.loadEntities(ctx, refs); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) loadEntities(ctx context.Context, cs []*cycles.Cycle) error {
	if len(cs) == 0 {
		return nil
	}
	ids := make([]int64, len(cs))
	byID := make(map[int64]*cycles.Cycle, len(cs))
	for i, c := range cs {
		ids[i] = int64(c.ID)
		byID[int64(c.ID)] = c
	}

	rows, err := s.pool.Query(ctx, `
		SELECT cycle_id, entity_id, total_lines
		FROM cycle_entities
		WHERE cycle_id = ANY($1)
		ORDER BY cycle_id ASC, position ASC
	`, ids)
	if err != nil {
		return fmt.Errorf("cycles/postgres: load entities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cycleID  int64
			entityID string
			rawLines []int32
		)
		if err := rows.Scan(&cycleID, &entityID, &rawLines); err != nil {
			return fmt.Errorf("cycles/postgres: scan entity: %w", err)
		}
		c, ok := byID[cycleID]
		if !ok {
			continue
		}
		e := cycles.Entity{EntityID: entityID}
		for _, line := range rawLines {
			e.TotalLines = append(e.TotalLines, outcome.TotalLine(line))
		}
		c.Entities = append(c.Entities, e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("cycles/postgres: entity rows: %w", err)
	}

	// A cycle row without entities is corrupt; refuse to hand it to the
	// resolver.
	for _, c := range cs {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func scanCycle(row pgx.Row) (cycles.Cycle, error) {
	var (
		c  cycles.Cycle
		id int64
	)
	err := row.Scan(&id, &c.StartTime, &c.EndTime, &c.IsResolved, &c.ResolvedAt, &c.EvaluationCompleted)
	if err != nil {
		return cycles.Cycle{}, err
	}
	c.ID = uint64(id)
	return c, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
