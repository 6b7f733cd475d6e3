package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/scorecast/scorecast/internal/outcome"
	"github.com/scorecast/scorecast/internal/results"
)

var ErrInvalidConfig = errors.New("results/postgres: invalid config")

const resultColumns = `entity_id, status, scheduled_at,
	home_score, away_score, ht_home_score, ht_away_score,
	outcome_moneyline, outcome_total_15, outcome_total_25, outcome_total_35,
	outcome_both_score, outcome_ht_moneyline,
	finished_at, fetched_at`

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
		return fmt.Errorf("results/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Track(ctx context.Context, entityID string, scheduledAt time.Time) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if entityID == "" || scheduledAt.IsZero() {
		return results.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO entity_results (entity_id, status, scheduled_at, created_at, updated_at)
		VALUES ($1, 'scheduled', $2, now(), now())
		ON CONFLICT (entity_id) DO NOTHING
	`, entityID, scheduledAt)
	if err != nil {
		return fmt.Errorf("results/postgres: track: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, entityID string) (results.EntityResult, error) {
	if s == nil || s.pool == nil {
		return results.EntityResult{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if entityID == "" {
		return results.EntityResult{}, results.ErrInvalidInput
	}

	row := s.pool.QueryRow(ctx, `SELECT `+resultColumns+` FROM entity_results WHERE entity_id = $1`, entityID)
	r, err := scanResult(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return results.EntityResult{}, results.ErrNotFound
	}
	if err != nil {
		return results.EntityResult{}, fmt.Errorf("results/postgres: get: %w", err)
	}
	return r, nil
}

func (s *Store) GetMany(ctx context.Context, entityIDs []string) (map[string]results.EntityResult, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if len(entityIDs) == 0 {
		return map[string]results.EntityResult{}, nil
	}

	rows, err := s.pool.Query(ctx, `SELECT `+resultColumns+` FROM entity_results WHERE entity_id = ANY($1)`, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("results/postgres: get many: %w", err)
	}
	defer rows.Close()

	out := make(map[string]results.EntityResult, len(entityIDs))
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("results/postgres: scan result: %w", err)
		}
		out[r.EntityID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("results/postgres: get many: %w", err)
	}
	return out, nil
}

func (s *Store) UpdateStatus(ctx context.Context, entityID string, status results.EntityStatus, now time.Time) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if entityID == "" || status == results.StatusUnknown {
		return results.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE entity_results
		SET status = $2, fetched_at = $3, updated_at = now()
		WHERE entity_id = $1
	`, entityID, string(status), now)
	if err != nil {
		return fmt.Errorf("results/postgres: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return results.ErrNotFound
	}
	return nil
}

// SaveSettlement writes raw scores, derived outcomes, and status in one
// transaction so no reader observes a half-written settlement. Identical data
// reports changed=false but still refreshes fetched_at.
func (s *Store) SaveSettlement(ctx context.Context, in results.EntityResult) (bool, error) {
	if s == nil || s.pool == nil {
		return false, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if err := in.Validate(); err != nil {
		return false, err
	}
	if in.HomeScore == nil || in.Outcomes == nil {
		return false, results.ErrNotSettled
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("results/postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+resultColumns+` FROM entity_results WHERE entity_id = $1 FOR UPDATE`, in.EntityID)
	existing, err := scanResult(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, results.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("results/postgres: load for settlement: %w", err)
	}

	changed := !sameSettlement(existing, in)

	_, err = tx.Exec(ctx, `
		UPDATE entity_results
		SET status = $2,
			home_score = $3, away_score = $4,
			ht_home_score = $5, ht_away_score = $6,
			outcome_moneyline = $7,
			outcome_total_15 = $8, outcome_total_25 = $9, outcome_total_35 = $10,
			outcome_both_score = $11,
			outcome_ht_moneyline = $12,
			finished_at = $13,
			fetched_at = $14,
			updated_at = now()
		WHERE entity_id = $1
	`, in.EntityID, string(in.Status),
		in.HomeScore, in.AwayScore, in.HTHome, in.HTAway,
		selText(in.Outcomes.Moneyline),
		selText(in.Outcomes.Totals[15]), selText(in.Outcomes.Totals[25]), selText(in.Outcomes.Totals[35]),
		selText(in.Outcomes.BothScore),
		selText(in.Outcomes.HalfTime),
		in.FinishedAt, in.FetchedAt)
	if err != nil {
		return false, fmt.Errorf("results/postgres: save settlement: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("results/postgres: commit settlement: %w", err)
	}
	return changed, nil
}

func (s *Store) SetOutcomes(ctx context.Context, entityID string, set outcome.Set, now time.Time) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if entityID == "" {
		return results.ErrInvalidInput
	}

	// Conditional on scores being present; the schema enforces the same.
	tag, err := s.pool.Exec(ctx, `
		UPDATE entity_results
		SET outcome_moneyline = $2,
			outcome_total_15 = $3, outcome_total_25 = $4, outcome_total_35 = $5,
			outcome_both_score = $6,
			outcome_ht_moneyline = $7,
			fetched_at = $8,
			updated_at = now()
		WHERE entity_id = $1 AND home_score IS NOT NULL
	`, entityID,
		selText(set.Moneyline),
		selText(set.Totals[15]), selText(set.Totals[25]), selText(set.Totals[35]),
		selText(set.BothScore),
		selText(set.HalfTime),
		now)
	if err != nil {
		return fmt.Errorf("results/postgres: set outcomes: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if qerr := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM entity_results WHERE entity_id = $1)`, entityID).Scan(&exists); qerr != nil {
		return fmt.Errorf("results/postgres: set outcomes check: %w", qerr)
	}
	if !exists {
		return results.ErrNotFound
	}
	return results.ErrNotSettled
}

func (s *Store) ListDueUnsettled(ctx context.Context, now time.Time, lag time.Duration, limit int) ([]results.EntityResult, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if limit <= 0 {
		return nil, results.ErrInvalidInput
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+resultColumns+`
		FROM entity_results
		WHERE scheduled_at <= $1
		AND outcome_moneyline IS NULL
		AND status NOT IN ('cancelled', 'abandoned')
		ORDER BY scheduled_at ASC, entity_id ASC
		LIMIT $2
	`, now.Add(-lag), limit)
	if err != nil {
		return nil, fmt.Errorf("results/postgres: list due: %w", err)
	}
	defer rows.Close()

	return collectResults(rows)
}

func (s *Store) ListStuck(ctx context.Context, now time.Time, age time.Duration, limit int) ([]results.EntityResult, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if limit <= 0 {
		return nil, results.ErrInvalidInput
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+resultColumns+`
		FROM entity_results
		WHERE scheduled_at <= $1
		AND status NOT IN ('finished', 'cancelled', 'abandoned')
		ORDER BY scheduled_at ASC, entity_id ASC
		LIMIT $2
	`, now.Add(-age), limit)
	if err != nil {
		return nil, fmt.Errorf("results/postgres: list stuck: %w", err)
	}
	defer rows.Close()

	return collectResults(rows)
}

func (s *Store) ListMissingOutcomes(ctx context.Context, limit int) ([]results.EntityResult, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if limit <= 0 {
		return nil, results.ErrInvalidInput
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+resultColumns+`
		FROM entity_results
		WHERE home_score IS NOT NULL AND outcome_moneyline IS NULL
		ORDER BY scheduled_at ASC, entity_id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("results/postgres: list missing outcomes: %w", err)
	}
	defer rows.Close()

	return collectResults(rows)
}

func scanResult(row pgx.Row) (results.EntityResult, error) {
	var (
		r      results.EntityResult
		status string

		moneyline, total15, total25, total35, bothScore, htMoneyline *string
		fetchedAt                                                    *time.Time
	)
	err := row.Scan(&r.EntityID, &status, &r.ScheduledAt,
		&r.HomeScore, &r.AwayScore, &r.HTHome, &r.HTAway,
		&moneyline, &total15, &total25, &total35, &bothScore, &htMoneyline,
		&r.FinishedAt, &fetchedAt)
	if err != nil {
		return results.EntityResult{}, err
	}
	r.Status = results.EntityStatus(status)
	if fetchedAt != nil {
		r.FetchedAt = *fetchedAt
	}

	if moneyline != nil {
		set := outcome.Set{Totals: make(map[outcome.TotalLine]outcome.Selection, 3)}
		if set.Moneyline, err = outcome.ParseSelection(deref(moneyline)); err != nil {
			return results.EntityResult{}, err
		}
		for line, col := range map[outcome.TotalLine]*string{15: total15, 25: total25, 35: total35} {
			sel, perr := outcome.ParseSelection(deref(col))
			if perr != nil {
				return results.EntityResult{}, perr
			}
			if sel != outcome.SelectionUnknown {
				set.Totals[line] = sel
			}
		}
		if set.BothScore, err = outcome.ParseSelection(deref(bothScore)); err != nil {
			return results.EntityResult{}, err
		}
		if set.HalfTime, err = outcome.ParseSelection(deref(htMoneyline)); err != nil {
			return results.EntityResult{}, err
		}
		r.Outcomes = &set
	}

	return r, nil
}

func collectResults(rows pgx.Rows) ([]results.EntityResult, error) {
	var out []results.EntityResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("results/postgres: scan result: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("results/postgres: rows: %w", err)
	}
	return out, nil
}

func sameSettlement(a, b results.EntityResult) bool {
	if a.Status != b.Status {
		return false
	}
	if !intpEqual(a.HomeScore, b.HomeScore) || !intpEqual(a.AwayScore, b.AwayScore) {
		return false
	}
	if !intpEqual(a.HTHome, b.HTHome) || !intpEqual(a.HTAway, b.HTAway) {
		return false
	}
	if (a.Outcomes == nil) != (b.Outcomes == nil) {
		return false
	}
	if a.Outcomes == nil {
		return true
	}
	if a.Outcomes.Moneyline != b.Outcomes.Moneyline ||
		a.Outcomes.BothScore != b.Outcomes.BothScore ||
		a.Outcomes.HalfTime != b.Outcomes.HalfTime {
		return false
	}
	if len(a.Outcomes.Totals) != len(b.Outcomes.Totals) {
		return false
	}
	for line, sel := range a.Outcomes.Totals {
		if b.Outcomes.Totals[line] != sel {
			return false
		}
	}
	return true
}

func intpEqual(a, b *int) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}

func selText(s outcome.Selection) *string {
	if s == outcome.SelectionUnknown {
		return nil
	}
	text := s.String()
	return &text
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
