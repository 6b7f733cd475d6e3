package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/scorecast/scorecast/internal/jobs"
)

var ErrInvalidConfig = errors.New("jobs/postgres: invalid config")

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
		return fmt.Errorf("jobs/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) CreateRunning(ctx context.Context, rec jobs.ExecutionRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.Status != jobs.StatusRunning {
		return jobs.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_executions (execution_id, job_name, status, result, started_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
	`, rec.ExecutionID, rec.JobName, string(rec.Status), rec.Result, rec.StartedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return jobs.ErrDuplicateID
		}
		return fmt.Errorf("jobs/postgres: create running: %w", err)
	}
	return nil
}

func (s *Store) Finalize(ctx context.Context, jobName, executionID string, status jobs.Status, result []byte, errMsg string, duration time.Duration) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if jobName == "" || executionID == "" {
		return jobs.ErrInvalidInput
	}
	if status != jobs.StatusCompleted && status != jobs.StatusFailed {
		return jobs.ErrInvalidInput
	}

	var errVal *string
	if errMsg != "" {
		errVal = &errMsg
	}

	// Conditional on running so a record is finalized exactly once.
	tag, err := s.pool.Exec(ctx, `
		UPDATE job_executions
		SET status = $3,
			result = $4,
			error = $5,
			duration_ms = $6,
			updated_at = now()
		WHERE execution_id = $1 AND job_name = $2 AND status = 'running'
	`, executionID, jobName, string(status), result, errVal, duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("jobs/postgres: finalize: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var existing string
	qerr := s.pool.QueryRow(ctx, `
		SELECT status FROM job_executions WHERE execution_id = $1 AND job_name = $2
	`, executionID, jobName).Scan(&existing)
	if errors.Is(qerr, pgx.ErrNoRows) {
		return jobs.ErrNotFound
	}
	if qerr != nil {
		return fmt.Errorf("jobs/postgres: finalize check: %w", qerr)
	}
	return jobs.ErrAlreadyFinalized
}

func (s *Store) Latest(ctx context.Context, jobName string) (jobs.ExecutionRecord, error) {
	if s == nil || s.pool == nil {
		return jobs.ExecutionRecord{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if jobName == "" {
		return jobs.ExecutionRecord{}, jobs.ErrInvalidInput
	}

	row := s.pool.QueryRow(ctx, `
		SELECT execution_id, job_name, status, COALESCE(error, ''), result, started_at, duration_ms
		FROM job_executions
		WHERE job_name = $1
		ORDER BY started_at DESC
		LIMIT 1
	`, jobName)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return jobs.ExecutionRecord{}, jobs.ErrNotFound
	}
	if err != nil {
		return jobs.ExecutionRecord{}, fmt.Errorf("jobs/postgres: latest: %w", err)
	}
	return rec, nil
}

func (s *Store) History(ctx context.Context, jobName string, limit int) ([]jobs.ExecutionRecord, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if jobName == "" || limit <= 0 {
		return nil, jobs.ErrInvalidInput
	}

	rows, err := s.pool.Query(ctx, `
		SELECT execution_id, job_name, status, COALESCE(error, ''), result, started_at, duration_ms
		FROM job_executions
		WHERE job_name = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, jobName, limit)
	if err != nil {
		return nil, fmt.Errorf("jobs/postgres: history: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

func (s *Store) JobNames(ctx context.Context) ([]string, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	rows, err := s.pool.Query(ctx, `SELECT DISTINCT job_name FROM job_executions ORDER BY job_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("jobs/postgres: job names: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("jobs/postgres: scan job name: %w", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobs/postgres: job names: %w", err)
	}
	return out, nil
}

func (s *Store) ListRunningBefore(ctx context.Context, cutoff time.Time) ([]jobs.ExecutionRecord, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT execution_id, job_name, status, COALESCE(error, ''), result, started_at, duration_ms
		FROM job_executions
		WHERE status = 'running' AND started_at < $1
		ORDER BY started_at ASC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("jobs/postgres: list running: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

func (s *Store) CountSince(ctx context.Context, jobName string, since time.Time) (int, int, error) {
	if s == nil || s.pool == nil {
		return 0, 0, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if jobName == "" {
		return 0, 0, jobs.ErrInvalidInput
	}

	var completed, failed int
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM job_executions
		WHERE job_name = $1 AND started_at >= $2
	`, jobName, since).Scan(&completed, &failed)
	if err != nil {
		return 0, 0, fmt.Errorf("jobs/postgres: count since: %w", err)
	}
	return completed, failed, nil
}

func scanRecord(row pgx.Row) (jobs.ExecutionRecord, error) {
	var (
		rec        jobs.ExecutionRecord
		status     string
		durationMS int64
	)
	if err := row.Scan(&rec.ExecutionID, &rec.JobName, &status, &rec.Error, &rec.Result, &rec.StartedAt, &durationMS); err != nil {
		return jobs.ExecutionRecord{}, err
	}
	rec.Status = jobs.Status(status)
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	return rec, nil
}

func collectRecords(rows pgx.Rows) ([]jobs.ExecutionRecord, error) {
	var out []jobs.ExecutionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("jobs/postgres: scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobs/postgres: rows: %w", err)
	}
	return out, nil
}
