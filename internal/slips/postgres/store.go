package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/scorecast/scorecast/internal/outcome"
	"github.com/scorecast/scorecast/internal/slips"
)

var ErrInvalidConfig = errors.New("slips/postgres: invalid config")

const slipColumns = `slip_id, owner_id, cycle_id, is_evaluated, correct_count, final_score, rank, submitted_at, evaluated_at`

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
		return fmt.Errorf("slips/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, in slips.Slip) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if err := in.Validate(); err != nil {
		return err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("slips/postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO prediction_slips (slip_id, owner_id, cycle_id, is_evaluated, correct_count, final_score, rank, submitted_at, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, in.ID, in.Owner, int64(in.CycleID), in.IsEvaluated, in.CorrectCount, in.FinalScore, in.Rank, in.SubmittedAt, in.EvaluatedAt)
	if isUniqueViolation(err) {
		return slips.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("slips/postgres: insert slip: %w", err)
	}

	for i, p := range in.Predictions {
		_, err = tx.Exec(ctx, `
			INSERT INTO slip_predictions (slip_id, position, entity_id, market, selection, total_line)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, in.ID, i, p.EntityID, p.Market.String(), p.Selection.String(), int(p.Line))
		if err != nil {
			return fmt.Errorf("slips/postgres: insert prediction %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("slips/postgres: commit create: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, slipID string) (slips.Slip, error) {
	if s == nil || s.pool == nil {
		return slips.Slip{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if slipID == "" {
		return slips.Slip{}, slips.ErrInvalidInput
	}

	row := s.pool.QueryRow(ctx, `SELECT `+slipColumns+` FROM prediction_slips WHERE slip_id = $1`, slipID)
	sl, err := scanSlip(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return slips.Slip{}, slips.ErrNotFound
	}
	if err != nil {
		return slips.Slip{}, fmt.Errorf("slips/postgres: get: %w", err)
	}
	if err := s.loadPredictions(ctx, []*slips.Slip{&sl}); err != nil {
		return slips.Slip{}, err
	}
	return sl, nil
}

func (s *Store) ListUnevaluated(ctx context.Context, cycleID uint64, limit int) ([]slips.Slip, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if cycleID == 0 || limit <= 0 {
		return nil, slips.ErrInvalidInput
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+slipColumns+`
		FROM prediction_slips
		WHERE cycle_id = $1 AND NOT is_evaluated
		ORDER BY submitted_at ASC, slip_id ASC
		LIMIT $2
	`, int64(cycleID), limit)
	if err != nil {
		return nil, fmt.Errorf("slips/postgres: list unevaluated: %w", err)
	}
	defer rows.Close()

	var out []slips.Slip
	for rows.Next() {
		sl, err := scanSlip(rows)
		if err != nil {
			return nil, fmt.Errorf("slips/postgres: scan slip: %w", err)
		}
		out = append(out, sl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("slips/postgres: rows: %w", err)
	}

	refs := make([]*slips.Slip, len(out))
	for i := range out {
		refs[i] = &out[i]
	}
	if err := s.loadPredictions(ctx, refs); err != nil {
		return nil, err
	}
	return out, nil
}

// FinalizeEvaluation is the one-shot flip: the WHERE clause makes concurrent
// evaluators race safely, exactly one update lands.
func (s *Store) FinalizeEvaluation(ctx context.Context, slipID string, score slips.Score) (bool, error) {
	if s == nil || s.pool == nil {
		return false, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if slipID == "" || score.EvaluatedAt.IsZero() || score.CorrectCount < 0 {
		return false, slips.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE prediction_slips
		SET is_evaluated = TRUE,
			correct_count = $2,
			final_score = $3,
			rank = $4,
			evaluated_at = $5,
			updated_at = now()
		WHERE slip_id = $1 AND NOT is_evaluated
	`, slipID, score.CorrectCount, score.FinalScore, score.Rank, score.EvaluatedAt)
	if err != nil {
		return false, fmt.Errorf("slips/postgres: finalize evaluation: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if qerr := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM prediction_slips WHERE slip_id = $1)`, slipID).Scan(&exists); qerr != nil {
		return false, fmt.Errorf("slips/postgres: finalize check: %w", qerr)
	}
	if !exists {
		return false, slips.ErrNotFound
	}
	return false, nil
}

func (s *Store) CountByCycle(ctx context.Context, cycleID uint64) (int, int, error) {
	if s == nil || s.pool == nil {
		return 0, 0, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if cycleID == 0 {
		return 0, 0, slips.ErrInvalidInput
	}

	var total, evaluated int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE is_evaluated)
		FROM prediction_slips
		WHERE cycle_id = $1
	`, int64(cycleID)).Scan(&total, &evaluated)
	if err != nil {
		return 0, 0, fmt.Errorf("slips/postgres: count by cycle: %w", err)
	}
	return total, evaluated, nil
}

func (s *Store) loadPredictions(ctx context.Context, sls []*slips.Slip) error {
	if len(sls) == 0 {
		return nil
	}
	ids := make([]string, len(sls))
	byID := make(map[string]*slips.Slip, len(sls))
	for i, sl := range sls {
		ids[i] = sl.ID
		byID[sl.ID] = sl
	}

	rows, err := s.pool.Query(ctx, `
		SELECT slip_id, entity_id, market, selection, total_line
		FROM slip_predictions
		WHERE slip_id = ANY($1)
		ORDER BY slip_id ASC, position ASC
	`, ids)
	if err != nil {
		return fmt.Errorf("slips/postgres: load predictions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			slipID, entityID, marketText, selectionText string
			line                                        int
		)
		if err := rows.Scan(&slipID, &entityID, &marketText, &selectionText, &line); err != nil {
			return fmt.Errorf("slips/postgres: scan prediction: %w", err)
		}
		market, err := outcome.ParseMarket(marketText)
		if err != nil {
			return fmt.Errorf("slips/postgres: slip %s: %w", slipID, err)
		}
		selection, err := outcome.ParseSelection(selectionText)
		if err != nil {
			return fmt.Errorf("slips/postgres: slip %s: %w", slipID, err)
		}
		sl, ok := byID[slipID]
		if !ok {
			continue
		}
		sl.Predictions = append(sl.Predictions, slips.Prediction{
			EntityID:  entityID,
			Market:    market,
			Selection: selection,
			Line:      outcome.TotalLine(line),
		})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("slips/postgres: prediction rows: %w", err)
	}
	return nil
}

func scanSlip(row pgx.Row) (slips.Slip, error) {
	var (
		sl      slips.Slip
		cycleID int64
	)
	err := row.Scan(&sl.ID, &sl.Owner, &cycleID, &sl.IsEvaluated,
		&sl.CorrectCount, &sl.FinalScore, &sl.Rank, &sl.SubmittedAt, &sl.EvaluatedAt)
	if err != nil {
		return slips.Slip{}, err
	}
	sl.CycleID = uint64(cycleID)
	return sl, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
