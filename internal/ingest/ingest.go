package ingest

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

var ErrInvalidConfig = errors.New("ingest: invalid config")

const defaultBatchSize = 20

// StatusUpdate is one entity's feed status.
type StatusUpdate struct {
	EntityID string
	Status   results.EntityStatus
}

// ResultData is one entity's final score as reported by the feed.
type ResultData struct {
	EntityID   string
	HomeScore  int
	AwayScore  int
	HTHome     *int
	HTAway     *int
	Status     results.EntityStatus
	FinishedAt *time.Time
}

// StatusBatch and ResultBatch carry decoded entries plus the raw feed payload
// for best-effort archival.
type StatusBatch struct {
	Statuses []StatusUpdate
	Raw      []byte
}

type ResultBatch struct {
	Results []ResultData
	Raw     []byte
}

// Gateway is the external sports-feed contract. Both calls may return partial
// batches: an absent entity id means "not yet available", never an error.
// Callers pace successive calls to respect feed rate limits.
type Gateway interface {
	FetchStatuses(ctx context.Context, entityIDs []string) (StatusBatch, error)
	FetchResults(ctx context.Context, entityIDs []string) (ResultBatch, error)
}

// Archiver stores raw feed payloads for audit and dispute re-ingestion.
// Archival is best-effort: a failure is logged and never blocks ingestion.
type Archiver interface {
	ArchiveBatch(ctx context.Context, kind string, at time.Time, payload []byte) error
}

// Report summarizes one stage pass. A single entity's failure is counted in
// Errors and never aborts the batch.
type Report struct {
	Fetched int
	Saved   int
	Skipped int
	Errors  int
}

type Config struct {
	// BatchSize bounds one gateway call. Defaults to 20.
	BatchSize int

	// PaceDelay separates successive gateway calls. Zero disables pacing.
	PaceDelay time.Duration

	// DueLag is how far past scheduled kickoff before results are fetched.
	// Defaults to the platform policy.
	DueLag time.Duration

	// StuckAge marks entities force-refreshed regardless of change tracking.
	// Defaults to the platform policy.
	StuckAge time.Duration

	// MaxBatches bounds one pass. Defaults to 10.
	MaxBatches int

	// Now and Sleep are injectable for tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.DueLag <= 0 {
		c.DueLag = policy.DefaultResultDueLag
	}
	if c.StuckAge <= 0 {
		c.StuckAge = policy.DefaultStuckStatusAge
	}
	if c.MaxBatches <= 0 {
		c.MaxBatches = 10
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Sleep == nil {
		c.Sleep = func(ctx context.Context, d time.Duration) error {
			if d <= 0 {
				return ctx.Err()
			}
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		}
	}
}

// Stage drives result ingestion: status refresh for stuck entities, final
// score ingestion for due entities, and outcome backfill for scores-only
// rows.
type Stage struct {
	cfg      Config
	store    results.Store
	gateway  Gateway
	archiver Archiver
	log      *slog.Logger
}

// New builds a Stage. archiver may be nil to disable payload archival.
func New(cfg Config, store results.Store, gateway Gateway, archiver Archiver, log *slog.Logger) (*Stage, error) {
	if store == nil || gateway == nil {
		return nil, fmt.Errorf("%w: nil store or gateway", ErrInvalidConfig)
	}
	cfg.applyDefaults()
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Stage{cfg: cfg, store: store, gateway: gateway, archiver: archiver, log: log}, nil
}

// IngestStatuses refreshes feed statuses for stuck entities: rows far past
// their expected completion window with no terminal status. The feed drops
// status transitions sometimes, so these are re-fetched unconditionally.
func (s *Stage) IngestStatuses(ctx context.Context) (Report, error) {
	var rep Report
	now := s.cfg.Now()

	for batch := 0; batch < s.cfg.MaxBatches; batch++ {
		stuck, err := s.store.ListStuck(ctx, now, s.cfg.StuckAge, s.cfg.BatchSize)
		if err != nil {
			return rep, fmt.Errorf("ingest: list stuck: %w", err)
		}
		if len(stuck) == 0 {
			return rep, nil
		}

		if err := s.pace(ctx, batch); err != nil {
			return rep, err
		}

		ids := entityIDs(stuck)
		sb, err := s.gateway.FetchStatuses(ctx, ids)
		if err != nil {
			// The whole call failed; count every entity and stop the pass.
			rep.Errors += len(ids)
			s.log.Error("status fetch failed", "entities", len(ids), "error", err)
			return rep, nil
		}
		rep.Fetched += len(sb.Statuses)
		s.archive(ctx, "statuses", now, sb.Raw)

		byID := make(map[string]results.EntityStatus, len(sb.Statuses))
		for _, u := range sb.Statuses {
			byID[u.EntityID] = u.Status
		}
		progressed := false
		for _, r := range stuck {
			status, ok := byID[r.EntityID]
			if !ok || status == results.StatusUnknown || status == r.Status {
				// Absent or unchanged: not yet available, try next tick.
				rep.Skipped++
				continue
			}
			if err := s.store.UpdateStatus(ctx, r.EntityID, status, now); err != nil {
				rep.Errors++
				s.log.Error("status update failed", "entity", r.EntityID, "error", err)
				continue
			}
			progressed = true
			rep.Saved++
		}
		// Nothing moved; the same rows would come straight back.
		if !progressed {
			return rep, nil
		}
	}
	return rep, nil
}

// IngestResults fetches final scores for entities due for settlement and
// persists each one atomically: raw scores, derived outcomes, and status land
// together or not at all.
func (s *Stage) IngestResults(ctx context.Context) (Report, error) {
	var rep Report
	now := s.cfg.Now()

	seen := make(map[string]struct{})
	for batch := 0; batch < s.cfg.MaxBatches; batch++ {
		due, err := s.store.ListDueUnsettled(ctx, now, s.cfg.DueLag, s.cfg.BatchSize)
		if err != nil {
			return rep, fmt.Errorf("ingest: list due: %w", err)
		}
		// Drop rows already tried this pass so unavailable results cannot
		// spin the loop.
		fresh := due[:0]
		for _, r := range due {
			if _, done := seen[r.EntityID]; !done {
				fresh = append(fresh, r)
				seen[r.EntityID] = struct{}{}
			}
		}
		if len(fresh) == 0 {
			return rep, nil
		}

		if err := s.pace(ctx, batch); err != nil {
			return rep, err
		}

		ids := entityIDs(fresh)
		rb, err := s.gateway.FetchResults(ctx, ids)
		if err != nil {
			rep.Errors += len(ids)
			s.log.Error("result fetch failed", "entities", len(ids), "error", err)
			return rep, nil
		}
		rep.Fetched += len(rb.Results)
		s.archive(ctx, "results", now, rb.Raw)

		byID := make(map[string]ResultData, len(rb.Results))
		for _, rd := range rb.Results {
			byID[rd.EntityID] = rd
		}
		for _, r := range fresh {
			rd, ok := byID[r.EntityID]
			if !ok {
				rep.Skipped++
				continue
			}
			saved, err := s.saveResult(ctx, r, rd, now)
			if err != nil {
				rep.Errors++
				s.log.Error("result save failed", "entity", r.EntityID, "error", err)
				continue
			}
			if !saved {
				// Non-final status: the score is not authoritative yet.
				rep.Skipped++
				continue
			}
			rep.Saved++
		}
	}
	return rep, nil
}

// DeriveMissingOutcomes backfills derived outcomes on rows that carry raw
// scores but no outcomes, legacy or partially-migrated rows included.
func (s *Stage) DeriveMissingOutcomes(ctx context.Context) (Report, error) {
	var rep Report
	now := s.cfg.Now()

	for batch := 0; batch < s.cfg.MaxBatches; batch++ {
		missing, err := s.store.ListMissingOutcomes(ctx, s.cfg.BatchSize)
		if err != nil {
			return rep, fmt.Errorf("ingest: list missing outcomes: %w", err)
		}
		if len(missing) == 0 {
			return rep, nil
		}

		progressed := false
		for _, r := range missing {
			set, err := outcome.Derive(*r.HomeScore, *r.AwayScore, r.HTHome, r.HTAway, nil)
			if err != nil {
				rep.Errors++
				s.log.Error("outcome derivation failed", "entity", r.EntityID, "error", err)
				continue
			}
			if err := s.store.SetOutcomes(ctx, r.EntityID, set, now); err != nil {
				rep.Errors++
				s.log.Error("outcome backfill failed", "entity", r.EntityID, "error", err)
				continue
			}
			progressed = true
			rep.Saved++
		}
		if !progressed {
			return rep, nil
		}
	}
	return rep, nil
}

// saveResult persists one feed entry. Only a final score settles the row:
// scores attached to a live or pending status are snapshots, not results, so
// the entity stays in the due queue until the feed reports it finished.
func (s *Stage) saveResult(ctx context.Context, r results.EntityResult, rd ResultData, now time.Time) (saved bool, err error) {
	status := rd.Status

	// Cancelled or abandoned entities never settle; record the status so they
	// leave the due queue.
	if status == results.StatusCancelled || status == results.StatusAbandoned {
		return true, s.store.UpdateStatus(ctx, r.EntityID, status, now)
	}
	if status != results.StatusFinished {
		// In-play or still scheduled. Record the transition so stuck tracking
		// stays honest, but keep the row unsettled.
		if status != results.StatusUnknown && status != r.Status {
			if err := s.store.UpdateStatus(ctx, r.EntityID, status, now); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	set, err := outcome.Derive(rd.HomeScore, rd.AwayScore, rd.HTHome, rd.HTAway, nil)
	if err != nil {
		return false, err
	}
	home, away := rd.HomeScore, rd.AwayScore
	finished := rd.FinishedAt
	if finished == nil {
		t := now
		finished = &t
	}
	_, err = s.store.SaveSettlement(ctx, results.EntityResult{
		EntityID:    r.EntityID,
		Status:      status,
		ScheduledAt: r.ScheduledAt,
		HomeScore:   &home,
		AwayScore:   &away,
		HTHome:      rd.HTHome,
		HTAway:      rd.HTAway,
		Outcomes:    &set,
		FinishedAt:  finished,
		FetchedAt:   now,
	})
	return err == nil, err
}

func (s *Stage) pace(ctx context.Context, batch int) error {
	if batch == 0 || s.cfg.PaceDelay <= 0 {
		return ctx.Err()
	}
	return s.cfg.Sleep(ctx, s.cfg.PaceDelay)
}

func (s *Stage) archive(ctx context.Context, kind string, at time.Time, payload []byte) {
	if s.archiver == nil || len(payload) == 0 {
		return
	}
	if err := s.archiver.ArchiveBatch(ctx, kind, at, payload); err != nil {
		s.log.Warn("feed payload archive failed", "kind", kind, "error", err)
	}
}

func entityIDs(rs []results.EntityResult) []string {
	ids := make([]string, len(rs))
	for i, r := range rs {
		ids[i] = r.EntityID
	}
	return ids
}
