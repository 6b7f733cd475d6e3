package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/scorecast/scorecast/internal/cycleevent"
	"github.com/scorecast/scorecast/internal/cycles"
	"github.com/scorecast/scorecast/internal/ingest"
	"github.com/scorecast/scorecast/internal/jobs"
	"github.com/scorecast/scorecast/internal/policy"
	"github.com/scorecast/scorecast/internal/queue"
	"github.com/scorecast/scorecast/internal/results"
)

// Job names as they appear in lock rows and execution records.
const (
	JobIngestStatuses = "ingest_statuses"
	JobIngestResults  = "ingest_results"
	JobDeriveOutcomes = "derive_outcomes"
	JobResolveCycles  = "resolve_cycles"
)

var ErrInvalidConfig = errors.New("pipeline: invalid config")

type Config struct {
	// Timeout bounds one full pipeline run. Defaults to the platform policy.
	Timeout time.Duration

	// LockTTL covers each stage's lock. Defaults to the platform policy.
	LockTTL time.Duration

	// RetryAttempts and RetryDelay apply per stage.
	RetryAttempts int
	RetryDelay    time.Duration

	// ResolveLimit bounds cycles checked per run.
	ResolveLimit int

	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = policy.DefaultPipelineTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = policy.DefaultPipelineLockTTL
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = policy.DefaultRetryDelay
	}
	if c.ResolveLimit <= 0 {
		c.ResolveLimit = 10
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// StageRun is one stage's coordinated outcome.
type StageRun struct {
	Job     string
	Outcome jobs.Outcome
}

// Summary reports one pipeline run. Skipped stages are normal; Failed counts
// stage bodies that exhausted their retry budget.
type Summary struct {
	StartedAt time.Time
	Duration  time.Duration
	Stages    []StageRun
	Published int
}

func (s Summary) Failed() int {
	n := 0
	for _, sr := range s.Stages {
		if sr.Outcome.Kind == jobs.OutcomeFailed {
			n++
		}
	}
	return n
}

// Pipeline runs the settlement stages in order under the job coordinator:
// status refresh, result ingestion, outcome backfill, cycle resolution. Each
// stage is independently locked, so concurrent schedulers interleave safely.
type Pipeline struct {
	cfg Config

	coord    *jobs.Coordinator
	stage    *ingest.Stage
	resolver *cycles.Resolver
	cycleSt  cycles.Store
	resultSt results.Store

	// producer is optional; nil disables cycle.resolved events and leaves the
	// evaluator on its poll fallback.
	producer queue.Producer

	log *slog.Logger
}

func New(cfg Config, coord *jobs.Coordinator, stage *ingest.Stage, resolver *cycles.Resolver, cycleStore cycles.Store, resultStore results.Store, producer queue.Producer, log *slog.Logger) (*Pipeline, error) {
	if coord == nil || stage == nil || resolver == nil || cycleStore == nil || resultStore == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidConfig)
	}
	cfg.applyDefaults()
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{
		cfg:      cfg,
		coord:    coord,
		stage:    stage,
		resolver: resolver,
		cycleSt:  cycleStore,
		resultSt: resultStore,
		producer: producer,
		log:      log,
	}, nil
}

// Run executes one pipeline pass under the wall-clock timeout. Stage-body
// failures land in the Summary; the returned error covers infrastructure
// problems only. Later stages gate on earlier ones through the coordinator's
// dependency window, so a failed ingest run makes resolution skip, not fail.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	sum := Summary{StartedAt: p.cfg.Now()}

	stages := []struct {
		job  string
		deps []string
		fn   jobs.Fn
	}{
		{JobIngestStatuses, nil, p.runIngestStatuses},
		{JobIngestResults, nil, p.runIngestResults},
		{JobDeriveOutcomes, []string{JobIngestResults}, p.runDeriveOutcomes},
		{JobResolveCycles, []string{JobIngestResults}, p.runResolveCycles},
	}

	for _, st := range stages {
		out, err := p.coord.RunCoordinated(ctx, st.job, st.fn, jobs.Options{
			Dependencies:  st.deps,
			TTL:           p.cfg.LockTTL,
			RetryAttempts: p.cfg.RetryAttempts,
			RetryDelay:    p.cfg.RetryDelay,
		})
		if err != nil {
			return sum, fmt.Errorf("pipeline: stage %s: %w", st.job, err)
		}
		sum.Stages = append(sum.Stages, StageRun{Job: st.job, Outcome: out})
	}

	sum.Published = p.publishResolved(ctx)
	sum.Duration = p.cfg.Now().Sub(sum.StartedAt)
	p.log.Info("pipeline run finished",
		"duration", sum.Duration, "failed_stages", sum.Failed(), "published", sum.Published)
	return sum, nil
}

// runIngestStatuses tracks the current cycle's entities, then refreshes stuck
// statuses. Tracking lives here so newly created cycles enter the settlement
// tables on the next tick without a separate job.
func (p *Pipeline) runIngestStatuses(ctx context.Context) ([]byte, error) {
	if err := p.trackCurrentEntities(ctx); err != nil {
		return nil, err
	}
	rep, err := p.stage.IngestStatuses(ctx)
	if err != nil {
		return nil, err
	}
	return marshalReport(rep)
}

func (p *Pipeline) runIngestResults(ctx context.Context) ([]byte, error) {
	rep, err := p.stage.IngestResults(ctx)
	if err != nil {
		return nil, err
	}
	return marshalReport(rep)
}

func (p *Pipeline) runDeriveOutcomes(ctx context.Context) ([]byte, error) {
	rep, err := p.stage.DeriveMissingOutcomes(ctx)
	if err != nil {
		return nil, err
	}
	return marshalReport(rep)
}

func (p *Pipeline) runResolveCycles(ctx context.Context) ([]byte, error) {
	rep, err := p.resolver.ResolveDue(ctx, p.cfg.ResolveLimit)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Checked  int `json:"checked"`
		Resolved int `json:"resolved"`
		NotReady int `json:"notReady"`
		Errors   int `json:"errors"`
	}{rep.Checked, rep.Resolved, rep.NotReady, rep.Errors})
}

func (p *Pipeline) trackCurrentEntities(ctx context.Context) error {
	c, err := p.cycleSt.Current(ctx, p.cfg.Now())
	if errors.Is(err, cycles.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("pipeline: load current cycle: %w", err)
	}
	for _, e := range c.Entities {
		if err := p.resultSt.Track(ctx, e.EntityID, c.StartTime); err != nil {
			return fmt.Errorf("pipeline: track entity %s: %w", e.EntityID, err)
		}
	}
	return nil
}

// publishResolved emits cycle.resolved for every resolved cycle whose slips
// are not yet evaluated. Re-publishing until evaluation completes gives
// at-least-once delivery; the evaluator is idempotent, so duplicates are
// harmless.
func (p *Pipeline) publishResolved(ctx context.Context) int {
	if p.producer == nil {
		return 0
	}
	pending, err := p.cycleSt.ListResolvedUnevaluated(ctx, p.cfg.ResolveLimit)
	if err != nil {
		p.log.Error("list resolved cycles for publish failed", "error", err)
		return 0
	}

	published := 0
	for _, c := range pending {
		if c.ResolvedAt == nil {
			continue
		}
		settled, err := p.settledCount(ctx, c)
		if err != nil {
			p.log.Error("settled count for publish failed", "cycle", c.ID, "error", err)
			continue
		}
		payload, err := cycleevent.EncodeResolved(c.ID, *c.ResolvedAt, len(c.Entities), settled)
		if err != nil {
			p.log.Error("encode cycle.resolved failed", "cycle", c.ID, "error", err)
			continue
		}
		if err := p.producer.Publish(ctx, cycleevent.TopicCycleResolved, cycleevent.Key(c.ID), payload); err != nil {
			p.log.Error("publish cycle.resolved failed", "cycle", c.ID, "error", err)
			continue
		}
		published++
	}
	return published
}

func (p *Pipeline) settledCount(ctx context.Context, c cycles.Cycle) (int, error) {
	rs, err := p.resultSt.GetMany(ctx, c.EntityIDs())
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, e := range c.Entities {
		if r, ok := rs[e.EntityID]; ok && r.Settled() {
			settled++
		}
	}
	return settled, nil
}

func marshalReport(rep ingest.Report) ([]byte, error) {
	return json.Marshal(struct {
		Fetched int `json:"fetched"`
		Saved   int `json:"saved"`
		Skipped int `json:"skipped"`
		Errors  int `json:"errors"`
	}{rep.Fetched, rep.Saved, rep.Skipped, rep.Errors})
}
