package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/scorecast/scorecast/internal/idempotency"
	"github.com/scorecast/scorecast/internal/locks"
	"github.com/scorecast/scorecast/internal/policy"
)

var (
	ErrInvalidConfig = errors.New("jobs: invalid config")

	// ErrNonRetryable marks job failures the coordinator must not retry.
	// Wrap with Permanent or test with errors.Is.
	ErrNonRetryable = errors.New("jobs: non-retryable")
)

// Permanent wraps err so the coordinator finalizes it as failed without
// consuming the remaining retry budget.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrNonRetryable, err)
}

// Fn is a coordinated job body. Its returned payload lands in the execution
// record on success.
type Fn func(ctx context.Context) ([]byte, error)

// OutcomeKind separates the normal "someone else is on it" skips from real
// completions and failures. Skips are never errors: the next timer tick
// retries naturally.
type OutcomeKind uint8

const (
	OutcomeUnknown OutcomeKind = iota
	OutcomeCompleted
	OutcomeSkippedLocked
	OutcomeSkippedDependency
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCompleted:
		return "completed"
	case OutcomeSkippedLocked:
		return "skipped_locked"
	case OutcomeSkippedDependency:
		return "skipped_dependency"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

type Outcome struct {
	Kind        OutcomeKind
	ExecutionID string

	// SkipReason names the unmet dependency or the current lock holder.
	SkipReason string

	Result   []byte
	Attempts int

	// Err is the final job error for OutcomeFailed.
	Err error
}

func (o Outcome) Skipped() bool {
	return o.Kind == OutcomeSkippedLocked || o.Kind == OutcomeSkippedDependency
}

// Options tunes one coordinated run.
type Options struct {
	// Dependencies are job names whose latest run must be completed and
	// recent (within DependencyWindow) before this job starts.
	Dependencies []string

	// TTL is the lock TTL; it must exceed the realistic maximum job duration.
	TTL time.Duration

	// RetryAttempts is the total attempt budget (1 = no retry). The fixed
	// RetryDelay between attempts must fit inside the TTL.
	RetryAttempts int
	RetryDelay    time.Duration

	DependencyWindow time.Duration

	// Metadata is recorded alongside failures in log lines only; it does not
	// affect coordination.
	Metadata map[string]string
}

type Config struct {
	// HolderID identifies this scheduler process in lock rows and execution
	// ids (process + run id by convention).
	HolderID string

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Coordinator guarantees at-most-one concurrent execution of a named job
// across scheduler processes, with dependency gating, bounded retry, and an
// execution record finalized exactly once per attempt.
type Coordinator struct {
	cfg Config

	locks   locks.Store
	records Store

	log *slog.Logger
}

func NewCoordinator(cfg Config, lockStore locks.Store, recordStore Store, log *slog.Logger) (*Coordinator, error) {
	if lockStore == nil || recordStore == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidConfig)
	}
	if cfg.HolderID == "" {
		return nil, fmt.Errorf("%w: missing holder id", ErrInvalidConfig)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	return &Coordinator{
		cfg:     cfg,
		locks:   lockStore,
		records: recordStore,
		log:     log,
	}, nil
}

// RunCoordinated runs fn under the named job's lock.
//
// The returned error reflects infrastructure problems only (store failures,
// bad options). Job-body failures finalize the record as failed and come back
// inside the Outcome, and both skip kinds return a nil error.
func (c *Coordinator) RunCoordinated(ctx context.Context, jobName string, fn Fn, opts Options) (Outcome, error) {
	if c == nil || c.locks == nil || c.records == nil {
		return Outcome{}, fmt.Errorf("%w: nil coordinator", ErrInvalidConfig)
	}
	if jobName == "" || fn == nil {
		return Outcome{}, fmt.Errorf("%w: job name and fn are required", ErrInvalidConfig)
	}

	if opts.TTL <= 0 {
		opts.TTL = policy.DefaultPipelineLockTTL
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = policy.DefaultRetryDelay
	}
	if opts.DependencyWindow <= 0 {
		opts.DependencyWindow = policy.DefaultDependencyWindow
	}
	if !policy.RetryBudgetFits(opts.RetryAttempts, opts.RetryDelay, opts.TTL) {
		return Outcome{}, fmt.Errorf("%w: retry budget %dx%s exceeds lock ttl %s", ErrInvalidConfig, opts.RetryAttempts, opts.RetryDelay, opts.TTL)
	}

	now := c.cfg.Now()

	// Dependency gate. Unready dependencies skip the run without retry; the
	// next tick re-checks.
	for _, dep := range opts.Dependencies {
		ok, reason, err := c.dependencySatisfied(ctx, dep, now, opts.DependencyWindow)
		if err != nil {
			return Outcome{}, err
		}
		if !ok {
			c.log.Info("job skipped on dependency", "job", jobName, "dependency", dep, "reason", reason)
			return Outcome{Kind: OutcomeSkippedDependency, SkipReason: reason}, nil
		}
	}

	held, acquired, err := c.locks.TryAcquire(ctx, jobName, c.cfg.HolderID, opts.TTL)
	if err != nil {
		return Outcome{}, err
	}
	if !acquired {
		// Normal outcome when a prior invocation or another scheduler
		// instance holds the lock.
		c.log.Info("job skipped on lock", "job", jobName, "holder", held.HolderID)
		return Outcome{Kind: OutcomeSkippedLocked, SkipReason: "held by " + held.HolderID}, nil
	}
	// Release must happen on every exit path, including context timeout, and
	// must not be cut short by the caller's dead context.
	defer func() {
		rctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if rerr := c.locks.Release(rctx, jobName, c.cfg.HolderID); rerr != nil {
			c.log.Error("lock release failed", "job", jobName, "err", rerr)
		}
	}()

	execID := idempotency.ExecutionIDHexV1(jobName, c.cfg.HolderID, now)
	if err := c.records.CreateRunning(ctx, ExecutionRecord{
		JobName:     jobName,
		ExecutionID: execID,
		Status:      StatusRunning,
		StartedAt:   now,
	}); err != nil {
		return Outcome{}, err
	}

	result, attempts, jobErr := c.runWithRetry(ctx, jobName, fn, opts)
	duration := c.cfg.Now().Sub(now)

	// Finalization shares the release discipline: a dead caller context must
	// not leave the record running forever.
	fctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if jobErr != nil {
		if ferr := c.records.Finalize(fctx, jobName, execID, StatusFailed, nil, jobErr.Error(), duration); ferr != nil && !errors.Is(ferr, ErrAlreadyFinalized) {
			return Outcome{}, ferr
		}
		c.log.Error("job failed", "job", jobName, "execution", execID, "attempts", attempts, "err", jobErr, "metadata", opts.Metadata)
		return Outcome{
			Kind:        OutcomeFailed,
			ExecutionID: execID,
			Attempts:    attempts,
			Err:         jobErr,
		}, nil
	}

	if ferr := c.records.Finalize(fctx, jobName, execID, StatusCompleted, result, "", duration); ferr != nil && !errors.Is(ferr, ErrAlreadyFinalized) {
		return Outcome{}, ferr
	}
	c.log.Info("job completed", "job", jobName, "execution", execID, "attempts", attempts, "duration", duration)
	return Outcome{
		Kind:        OutcomeCompleted,
		ExecutionID: execID,
		Result:      result,
		Attempts:    attempts,
	}, nil
}

func (c *Coordinator) runWithRetry(ctx context.Context, jobName string, fn Fn, opts Options) ([]byte, int, error) {
	var lastErr error
	for attempt := 1; attempt <= opts.RetryAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err

		if errors.Is(err, ErrNonRetryable) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, attempt, err
		}
		if attempt == opts.RetryAttempts {
			break
		}

		c.log.Warn("job attempt failed, retrying", "job", jobName, "attempt", attempt, "of", opts.RetryAttempts, "err", err)
		if serr := c.cfg.Sleep(ctx, opts.RetryDelay); serr != nil {
			return nil, attempt, serr
		}
	}
	return nil, opts.RetryAttempts, lastErr
}

func (c *Coordinator) dependencySatisfied(ctx context.Context, dep string, now time.Time, window time.Duration) (bool, string, error) {
	rec, err := c.records.Latest(ctx, dep)
	if errors.Is(err, ErrNotFound) {
		return false, fmt.Sprintf("dependency %s has never run", dep), nil
	}
	if err != nil {
		return false, "", err
	}
	if rec.Status != StatusCompleted {
		return false, fmt.Sprintf("dependency %s latest run is %s", dep, rec.Status), nil
	}
	finishedAt := rec.StartedAt.Add(rec.Duration)
	if now.Sub(finishedAt) > window {
		return false, fmt.Sprintf("dependency %s last completed %s ago", dep, now.Sub(finishedAt).Truncate(time.Second)), nil
	}
	return true, "", nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
