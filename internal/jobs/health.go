package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/scorecast/scorecast/internal/locks"
)

// HealthConfig tunes the operational checks exposed by the status API.
type HealthConfig struct {
	// StuckLockAge flags held locks older than this.
	StuckLockAge time.Duration

	// StuckRunningAge flags running executions started longer ago than this.
	StuckRunningAge time.Duration

	// FailureRateThreshold flags jobs whose failed fraction over
	// FailureWindow exceeds it (0.5 = half the runs failing).
	FailureRateThreshold float64
	FailureWindow        time.Duration

	Now func() time.Time
}

func (c *HealthConfig) applyDefaults() {
	if c.StuckLockAge <= 0 {
		c.StuckLockAge = time.Hour
	}
	if c.StuckRunningAge <= 0 {
		c.StuckRunningAge = time.Hour
	}
	if c.FailureRateThreshold <= 0 {
		c.FailureRateThreshold = 0.5
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = 24 * time.Hour
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

type HealthReport struct {
	Healthy bool
	Issues  []string
}

type JobStatus struct {
	JobName string
	Latest  ExecutionRecord
}

type SystemStatus struct {
	HeldLocks []locks.Lock
	Jobs      []JobStatus
}

// Health aggregates lock and execution state into operator-facing signals.
type Health struct {
	cfg     HealthConfig
	locks   locks.Store
	records Store
}

func NewHealth(cfg HealthConfig, lockStore locks.Store, recordStore Store) (*Health, error) {
	if lockStore == nil || recordStore == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidConfig)
	}
	cfg.applyDefaults()
	return &Health{cfg: cfg, locks: lockStore, records: recordStore}, nil
}

func (h *Health) SystemStatus(ctx context.Context) (SystemStatus, error) {
	held, err := h.locks.ListHeld(ctx)
	if err != nil {
		return SystemStatus{}, err
	}

	names, err := h.records.JobNames(ctx)
	if err != nil {
		return SystemStatus{}, err
	}

	out := SystemStatus{HeldLocks: held}
	for _, name := range names {
		rec, err := h.records.Latest(ctx, name)
		if err != nil {
			return SystemStatus{}, err
		}
		out.Jobs = append(out.Jobs, JobStatus{JobName: name, Latest: rec})
	}
	return out, nil
}

func (h *Health) Check(ctx context.Context) (HealthReport, error) {
	now := h.cfg.Now()
	report := HealthReport{Healthy: true}

	held, err := h.locks.ListHeld(ctx)
	if err != nil {
		return HealthReport{}, err
	}
	for _, l := range held {
		if age := now.Sub(l.LockedAt); age > h.cfg.StuckLockAge {
			report.Issues = append(report.Issues,
				fmt.Sprintf("stuck lock %s held by %s for %s", l.JobName, l.HolderID, age.Truncate(time.Second)))
		}
	}

	stuck, err := h.records.ListRunningBefore(ctx, now.Add(-h.cfg.StuckRunningAge))
	if err != nil {
		return HealthReport{}, err
	}
	for _, r := range stuck {
		report.Issues = append(report.Issues,
			fmt.Sprintf("execution %s of %s running since %s", r.ExecutionID, r.JobName, r.StartedAt.UTC().Format(time.RFC3339)))
	}

	names, err := h.records.JobNames(ctx)
	if err != nil {
		return HealthReport{}, err
	}
	since := now.Add(-h.cfg.FailureWindow)
	for _, name := range names {
		completed, failed, err := h.records.CountSince(ctx, name, since)
		if err != nil {
			return HealthReport{}, err
		}
		total := completed + failed
		if total == 0 {
			continue
		}
		if rate := float64(failed) / float64(total); rate > h.cfg.FailureRateThreshold {
			report.Issues = append(report.Issues,
				fmt.Sprintf("job %s error rate %.0f%% over last %s", name, rate*100, h.cfg.FailureWindow))
		}
	}

	report.Healthy = len(report.Issues) == 0
	return report, nil
}
