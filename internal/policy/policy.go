package policy

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultResolveCooldown is the minimum time after a cycle's end before
	// resolution is considered. Upstream final scores routinely lag kickoff+90'
	// by up to an hour, so resolving earlier just burns threshold checks.
	DefaultResolveCooldown = 2 * time.Hour

	// DefaultSettleThresholdNum/Den: a cycle is ready for resolution once
	// Num/Den of its entities have settled results (8-of-10 for the standard
	// ten-match cycle).
	DefaultSettleThresholdNum = 4
	DefaultSettleThresholdDen = 5

	// DefaultMaxSettleWait is the escape valve for entities that never settle
	// (abandoned or cancelled upstream). Past this age a cycle resolves with
	// whatever results are available.
	DefaultMaxSettleWait = 48 * time.Hour

	// DefaultResultDueLag is how far past an entity's scheduled start we wait
	// before asking the feed for a final score.
	DefaultResultDueLag = time.Hour

	// DefaultStuckStatusAge marks entities far past expected completion that
	// still lack a terminal status. The feed sometimes drops status updates
	// silently, so these are force-refreshed regardless of change tracking.
	DefaultStuckStatusAge = 130 * time.Minute

	// DefaultDependencyWindow is how recent a dependency's last completed run
	// must be for a dependent job to start.
	DefaultDependencyWindow = 2 * time.Hour

	// DefaultPipelineTimeout is the hard wall clock for one coordinated
	// pipeline run. DefaultPipelineLockTTL must exceed it so a crashed holder
	// cannot block the next tick longer than one TTL.
	DefaultPipelineTimeout = 25 * time.Minute
	DefaultPipelineLockTTL = 30 * time.Minute

	// DefaultRetryDelay separates coordinator retry attempts.
	DefaultRetryDelay = 30 * time.Second

	// PointsPerCorrectPick is the flat per-pick score.
	PointsPerCorrectPick = 10
)

var ErrInvalidConfig = errors.New("policy: invalid config")

// Resolution bundles the cycle-resolution policy knobs.
type Resolution struct {
	Cooldown           time.Duration
	SettleThresholdNum int
	SettleThresholdDen int
	MaxSettleWait      time.Duration
}

func DefaultResolution() Resolution {
	return Resolution{
		Cooldown:           DefaultResolveCooldown,
		SettleThresholdNum: DefaultSettleThresholdNum,
		SettleThresholdDen: DefaultSettleThresholdDen,
		MaxSettleWait:      DefaultMaxSettleWait,
	}
}

func (r Resolution) Validate() error {
	if r.Cooldown <= 0 {
		return fmt.Errorf("%w: Cooldown must be > 0", ErrInvalidConfig)
	}
	if r.SettleThresholdNum <= 0 || r.SettleThresholdDen <= 0 || r.SettleThresholdNum > r.SettleThresholdDen {
		return fmt.Errorf("%w: settle threshold must be a fraction in (0,1]", ErrInvalidConfig)
	}
	if r.MaxSettleWait <= r.Cooldown {
		return fmt.Errorf("%w: MaxSettleWait must exceed Cooldown", ErrInvalidConfig)
	}
	return nil
}

// SettledEnough reports whether settled entities meet the threshold fraction.
// The required count rounds up: 7 of 10 at 4/5 is not enough, 8 is.
func (r Resolution) SettledEnough(settled, total int) bool {
	if total <= 0 {
		return false
	}
	need := (total*r.SettleThresholdNum + r.SettleThresholdDen - 1) / r.SettleThresholdDen
	return settled >= need
}

// RankTier maps a slip's correct fraction to a leaderboard tier (1 is best).
// Slips below the lowest tier stay unranked.
func RankTier(correct, total int) (int, bool) {
	if total <= 0 || correct < 0 {
		return 0, false
	}
	switch frac := float64(correct) / float64(total); {
	case frac >= 0.9:
		return 1, true
	case frac >= 0.7:
		return 2, true
	case frac >= 0.5:
		return 3, true
	default:
		return 0, false
	}
}

// RetryBudgetFits reports whether attempts with a fixed delay between them can
// complete inside the lock TTL. The coordinator rejects configurations where a
// retrying job would outlive its own lock.
func RetryBudgetFits(attempts int, delay, ttl time.Duration) bool {
	if attempts <= 1 {
		return true
	}
	if delay <= 0 || ttl <= 0 {
		return false
	}
	return time.Duration(attempts-1)*delay < ttl
}
