package cycleevent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// TopicCycleResolved carries one event per newly resolved cycle. The slip
// evaluator consumes it; a poll fallback covers dropped events.
const TopicCycleResolved = "cycle.resolved"

const versionResolvedV1 = "cycles.resolved.v1"

var ErrInvalidPayload = errors.New("cycleevent: invalid payload")

// ResolvedV1 is the cycle.resolved payload. Versioned so consumers can
// reject shapes they do not understand instead of misreading them.
type ResolvedV1 struct {
	Version      string    `json:"version"`
	CycleID      uint64    `json:"cycleId"`
	ResolvedAt   time.Time `json:"resolvedAt"`
	EntityCount  int       `json:"entityCount"`
	SettledCount int       `json:"settledCount"`
}

// Key returns the partition key: all of one cycle's events stay ordered.
func Key(cycleID uint64) []byte {
	return []byte(strconv.FormatUint(cycleID, 10))
}

func EncodeResolved(cycleID uint64, resolvedAt time.Time, entityCount, settledCount int) ([]byte, error) {
	if cycleID == 0 {
		return nil, fmt.Errorf("%w: cycle id must be non-zero", ErrInvalidPayload)
	}
	if resolvedAt.IsZero() {
		return nil, fmt.Errorf("%w: missing resolution time", ErrInvalidPayload)
	}
	if entityCount <= 0 || settledCount < 0 || settledCount > entityCount {
		return nil, fmt.Errorf("%w: settled %d of %d entities", ErrInvalidPayload, settledCount, entityCount)
	}
	return json.Marshal(ResolvedV1{
		Version:      versionResolvedV1,
		CycleID:      cycleID,
		ResolvedAt:   resolvedAt.UTC(),
		EntityCount:  entityCount,
		SettledCount: settledCount,
	})
}

func DecodeResolved(payload []byte) (ResolvedV1, error) {
	var p ResolvedV1
	if err := json.Unmarshal(payload, &p); err != nil {
		return ResolvedV1{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.Version != versionResolvedV1 {
		return ResolvedV1{}, fmt.Errorf("%w: unsupported version %q", ErrInvalidPayload, p.Version)
	}
	if p.CycleID == 0 || p.ResolvedAt.IsZero() {
		return ResolvedV1{}, fmt.Errorf("%w: missing cycle id or resolution time", ErrInvalidPayload)
	}
	return p, nil
}
