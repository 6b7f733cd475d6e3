package results

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/scorecast/scorecast/internal/outcome"
)

// MemoryStore is an in-memory result store for unit tests and single-process
// usage. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	results map[string]EntityResult
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{results: make(map[string]EntityResult)}
}

func (s *MemoryStore) Track(_ context.Context, entityID string, scheduledAt time.Time) error {
	if entityID == "" || scheduledAt.IsZero() {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.results[entityID]; ok {
		return nil
	}
	s.results[entityID] = EntityResult{
		EntityID:    entityID,
		Status:      StatusScheduled,
		ScheduledAt: scheduledAt.UTC(),
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, entityID string) (EntityResult, error) {
	if entityID == "" {
		return EntityResult{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.results[entityID]
	if !ok {
		return EntityResult{}, ErrNotFound
	}
	return cloneResult(r), nil
}

func (s *MemoryStore) GetMany(_ context.Context, entityIDs []string) (map[string]EntityResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]EntityResult, len(entityIDs))
	for _, id := range entityIDs {
		if r, ok := s.results[id]; ok {
			out[id] = cloneResult(r)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, entityID string, status EntityStatus, now time.Time) error {
	if entityID == "" || status == StatusUnknown {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.results[entityID]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	r.FetchedAt = now.UTC()
	s.results[entityID] = r
	return nil
}

func (s *MemoryStore) SaveSettlement(_ context.Context, in EntityResult) (bool, error) {
	if err := in.Validate(); err != nil {
		return false, err
	}
	if in.HomeScore == nil || in.Outcomes == nil {
		return false, ErrNotSettled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.results[in.EntityID]
	if !ok {
		return false, ErrNotFound
	}

	changed := !sameSettlement(existing, in)
	merged := cloneResult(in)
	merged.ScheduledAt = existing.ScheduledAt
	merged.FetchedAt = in.FetchedAt.UTC()
	s.results[in.EntityID] = merged
	return changed, nil
}

func (s *MemoryStore) SetOutcomes(_ context.Context, entityID string, set outcome.Set, now time.Time) error {
	if entityID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.results[entityID]
	if !ok {
		return ErrNotFound
	}
	if r.HomeScore == nil {
		return ErrNotSettled
	}
	r.Outcomes = cloneSet(&set)
	r.FetchedAt = now.UTC()
	s.results[entityID] = r
	return nil
}

func (s *MemoryStore) ListDueUnsettled(_ context.Context, now time.Time, lag time.Duration, limit int) ([]EntityResult, error) {
	if limit <= 0 {
		return nil, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-lag)
	var out []EntityResult
	for _, r := range s.results {
		if r.Settled() {
			continue
		}
		if r.Status == StatusCancelled || r.Status == StatusAbandoned {
			continue
		}
		if r.ScheduledAt.After(cutoff) {
			continue
		}
		out = append(out, cloneResult(r))
	}
	sortByScheduled(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListStuck(_ context.Context, now time.Time, age time.Duration, limit int) ([]EntityResult, error) {
	if limit <= 0 {
		return nil, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-age)
	var out []EntityResult
	for _, r := range s.results {
		if r.Status.Terminal() {
			continue
		}
		if r.ScheduledAt.After(cutoff) {
			continue
		}
		out = append(out, cloneResult(r))
	}
	sortByScheduled(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListMissingOutcomes(_ context.Context, limit int) ([]EntityResult, error) {
	if limit <= 0 {
		return nil, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []EntityResult
	for _, r := range s.results {
		if r.HomeScore != nil && r.Outcomes == nil {
			out = append(out, cloneResult(r))
		}
	}
	sortByScheduled(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Seed installs a row verbatim, bypassing settlement validation. It exists
// for tests that need legacy shapes (scores without outcomes) the write path
// no longer produces.
func (s *MemoryStore) Seed(r EntityResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[r.EntityID] = cloneResult(r)
}

func sortByScheduled(rs []EntityResult) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].ScheduledAt.Equal(rs[j].ScheduledAt) {
			return rs[i].EntityID < rs[j].EntityID
		}
		return rs[i].ScheduledAt.Before(rs[j].ScheduledAt)
	})
}

func sameSettlement(a, b EntityResult) bool {
	if a.Status != b.Status {
		return false
	}
	if !intpEqual(a.HomeScore, b.HomeScore) || !intpEqual(a.AwayScore, b.AwayScore) {
		return false
	}
	if !intpEqual(a.HTHome, b.HTHome) || !intpEqual(a.HTAway, b.HTAway) {
		return false
	}
	return outcomesEqual(a.Outcomes, b.Outcomes)
}

func intpEqual(a, b *int) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}

func outcomesEqual(a, b *outcome.Set) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	if a.Moneyline != b.Moneyline || a.BothScore != b.BothScore || a.HalfTime != b.HalfTime {
		return false
	}
	if len(a.Totals) != len(b.Totals) {
		return false
	}
	for line, sel := range a.Totals {
		if b.Totals[line] != sel {
			return false
		}
	}
	return true
}

func cloneResult(r EntityResult) EntityResult {
	r.HomeScore = cloneIntp(r.HomeScore)
	r.AwayScore = cloneIntp(r.AwayScore)
	r.HTHome = cloneIntp(r.HTHome)
	r.HTAway = cloneIntp(r.HTAway)
	r.Outcomes = cloneSet(r.Outcomes)
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		r.FinishedAt = &t
	}
	return r
}

func cloneIntp(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneSet(s *outcome.Set) *outcome.Set {
	if s == nil {
		return nil
	}
	out := *s
	out.Totals = make(map[outcome.TotalLine]outcome.Selection, len(s.Totals))
	for line, sel := range s.Totals {
		out.Totals[line] = sel
	}
	return &out
}
