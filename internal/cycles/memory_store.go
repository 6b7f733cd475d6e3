package cycles

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/scorecast/scorecast/internal/outcome"
)

// MemoryStore is an in-memory cycle store for unit tests and single-process
// usage. It is safe for concurrent use.
type MemoryStore struct {
	mu     sync.Mutex
	cycles map[uint64]Cycle
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cycles: make(map[uint64]Cycle)}
}

func (s *MemoryStore) Create(_ context.Context, c Cycle) error {
	if err := c.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cycles[c.ID]; ok {
		return ErrDuplicate
	}
	for _, existing := range s.cycles {
		if !existing.IsResolved && existing.EndTime.After(c.StartTime) && c.EndTime.After(existing.StartTime) {
			return ErrCycleOpen
		}
	}
	s.cycles[c.ID] = cloneCycle(c)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uint64) (Cycle, error) {
	if id == 0 {
		return Cycle{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cycles[id]
	if !ok {
		return Cycle{}, ErrNotFound
	}
	return cloneCycle(c), nil
}

func (s *MemoryStore) Current(_ context.Context, now time.Time) (Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.cycles {
		if !c.IsResolved && now.Before(c.EndTime) && !now.Before(c.StartTime) {
			return cloneCycle(c), nil
		}
	}
	return Cycle{}, ErrNotFound
}

func (s *MemoryStore) ListEndedUnresolved(_ context.Context, now time.Time, limit int) ([]Cycle, error) {
	if limit <= 0 {
		return nil, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Cycle
	for _, c := range s.cycles {
		if c.IsResolved || now.Before(c.EndTime) {
			continue
		}
		out = append(out, cloneCycle(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EndTime.Equal(out[j].EndTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].EndTime.Before(out[j].EndTime)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkResolved(_ context.Context, id uint64, resolvedAt time.Time) error {
	if id == 0 || resolvedAt.IsZero() {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cycles[id]
	if !ok {
		return ErrNotFound
	}
	if c.IsResolved {
		return ErrAlreadyResolved
	}
	at := resolvedAt.UTC()
	c.IsResolved = true
	c.ResolvedAt = &at
	s.cycles[id] = c
	return nil
}

func (s *MemoryStore) ListResolvedUnevaluated(_ context.Context, limit int) ([]Cycle, error) {
	if limit <= 0 {
		return nil, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Cycle
	for _, c := range s.cycles {
		if c.IsResolved && !c.EvaluationCompleted {
			out = append(out, cloneCycle(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].ResolvedAt, out[j].ResolvedAt
		if ri.Equal(*rj) {
			return out[i].ID < out[j].ID
		}
		return ri.Before(*rj)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkEvaluationCompleted(_ context.Context, id uint64) error {
	if id == 0 {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cycles[id]
	if !ok {
		return ErrNotFound
	}
	if !c.IsResolved {
		return ErrNotResolved
	}
	c.EvaluationCompleted = true
	s.cycles[id] = c
	return nil
}

func cloneCycle(c Cycle) Cycle {
	out := c
	out.Entities = make([]Entity, len(c.Entities))
	for i, e := range c.Entities {
		out.Entities[i] = e
		out.Entities[i].TotalLines = append([]outcome.TotalLine(nil), e.TotalLines...)
	}
	if c.ResolvedAt != nil {
		t := *c.ResolvedAt
		out.ResolvedAt = &t
	}
	return out
}
