package slips

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory slip store for unit tests and single-process
// usage. It is safe for concurrent use.
type MemoryStore struct {
	mu    sync.Mutex
	slips map[string]Slip
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slips: make(map[string]Slip)}
}

func (s *MemoryStore) Create(_ context.Context, in Slip) error {
	if err := in.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.slips[in.ID]; ok {
		return ErrDuplicate
	}
	s.slips[in.ID] = cloneSlip(in)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, slipID string) (Slip, error) {
	if slipID == "" {
		return Slip{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slips[slipID]
	if !ok {
		return Slip{}, ErrNotFound
	}
	return cloneSlip(sl), nil
}

func (s *MemoryStore) ListUnevaluated(_ context.Context, cycleID uint64, limit int) ([]Slip, error) {
	if cycleID == 0 || limit <= 0 {
		return nil, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Slip
	for _, sl := range s.slips {
		if sl.CycleID == cycleID && !sl.IsEvaluated {
			out = append(out, cloneSlip(sl))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) FinalizeEvaluation(_ context.Context, slipID string, score Score) (bool, error) {
	if slipID == "" || score.EvaluatedAt.IsZero() || score.CorrectCount < 0 {
		return false, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slips[slipID]
	if !ok {
		return false, ErrNotFound
	}
	if sl.IsEvaluated {
		return false, nil
	}
	at := score.EvaluatedAt.UTC()
	sl.IsEvaluated = true
	sl.CorrectCount = score.CorrectCount
	sl.FinalScore = score.FinalScore
	sl.Rank = cloneIntp(score.Rank)
	sl.EvaluatedAt = &at
	s.slips[slipID] = sl
	return true, nil
}

func (s *MemoryStore) CountByCycle(_ context.Context, cycleID uint64) (int, int, error) {
	if cycleID == 0 {
		return 0, 0, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	total, evaluated := 0, 0
	for _, sl := range s.slips {
		if sl.CycleID != cycleID {
			continue
		}
		total++
		if sl.IsEvaluated {
			evaluated++
		}
	}
	return total, evaluated, nil
}

func cloneSlip(sl Slip) Slip {
	out := sl
	out.Predictions = append([]Prediction(nil), sl.Predictions...)
	out.Rank = cloneIntp(sl.Rank)
	if sl.EvaluatedAt != nil {
		t := *sl.EvaluatedAt
		out.EvaluatedAt = &t
	}
	return out
}

func cloneIntp(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
