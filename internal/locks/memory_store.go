package locks

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory lock store intended for unit tests and
// single-process usage. It is safe for concurrent use.
type MemoryStore struct {
	mu    sync.Mutex
	now   func() time.Time
	locks map[string]Lock
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:   now,
		locks: make(map[string]Lock),
	}
}

func (s *MemoryStore) TryAcquire(_ context.Context, jobName, holderID string, ttl time.Duration) (Lock, bool, error) {
	if err := validate(jobName, holderID, ttl); err != nil {
		return Lock{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	l, ok := s.locks[jobName]
	if ok && !l.Expired(now) {
		return l, false, nil
	}

	out := Lock{
		JobName:   jobName,
		HolderID:  holderID,
		LockedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	s.locks[jobName] = out
	return out, true, nil
}

func (s *MemoryStore) Release(_ context.Context, jobName, holderID string) error {
	if jobName == "" || holderID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[jobName]
	if !ok {
		return nil
	}
	// A different holder means our lock expired and was stolen; releasing it
	// now would break the new holder's exclusion.
	if l.HolderID != holderID {
		return nil
	}
	delete(s.locks, jobName)
	return nil
}

func (s *MemoryStore) ForceRelease(_ context.Context, jobName string) (bool, error) {
	if jobName == "" {
		return false, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.locks[jobName]; !ok {
		return false, nil
	}
	delete(s.locks, jobName)
	return true, nil
}

func (s *MemoryStore) IsLocked(_ context.Context, jobName string) (bool, error) {
	if jobName == "" {
		return false, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[jobName]
	return ok && !l.Expired(s.now()), nil
}

func (s *MemoryStore) Get(_ context.Context, jobName string) (Lock, error) {
	if jobName == "" {
		return Lock{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[jobName]
	if !ok || l.Expired(s.now()) {
		return Lock{}, ErrNotFound
	}
	return l, nil
}

func (s *MemoryStore) ListHeld(_ context.Context) ([]Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []Lock
	for _, l := range s.locks {
		if !l.Expired(now) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LockedAt.Before(out[j].LockedAt) })
	return out, nil
}
