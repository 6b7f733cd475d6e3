package jobs

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory execution-record store for unit tests and
// single-process usage. It is safe for concurrent use.
type MemoryStore struct {
	mu sync.Mutex

	// records per job, newest last.
	records map[string][]ExecutionRecord
	byID    map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string][]ExecutionRecord),
		byID:    make(map[string]struct{}),
	}
}

func (s *MemoryStore) CreateRunning(_ context.Context, rec ExecutionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.Status != StatusRunning {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[rec.ExecutionID]; ok {
		return ErrDuplicateID
	}
	rec.Result = append([]byte(nil), rec.Result...)
	s.byID[rec.ExecutionID] = struct{}{}
	s.records[rec.JobName] = append(s.records[rec.JobName], rec)
	return nil
}

func (s *MemoryStore) Finalize(_ context.Context, jobName, executionID string, status Status, result []byte, errMsg string, duration time.Duration) error {
	if jobName == "" || executionID == "" {
		return ErrInvalidInput
	}
	if status != StatusCompleted && status != StatusFailed {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.records[jobName]
	for i := range recs {
		if recs[i].ExecutionID != executionID {
			continue
		}
		if recs[i].Status != StatusRunning {
			return ErrAlreadyFinalized
		}
		recs[i].Status = status
		recs[i].Result = append([]byte(nil), result...)
		recs[i].Error = errMsg
		recs[i].Duration = duration
		return nil
	}
	return ErrNotFound
}

func (s *MemoryStore) Latest(_ context.Context, jobName string) (ExecutionRecord, error) {
	if jobName == "" {
		return ExecutionRecord{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.records[jobName]
	if len(recs) == 0 {
		return ExecutionRecord{}, ErrNotFound
	}
	return cloneRecord(recs[len(recs)-1]), nil
}

func (s *MemoryStore) History(_ context.Context, jobName string, limit int) ([]ExecutionRecord, error) {
	if jobName == "" || limit <= 0 {
		return nil, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.records[jobName]
	var out []ExecutionRecord
	for i := len(recs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, cloneRecord(recs[i]))
	}
	return out, nil
}

func (s *MemoryStore) JobNames(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.records))
	for name := range s.records {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) ListRunningBefore(_ context.Context, cutoff time.Time) ([]ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ExecutionRecord
	for _, recs := range s.records {
		for i := range recs {
			if recs[i].Status == StatusRunning && recs[i].StartedAt.Before(cutoff) {
				out = append(out, cloneRecord(recs[i]))
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *MemoryStore) CountSince(_ context.Context, jobName string, since time.Time) (int, int, error) {
	if jobName == "" {
		return 0, 0, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var completed, failed int
	for _, r := range s.records[jobName] {
		if r.StartedAt.Before(since) {
			continue
		}
		switch r.Status {
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
		}
	}
	return completed, failed, nil
}

func cloneRecord(r ExecutionRecord) ExecutionRecord {
	r.Result = append([]byte(nil), r.Result...)
	return r
}
