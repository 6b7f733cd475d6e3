package locks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_AcquireReleaseAndSteal(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	nowFn := func() time.Time { return now }

	s := NewMemoryStore(nowFn)
	ctx := context.Background()

	l, ok, err := s.TryAcquire(ctx, "pipeline", "sched-1", 10*time.Minute)
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if !ok {
		t.Fatalf("expected ok=true on first acquire")
	}
	if l.HolderID != "sched-1" {
		t.Fatalf("holder: got %q want %q", l.HolderID, "sched-1")
	}
	if !l.ExpiresAt.Equal(now.Add(10 * time.Minute)) {
		t.Fatalf("expiresAt: got %v want %v", l.ExpiresAt, now.Add(10*time.Minute))
	}

	// Second holder cannot acquire before expiry.
	l2, ok, err := s.TryAcquire(ctx, "pipeline", "sched-2", 10*time.Minute)
	if err != nil {
		t.Fatalf("TryAcquire #2: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false while held")
	}
	if l2.HolderID != "sched-1" {
		t.Fatalf("holder: got %q want %q", l2.HolderID, "sched-1")
	}

	if locked, err := s.IsLocked(ctx, "pipeline"); err != nil || !locked {
		t.Fatalf("IsLocked: got %v,%v want true,nil", locked, err)
	}

	// TTL lapse makes the lock acquirable without an explicit release.
	now = now.Add(10*time.Minute + time.Second)
	if locked, err := s.IsLocked(ctx, "pipeline"); err != nil || locked {
		t.Fatalf("IsLocked after expiry: got %v,%v want false,nil", locked, err)
	}
	if _, err := s.Get(ctx, "pipeline"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after expiry: got %v want ErrNotFound", err)
	}
	_, ok, err = s.TryAcquire(ctx, "pipeline", "sched-2", 10*time.Minute)
	if err != nil || !ok {
		t.Fatalf("steal after expiry: got ok=%v err=%v", ok, err)
	}

	// The stale holder's release must not evict the new holder.
	if err := s.Release(ctx, "pipeline", "sched-1"); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if locked, _ := s.IsLocked(ctx, "pipeline"); !locked {
		t.Fatalf("stale release must not evict current holder")
	}

	if err := s.Release(ctx, "pipeline", "sched-2"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	// Releasing again is idempotent.
	if err := s.Release(ctx, "pipeline", "sched-2"); err != nil {
		t.Fatalf("Release #2: %v", err)
	}
}

func TestMemoryStore_ForceRelease(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(nil)
	ctx := context.Background()

	if _, ok, err := s.TryAcquire(ctx, "ingest", "sched-1", time.Hour); err != nil || !ok {
		t.Fatalf("TryAcquire: ok=%v err=%v", ok, err)
	}

	released, err := s.ForceRelease(ctx, "ingest")
	if err != nil {
		t.Fatalf("ForceRelease: %v", err)
	}
	if !released {
		t.Fatalf("expected released=true")
	}

	released, err = s.ForceRelease(ctx, "ingest")
	if err != nil {
		t.Fatalf("ForceRelease #2: %v", err)
	}
	if released {
		t.Fatalf("expected released=false when absent")
	}
}

func TestMemoryStore_ConcurrentAcquireExactlyOneWinner(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(nil)
	ctx := context.Background()

	const callers = 16
	var wg sync.WaitGroup
	wins := make(chan string, callers)

	for i := 0; i < callers; i++ {
		holder := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, err := s.TryAcquire(ctx, "pipeline", holder, time.Minute); err == nil && ok {
				wins <- holder
			}
		}()
	}
	wg.Wait()
	close(wins)

	var n int
	for range wins {
		n++
	}
	if n != 1 {
		t.Fatalf("expected exactly one winner, got %d", n)
	}
}

func TestMemoryStore_ListHeld(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()

	if _, _, err := s.TryAcquire(ctx, "a", "h", time.Minute); err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	now = now.Add(time.Second)
	if _, _, err := s.TryAcquire(ctx, "b", "h", time.Hour); err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}

	// "a" expires, "b" survives.
	now = now.Add(2 * time.Minute)
	held, err := s.ListHeld(ctx)
	if err != nil {
		t.Fatalf("ListHeld: %v", err)
	}
	if len(held) != 1 || held[0].JobName != "b" {
		t.Fatalf("ListHeld: got %+v want just b", held)
	}
}

func TestMemoryStore_InputValidation(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(nil)
	ctx := context.Background()

	if _, _, err := s.TryAcquire(ctx, "", "h", time.Minute); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty job name: got %v", err)
	}
	if _, _, err := s.TryAcquire(ctx, "j", "h", 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero ttl: got %v", err)
	}
	if err := s.Release(ctx, "j", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty holder: got %v", err)
	}
	if _, err := s.ForceRelease(ctx, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty job name: got %v", err)
	}
}
