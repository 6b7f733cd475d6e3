package idempotency

import (
	"testing"
	"time"
)

func TestExecutionIDV1_Deterministic(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	a := ExecutionIDV1("pipeline", "sched-1", at)
	b := ExecutionIDV1("pipeline", "sched-1", at)
	if a != b {
		t.Fatalf("same inputs must produce same id")
	}

	if ExecutionIDV1("pipeline", "sched-2", at) == a {
		t.Fatalf("different holder must produce different id")
	}
	if ExecutionIDV1("pipeline", "sched-1", at.Add(time.Nanosecond)) == a {
		t.Fatalf("different start time must produce different id")
	}
}

func TestExecutionIDV1_SeparatorAmbiguity(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if ExecutionIDV1("ab", "c", at) == ExecutionIDV1("a", "bc", at) {
		t.Fatalf("field boundaries must be unambiguous")
	}
}

func TestExecutionIDHexV1(t *testing.T) {
	t.Parallel()

	got := ExecutionIDHexV1("pipeline", "sched-1", time.Unix(0, 0).UTC())
	if len(got) != 64 {
		t.Fatalf("hex id length: got %d want 64", len(got))
	}
}

func TestResolutionDigestV1(t *testing.T) {
	t.Parallel()

	a := ResolutionDigestV1(42, []byte{1, 2, 3})
	b := ResolutionDigestV1(42, []byte{1, 2, 3})
	if a != b {
		t.Fatalf("same payload must produce same digest")
	}
	if ResolutionDigestV1(43, []byte{1, 2, 3}) == a {
		t.Fatalf("different cycle must produce different digest")
	}
	if ResolutionDigestV1(42, []byte{1, 2}) == a {
		t.Fatalf("different outcomes must produce different digest")
	}
}
