package feedarchive

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBatchKeyLayout(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 8, 1, 20, 0, 0, 0, time.UTC)
	key, err := BatchKey("results", at, []byte(`{"results":[]}`))
	if err != nil {
		t.Fatalf("BatchKey: %v", err)
	}
	const want = "results/2026/08/01/200000-"
	if len(key) < len(want) || key[:len(want)] != want {
		t.Fatalf("key %q does not start with %q", key, want)
	}
	if key[len(key)-5:] != ".json" {
		t.Fatalf("key %q missing .json suffix", key)
	}

	again, err := BatchKey("results", at, []byte(`{"results":[]}`))
	if err != nil {
		t.Fatalf("BatchKey second call: %v", err)
	}
	if again != key {
		t.Fatalf("key not deterministic: %q vs %q", key, again)
	}

	other, err := BatchKey("results", at, []byte(`{"results":[1]}`))
	if err != nil {
		t.Fatalf("BatchKey other payload: %v", err)
	}
	if other == key {
		t.Fatalf("distinct payloads in the same second collided on %q", key)
	}
}

func TestBatchKeyNormalizesToUTC(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+3", 3*60*60)
	local := time.Date(2026, 8, 1, 23, 0, 0, 0, loc)
	utc := local.UTC()

	a, err := BatchKey("statuses", local, []byte("x"))
	if err != nil {
		t.Fatalf("BatchKey local: %v", err)
	}
	b, err := BatchKey("statuses", utc, []byte("x"))
	if err != nil {
		t.Fatalf("BatchKey utc: %v", err)
	}
	if a != b {
		t.Fatalf("zone-dependent keys: %q vs %q", a, b)
	}
}

func TestBatchKeyValidation(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 8, 1, 20, 0, 0, 0, time.UTC)
	cases := []struct {
		name    string
		kind    string
		at      time.Time
		payload []byte
	}{
		{"empty kind", "", at, []byte("x")},
		{"kind with slash", "results/v2", at, []byte("x")},
		{"zero time", "results", time.Time{}, []byte("x")},
		{"empty payload", "results", at, nil},
	}
	for _, tc := range cases {
		if _, err := BatchKey(tc.kind, tc.at, tc.payload); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%s: got %v", tc.name, err)
		}
	}
}

func TestMemoryArchiveRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a, err := New(Config{Driver: DriverMemory, Prefix: "feeds"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	at := time.Date(2026, 8, 1, 20, 0, 0, 0, time.UTC)
	payload := []byte(`{"results":[{"id":"m1"}]}`)
	if err := a.ArchiveBatch(ctx, "results", at, payload); err != nil {
		t.Fatalf("ArchiveBatch: %v", err)
	}

	key, err := BatchKey("results", at, payload)
	if err != nil {
		t.Fatalf("BatchKey: %v", err)
	}

	ok, err := a.Exists(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Exists: ok=%t err=%v", ok, err)
	}

	got, err := a.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("payload mismatch: %q", got)
	}

	// Returned slice is a copy; mutating it must not corrupt the archive.
	got[0] = 'X'
	fresh, err := a.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get after mutation: %v", err)
	}
	if string(fresh) != string(payload) {
		t.Fatalf("archive mutated through returned slice: %q", fresh)
	}
}

func TestMemoryArchiveMissingKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a, err := New(Config{Driver: DriverMemory})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := a.Get(ctx, "results/2026/08/01/200000-ffffffffffff.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing: got %v", err)
	}
	ok, err := a.Exists(ctx, "results/2026/08/01/200000-ffffffffffff.json")
	if err != nil || ok {
		t.Fatalf("Exists missing: ok=%t err=%v", ok, err)
	}
}

func TestNewConfigValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Driver: "ftp"}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("unsupported driver: got %v", err)
	}
	if _, err := New(Config{Driver: DriverS3}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("s3 without bucket: got %v", err)
	}
	if _, err := New(Config{Driver: DriverS3, Bucket: "feeds"}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("s3 without client: got %v", err)
	}
}
