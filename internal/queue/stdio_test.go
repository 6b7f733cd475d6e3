package queue

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestStdioConsumerDeliversLines(t *testing.T) {
	t.Parallel()

	in := strings.NewReader(`{"cycleId":"1"}` + "\n" + `{"cycleId":"2"}` + "\n")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := NewConsumer(ctx, ConsumerConfig{
		Driver:       DriverStdio,
		Reader:       in,
		MaxLineBytes: 1024,
	})
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	defer func() { _ = c.Close() }()

	var got []string
	deadline := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case m, ok := <-c.Messages():
			if !ok {
				t.Fatalf("messages channel closed early")
			}
			got = append(got, string(m.Value))
			if err := m.Ack(context.Background()); err != nil {
				t.Fatalf("Ack: %v", err)
			}
		case err := <-c.Errors():
			if err != nil {
				t.Fatalf("consumer error: %v", err)
			}
		case <-deadline:
			t.Fatalf("timeout waiting for lines")
		}
	}

	if got[0] != `{"cycleId":"1"}` || got[1] != `{"cycleId":"2"}` {
		t.Fatalf("unexpected lines: %#v", got)
	}
}

func TestStdioProducerWritesPayloadOnlyLines(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	p, err := NewProducer(ProducerConfig{
		Driver: DriverStdio,
		Writer: &out,
	})
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	defer func() { _ = p.Close() }()

	// The key routes partitions on kafka; stdio has none, so only the payload
	// lands on the stream.
	if err := p.Publish(context.Background(), "cycle.resolved", []byte("7"), []byte(`{"cycleId":"7"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := p.Publish(context.Background(), "cycle.resolved", nil, []byte(`{"cycleId":"8"}`)); err != nil {
		t.Fatalf("Publish without key: %v", err)
	}

	want := `{"cycleId":"7"}` + "\n" + `{"cycleId":"8"}` + "\n"
	if got := out.String(); got != want {
		t.Fatalf("output mismatch: got %q want %q", got, want)
	}
}
