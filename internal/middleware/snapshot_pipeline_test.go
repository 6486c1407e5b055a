package middleware

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"KrakenPulse/internal/domain/models"
)

type stubMetrics struct {
	mu     sync.Mutex
	errors map[string]int
}

func newStubMetrics() *stubMetrics { return &stubMetrics{errors: map[string]int{}} }

func (m *stubMetrics) RecordPoll(string) {}
func (m *stubMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}
func (m *stubMetrics) RecordLatency(string, float64)     {}
func (m *stubMetrics) RecordTrackedInstruments(int)      {}
func (m *stubMetrics) RecordTrending(int)                {}
func (m *stubMetrics) RecordAlert(string)                {}
func (m *stubMetrics) RecordSnapshotsStored(string, int) {}

func (m *stubMetrics) count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

type flakyProc struct {
	mu       sync.Mutex
	failures int
	calls    int
	stored   []models.Snapshot
	done     chan struct{}
}

func (f *flakyProc) Process(_ context.Context, snaps []models.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("storage down")
	}
	f.stored = append(f.stored, snaps...)
	if f.done != nil {
		close(f.done)
		f.done = nil
	}
	return nil
}

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestProcessFiltersInvalid(t *testing.T) {
	m := newStubMetrics()
	proc := &flakyProc{}
	p := NewSnapshotPipeline(proc, m)

	valid, err := p.Process(context.Background(), []models.Snapshot{
		{Instrument: "XXBTZUSD", LastPrice: 1, ObservedAt: now},
		{Instrument: "", ObservedAt: now},
		{Instrument: "NAN", LastPrice: math.NaN(), ObservedAt: now},
		{Instrument: "NEG", Volume24h: -1, ObservedAt: now},
		{Instrument: "NOTIME"},
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(valid) != 1 || valid[0].Instrument != "XXBTZUSD" {
		t.Fatalf("unexpected valid set %+v", valid)
	}
	if len(proc.stored) != 1 {
		t.Fatalf("expected one stored snapshot, got %d", len(proc.stored))
	}
	if m.count("pipeline_validate") != 4 {
		t.Fatalf("expected 4 validation errors, got %d", m.count("pipeline_validate"))
	}
}

func TestProcessBuffersAndRetries(t *testing.T) {
	m := newStubMetrics()
	done := make(chan struct{})
	proc := &flakyProc{failures: 2, done: done}
	p := NewSnapshotPipeline(proc, m, WithRetry(5, time.Millisecond, 5*time.Millisecond))
	p.Start(context.Background())
	defer p.Stop()

	snaps := []models.Snapshot{{Instrument: "XXBTZUSD", ObservedAt: now}}
	valid, err := p.Process(context.Background(), snaps)
	if err == nil {
		t.Fatalf("expected downstream error")
	}
	if len(valid) != 1 {
		t.Fatalf("valid snapshots should be returned on downstream failure")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("buffered batch was not flushed")
	}
	if m.count("pipeline_flush") != 1 {
		t.Fatalf("expected one failed flush, got %d", m.count("pipeline_flush"))
	}
}

func TestBufferFullDrops(t *testing.T) {
	m := newStubMetrics()
	proc := &flakyProc{failures: 100}
	p := NewSnapshotPipeline(proc, m, WithBufferSize(1))

	snaps := []models.Snapshot{{Instrument: "A", ObservedAt: now}}
	_, _ = p.Process(context.Background(), snaps)
	_, _ = p.Process(context.Background(), snaps)

	if p.Buffered() != 1 {
		t.Fatalf("expected one buffered batch, got %d", p.Buffered())
	}
	if m.count("pipeline_buffer_full") != 1 {
		t.Fatalf("expected one drop, got %d", m.count("pipeline_buffer_full"))
	}
	p.Stop()
}

func TestDropAfterRetries(t *testing.T) {
	m := newStubMetrics()
	proc := &flakyProc{failures: 100}
	p := NewSnapshotPipeline(proc, m, WithRetry(2, time.Millisecond, time.Millisecond))
	p.Start(context.Background())
	defer p.Stop()

	_, _ = p.Process(context.Background(), []models.Snapshot{{Instrument: "A", ObservedAt: now}})

	deadline := time.Now().Add(2 * time.Second)
	for m.count("pipeline_buffer_drop") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("batch was never dropped")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBackoffCapped(t *testing.T) {
	p := NewSnapshotPipeline(&flakyProc{}, newStubMetrics(), WithRetry(3, 100*time.Millisecond, time.Second))
	if p.backoff(0) != 100*time.Millisecond || p.backoff(2) != 400*time.Millisecond {
		t.Fatalf("unexpected backoff progression")
	}
	if p.backoff(10) != time.Second || p.backoff(80) != time.Second {
		t.Fatalf("backoff should be capped")
	}
}
