package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"KrakenPulse/internal/domain/models"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type stubMetrics struct {
	mu      sync.Mutex
	polls   map[string]int
	errors  map[string]int
	alerts  map[string]int
	stored  map[string]int
	tracked int
	trend   int
}

func newStubMetrics() *stubMetrics {
	return &stubMetrics{
		polls:  map[string]int{},
		errors: map[string]int{},
		alerts: map[string]int{},
		stored: map[string]int{},
	}
}

func (m *stubMetrics) RecordPoll(r string)            { m.mu.Lock(); m.polls[r]++; m.mu.Unlock() }
func (m *stubMetrics) RecordError(k string)           { m.mu.Lock(); m.errors[k]++; m.mu.Unlock() }
func (m *stubMetrics) RecordLatency(string, float64)  {}
func (m *stubMetrics) RecordTrackedInstruments(n int) { m.mu.Lock(); m.tracked = n; m.mu.Unlock() }
func (m *stubMetrics) RecordTrending(n int)           { m.mu.Lock(); m.trend = n; m.mu.Unlock() }
func (m *stubMetrics) RecordAlert(s string)           { m.mu.Lock(); m.alerts[s]++; m.mu.Unlock() }
func (m *stubMetrics) RecordSnapshotsStored(b string, n int) {
	m.mu.Lock()
	m.stored[b] += n
	m.mu.Unlock()
}

// memStorage is a SnapshotStorage over a slice.
type memStorage struct {
	mu      sync.Mutex
	rows    []models.Snapshot
	err     error
	queries int
	closed  bool
}

func (s *memStorage) Init(context.Context) error { return nil }

func (s *memStorage) StoreBatch(_ context.Context, snaps []models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, snaps...)
	return nil
}

func (s *memStorage) Latest(context.Context) ([]models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	if s.err != nil {
		return nil, s.err
	}
	latest := map[string]models.Snapshot{}
	for _, r := range s.rows {
		if cur, ok := latest[r.Instrument]; !ok || r.ObservedAt.After(cur.ObservedAt) {
			latest[r.Instrument] = r
		}
	}
	out := make([]models.Snapshot, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out, nil
}

func (s *memStorage) AtOrBefore(_ context.Context, inst string, t time.Time) (models.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best models.Snapshot
	found := false
	for _, r := range s.rows {
		if r.Instrument != inst || r.ObservedAt.After(t) {
			continue
		}
		if !found || r.ObservedAt.After(best.ObservedAt) {
			best, found = r, true
		}
	}
	return best, found, nil
}

func (s *memStorage) Health(context.Context) error { return s.err }
func (s *memStorage) Close() error                 { s.closed = true; return nil }

type fakePublisher struct {
	batches [][]models.Snapshot
	err     error
}

func (p *fakePublisher) PublishBatch(_ context.Context, snaps []models.Snapshot) error {
	if p.err != nil {
		return p.err
	}
	p.batches = append(p.batches, snaps)
	return nil
}
func (p *fakePublisher) Close() error { return nil }

type recordingSink struct {
	mu     sync.Mutex
	cycles []models.TrendCycle
	err    error
}

func (r *recordingSink) PublishCycle(_ context.Context, c models.TrendCycle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles = append(r.cycles, c)
	return r.err
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cycles)
}

var errDown = errors.New("down")
