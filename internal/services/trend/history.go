package trend

import (
	"sort"
	"sync"
	"time"

	"KrakenPulse/internal/domain/models"
)

// ring is a fixed-capacity FIFO of samples; the oldest entry is overwritten once full.
type ring struct {
	mu      sync.Mutex
	samples []models.Sample
	head    int // index of the oldest sample
	size    int
}

func newRing(capacity int) *ring {
	return &ring{samples: make([]models.Sample, capacity)}
}

func (r *ring) push(s models.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := len(r.samples)
	if r.size < c {
		r.samples[(r.head+r.size)%c] = s
		r.size++
		return
	}
	r.samples[r.head] = s
	r.head = (r.head + 1) % c
}

// at returns the i-th sample counting from the oldest. Caller holds mu.
func (r *ring) at(i int) models.Sample {
	return r.samples[(r.head+i)%len(r.samples)]
}

// HistoryStore keeps a bounded, time-ordered sample buffer per instrument.
// Buffers are created on first observation and live for the process lifetime.
// Each buffer has its own lock, so work on different instruments never contends
// beyond the brief map lookup.
type HistoryStore struct {
	mu       sync.RWMutex
	buffers  map[string]*ring
	capacity int
}

// NewHistoryStore sizes every buffer to max(intervals)+1 samples.
func NewHistoryStore(intervals []int) *HistoryStore {
	maxInterval := 0
	for _, iv := range intervals {
		if iv > maxInterval {
			maxInterval = iv
		}
	}
	return &HistoryStore{
		buffers:  make(map[string]*ring),
		capacity: maxInterval + 1,
	}
}

// Capacity returns the per-instrument sample bound.
func (h *HistoryStore) Capacity() int { return h.capacity }

func (h *HistoryStore) buffer(instrument string) *ring {
	h.mu.RLock()
	b := h.buffers[instrument]
	h.mu.RUnlock()
	return b
}

// Append records a sample for instrument, evicting the oldest one at capacity.
func (h *HistoryStore) Append(instrument string, s models.Sample) {
	b := h.buffer(instrument)
	if b == nil {
		h.mu.Lock()
		if b = h.buffers[instrument]; b == nil {
			b = newRing(h.capacity)
			h.buffers[instrument] = b
		}
		h.mu.Unlock()
	}
	b.push(s)
}

// ClosestAtOrBefore returns the most recent sample that is at least
// intervalMinutes old relative to now. The effective lag may be longer than
// requested; it is never shorter.
func (h *HistoryStore) ClosestAtOrBefore(instrument string, intervalMinutes int, now time.Time) (models.Sample, bool) {
	b := h.buffer(instrument)
	if b == nil {
		return models.Sample{}, false
	}
	want := time.Duration(intervalMinutes) * time.Minute

	b.mu.Lock()
	defer b.mu.Unlock()

	var (
		best    models.Sample
		bestLag time.Duration
		found   bool
	)
	for i := b.size - 1; i >= 0; i-- {
		s := b.at(i)
		lag := now.Sub(s.Timestamp)
		if lag < want {
			continue
		}
		// strict comparison keeps the newest sample on equal lag
		if !found || lag < bestLag {
			best, bestLag, found = s, lag, true
		}
	}
	return best, found
}

// Samples returns a copy of the instrument's buffer, oldest first.
func (h *HistoryStore) Samples(instrument string) []models.Sample {
	b := h.buffer(instrument)
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.Sample, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.at(i)
	}
	return out
}

// Len returns the number of samples held for instrument.
func (h *HistoryStore) Len(instrument string) int {
	b := h.buffer(instrument)
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Instruments lists every instrument observed so far, sorted.
func (h *HistoryStore) Instruments() []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.buffers))
	for k := range h.buffers {
		out = append(out, k)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}
