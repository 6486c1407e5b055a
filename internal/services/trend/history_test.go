package trend

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"KrakenPulse/internal/domain/models"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func mkSample(at time.Time, vol float64, trades int64) models.Sample {
	return models.Sample{Timestamp: at, Volume: vol, TradeCount: trades}
}

func TestHistoryCapacityFromIntervals(t *testing.T) {
	h := NewHistoryStore([]int{15, 5, 30})
	if h.Capacity() != 31 {
		t.Fatalf("expected capacity 31, got %d", h.Capacity())
	}
}

func TestHistoryBoundedBuffer(t *testing.T) {
	h := NewHistoryStore([]int{5}) // capacity 6
	for i := 0; i < 10; i++ {
		h.Append("XBTUSD", mkSample(t0.Add(time.Duration(i)*time.Minute), float64(i), int64(i)))
	}
	got := h.Samples("XBTUSD")
	if len(got) != 6 {
		t.Fatalf("expected 6 samples, got %d", len(got))
	}
	for i, s := range got {
		want := t0.Add(time.Duration(i+4) * time.Minute)
		if !s.Timestamp.Equal(want) {
			t.Fatalf("sample %d: expected %v, got %v", i, want, s.Timestamp)
		}
	}
	if h.Len("XBTUSD") != 6 {
		t.Fatalf("expected Len 6, got %d", h.Len("XBTUSD"))
	}
}

func TestHistoryClosestMatch(t *testing.T) {
	h := NewHistoryStore([]int{5, 15, 30})
	now := t0
	h.Append("ETHUSD", mkSample(now.Add(-20*time.Minute), 20, 2))
	h.Append("ETHUSD", mkSample(now.Add(-10*time.Minute), 10, 1))
	h.Append("ETHUSD", mkSample(now, 0, 0))

	s, ok := h.ClosestAtOrBefore("ETHUSD", 15, now)
	if !ok {
		t.Fatalf("expected a match")
	}
	if !s.Timestamp.Equal(now.Add(-20 * time.Minute)) {
		t.Fatalf("expected t-20 sample, got %v", s.Timestamp)
	}

	s, ok = h.ClosestAtOrBefore("ETHUSD", 10, now)
	if !ok || s.Volume != 10 {
		t.Fatalf("expected exact 10m lag to match the t-10 sample, got %+v ok=%v", s, ok)
	}
}

func TestHistoryNoMatchBelowHorizon(t *testing.T) {
	h := NewHistoryStore([]int{5, 15, 30})
	now := t0
	h.Append("ETHUSD", mkSample(now.Add(-10*time.Minute), 10, 1))
	h.Append("ETHUSD", mkSample(now, 0, 0))

	if _, ok := h.ClosestAtOrBefore("ETHUSD", 30, now); ok {
		t.Fatalf("expected no match for a 30m lookback on 10m of history")
	}
	if _, ok := h.ClosestAtOrBefore("UNKNOWN", 5, now); ok {
		t.Fatalf("expected no match for an unseen instrument")
	}
}

func TestHistoryTieBreakPrefersNewest(t *testing.T) {
	h := NewHistoryStore([]int{5})
	at := t0.Add(-6 * time.Minute)
	h.Append("SOLUSD", mkSample(at, 1, 1))
	h.Append("SOLUSD", mkSample(at, 2, 2))

	s, ok := h.ClosestAtOrBefore("SOLUSD", 5, t0)
	if !ok {
		t.Fatalf("expected a match")
	}
	if s.Volume != 2 {
		t.Fatalf("expected most recently appended sample, got volume %v", s.Volume)
	}
}

func TestHistorySamplesIsCopy(t *testing.T) {
	h := NewHistoryStore([]int{5})
	h.Append("XBTUSD", mkSample(t0, 1, 1))
	got := h.Samples("XBTUSD")
	got[0].Volume = 99
	if h.Samples("XBTUSD")[0].Volume != 1 {
		t.Fatalf("stored sample mutated through returned slice")
	}
	if h.Samples("NONE") != nil {
		t.Fatalf("expected nil samples for unseen instrument")
	}
}

func TestHistoryConcurrentInstruments(t *testing.T) {
	h := NewHistoryStore([]int{5})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			inst := fmt.Sprintf("PAIR%d", n)
			for j := 0; j < 50; j++ {
				at := t0.Add(time.Duration(j) * time.Minute)
				h.Append(inst, mkSample(at, float64(j), int64(j)))
				h.ClosestAtOrBefore(inst, 5, at)
			}
		}(i)
	}
	wg.Wait()

	if len(h.Instruments()) != 16 {
		t.Fatalf("expected 16 instruments, got %d", len(h.Instruments()))
	}
	for _, inst := range h.Instruments() {
		if h.Len(inst) != h.Capacity() {
			t.Fatalf("%s: expected %d samples, got %d", inst, h.Capacity(), h.Len(inst))
		}
	}
}
