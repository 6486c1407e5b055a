package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder(t *testing.T) {
	r := NewWithRegistry(prometheus.NewRegistry())

	r.RecordPoll("ok")
	r.RecordPoll("ok")
	r.RecordPoll("fetch_error")
	r.RecordAlert("volume")
	r.RecordSnapshotsStored("clickhouse", 42)
	r.RecordTrending(3)
	r.RecordTrackedInstruments(120)

	if got := testutil.ToFloat64(r.polls.WithLabelValues("ok")); got != 2 {
		t.Fatalf("expected 2 ok polls, got %v", got)
	}
	if got := testutil.ToFloat64(r.polls.WithLabelValues("fetch_error")); got != 1 {
		t.Fatalf("expected 1 failed poll, got %v", got)
	}
	if got := testutil.ToFloat64(r.stored.WithLabelValues("clickhouse")); got != 42 {
		t.Fatalf("expected 42 stored, got %v", got)
	}
	if got := testutil.ToFloat64(r.trending); got != 3 {
		t.Fatalf("expected trending gauge 3, got %v", got)
	}
	if got := testutil.ToFloat64(r.tracked); got != 120 {
		t.Fatalf("expected tracked gauge 120, got %v", got)
	}
	if got := testutil.ToFloat64(r.alerts.WithLabelValues("volume")); got != 1 {
		t.Fatalf("expected one volume signal, got %v", got)
	}
}
