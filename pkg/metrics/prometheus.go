package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "krakenpulse"

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	polls       *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	tracked     prometheus.Gauge
	trending    prometheus.Gauge
	alerts      *prometheus.CounterVec
	stored      *prometheus.CounterVec
}

// New registers the recorder's collectors on the default registry.
func New() *Recorder { return NewWithRegistry(prometheus.DefaultRegisterer) }

// NewWithRegistry registers on reg, letting tests use an isolated registry.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		polls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Poll cycles by result (ok, fetch_error, empty)",
		}, []string{"result"}),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors encountered",
		}, []string{"type"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of operations in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		tracked: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_instruments",
			Help:      "Instruments with in-memory history",
		}),
		trending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trending_instruments",
			Help:      "Instruments classified trending in the last cycle",
		}),
		alerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trend_signals_total",
			Help:      "Tripped trend signals by kind",
		}, []string{"signal"}),
		stored: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_stored_total",
			Help:      "Snapshots handed to the persistence backend",
		}, []string{"backend"}),
	}
}

func (r *Recorder) RecordPoll(result string) { r.polls.WithLabelValues(result).Inc() }

func (r *Recorder) RecordError(kind string) { r.errorsTotal.WithLabelValues(kind).Inc() }

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordTrackedInstruments(n int) { r.tracked.Set(float64(n)) }

func (r *Recorder) RecordTrending(n int) { r.trending.Set(float64(n)) }

func (r *Recorder) RecordAlert(signal string) { r.alerts.WithLabelValues(signal).Inc() }

func (r *Recorder) RecordSnapshotsStored(backend string, n int) {
	r.stored.WithLabelValues(backend).Add(float64(n))
}
