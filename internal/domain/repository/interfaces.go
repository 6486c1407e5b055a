package repository

import (
	"context"
	"time"

	"KrakenPulse/internal/domain/models"
)

// TickerFeed fetches one snapshot per instrument from the exchange.
// All snapshots of a single Fetch share the same ObservedAt.
type TickerFeed interface {
	Fetch(ctx context.Context) ([]models.Snapshot, error)
}

// SnapshotPublisher ships snapshots to a message broker.
type SnapshotPublisher interface {
	PublishBatch(ctx context.Context, snaps []models.Snapshot) error
	Close() error
}

// SnapshotStorage persists snapshots and answers the lookups the dashboard needs.
type SnapshotStorage interface {
	Init(ctx context.Context) error // ensure tables
	StoreBatch(ctx context.Context, snaps []models.Snapshot) error
	// Latest returns the most recent snapshot per instrument.
	Latest(ctx context.Context) ([]models.Snapshot, error)
	// AtOrBefore returns the newest snapshot of instrument observed at or before t.
	AtOrBefore(ctx context.Context, instrument string, t time.Time) (models.Snapshot, bool, error)
	Health(ctx context.Context) error
	Close() error
}

// AlertSink receives every completed, ranked trend cycle.
type AlertSink interface {
	PublishCycle(ctx context.Context, cycle models.TrendCycle) error
}

type Metrics interface {
	RecordPoll(result string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordTrackedInstruments(n int)
	RecordTrending(n int)
	RecordAlert(signal string)
	RecordSnapshotsStored(backend string, n int)
}
