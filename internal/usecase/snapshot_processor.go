package usecase

import (
	"context"
	"fmt"
	"time"

	"KrakenPulse/internal/domain/models"
	drepo "KrakenPulse/internal/domain/repository"
	"KrakenPulse/pkg/config"
)

// SnapshotProcessor routes snapshot batches to the configured backend.
type SnapshotProcessor struct {
	pub     drepo.SnapshotPublisher
	store   drepo.SnapshotStorage
	metrics drepo.Metrics
	backend string
}

// NewSnapshotProcessor creates a new SnapshotProcessor instance.
func NewSnapshotProcessor(
	pub drepo.SnapshotPublisher,
	store drepo.SnapshotStorage,
	metrics drepo.Metrics,
	backend string,
) *SnapshotProcessor {
	return &SnapshotProcessor{
		pub:     pub,
		store:   store,
		metrics: metrics,
		backend: backend,
	}
}

// Process hands snaps to the broker (kafka) or storage (clickhouse, postgres).
func (p *SnapshotProcessor) Process(ctx context.Context, snaps []models.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	start := time.Now()
	var err error

	switch p.backend {
	case config.BackendKafka:
		if p.pub == nil {
			return fmt.Errorf("backend %s: no publisher configured", p.backend)
		}
		err = p.pub.PublishBatch(ctx, snaps)
	case config.BackendClickHouse, config.BackendPostgres:
		if p.store == nil {
			return fmt.Errorf("backend %s: no storage configured", p.backend)
		}
		err = p.store.StoreBatch(ctx, snaps)
	default:
		err = fmt.Errorf("unknown backend: %s", p.backend)
	}

	if err != nil {
		p.metrics.RecordError("process_batch")
		return fmt.Errorf("process batch: %w", err)
	}

	p.metrics.RecordSnapshotsStored(p.backend, len(snaps))
	p.metrics.RecordLatency("process_batch", time.Since(start).Seconds())
	return nil
}

// Backend returns the configured backend name.
func (p *SnapshotProcessor) Backend() string { return p.backend }
