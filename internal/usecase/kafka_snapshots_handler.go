package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"KrakenPulse/internal/domain/models"
	domrepo "KrakenPulse/internal/domain/repository"
	pkgkafka "KrakenPulse/pkg/kafka"
)

// KafkaSnapshotsHandler consumes snapshot messages and writes them to storage.
type KafkaSnapshotsHandler struct {
	topic   string
	backend string
	storage domrepo.SnapshotStorage
	metrics domrepo.Metrics
}

func NewKafkaSnapshotsHandler(topic, backend string, storage domrepo.SnapshotStorage, metrics domrepo.Metrics) *KafkaSnapshotsHandler {
	return &KafkaSnapshotsHandler{topic: topic, backend: backend, storage: storage, metrics: metrics}
}

func (h *KafkaSnapshotsHandler) Topic() string { return h.topic }

// Handle decodes one JSON snapshot as written by KafkaPublisher.
func (h *KafkaSnapshotsHandler) Handle(ctx context.Context, b []byte) error {
	var s models.Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Instrument == "" || s.ObservedAt.IsZero() {
		h.metrics.RecordError("consumer_invalid")
		return errors.New("snapshot without instrument or observed_at")
	}
	// poll to persist
	h.metrics.RecordLatency("ingest_e2e", time.Since(s.ObservedAt).Seconds())

	start := time.Now()
	err := h.storage.StoreBatch(ctx, []models.Snapshot{s})
	h.metrics.RecordLatency("consumer_store", time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordError("consumer_store")
		return err
	}
	h.metrics.RecordSnapshotsStored(h.backend, 1)
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaSnapshotsHandler)(nil)
