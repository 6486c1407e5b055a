package repository

import (
	"context"
	"strconv"

	"KrakenPulse/internal/domain/models"
	"KrakenPulse/internal/domain/repository"
	pkgkafka "KrakenPulse/pkg/kafka"
)

// BatchProducer is the part of the Kafka producer the publishers use.
type BatchProducer interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
	Close() error
}

// KafkaPublisher implements SnapshotPublisher. Messages are keyed by
// instrument so one pair always lands on one partition.
type KafkaPublisher struct {
	producer BatchProducer
	topic    string
}

// NewKafkaPublisher creates Kafka publisher.
func NewKafkaPublisher(producer BatchProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

var _ repository.SnapshotPublisher = (*KafkaPublisher)(nil)

func (p *KafkaPublisher) PublishBatch(ctx context.Context, snaps []models.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(snaps))
	for i, s := range snaps {
		msgs[i] = pkgkafka.Message{
			Key:   []byte(s.Instrument),
			Value: s,
		}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// KafkaAlertPublisher is an AlertSink writing one message per alert.
type KafkaAlertPublisher struct {
	producer BatchProducer
	topic    string
}

func NewKafkaAlertPublisher(producer BatchProducer, topic string) *KafkaAlertPublisher {
	return &KafkaAlertPublisher{producer: producer, topic: topic}
}

var _ repository.AlertSink = (*KafkaAlertPublisher)(nil)

// PublishCycle sends the cycle's alerts with their rank and cycle id as headers.
// Cycles without alerts produce no messages.
func (p *KafkaAlertPublisher) PublishCycle(ctx context.Context, cycle models.TrendCycle) error {
	if len(cycle.Alerts) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(cycle.Alerts))
	for i, a := range cycle.Alerts {
		msgs[i] = pkgkafka.Message{
			Key:   []byte(a.Instrument),
			Value: a,
			Headers: map[string]string{
				"cycle_id": cycle.ID,
				"rank":     strconv.Itoa(i + 1),
			},
		}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}
