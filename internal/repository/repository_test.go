package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"KrakenPulse/internal/domain/models"
	pkgkafka "KrakenPulse/pkg/kafka"
)

var ts = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestBuildInsertSkipsUnkeyedRows(t *testing.T) {
	snaps := []models.Snapshot{
		{Instrument: "XXBTZUSD", LastPrice: 1, OpenPrice24h: 2, Volume24h: 3, TradeCount24h: 4, ObservedAt: ts},
		{Instrument: "", ObservedAt: ts},
		{Instrument: "XETHZUSD"},
		{Instrument: "XETHZUSD", ObservedAt: ts},
	}
	q, args := buildInsert("ticker_data", snaps)
	if strings.Count(q, "(?, ?, ?, ?, ?, ?)") != 2 {
		t.Fatalf("expected 2 value tuples, got %q", q)
	}
	if !strings.HasPrefix(q, "INSERT INTO ticker_data (ts, pair, last_price, open_price, volume_24h, trade_count)") {
		t.Fatalf("unexpected insert %q", q)
	}
	if len(args) != 12 {
		t.Fatalf("expected 12 args, got %d", len(args))
	}
	if args[1] != "XXBTZUSD" || args[5] != int64(4) || args[7] != "XETHZUSD" {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestClickHouseSchemaOrdersByPairAndTime(t *testing.T) {
	stmts := clickHouseSchema("kraken", "ticker_data")
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(stmts))
	}
	if !strings.Contains(stmts[1], "kraken.ticker_data") || !strings.Contains(stmts[1], "ORDER BY (pair, ts)") {
		t.Fatalf("unexpected ddl %q", stmts[1])
	}
}

func TestPostgresBatchInsert(t *testing.T) {
	s := NewPostgresStorage(nil, "")
	batch, n := s.batchInsert([]models.Snapshot{
		{Instrument: "XXBTZUSD", ObservedAt: ts},
		{Instrument: ""},
		{Instrument: "XETHZUSD", ObservedAt: ts},
	})
	if n != 2 || batch.Len() != 2 {
		t.Fatalf("expected 2 queued inserts, got %d", n)
	}
	if !strings.Contains(postgresSchema("ticker_data")[0], "PRIMARY KEY (pair, ts)") {
		t.Fatalf("expected (pair, ts) key")
	}
}

type fakeProducer struct {
	topic  string
	msgs   []pkgkafka.Message
	err    error
	closed bool
}

func (f *fakeProducer) PublishBatch(_ context.Context, topic string, msgs []pkgkafka.Message) error {
	f.topic = topic
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func (f *fakeProducer) Close() error { f.closed = true; return nil }

func TestKafkaPublisherKeysByInstrument(t *testing.T) {
	fp := &fakeProducer{}
	p := NewKafkaPublisher(fp, "kraken.snapshots")

	err := p.PublishBatch(context.Background(), []models.Snapshot{
		{Instrument: "XXBTZUSD", LastPrice: 10, ObservedAt: ts},
		{Instrument: "XETHZUSD", LastPrice: 5, ObservedAt: ts},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if fp.topic != "kraken.snapshots" || len(fp.msgs) != 2 {
		t.Fatalf("unexpected publish %s %d", fp.topic, len(fp.msgs))
	}
	if string(fp.msgs[1].Key) != "XETHZUSD" {
		t.Fatalf("unexpected key %s", fp.msgs[1].Key)
	}
	b, _ := json.Marshal(fp.msgs[0].Value)
	var back models.Snapshot
	if err := json.Unmarshal(b, &back); err != nil || back.Instrument != "XXBTZUSD" || back.LastPrice != 10 {
		t.Fatalf("unexpected payload %s", b)
	}

	_ = p.Close()
	if !fp.closed {
		t.Fatalf("expected producer closed")
	}
}

func TestKafkaAlertPublisher(t *testing.T) {
	fp := &fakeProducer{}
	p := NewKafkaAlertPublisher(fp, "kraken.trending")

	if err := p.PublishCycle(context.Background(), models.TrendCycle{ID: "c1"}); err != nil || len(fp.msgs) != 0 {
		t.Fatalf("empty cycle should publish nothing")
	}

	cycle := models.TrendCycle{ID: "c2", Alerts: []models.TrendAlert{
		{Instrument: "A", Signals: []models.Signal{models.SignalVolume}},
		{Instrument: "B", Signals: []models.Signal{models.SignalPrice}},
	}}
	if err := p.PublishCycle(context.Background(), cycle); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fp.msgs) != 2 || fp.msgs[1].Headers["rank"] != "2" || fp.msgs[0].Headers["cycle_id"] != "c2" {
		t.Fatalf("unexpected messages %+v", fp.msgs)
	}

	fp.err = errors.New("broker down")
	if err := p.PublishCycle(context.Background(), cycle); err == nil {
		t.Fatalf("expected error")
	}
}
