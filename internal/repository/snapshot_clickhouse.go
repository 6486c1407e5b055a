package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"KrakenPulse/internal/domain/models"
	"KrakenPulse/internal/domain/repository"
	pkgch "KrakenPulse/pkg/clickhouse"
)

// DefaultTable holds one row per polled snapshot.
const DefaultTable = "ticker_data"

// chunkSize caps rows per multi-row INSERT.
const chunkSize = 2000

// ClickHouseStorage implements SnapshotStorage for ClickHouse.
type ClickHouseStorage struct {
	client *pkgch.Client
	table  string
}

// NewClickHouseStorage creates ClickHouse storage.
func NewClickHouseStorage(client *pkgch.Client, table string) *ClickHouseStorage {
	if table == "" {
		table = DefaultTable
	}
	return &ClickHouseStorage{client: client, table: table}
}

var _ repository.SnapshotStorage = (*ClickHouseStorage)(nil)

func clickHouseSchema(database, table string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
	ts DateTime64(3, 'UTC'),
	pair LowCardinality(String),
	last_price Float64,
	open_price Float64,
	volume_24h Float64,
	trade_count Int64
) ENGINE = MergeTree
PARTITION BY toYYYYMMDD(ts)
ORDER BY (pair, ts)`, database, table),
	}
}

func (s *ClickHouseStorage) Init(ctx context.Context) error {
	return s.client.InitSchema(ctx, clickHouseSchema(s.client.Database(), s.table))
}

func (s *ClickHouseStorage) StoreBatch(ctx context.Context, snaps []models.Snapshot) error {
	for start := 0; start < len(snaps); start += chunkSize {
		end := start + chunkSize
		if end > len(snaps) {
			end = len(snaps)
		}
		q, args := buildInsert(s.table, snaps[start:end])
		if len(args) == 0 {
			continue
		}
		if _, err := s.client.DB().ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert %d snapshots: %w", end-start, err)
		}
	}
	return nil
}

// buildInsert renders a multi-row INSERT, skipping rows without a key.
func buildInsert(table string, snaps []models.Snapshot) (string, []interface{}) {
	values := make([]string, 0, len(snaps))
	args := make([]interface{}, 0, len(snaps)*6)
	for _, s := range snaps {
		if !storable(s) {
			continue
		}
		values = append(values, "(?, ?, ?, ?, ?, ?)")
		args = append(args,
			s.ObservedAt.UTC(),
			s.Instrument,
			s.LastPrice,
			s.OpenPrice24h,
			s.Volume24h,
			s.TradeCount24h,
		)
	}
	q := fmt.Sprintf("INSERT INTO %s (ts, pair, last_price, open_price, volume_24h, trade_count) VALUES %s",
		table, strings.Join(values, ", "))
	return q, args
}

func (s *ClickHouseStorage) Latest(ctx context.Context) ([]models.Snapshot, error) {
	q := fmt.Sprintf(`SELECT pair,
	argMax(last_price, ts), argMax(open_price, ts), argMax(volume_24h, ts), argMax(trade_count, ts), max(ts)
FROM %s GROUP BY pair ORDER BY pair`, s.table)
	rows, err := s.client.DB().QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("latest snapshots: %w", err)
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

func (s *ClickHouseStorage) AtOrBefore(ctx context.Context, instrument string, t time.Time) (models.Snapshot, bool, error) {
	q := fmt.Sprintf(`SELECT pair, last_price, open_price, volume_24h, trade_count, ts
FROM %s WHERE pair = ? AND ts <= ? ORDER BY ts DESC LIMIT 1`, s.table)
	row := s.client.DB().QueryRowContext(ctx, q, instrument, t.UTC())
	return scanOne(row)
}

func (s *ClickHouseStorage) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}

func (s *ClickHouseStorage) Close() error {
	return s.client.Close()
}

func storable(s models.Snapshot) bool {
	return s.Instrument != "" && !s.ObservedAt.IsZero()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanInto(r scanner) (models.Snapshot, error) {
	var snap models.Snapshot
	err := r.Scan(&snap.Instrument, &snap.LastPrice, &snap.OpenPrice24h, &snap.Volume24h, &snap.TradeCount24h, &snap.ObservedAt)
	snap.ObservedAt = snap.ObservedAt.UTC()
	return snap, err
}

func scanOne(r scanner) (models.Snapshot, bool, error) {
	snap, err := scanInto(r)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Snapshot{}, false, nil
	}
	if err != nil {
		return models.Snapshot{}, false, fmt.Errorf("snapshot at or before: %w", err)
	}
	return snap, true, nil
}

func scanSnapshots(rows *sql.Rows) ([]models.Snapshot, error) {
	var out []models.Snapshot
	for rows.Next() {
		snap, err := scanInto(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
