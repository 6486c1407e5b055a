package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"KrakenPulse/internal/domain/models"
	"KrakenPulse/internal/domain/repository"
	"KrakenPulse/pkg/postgres"

	"github.com/jackc/pgx/v5"
)

// PostgresStorage implements SnapshotStorage on a pgx pool.
// Re-delivered snapshots are ignored through the (pair, ts) key.
type PostgresStorage struct {
	client *postgres.Client
	table  string
}

func NewPostgresStorage(client *postgres.Client, table string) *PostgresStorage {
	if table == "" {
		table = DefaultTable
	}
	return &PostgresStorage{client: client, table: table}
}

var _ repository.SnapshotStorage = (*PostgresStorage)(nil)

func postgresSchema(table string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	ts TIMESTAMPTZ NOT NULL,
	pair TEXT NOT NULL,
	last_price DOUBLE PRECISION NOT NULL,
	open_price DOUBLE PRECISION NOT NULL,
	volume_24h DOUBLE PRECISION NOT NULL,
	trade_count BIGINT NOT NULL,
	PRIMARY KEY (pair, ts)
)`, table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_ts_idx ON %s (ts)", table, table),
	}
}

func (s *PostgresStorage) Init(ctx context.Context) error {
	return s.client.InitSchema(ctx, postgresSchema(s.table))
}

// StoreBatch inserts in one round trip. Duplicates count as stored.
func (s *PostgresStorage) StoreBatch(ctx context.Context, snaps []models.Snapshot) error {
	batch, queued := s.batchInsert(snaps)
	if queued == 0 {
		return nil
	}

	results := s.client.Pool().SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < queued; i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert snapshot %d/%d: %w", i+1, queued, err)
		}
	}
	return nil
}

func (s *PostgresStorage) batchInsert(snaps []models.Snapshot) (*pgx.Batch, int) {
	q := fmt.Sprintf(`INSERT INTO %s (ts, pair, last_price, open_price, volume_24h, trade_count)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (pair, ts) DO NOTHING`, s.table)

	batch := &pgx.Batch{}
	for _, snap := range snaps {
		if !storable(snap) {
			continue
		}
		batch.Queue(q, snap.ObservedAt.UTC(), snap.Instrument, snap.LastPrice, snap.OpenPrice24h, snap.Volume24h, snap.TradeCount24h)
	}
	return batch, batch.Len()
}

func (s *PostgresStorage) Latest(ctx context.Context) ([]models.Snapshot, error) {
	q := fmt.Sprintf(`SELECT DISTINCT ON (pair) pair, last_price, open_price, volume_24h, trade_count, ts
FROM %s ORDER BY pair, ts DESC`, s.table)
	rows, err := s.client.Pool().Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("latest snapshots: %w", err)
	}
	defer rows.Close()

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

func (s *PostgresStorage) AtOrBefore(ctx context.Context, instrument string, t time.Time) (models.Snapshot, bool, error) {
	q := fmt.Sprintf(`SELECT pair, last_price, open_price, volume_24h, trade_count, ts
FROM %s WHERE pair = $1 AND ts <= $2 ORDER BY ts DESC LIMIT 1`, s.table)
	snap, err := scanInto(s.client.Pool().QueryRow(ctx, q, instrument, t.UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Snapshot{}, false, nil
	}
	if err != nil {
		return models.Snapshot{}, false, fmt.Errorf("snapshot at or before: %w", err)
	}
	return snap, true, nil
}

func (s *PostgresStorage) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}

func (s *PostgresStorage) Close() error {
	return s.client.Close()
}
