package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"KrakenPulse/internal/domain/models"
	domrepo "KrakenPulse/internal/domain/repository"
	"KrakenPulse/internal/services/trend"
	"KrakenPulse/pkg/cache"
	"KrakenPulse/pkg/logger"
	"KrakenPulse/pkg/util"
)

// DashboardUseCase builds market rows from stored snapshots.
type DashboardUseCase struct {
	store       domrepo.SnapshotStorage
	cache       cache.Service
	log         *logger.Logger
	windows     []int
	ttl         time.Duration
	concurrency int
	timeout     time.Duration
	now         func() time.Time
}

func NewDashboardUseCase(store domrepo.SnapshotStorage, c cache.Service, l *logger.Logger, windows []int, ttl time.Duration) *DashboardUseCase {
	if l == nil {
		l = logger.Nop()
	}
	return &DashboardUseCase{
		store:       store,
		cache:       c,
		log:         l,
		windows:     windows,
		ttl:         ttl,
		concurrency: 8,
		timeout:     10 * time.Second,
		now:         time.Now,
	}
}

// Windows returns the default volume windows in minutes.
func (uc *DashboardUseCase) Windows() []int { return uc.windows }

// Rows returns one row per instrument with stored data, ordered as storage
// returns them. Nil windows means the configured defaults.
func (uc *DashboardUseCase) Rows(ctx context.Context, windows []int) ([]models.DashboardRow, error) {
	if len(windows) == 0 {
		windows = uc.windows
	}
	if uc.store == nil {
		return nil, errors.New("dashboard needs snapshot storage")
	}

	key := cache.GenerateKeyWithParams("dashboard", intsToParams(windows)...)
	if uc.cache != nil && uc.ttl > 0 {
		var cached []models.DashboardRow
		if err := uc.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			uc.log.Warn("dashboard cache read failed", logger.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(ctx, uc.timeout)
	defer cancel()

	latest, err := uc.store.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest snapshots: %w", err)
	}

	now := uc.now().UTC()
	rows := make([]models.DashboardRow, len(latest))
	errs := make([]error, len(latest))
	sem := make(chan struct{}, uc.concurrency)
	var wg sync.WaitGroup
	for i, snap := range latest {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, snap models.Snapshot) {
			defer wg.Done()
			defer func() { <-sem }()
			rows[i], errs[i] = uc.row(ctx, snap, windows, now)
		}(i, snap)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("dashboard rows: %w", err)
	}

	if uc.cache != nil && uc.ttl > 0 {
		if err := uc.cache.Set(ctx, key, rows, uc.ttl); err != nil {
			uc.log.Warn("dashboard cache write failed", logger.Error(err))
		}
	}
	return rows, nil
}

// row compares the latest sample against the newest sample at or before each
// offset from now. Missing or zero baselines give nil changes.
func (uc *DashboardUseCase) row(ctx context.Context, latest models.Snapshot, windows []int, now time.Time) (models.DashboardRow, error) {
	row := models.DashboardRow{
		Instrument:    latest.Instrument,
		LastPrice:     latest.LastPrice,
		Volume24h:     latest.Volume24h,
		ObservedAt:    latest.ObservedAt,
		VolumeChanges: make(map[int]*float64, len(windows)),
	}

	past, ok, err := uc.store.AtOrBefore(ctx, latest.Instrument, util.MinutesAgo(now, 24*60))
	if err != nil {
		return row, err
	}
	if ok {
		row.PriceChange24h = trend.PctChange(latest.LastPrice, past.LastPrice)
	}

	for _, w := range windows {
		past, ok, err := uc.store.AtOrBefore(ctx, latest.Instrument, util.MinutesAgo(now, w))
		if err != nil {
			return row, err
		}
		if ok {
			row.VolumeChanges[w] = trend.PctChange(latest.Volume24h, past.Volume24h)
		} else {
			row.VolumeChanges[w] = nil
		}
	}
	return row, nil
}

func intsToParams(xs []int) []interface{} {
	out := make([]interface{}, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}
