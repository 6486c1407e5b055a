package usecase

import (
	"context"
	"errors"
	"sync"

	"KrakenPulse/internal/domain/models"
	domrepo "KrakenPulse/internal/domain/repository"
	"KrakenPulse/pkg/cache"
	"KrakenPulse/pkg/logger"
)

// LatestCycleKey is where the board mirrors the newest cycle in the cache.
const LatestCycleKey = "trending:latest"

// AlertBoard keeps the latest ranked cycle for API readers.
// The cache copy lets instances that do not poll serve it too.
type AlertBoard struct {
	cache cache.Service
	log   *logger.Logger

	mu     sync.RWMutex
	latest *models.TrendCycle
}

func NewAlertBoard(c cache.Service, l *logger.Logger) *AlertBoard {
	if l == nil {
		l = logger.Nop()
	}
	return &AlertBoard{cache: c, log: l}
}

var _ domrepo.AlertSink = (*AlertBoard)(nil)

// PublishCycle replaces the latest cycle. The in-memory copy is always
// updated; a cache failure is returned after that.
func (b *AlertBoard) PublishCycle(ctx context.Context, cycle models.TrendCycle) error {
	b.mu.Lock()
	b.latest = &cycle
	b.mu.Unlock()

	if b.cache == nil {
		return nil
	}
	// zero expiration: the next cycle overwrites it
	return b.cache.Set(ctx, LatestCycleKey, cycle, 0)
}

// Latest returns the newest cycle, falling back to the cache.
func (b *AlertBoard) Latest(ctx context.Context) (models.TrendCycle, bool, error) {
	b.mu.RLock()
	latest := b.latest
	b.mu.RUnlock()
	if latest != nil {
		return *latest, true, nil
	}
	if b.cache == nil {
		return models.TrendCycle{}, false, nil
	}

	var cycle models.TrendCycle
	err := b.cache.Get(ctx, LatestCycleKey, &cycle)
	if errors.Is(err, cache.ErrCacheMiss) {
		return models.TrendCycle{}, false, nil
	}
	if err != nil {
		return models.TrendCycle{}, false, err
	}
	return cycle, true, nil
}

// Top returns the latest cycle with at most n alerts.
func (b *AlertBoard) Top(ctx context.Context, n int) (models.TrendCycle, bool, error) {
	cycle, ok, err := b.Latest(ctx)
	if err != nil || !ok {
		return cycle, ok, err
	}
	if n > 0 && len(cycle.Alerts) > n {
		alerts := make([]models.TrendAlert, n)
		copy(alerts, cycle.Alerts[:n])
		cycle.Alerts = alerts
	}
	return cycle, true, nil
}
