package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"KrakenPulse/internal/domain/models"
	domrepo "KrakenPulse/internal/domain/repository"
	"KrakenPulse/pkg/logger"
)

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, snaps []models.Snapshot) error
}

// SnapshotPipeline sits between the ticker feed and persistence.
// It validates snapshots and buffers batches while downstream is unavailable.
type SnapshotPipeline struct {
	proc       Proc
	metrics    domrepo.Metrics
	log        *logger.Logger
	retryMax   int
	backoffMin time.Duration
	backoffMax time.Duration

	bufCh   chan []models.Snapshot
	stopCh  chan struct{}
	done    chan struct{}
	mu      sync.Mutex
	started bool
	stopped bool
}

type PipelineOption func(*SnapshotPipeline)

// WithBufferSize sets how many failed batches wait for retry.
func WithBufferSize(n int) PipelineOption {
	return func(p *SnapshotPipeline) {
		if n > 0 {
			p.bufCh = make(chan []models.Snapshot, n)
		}
	}
}

// WithRetry sets retry attempts per buffered batch and the backoff bounds.
func WithRetry(max int, min, maxBackoff time.Duration) PipelineOption {
	return func(p *SnapshotPipeline) {
		if max > 0 {
			p.retryMax = max
		}
		if min > 0 {
			p.backoffMin = min
		}
		if maxBackoff >= p.backoffMin {
			p.backoffMax = maxBackoff
		}
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(l *logger.Logger) PipelineOption {
	return func(p *SnapshotPipeline) { p.log = l }
}

// NewSnapshotPipeline creates a new pipeline.
func NewSnapshotPipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *SnapshotPipeline {
	p := &SnapshotPipeline{
		proc:       proc,
		metrics:    metrics,
		log:        logger.Nop(),
		retryMax:   5,
		backoffMin: time.Second,
		backoffMax: 30 * time.Second,
		bufCh:      make(chan []models.Snapshot, 64),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches background retry of buffered batches.
func (p *SnapshotPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.retryLoop(ctx)
}

// Stop stops the retry loop. Batches still buffered are dropped.
func (p *SnapshotPipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	started := p.started
	p.mu.Unlock()

	close(p.stopCh)
	if started {
		<-p.done
	}
	if n := len(p.bufCh); n > 0 {
		p.log.Warn("dropping buffered snapshot batches on stop", logger.Int("batches", n))
	}
}

// Buffered returns the number of batches waiting for retry.
func (p *SnapshotPipeline) Buffered() int { return len(p.bufCh) }

// Process validates snaps, forwards the valid ones downstream and returns them.
// A downstream failure buffers the batch for retry and is returned wrapped;
// the valid snapshots are returned either way.
func (p *SnapshotPipeline) Process(ctx context.Context, snaps []models.Snapshot) ([]models.Snapshot, error) {
	start := time.Now()
	valid := make([]models.Snapshot, 0, len(snaps))
	for _, s := range snaps {
		if err := validateSnapshot(s); err != nil {
			p.metrics.RecordError("pipeline_validate")
			p.log.Debug("invalid snapshot", logger.String("instrument", s.Instrument), logger.Error(err))
			continue
		}
		valid = append(valid, s)
	}
	if len(valid) == 0 {
		return valid, nil
	}

	if err := p.proc.Process(ctx, valid); err != nil {
		p.metrics.RecordError("pipeline_process")
		p.enqueue(valid)
		return valid, fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return valid, nil
}

func (p *SnapshotPipeline) enqueue(batch []models.Snapshot) {
	select {
	case p.bufCh <- batch:
	default:
		p.metrics.RecordError("pipeline_buffer_full")
		p.log.Warn("snapshot buffer full, dropping batch", logger.Int("snapshots", len(batch)))
	}
}

func (p *SnapshotPipeline) retryLoop(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case batch := <-p.bufCh:
			p.retry(ctx, batch)
		}
	}
}

func (p *SnapshotPipeline) retry(ctx context.Context, batch []models.Snapshot) {
	for attempt := 0; attempt < p.retryMax; attempt++ {
		wait := p.backoff(attempt)
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		err := p.proc.Process(ctx, batch)
		if err == nil {
			p.log.Info("buffered snapshots flushed",
				logger.Int("snapshots", len(batch)),
				logger.Int("attempt", attempt+1),
			)
			return
		}
		p.metrics.RecordError("pipeline_flush")
		if errors.Is(err, context.Canceled) {
			return
		}
	}
	p.metrics.RecordError("pipeline_buffer_drop")
	p.log.Error("snapshot batch dropped after retries",
		logger.Int("snapshots", len(batch)),
		logger.Int("attempts", p.retryMax),
	)
}

// backoff doubles from backoffMin and is capped at backoffMax.
func (p *SnapshotPipeline) backoff(attempt int) time.Duration {
	if attempt > 30 {
		return p.backoffMax
	}
	d := p.backoffMin << uint(attempt)
	if d <= 0 || d > p.backoffMax {
		return p.backoffMax
	}
	return d
}

func validateSnapshot(s models.Snapshot) error {
	if s.Instrument == "" {
		return errors.New("instrument empty")
	}
	if s.ObservedAt.IsZero() {
		return errors.New("observed_at missing")
	}
	for name, v := range map[string]float64{
		"last_price": s.LastPrice,
		"open_price": s.OpenPrice24h,
		"volume":     s.Volume24h,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%s invalid: %v", name, v)
		}
	}
	if s.TradeCount24h < 0 {
		return errors.New("trade count negative")
	}
	return nil
}
