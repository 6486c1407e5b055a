package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"KrakenPulse/internal/domain/models"
	drepo "KrakenPulse/internal/domain/repository"
	"KrakenPulse/internal/services/trend"
	"KrakenPulse/pkg/logger"

	"github.com/google/uuid"
)

// SnapshotSink validates and persists a fetched batch, returning the
// snapshots fit for classification.
type SnapshotSink interface {
	Process(ctx context.Context, snaps []models.Snapshot) ([]models.Snapshot, error)
}

type lifecycle interface {
	Start(ctx context.Context)
	Stop()
}

// PollerConfig holds the loop settings.
type PollerConfig struct {
	Interval    time.Duration
	Concurrency int
	TopN        int
}

// TrendPoller drives one fetch, persist, classify and fan-out cycle per tick.
type TrendPoller struct {
	cfg        PollerConfig
	feed       drepo.TickerFeed
	sink       SnapshotSink
	classifier *trend.Classifier
	sinks      []drepo.AlertSink
	metrics    drepo.Metrics
	log        *logger.Logger
	now        func() time.Time

	// instruments seen in any earlier cycle; touched only by the loop
	seen map[string]struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewTrendPoller creates a poller. sink may be nil to skip persistence.
func NewTrendPoller(
	cfg PollerConfig,
	feed drepo.TickerFeed,
	sink SnapshotSink,
	classifier *trend.Classifier,
	sinks []drepo.AlertSink,
	metrics drepo.Metrics,
	l *logger.Logger,
) *TrendPoller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if l == nil {
		l = logger.Nop()
	}
	return &TrendPoller{
		cfg:        cfg,
		feed:       feed,
		sink:       sink,
		classifier: classifier,
		sinks:      sinks,
		metrics:    metrics,
		log:        l,
		now:        time.Now,
		seen:       make(map[string]struct{}),
	}
}

// Start polls immediately and then on every interval until Stop.
func (p *TrendPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("poller already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	if lc, ok := p.sink.(lifecycle); ok {
		lc.Start(ctx)
	}
	go p.loop(ctx, p.done)

	p.log.Info("trend poller started",
		logger.Duration("interval", p.cfg.Interval),
		logger.Int("concurrency", p.cfg.Concurrency),
	)
	return nil
}

// Stop cancels the loop and waits for the running cycle or ctx.
func (p *TrendPoller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if lc, ok := p.sink.(lifecycle); ok {
		lc.Stop()
	}
	p.log.Info("trend poller stopped")
	return err
}

func (p *TrendPoller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := p.RunCycle(ctx); err != nil && ctx.Err() == nil {
			p.log.Warn("poll cycle failed", logger.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunCycle executes one poll cycle and returns the ranked outcome.
// A fetch failure aborts the cycle; persistence and sink failures do not.
func (p *TrendPoller) RunCycle(ctx context.Context) (models.TrendCycle, error) {
	start := time.Now()
	cycle := models.TrendCycle{ID: uuid.NewString(), ObservedAt: p.now().UTC()}
	log := p.log.With(logger.String("cycle_id", cycle.ID))

	snaps, err := p.feed.Fetch(ctx)
	if err != nil {
		p.metrics.RecordPoll("fetch_error")
		p.metrics.RecordError("fetch")
		return cycle, fmt.Errorf("fetch tickers: %w", err)
	}
	if len(snaps) == 0 {
		p.metrics.RecordPoll("empty")
		log.Warn("ticker feed returned no instruments")
		return cycle, nil
	}

	if p.sink != nil {
		valid, err := p.sink.Process(ctx, snaps)
		if err != nil {
			log.Warn("snapshot persistence failed, batch buffered", logger.Error(err))
		}
		snaps = valid
	}
	snaps = dedupe(snaps)
	if len(snaps) > 0 && !snaps[0].ObservedAt.IsZero() {
		cycle.ObservedAt = snaps[0].ObservedAt
	}

	p.warnMissing(log, snaps)

	evals := p.evaluate(snaps, cycle.ObservedAt)
	alerts := make([]models.TrendAlert, 0)
	undefined := 0
	for _, ev := range evals {
		for _, ic := range ev.Intervals {
			if !ic.Found {
				undefined++
			}
		}
		if ev.Alert != nil {
			alerts = append(alerts, *ev.Alert)
		}
	}
	if undefined > 0 {
		log.Debug("intervals without history", logger.Int("count", undefined))
	}

	cycle.Instruments = len(snaps)
	cycle.Alerts = trend.RankAlerts(alerts, 0)

	for _, s := range p.sinks {
		if err := s.PublishCycle(ctx, cycle); err != nil {
			p.metrics.RecordError("alert_sink")
			log.Error("alert sink failed", logger.Error(err))
		}
	}

	p.record(cycle)
	p.metrics.RecordLatency("poll_cycle", time.Since(start).Seconds())
	p.logTop(log, cycle)
	return cycle, nil
}

// evaluate classifies every snapshot with at most Concurrency goroutines.
// Each instrument is handled by exactly one goroutine.
func (p *TrendPoller) evaluate(snaps []models.Snapshot, fallback time.Time) []trend.Evaluation {
	evals := make([]trend.Evaluation, len(snaps))
	idx := make(chan int)
	var wg sync.WaitGroup

	workers := p.cfg.Concurrency
	if workers > len(snaps) {
		workers = len(snaps)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idx {
				at := snaps[i].ObservedAt
				if at.IsZero() {
					at = fallback
				}
				evals[i] = p.classifier.Evaluate(snaps[i], at)
			}
		}()
	}
	for i := range snaps {
		idx <- i
	}
	close(idx)
	wg.Wait()
	return evals
}

func (p *TrendPoller) warnMissing(log *logger.Logger, snaps []models.Snapshot) {
	present := make(map[string]struct{}, len(snaps))
	for _, s := range snaps {
		present[s.Instrument] = struct{}{}
	}
	var missing []string
	for inst := range p.seen {
		if _, ok := present[inst]; !ok {
			missing = append(missing, inst)
		}
	}
	for inst := range present {
		p.seen[inst] = struct{}{}
	}
	if len(missing) == 0 {
		return
	}
	sort.Strings(missing)
	sample := missing
	if len(sample) > 10 {
		sample = sample[:10]
	}
	log.Warn("tracked instruments missing from feed",
		logger.Int("missing", len(missing)),
		logger.Strings("instruments", sample),
	)
}

func (p *TrendPoller) record(cycle models.TrendCycle) {
	p.metrics.RecordPoll("ok")
	p.metrics.RecordTrackedInstruments(len(p.classifier.History().Instruments()))
	p.metrics.RecordTrending(len(cycle.Alerts))
	for _, a := range cycle.Alerts {
		for _, s := range a.Signals {
			p.metrics.RecordAlert(string(s))
		}
	}
}

func (p *TrendPoller) logTop(log *logger.Logger, cycle models.TrendCycle) {
	log.Info("poll cycle complete",
		logger.Int("instruments", cycle.Instruments),
		logger.Int("trending", len(cycle.Alerts)),
	)
	top := cycle.Alerts
	if p.cfg.TopN > 0 && len(top) > p.cfg.TopN {
		top = top[:p.cfg.TopN]
	}
	for i, a := range top {
		log.Info("trending instrument",
			logger.Int("rank", i+1),
			logger.String("instrument", a.Instrument),
			logger.Int("interval_minutes", a.IntervalMinutes),
			logger.Any("volume_change_pct", a.VolumeChangePct),
			logger.Any("price_change_pct", a.PriceChangePct),
			logger.Any("trade_change_pct", a.TradeChangePct),
			logger.Float64("current_price", a.CurrentPrice),
		)
	}
}

// dedupe keeps the first snapshot of each instrument.
func dedupe(snaps []models.Snapshot) []models.Snapshot {
	seen := make(map[string]struct{}, len(snaps))
	out := snaps[:0:0]
	for _, s := range snaps {
		if _, ok := seen[s.Instrument]; ok {
			continue
		}
		seen[s.Instrument] = struct{}{}
		out = append(out, s)
	}
	return out
}
