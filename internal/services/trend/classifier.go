package trend

import (
	"math"
	"time"

	"KrakenPulse/internal/domain/models"
)

// Config holds the fixed classification thresholds.
type Config struct {
	Intervals      []int   // lookback minutes, evaluated in order
	VolumeSpikePct float64 // volume change above this trips
	PriceChangePct float64 // |24h price change| above this trips
	TradeSpikePct  float64 // trade count change above this trips
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		Intervals:      []int{5, 15, 30},
		VolumeSpikePct: 50.0,
		PriceChangePct: 5.0,
		TradeSpikePct:  50.0,
	}
}

// IntervalChange is the comparison against one lookback interval.
// Found is false when the history is younger than the interval.
type IntervalChange struct {
	Minutes         int      `json:"minutes"`
	Found           bool     `json:"found"`
	VolumeChangePct *float64 `json:"volume_change_pct"`
	TradeChangePct  *float64 `json:"trade_change_pct"`
}

// Evaluation is the full per-instrument outcome of one cycle.
// Alert is nil when the instrument is not trending.
type Evaluation struct {
	Instrument     string
	PriceChangePct *float64
	Intervals      []IntervalChange
	Alert          *models.TrendAlert
}

// PctChange returns (curr-past)/past*100, or nil when past is zero.
func PctChange(curr, past float64) *float64 {
	if past == 0 {
		return nil
	}
	v := (curr - past) / past * 100
	return &v
}

// Classifier decides per cycle whether an instrument is trending.
type Classifier struct {
	cfg     Config
	history *HistoryStore
}

// NewClassifier binds thresholds to the history store the classifier appends into.
func NewClassifier(cfg Config, history *HistoryStore) *Classifier {
	return &Classifier{cfg: cfg, history: history}
}

// History exposes the underlying store.
func (c *Classifier) History() *HistoryStore { return c.history }

// Evaluate records the snapshot in history and classifies it against older
// samples. The first interval (in configured order) that trips a threshold
// supplies the reported changes. Only intervals with a past sample are
// checked, so an instrument without history is never trending.
// Calls for the same instrument must not overlap.
func (c *Classifier) Evaluate(snap models.Snapshot, now time.Time) Evaluation {
	ev := Evaluation{
		Instrument:     snap.Instrument,
		PriceChangePct: PctChange(snap.LastPrice, snap.OpenPrice24h),
		Intervals:      make([]IntervalChange, 0, len(c.cfg.Intervals)),
	}

	c.history.Append(snap.Instrument, models.Sample{
		Timestamp:  now,
		Volume:     snap.Volume24h,
		TradeCount: snap.TradeCount24h,
	})

	for _, iv := range c.cfg.Intervals {
		ic := IntervalChange{Minutes: iv}
		past, ok := c.history.ClosestAtOrBefore(snap.Instrument, iv, now)
		if ok {
			ic.Found = true
			ic.VolumeChangePct = PctChange(snap.Volume24h, past.Volume)
			ic.TradeChangePct = PctChange(float64(snap.TradeCount24h), float64(past.TradeCount))
		}
		ev.Intervals = append(ev.Intervals, ic)

		if ev.Alert != nil || !ok {
			continue
		}
		if signals := c.signals(ic.VolumeChangePct, ev.PriceChangePct, ic.TradeChangePct); len(signals) > 0 {
			ev.Alert = c.alert(snap, now, iv, ic, ev.PriceChangePct, signals)
		}
	}
	return ev
}

func (c *Classifier) signals(volume, price, trades *float64) []models.Signal {
	var out []models.Signal
	if volume != nil && *volume > c.cfg.VolumeSpikePct {
		out = append(out, models.SignalVolume)
	}
	if price != nil && math.Abs(*price) > c.cfg.PriceChangePct {
		out = append(out, models.SignalPrice)
	}
	if trades != nil && *trades > c.cfg.TradeSpikePct {
		out = append(out, models.SignalTrades)
	}
	return out
}

func (c *Classifier) alert(snap models.Snapshot, now time.Time, interval int, ic IntervalChange, price *float64, signals []models.Signal) *models.TrendAlert {
	return &models.TrendAlert{
		Instrument:      snap.Instrument,
		IntervalMinutes: interval,
		VolumeChangePct: ic.VolumeChangePct,
		PriceChangePct:  price,
		TradeChangePct:  ic.TradeChangePct,
		CurrentVolume:   snap.Volume24h,
		CurrentPrice:    snap.LastPrice,
		Signals:         signals,
		ObservedAt:      now,
	}
}
