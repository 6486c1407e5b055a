package models

import "time"

// Signal names the threshold that tripped a trend alert.
type Signal string

const (
	SignalVolume Signal = "volume"
	SignalPrice  Signal = "price"
	SignalTrades Signal = "trades"
)

// TrendAlert is produced only for instruments currently classified as trending.
// Nil change fields mean the baseline was missing or zero.
type TrendAlert struct {
	Instrument      string    `json:"instrument"`
	IntervalMinutes int       `json:"interval_minutes"` // lookback that tripped
	VolumeChangePct *float64  `json:"volume_change_pct"`
	PriceChangePct  *float64  `json:"price_change_pct"`
	TradeChangePct  *float64  `json:"trade_change_pct"`
	CurrentVolume   float64   `json:"current_volume"`
	CurrentPrice    float64   `json:"current_price"`
	Signals         []Signal  `json:"signals"`
	ObservedAt      time.Time `json:"observed_at"`
}

// TrendCycle is the ranked outcome of one poll cycle.
type TrendCycle struct {
	ID          string       `json:"id"`
	ObservedAt  time.Time    `json:"observed_at"`
	Instruments int          `json:"instruments"`
	Alerts      []TrendAlert `json:"alerts"`
}

// DashboardRow mirrors one line of the market dashboard built from stored snapshots.
type DashboardRow struct {
	Instrument     string           `json:"instrument"`
	LastPrice      float64          `json:"last_price"`
	Volume24h      float64          `json:"volume_24h"`
	ObservedAt     time.Time        `json:"observed_at"`
	PriceChange24h *float64         `json:"price_change_24h"`
	VolumeChanges  map[int]*float64 `json:"volume_changes"` // keyed by window minutes
}
