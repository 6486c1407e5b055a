package models

import "time"

// Snapshot is one polled observation of an instrument's 24h market stats.
type Snapshot struct {
	Instrument    string    `json:"instrument"`
	LastPrice     float64   `json:"last_price"`
	OpenPrice24h  float64   `json:"open_price_24h"`
	Volume24h     float64   `json:"volume_24h"`
	TradeCount24h int64     `json:"trade_count_24h"`
	ObservedAt    time.Time `json:"observed_at"`
}

// Sample is a point in an instrument's rolling history. Never mutated once recorded.
type Sample struct {
	Timestamp  time.Time `json:"timestamp"`
	Volume     float64   `json:"volume"`
	TradeCount int64     `json:"trade_count"`
}
