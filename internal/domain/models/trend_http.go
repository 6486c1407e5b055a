package models

// Requests for trend HTTP endpoints.

type TrendingRequest struct {
	Limit int `query:"limit" json:"limit" default:"10" validate:"gte=1,lte=200"`
}

// DashboardRequest takes comma-separated window offsets in minutes.
type DashboardRequest struct {
	Windows string `query:"windows" json:"windows" default:"15,30,45" validate:"max=64"`
}

// HistoryRequest optionally asks for the sample a lookback of Interval
// minutes would match at At (RFC3339 or unix seconds, default now).
type HistoryRequest struct {
	Instrument string `param:"instrument" json:"instrument" validate:"required,max=32"`
	Interval   int    `query:"interval" json:"interval" validate:"gte=0,lte=1440"`
	At         string `query:"at" json:"at"`
}

// HistoryResponse is the in-memory buffer for one instrument.
type HistoryResponse struct {
	Instrument string   `json:"instrument"`
	Capacity   int      `json:"capacity"`
	Samples    []Sample `json:"samples"`
	Match      *Sample  `json:"match,omitempty"`
}

// HealthResponse reports storage reachability.
type HealthResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
	Error   string `json:"error,omitempty"`
}
