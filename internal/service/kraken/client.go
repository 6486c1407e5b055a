package kraken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"KrakenPulse/internal/domain/models"
	drepo "KrakenPulse/internal/domain/repository"
	"KrakenPulse/pkg/http"
	"KrakenPulse/pkg/logger"

	"github.com/shopspring/decimal"
)

// Client implements a TickerFeed backed by the Kraken public REST API.
type Client struct {
	url          string
	pairs        []string
	retries      int
	retryBackoff time.Duration

	http *http.Client
	log  *logger.Logger
	now  func() time.Time
}

// Option configures Client.
type Option func(*Client)

// WithPairs restricts the request to the given pairs. Empty means all pairs.
func WithPairs(pairs ...string) Option {
	return func(c *Client) { c.pairs = pairs }
}

// WithRetry sets how many extra attempts a failed fetch gets and the base
// delay between them. Attempt n waits n*backoff.
func WithRetry(retries int, backoff time.Duration) Option {
	return func(c *Client) {
		c.retries = retries
		c.retryBackoff = backoff
	}
}

// WithHTTPClient replaces the JSON client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger used for skipped pairs and retries.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a Kraken ticker feed.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:          url,
		retries:      3,
		retryBackoff: 2 * time.Second,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = http.NewClient(http.WithUserAgent("krakenpulse"))
	}
	if c.log == nil {
		c.log = logger.Nop()
	}
	return c
}

var _ drepo.TickerFeed = (*Client)(nil)

type tickerInfo struct {
	C []string `json:"c"` // last trade [price, lot volume]
	V []string `json:"v"` // volume [today, last 24h]
	T []int64  `json:"t"` // trade count [today, last 24h]
	O string   `json:"o"` // today's opening price
}

type tickerResponse struct {
	Error  []string              `json:"error"`
	Result map[string]json.RawMessage `json:"result"` // decoded per pair
}

// APIError is a non-empty error array returned by Kraken.
type APIError struct {
	Messages []string
}

func (e *APIError) Error() string {
	return "kraken: " + strings.Join(e.Messages, "; ")
}

// Fetch returns one snapshot per well-formed pair, sorted by instrument.
// All snapshots share the same ObservedAt.
func (c *Client) Fetch(ctx context.Context) ([]models.Snapshot, error) {
	var (
		resp tickerResponse
		err  error
	)
	for attempt := 0; ; attempt++ {
		resp = tickerResponse{}
		err = c.fetchOnce(ctx, &resp)
		if err == nil || attempt >= c.retries || !retryable(err) {
			break
		}
		wait := time.Duration(attempt+1) * c.retryBackoff
		c.log.Warn("kraken fetch failed, retrying",
			logger.Int("attempt", attempt+1),
			logger.Duration("wait", wait),
			logger.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	if err != nil {
		return nil, err
	}

	observedAt := c.now().UTC()
	snaps := make([]models.Snapshot, 0, len(resp.Result))
	skipped := 0
	for pair, raw := range resp.Result {
		s, err := toSnapshot(pair, raw, observedAt)
		if err != nil {
			skipped++
			c.log.Debug("skip malformed pair", logger.String("pair", pair), logger.Error(err))
			continue
		}
		snaps = append(snaps, s)
	}
	if skipped > 0 {
		c.log.Warn("kraken pairs skipped", logger.Int("skipped", skipped), logger.Int("kept", len(snaps)))
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Instrument < snaps[j].Instrument })
	return snaps, nil
}

func (c *Client) fetchOnce(ctx context.Context, dest *tickerResponse) error {
	opts := &http.RequestOptions{Method: http.MethodGet, URL: c.url}
	if len(c.pairs) > 0 {
		opts.QueryParams = map[string][]string{"pair": {strings.Join(c.pairs, ",")}}
	}
	if err := c.http.SendAndParse(ctx, opts, dest); err != nil {
		return fmt.Errorf("kraken ticker: %w", err)
	}
	if len(dest.Error) > 0 {
		return &APIError{Messages: dest.Error}
	}
	return nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}
	var statusErr *http.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	// transport failures
	return true
}

func toSnapshot(pair string, raw json.RawMessage, observedAt time.Time) (models.Snapshot, error) {
	var info tickerInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return models.Snapshot{}, fmt.Errorf("decode pair: %w", err)
	}
	if len(info.C) < 1 {
		return models.Snapshot{}, errors.New("missing last price")
	}
	if len(info.V) < 2 {
		return models.Snapshot{}, errors.New("missing 24h volume")
	}
	last, err := decimal.NewFromString(info.C[0])
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("last price: %w", err)
	}
	vol, err := decimal.NewFromString(info.V[1])
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("24h volume: %w", err)
	}
	open, err := decimal.NewFromString(info.O)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("open price: %w", err)
	}

	var trades int64
	if len(info.T) >= 2 {
		trades = info.T[1]
	}

	return models.Snapshot{
		Instrument:    pair,
		LastPrice:     last.InexactFloat64(),
		OpenPrice24h:  open.InexactFloat64(),
		Volume24h:     vol.InexactFloat64(),
		TradeCount24h: trades,
		ObservedAt:    observedAt,
	}, nil
}
