package kraken

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const tickerBody = `{"error":[],"result":{
"XXBTZUSD":{"a":["1","1","1"],"c":["65000.10","0.01"],"v":["100.5","1200.25"],"t":[300,4500],"o":"64000.00"},
"XETHZUSD":{"c":["3100.5","1"],"v":["10","250"],"t":[20,900],"o":"3000"},
"BROKEN":{"c":[],"v":["1","2"],"t":[1,2],"o":"1"},
"BADNUM":{"c":["abc","1"],"v":["1","2"],"t":[1,2],"o":"1"}
}}`

func TestFetchParsesAndSkipsMalformed(t *testing.T) {
	var gotPair string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPair = r.URL.Query().Get("pair")
		fmt.Fprint(w, tickerBody)
	}))
	defer srv.Close()

	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := New(srv.URL, WithPairs("XXBTZUSD", "XETHZUSD"))
	c.now = func() time.Time { return fixed }

	snaps, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotPair != "XXBTZUSD,XETHZUSD" {
		t.Fatalf("unexpected pair query %q", gotPair)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d: %+v", len(snaps), snaps)
	}
	eth, btc := snaps[0], snaps[1]
	if eth.Instrument != "XETHZUSD" || btc.Instrument != "XXBTZUSD" {
		t.Fatalf("unexpected order %s, %s", eth.Instrument, btc.Instrument)
	}
	if btc.LastPrice != 65000.10 || btc.OpenPrice24h != 64000 || btc.Volume24h != 1200.25 || btc.TradeCount24h != 4500 {
		t.Fatalf("unexpected btc snapshot %+v", btc)
	}
	if !eth.ObservedAt.Equal(fixed) || !btc.ObservedAt.Equal(fixed) {
		t.Fatalf("snapshots should share observed_at")
	}
}

func TestFetchSkipsMistypedPairs(t *testing.T) {
	body := `{"error":[],"result":{
"XXBTZUSD":{"c":["65000.10","0.01"],"v":["100.5","1200.25"],"t":[300,4500],"o":"64000.00"},
"NUMOPEN":{"c":["1","1"],"v":["1","2"],"t":[1,2],"o":1.5},
"STRTRADES":{"c":["1","1"],"v":["1","2"],"t":["1","2"],"o":"1"},
"NOTOBJECT":"oops"
}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	c := New(srv.URL, WithRetry(0, time.Millisecond))
	snaps, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("a mistyped pair must not fail the fetch: %v", err)
	}
	if len(snaps) != 1 || snaps[0].Instrument != "XXBTZUSD" {
		t.Fatalf("expected only XXBTZUSD, got %+v", snaps)
	}
}

func TestFetchAPIErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, `{"error":["EQuery:Unknown asset pair"],"result":{}}`)
	}))
	defer srv.Close()

	c := New(srv.URL, WithRetry(3, time.Millisecond))
	_, err := c.Fetch(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, tickerBody)
	}))
	defer srv.Close()

	c := New(srv.URL, WithRetry(3, time.Millisecond))
	snaps, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(snaps) != 2 || calls != 3 {
		t.Fatalf("expected success on third call, got %d snaps after %d calls", len(snaps), calls)
	}
}

func TestFetchGivesUpAfterRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, WithRetry(2, time.Millisecond))
	if _, err := c.Fetch(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, WithRetry(3, time.Millisecond))
	if _, err := c.Fetch(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected one attempt, got %d", calls)
	}
}
