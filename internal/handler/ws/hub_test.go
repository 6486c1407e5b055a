package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"KrakenPulse/internal/domain/models"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

type staticLatest struct{ cycle models.TrendCycle }

func (s staticLatest) Latest(context.Context) (models.TrendCycle, bool, error) {
	return s.cycle, true, nil
}

func startHub(t *testing.T, latest LatestReader) (*Hub, string, func()) {
	t.Helper()
	hub := NewHub(Config{WriteTimeout: time.Second, PingInterval: time.Second, SendBuffer: 4}, latest, nil)
	e := echo.New()
	hub.RegisterRoutes(e)
	srv := httptest.NewServer(e)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/trending"
	return hub, url, func() {
		_ = hub.Close()
		srv.Close()
	}
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readCycle(t *testing.T, conn *websocket.Conn) models.TrendCycle {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var c models.TrendCycle
	if err := json.Unmarshal(b, &c); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return c
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, hub.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcastsCycles(t *testing.T) {
	hub, url, stop := startHub(t, nil)
	defer stop()

	a, b := dial(t, url), dial(t, url)
	defer a.Close()
	defer b.Close()
	waitClients(t, hub, 2)

	cycle := models.TrendCycle{ID: "c1", Instruments: 2, Alerts: []models.TrendAlert{{Instrument: "XXBTZUSD"}}}
	if err := hub.PublishCycle(context.Background(), cycle); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for _, conn := range []*websocket.Conn{a, b} {
		got := readCycle(t, conn)
		if got.ID != "c1" || got.Alerts[0].Instrument != "XXBTZUSD" {
			t.Fatalf("unexpected cycle %+v", got)
		}
	}
}

func TestHubSendsLatestOnConnect(t *testing.T) {
	_, url, stop := startHub(t, staticLatest{cycle: models.TrendCycle{ID: "prev"}})
	defer stop()

	conn := dial(t, url)
	defer conn.Close()
	if got := readCycle(t, conn); got.ID != "prev" {
		t.Fatalf("expected latest cycle on connect, got %+v", got)
	}
}

func TestHubDropsDisconnectedClients(t *testing.T) {
	hub, url, stop := startHub(t, nil)
	defer stop()

	conn := dial(t, url)
	waitClients(t, hub, 1)
	_ = conn.Close()
	waitClients(t, hub, 0)
}

func TestHubCloseRejectsNewClients(t *testing.T) {
	hub, url, stop := startHub(t, nil)
	defer stop()

	_ = hub.Close()
	conn := dial(t, url)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected closed connection")
	}
	if hub.Clients() != 0 {
		t.Fatalf("closed hub should not register clients")
	}
}
