package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"KrakenPulse/internal/domain/models"
	domrepo "KrakenPulse/internal/domain/repository"
	xlogger "KrakenPulse/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// LatestReader yields the cycle sent to clients when they connect.
type LatestReader interface {
	Latest(ctx context.Context) (models.TrendCycle, bool, error)
}

// Config holds per-connection settings.
type Config struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
	SendBuffer   int
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub broadcasts every completed cycle to connected websocket clients.
// A client whose send buffer is full is disconnected rather than waited on.
type Hub struct {
	cfg      Config
	log      *xlogger.Logger
	latest   LatestReader
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

func NewHub(cfg Config, latest LatestReader, log *xlogger.Logger) *Hub {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 16
	}
	if log == nil {
		log = xlogger.Nop()
	}
	return &Hub{
		cfg:    cfg,
		log:    log,
		latest: latest,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

var _ domrepo.AlertSink = (*Hub)(nil)

func (h *Hub) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/trending", h.Serve)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve upgrades the request and streams cycles until the client leaves.
func (h *Hub) Serve(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", xlogger.Error(err))
		// the upgrader already wrote the HTTP error
		return nil
	}

	cl := &client{conn: conn, send: make(chan []byte, h.cfg.SendBuffer)}
	// queued before the client is shared, so no broadcast can close send first
	if h.latest != nil {
		if cycle, ok, err := h.latest.Latest(c.Request().Context()); err == nil && ok {
			if b, err := json.Marshal(cycle); err == nil {
				cl.send <- b
			}
		}
	}
	if !h.add(cl) {
		_ = conn.Close()
		return nil
	}
	h.log.Debug("websocket client connected", xlogger.String("remote", c.RealIP()))

	go h.writePump(cl)
	h.readPump(cl)
	return nil
}

// PublishCycle queues the cycle for every client.
func (h *Hub) PublishCycle(_ context.Context, cycle models.TrendCycle) error {
	b, err := json.Marshal(cycle)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.clients {
		select {
		case cl.send <- b:
		default:
			delete(h.clients, cl)
			cl.close()
			h.log.Warn("websocket client too slow, disconnecting")
		}
	}
	return nil
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for cl := range h.clients {
		delete(h.clients, cl)
		cl.close()
	}
	return nil
}

func (h *Hub) add(cl *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[cl] = struct{}{}
	return true
}

func (h *Hub) remove(cl *client) {
	h.mu.Lock()
	if _, ok := h.clients[cl]; ok {
		delete(h.clients, cl)
		cl.close()
	}
	h.mu.Unlock()
}

// readPump discards client frames and keeps the read deadline moving on pong.
func (h *Hub) readPump(cl *client) {
	defer h.remove(cl)

	wait := 2 * h.cfg.PingInterval
	cl.conn.SetReadLimit(512)
	_ = cl.conn.SetReadDeadline(time.Now().Add(wait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(wait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(cl *client) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
