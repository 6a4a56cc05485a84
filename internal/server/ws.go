package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// wsWriteTimeout is the deadline for a single write to a client.
	wsWriteTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// CORS is left to the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsHub tracks connected WebSocket clients so shutdown can close them.
type wsHub struct {
	src    Source
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

// wsClient is one connected WebSocket client.
type wsClient struct {
	conn     *websocket.Conn
	stream   *stream
	quit     chan struct{}
	quitOnce sync.Once
}

func newWSHub(src Source, logger *slog.Logger) *wsHub {
	return &wsHub{
		src:     src,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// ServeHTTP upgrades the connection and streams events to the client until
// it disconnects, lags behind, or the server shuts down.
func (h *wsHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response
		return
	}

	c := &wsClient{
		conn:   conn,
		stream: watch(h.src),
		quit:   make(chan struct{}),
	}
	defer c.stream.close()

	if !h.register(c) {
		conn.Close()
		return
	}
	defer h.unregister(c)

	go c.readPump()
	c.writePump(h.logger)
}

// Count returns the number of connected clients.
func (h *wsHub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *wsHub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *wsHub) unregister(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// closeAll asks every client to close and rejects new ones.
func (h *wsHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		c.stop()
	}
}

func (c *wsClient) stop() {
	c.quitOnce.Do(func() { close(c.quit) })
}

// writePump forwards stream events to the connection and sends periodic
// pings. It returns when the connection fails or the client is stopped.
func (c *wsClient) writePump(logger *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.stream.events:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-c.stream.lagged:
			logger.Warn("websocket client lagging, disconnecting", "remote_addr", c.conn.RemoteAddr().String())
			c.closeMessage(websocket.ClosePolicyViolation, "lagging")
			return

		case <-c.quit:
			c.closeMessage(websocket.CloseGoingAway, "server shutting down")
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) closeMessage(code int, text string) {
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text)) //nolint:errcheck
}

// readPump processes control frames and detects disconnects. Clients send
// nothing meaningful; any read error stops the client.
func (c *wsClient) readPump() {
	defer c.stop()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
