package alerts

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub broadcasts UI events to connected websocket clients. The browser
// overlay, toast and notification surfaces all hang off one socket.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.SugaredLogger

	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

// NewHub creates a websocket broadcast hub.
func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local client UI only; the daemon binds to loopback.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
		conns:  make(map[*websocket.Conn]bool),
	}
}

// ServeHTTP upgrades the request and registers the client until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("Websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.conns[conn] = true
	h.mu.Unlock()

	// Drain client messages so pings and close frames are processed.
	go func() {
		defer h.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast writes a JSON event to every connected client. Clients that
// fail to receive are dropped.
func (h *Hub) Broadcast(event interface{}) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.conns {
		if err := conn.WriteJSON(event); err != nil {
			h.logger.Debugw("Dropping unresponsive websocket client", "error", err)
			conn.Close()
			delete(h.conns, conn)
		}
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn.Close()
	delete(h.conns, conn)
}
