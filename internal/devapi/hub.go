package devapi

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// clientWriter owns all writes to one connection.
type clientWriter struct {
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

func newClientWriter(conn *websocket.Conn) *clientWriter {
	cw := &clientWriter{
		conn:   conn,
		sendCh: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	for {
		select {
		case msg := <-cw.sendCh:
			_ = cw.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cw.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				cw.stop()
				return
			}
		case <-cw.done:
			return
		}
	}
}

func (cw *clientWriter) stop() {
	cw.once.Do(func() {
		close(cw.done)
		_ = cw.conn.Close()
	})
}

// hub fans push events out to every connected admin.
type hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]*clientWriter
}

func newHub(logger *slog.Logger) *hub {
	return &hub{logger: logger, clients: make(map[*websocket.Conn]*clientWriter)}
}

func (h *hub) register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = newClientWriter(conn)
	h.logger.Debug("push client registered", "clients", len(h.clients))
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cw, ok := h.clients[conn]; ok {
		cw.stop()
		delete(h.clients, conn)
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// broadcast sends {"type": eventType, ...fields}. Slow clients drop the event.
func (h *hub) broadcast(eventType string, fields map[string]any) {
	payload := map[string]any{"type": eventType}
	for k, v := range fields {
		payload[k] = v
	}
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("encode push event", "type", eventType, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, cw := range h.clients {
		select {
		case cw.sendCh <- data:
		default:
			h.logger.Warn("push client too slow, event dropped", "type", eventType)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, cw := range h.clients {
		cw.stop()
		delete(h.clients, conn)
	}
}
