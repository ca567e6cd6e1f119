package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/thermolink/sensord/internal/app/domain/reading"
	"github.com/thermolink/sensord/internal/app/metrics"
	"github.com/thermolink/sensord/internal/app/services/refresh"
	"github.com/thermolink/sensord/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 16
)

// StreamEvent is one state change pushed to /stream subscribers.
type StreamEvent struct {
	Type   string     `json:"type"` // "reading" or "fault"
	Status statusView `json:"status"`
}

// Hub fans presentation updates out to websocket subscribers. A consumer that
// cannot keep up is disconnected rather than allowed to stall the broadcast.
type Hub struct {
	log      *logger.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*streamClient]struct{}
}

var _ refresh.PresentationSink = (*Hub)(nil)

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub ready to accept subscribers.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewDefault("stream")
	}
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*streamClient]struct{}),
	}
}

// ServeHTTP upgrades the connection and serves it until the peer goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &streamClient{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	metrics.StreamClientConnected()
	h.log.WithField("remote", conn.RemoteAddr().String()).Debug("stream client connected")

	go h.writeLoop(client)
	h.readLoop(client)
}

// PublishReading implements refresh.PresentationSink.
func (h *Hub) PublishReading(_ context.Context, st reading.Status) error {
	h.broadcast(StreamEvent{Type: "reading", Status: viewStatus(st)})
	return nil
}

// PublishFault implements refresh.PresentationSink.
func (h *Hub) PublishFault(_ context.Context, st reading.Status) error {
	h.broadcast(StreamEvent{Type: "fault", Status: viewStatus(st)})
	return nil
}

// ClientCount reports the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	dropped := make([]*streamClient, 0, len(h.clients))
	for client := range h.clients {
		delete(h.clients, client)
		dropped = append(dropped, client)
	}
	h.mu.Unlock()

	for _, client := range dropped {
		close(client.send)
		metrics.StreamClientDisconnected()
	}
}

func (h *Hub) broadcast(event StreamEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.WithError(err).Error("encode stream event")
		return
	}

	var stalled []*streamClient
	h.mu.Lock()
	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			delete(h.clients, client)
			stalled = append(stalled, client)
		}
	}
	h.mu.Unlock()

	for _, client := range stalled {
		close(client.send)
		metrics.StreamClientDisconnected()
		h.log.WithField("remote", client.conn.RemoteAddr().String()).Warn("stream client too slow, dropped")
	}
}

func (h *Hub) readLoop(c *streamClient) {
	defer h.drop(c)

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *streamClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drop unregisters a client whose connection ended. Safe to call after the
// client was already removed by a slow-consumer eviction or Close.
func (h *Hub) drop(c *streamClient) {
	h.mu.Lock()
	_, registered := h.clients[c]
	if registered {
		delete(h.clients, c)
	}
	h.mu.Unlock()

	if registered {
		close(c.send)
		metrics.StreamClientDisconnected()
	}
	c.conn.Close()
}
