// Package alert fans urgent safety alerts out to connected guardian
// dashboards over websockets. The hub is the safety screener's notifier;
// a raised alert reaches every connected client immediately.
package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"reframe/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 16
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks connected dashboard clients and broadcasts alert events.
// Slow clients get dropped rather than allowed to stall the fan-out.
type Hub struct {
	store      store.Store
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	upgrader   websocket.Upgrader
	log        *zap.Logger
}

func NewHub(st store.Store, checkOrigin func(*http.Request) bool, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		store:      st,
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 64),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		log: log,
	}
}

// Run owns the client set. Call it once, as a goroutine; it exits with ctx.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.log.Info("alert client connected", zap.Int("clients", len(h.clients)))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.log.Info("alert client disconnected", zap.Int("clients", len(h.clients)))

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					delete(h.clients, c)
					close(c.send)
					h.log.Warn("dropped slow alert client")
				}
			}

		case <-ctx.Done():
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			return
		}
	}
}

// Event is the wire envelope pushed to dashboards.
type Event struct {
	Type   string              `json:"type"` // "urgent_alert" | "snapshot"
	Alert  *store.UrgentAlert  `json:"alert,omitempty"`
	Alerts []store.UrgentAlert `json:"alerts,omitempty"`
}

// Notify implements the safety screener's notifier. It never blocks the
// caller; when the broadcast queue is full the event is dropped and logged.
func (h *Hub) Notify(a store.UrgentAlert) {
	msg, err := json.Marshal(Event{Type: "urgent_alert", Alert: &a})
	if err != nil {
		h.log.Error("alert encode failed", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("alert broadcast queue full, event dropped", zap.String("alert", a.ID))
	}
}

// ServeHTTP upgrades the request and streams alert events. Each new client
// first receives a snapshot of the currently pending alerts.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBufferSize)}
	h.register <- c

	if snapshot := h.pendingSnapshot(r.Context()); snapshot != nil {
		select {
		case c.send <- snapshot:
		default:
		}
	}

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) pendingSnapshot(ctx context.Context) []byte {
	pending, err := h.store.ListPendingAlerts(ctx)
	if err != nil {
		h.log.Warn("pending alert snapshot failed", zap.Error(err))
		return nil
	}
	msg, err := json.Marshal(Event{Type: "snapshot", Alerts: pending})
	if err != nil {
		return nil
	}
	return msg
}

// readPump drains the connection so pings and close frames get handled.
// Clients send nothing meaningful upstream.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
