// Package ws provides the WebSocket event fan-out for pocketmicd.
// Components broadcast JSON events through the hub and every connected
// client receives the ones it subscribed to. Each client has its own send
// queue, so a slow reader is disconnected instead of delaying the others.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 3 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 20 * time.Second
	sendQueue  = 64
)

type client struct {
	conn  *websocket.Conn
	send  chan []byte
	types map[string]bool // nil receives everything
}

func (c *client) wants(typ string) bool {
	return c.types == nil || c.types[typ]
}

type message struct {
	typ  string
	data []byte
}

// Hub tracks connected clients and fans out broadcast messages to them.
// It is safe for concurrent use; register, unregister and broadcast all go
// through channels owned by Run.
type Hub struct {
	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan message
	upgrader   websocket.Upgrader

	connected atomic.Int64
	dropped   atomic.Uint64
	evicted   atomic.Uint64
}

// NewHub allocates a hub with buffered channels.
// Call Run in a goroutine to start the event loop.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]struct{}),
		register:   make(chan *client, 16),
		unregister: make(chan *client, 16),
		broadcast:  make(chan message, 256),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Run owns the client set. It closes every client when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.remove(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.connected.Store(int64(len(h.clients)))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.remove(c)
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				if !c.wants(msg.typ) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					// Slow consumer.
					h.evicted.Add(1)
					h.remove(c)
				}
			}
		}
	}
}

// remove closes the send queue; writePump then closes the connection.
func (h *Hub) remove(c *client) {
	delete(h.clients, c)
	close(c.send)
	h.connected.Store(int64(len(h.clients)))
}

// Handler upgrades incoming requests to WebSocket connections and registers
// them with the hub. The optional query parameter types=state,session limits
// delivery to those event types.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		types := parseTypes(r.URL.Query().Get("types"))

		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the error response.
			return
		}
		c := &client{conn: conn, send: make(chan []byte, sendQueue), types: types}
		h.register <- c

		go c.writePump()
		go h.readPump(c)
	})
}

func parseTypes(v string) map[string]bool {
	if v == "" {
		return nil
	}
	types := make(map[string]bool)
	for _, t := range strings.Split(v, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types[t] = true
		}
	}
	if len(types) == 0 {
		return nil
	}
	return types
}

// readPump discards client frames and keeps the read deadline alive on pong.
func (h *Hub) readPump(c *client) {
	defer func() { h.unregister <- c }()

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

func (c *client) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// BroadcastJSON marshals v and queues it for delivery. When the queue is
// full the message is dropped and counted; callers never block.
func (h *Hub) BroadcastJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	var env struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(b, &env)

	select {
	case h.broadcast <- message{typ: env.Type, data: b}:
	default:
		h.dropped.Add(1)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int { return int(h.connected.Load()) }

// Dropped returns how many broadcasts were discarded because the hub queue
// was full.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Evicted returns how many clients were disconnected for falling behind.
func (h *Hub) Evicted() uint64 { return h.evicted.Load() }
