package http

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tradepilot/tradepilot/internal/supervisor"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Local operational surface, no cross-origin restriction
		return true
	},
}

// eventHub fans supervisor events out to connected websocket clients.
// Slow clients are disconnected rather than allowed to block the feed.
type eventHub struct {
	mu        sync.RWMutex
	clients   map[*wsClient]struct{}
	broadcast chan supervisor.Event
	done      chan struct{}
	closeOnce sync.Once
	log       zerolog.Logger
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newEventHub(log zerolog.Logger) *eventHub {
	return &eventHub{
		clients:   make(map[*wsClient]struct{}),
		broadcast: make(chan supervisor.Event, 256),
		done:      make(chan struct{}),
		log:       log.With().Str("component", "event_hub").Logger(),
	}
}

// Broadcast enqueues an event for all clients. Drops when the hub
// buffer is full so the supervisor never blocks on observers.
func (h *eventHub) Broadcast(ev supervisor.Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.log.Warn().Str("type", string(ev.Type)).Msg("Event feed buffer full, dropping event")
	}
}

func (h *eventHub) run() {
	for {
		select {
		case ev := <-h.broadcast:
			payload, err := json.Marshal(ev)
			if err != nil {
				h.log.Error().Err(err).Msg("Failed to marshal event")
				continue
			}
			var stale []*wsClient
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- payload:
				default:
					// Slow consumer, let its writer exit
					stale = append(stale, c)
				}
			}
			h.mu.RUnlock()
			for _, c := range stale {
				h.remove(c)
			}
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[*wsClient]struct{})
			h.mu.Unlock()
			return
		}
	}
}

func (h *eventHub) close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *eventHub) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	client := &wsClient{conn: conn, send: make(chan []byte, 64)}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.log.Debug().Int("clients", count).Msg("Websocket client connected")

	go client.writePump()
	go client.readPump(h)
}

func (h *eventHub) remove(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound messages, the feed is one-way. It exists
// to notice client disconnects.
func (c *wsClient) readPump(h *eventHub) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
