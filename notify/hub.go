// Package notify broadcasts ref-update events to browsing-layer
// subscribers over WebSocket after a successful receive-pack: a
// register/unregister/broadcast channel hub with a per-client send buffer.
package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gitserve/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024
)

// RefUpdateEvent is broadcast whenever a receive-pack successfully applies
// at least one ref update.
type RefUpdateEvent struct {
	Type     string `json:"type"` // "ref_update"
	Owner    string `json:"owner"`
	Repo     string `json:"repo"`
	Ref      string `json:"ref"`
	OldOID   string `json:"old_oid"`
	NewOID   string `json:"new_oid"`
	AtUnixNS int64  `json:"at_unix_ns"`
}

type client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	owner      string
	repo       string
	subscribed bool
}

// Hub fans out RefUpdateEvents to subscribed WebSocket clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client, 16),
		unregister: make(chan *client, 16),
	}
}

// Run processes register/unregister/broadcast events until ctx-less loop
// forever; call it in its own goroutine at server startup.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case data := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// BroadcastRefUpdate notifies every subscriber of owner/repo.
func (h *Hub) BroadcastRefUpdate(ev RefUpdateEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		logging.L().Error().Err(err).Msg("notify: marshal ref update event")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.owner == ev.Owner && c.repo == ev.Repo {
			select {
			case c.send <- data:
			default:
			}
		}
	}
}

// ServeWS upgrades the request to a WebSocket subscribed to owner/repo's
// ref-update events.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, owner, repo string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.L().Error().Err(err).Msg("notify: websocket upgrade failed")
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, 16), owner: owner, repo: repo, subscribed: true}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
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

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
