package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/funilcrm/backend/internal/board"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsMaxMsgSize = 64 * 1024
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSEvent is the wire frame pushed to websocket feed clients.
type WSEvent struct {
	Type        string           `json:"type"`
	SubOriginID string           `json:"sub_origin_id"`
	ChangeType  board.ChangeType `json:"change_type,omitempty"`
	LeadIDs     []string         `json:"lead_ids,omitempty"`
	Message     string           `json:"message,omitempty"`
}

type wsConnection struct {
	operatorID string
	conn       *websocket.Conn
	send       chan []byte
	origins    map[string]bool
}

// WSHub manages active websocket feed connections, keyed by the sub-origins
// each client subscribed to.
type WSHub struct {
	mu          sync.RWMutex
	connections map[*wsConnection]struct{}
}

func NewWSHub() *WSHub {
	return &WSHub{
		connections: make(map[*wsConnection]struct{}),
	}
}

func (h *WSHub) register(c *wsConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c] = struct{}{}
}

func (h *WSHub) unregister(c *wsConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[c]; ok {
		delete(h.connections, c)
		close(c.send)
	}
}

// BroadcastToOrigin sends an event to every connection subscribed to the
// given sub-origin. Slow clients are skipped rather than blocked on.
func (h *WSHub) BroadcastToOrigin(subOriginID string, event *WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.connections {
		if c.origins[subOriginID] {
			select {
			case c.send <- data:
			default:
			}
		}
	}
}

// ServeWS registers a new connection and starts its read/write loops. Blocks
// until the client disconnects.
func (h *WSHub) ServeWS(conn *websocket.Conn, operatorID string, initialOrigins []string) {
	c := &wsConnection{
		operatorID: operatorID,
		conn:       conn,
		send:       make(chan []byte, 256),
		origins:    make(map[string]bool),
	}
	for _, origin := range initialOrigins {
		c.origins[origin] = true
	}

	h.register(c)

	go h.writePump(c)
	h.readPump(c)
}

func (h *WSHub) readPump(c *wsConnection) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsMaxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var event struct {
			Type        string `json:"type"`
			SubOriginID string `json:"sub_origin_id"`
		}
		if err := json.Unmarshal(msg, &event); err != nil {
			continue
		}

		switch event.Type {
		case "subscribe":
			h.mu.Lock()
			c.origins[event.SubOriginID] = true
			h.mu.Unlock()
		case "unsubscribe":
			h.mu.Lock()
			delete(c.origins, event.SubOriginID)
			h.mu.Unlock()
		}
	}
}

func (h *WSHub) writePump(c *wsConnection) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
