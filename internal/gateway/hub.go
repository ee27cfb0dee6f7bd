// Package gateway pushes relay events to browser front ends over websockets.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"personarelay/internal/logger"
	"personarelay/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Command is an inbound front end request, e.g. {"event": "ping"}.
type Command struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CommandHandler serves commands sent by a connected client.
type CommandHandler func(ctx context.Context, c *Client, cmd Command)

type frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub tracks connections grouped into rooms, one room per client account.
type Hub struct {
	upgrader     websocket.Upgrader
	broadcastAll bool
	log          *slog.Logger

	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	handler CommandHandler
}

// NewHub creates a hub. With broadcastAll every event reaches every
// connection regardless of its room.
func NewHub(broadcastAll bool) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		broadcastAll: broadcastAll,
		log:          logger.For("gateway"),
		rooms:        make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) SetCommandHandler(handler CommandHandler) {
	h.mu.Lock()
	h.handler = handler
	h.mu.Unlock()
}

// Broadcast delivers ev to its room (or everyone). It satisfies the relay's
// broadcaster contract.
func (h *Hub) Broadcast(_ context.Context, ev models.Event) error {
	return h.Deliver(ev)
}

func (h *Hub) Deliver(ev models.Event) error {
	payload, err := json.Marshal(frame{Event: ev.Name, Data: ev.Data})
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.Name, err)
	}

	h.mu.RLock()
	var targets []*Client
	if ev.Room == "" || h.broadcastAll {
		for _, room := range h.rooms {
			for c := range room {
				targets = append(targets, c)
			}
		}
	} else {
		for c := range h.rooms[ev.Room] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(payload)
	}
	return nil
}

// RoomSize returns the number of live connections in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// ServeHTTP upgrades the request and joins the connection to the room named
// by the "client" query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("client")
	if room == "" {
		http.Error(w, "client parameter required", http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	c := &Client{
		hub:  h,
		conn: conn,
		room: room,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	h.register(c)
	go c.writePump()

	c.Send(models.Event{Name: models.EventConnectionStatus, Data: map[string]string{"status": "connected", "client": room}})
	c.readPump(r.Context())
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]map[*Client]struct{})
	h.mu.Unlock()
	for _, room := range rooms {
		for c := range room {
			c.close()
		}
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	if h.rooms[c.room] == nil {
		h.rooms[c.room] = make(map[*Client]struct{})
	}
	h.rooms[c.room][c] = struct{}{}
	h.mu.Unlock()
	h.log.Info("client connected", "client", c.room)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if room, ok := h.rooms[c.room]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, c.room)
		}
	}
	h.mu.Unlock()
	c.close()
	h.log.Info("client disconnected", "client", c.room)
}

func (h *Hub) commandHandler() CommandHandler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.handler
}
