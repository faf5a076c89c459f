// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

// Package ws pushes sync nudges to connected devices. A nudge only tells
// the device that its user's stream advanced; the device then pulls the
// read models over HTTP. Losing a nudge is harmless.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/podsync/internal/bus"
	"github.com/tomtom215/podsync/internal/logging"
	"github.com/tomtom215/podsync/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 16
)

// Nudge is the frame sent to devices when their stream advances.
type Nudge struct {
	Type          string `json:"type"`
	StreamVersion int64  `json:"stream_version"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin policy is enforced by the router's CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

type client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

// Hub tracks device connections per user and fans append notices out to
// them.
type Hub struct {
	events *bus.Bus

	mu      sync.RWMutex
	clients map[string]map[*client]struct{} // userID -> connections
}

// NewHub creates a hub reading append notices from the bus.
func NewHub(events *bus.Bus) *Hub {
	return &Hub{
		events:  events,
		clients: make(map[string]map[*client]struct{}),
	}
}

// Serve consumes append notices until ctx is cancelled. Satisfies
// suture.Service.
func (h *Hub) Serve(ctx context.Context) error {
	notices, err := h.events.SubscribeAppends(ctx)
	if err != nil {
		return err
	}
	logging.Logger().Info().Msg("WebSocket hub started")

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			logging.Logger().Info().Msg("WebSocket hub stopped")
			return ctx.Err()
		case n, ok := <-notices:
			if !ok {
				return nil
			}
			h.broadcast(n)
		}
	}
}

// HandleConnection upgrades the request and pumps nudges until the device
// disconnects. userID comes from the authenticated request context.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{userID: userID, conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(c)
	metrics.WebSocketConnections.Inc()

	go c.writePump(func() {
		h.unregister(c)
		metrics.WebSocketConnections.Dec()
	})
	go c.readPump()
}

// ConnectionCount returns the number of open device connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, present := set[c]; !present {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
}

// broadcast queues a nudge to every connection of the user. A device that
// cannot keep up has its frame dropped, not the hub blocked.
func (h *Hub) broadcast(n bus.AppendNotice) {
	frame, err := json.Marshal(Nudge{Type: "sync", StreamVersion: n.StreamVersion})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[n.UserID] {
		select {
		case c.send <- frame:
			metrics.WebSocketNotifications.Inc()
		default:
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, set := range h.clients {
		for c := range set {
			close(c.send)
		}
		delete(h.clients, userID)
	}
}

func (c *client) writePump(onExit func()) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		onExit()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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

// readPump discards inbound frames; the socket is push-only. It exists to
// process pongs and detect disconnects.
func (c *client) readPump() {
	defer c.conn.Close()
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
