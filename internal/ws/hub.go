package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"nhooyr.io/websocket"

	"github.com/danielcroft/chatline/internal/event"
)

// Client represents a connected WebSocket peer. Its id is the
// connection identity the broker routes by; it lives exactly as long
// as the physical connection.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	id   string
}

// Hub tracks connected clients by connection id and implements the
// broker's Emitter: unicast to one connection, broadcast to all others.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	conns   *ConnManager
}

// NewHub creates a new Hub backed by the given connection manager.
func NewHub(conns *ConnManager) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		conns:   conns,
	}
}

// ConnMgr returns the connection manager for this hub.
func (h *Hub) ConnMgr() *ConnManager {
	return h.conns
}

// add registers a client and starts its write pump. Returns a context
// that is cancelled when the client is removed.
func (h *Hub) add(c *Client) context.Context {
	ctx := h.conns.Add(c)

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	return ctx
}

// remove unregisters a client and stops its write pump.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()

	h.conns.Remove(c)
}

// Unicast sends an envelope to exactly one connection. Delivery to an
// unknown or closed connection is a no-op.
func (h *Hub) Unicast(connID string, env event.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("ws: failed to marshal envelope: %v", err)
		return
	}

	h.mu.RLock()
	c := h.clients[connID]
	h.mu.RUnlock()

	if c != nil {
		h.conns.Send(c, data)
	}
}

// Broadcast sends an envelope to every connection except exceptConnID.
func (h *Hub) Broadcast(exceptConnID string, env event.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("ws: failed to marshal envelope: %v", err)
		return
	}

	h.mu.RLock()
	// Copy the set so we can release the lock before sending.
	targets := make([]*Client, 0, len(h.clients))
	for id, c := range h.clients {
		if id == exceptConnID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.conns.Send(c, data)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
