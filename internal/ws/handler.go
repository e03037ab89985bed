package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/danielcroft/chatline/internal/broker"
	"github.com/danielcroft/chatline/internal/event"
)

// Handler handles WebSocket upgrade requests and runs each connection's
// read loop, dispatching inbound envelopes to the broker.
type Handler struct {
	hub    *Hub
	broker *broker.Broker
}

// NewHandler creates a new WebSocket Handler.
func NewHandler(hub *Hub, b *broker.Broker) *Handler {
	return &Handler{hub: hub, broker: b}
}

// ServeHTTP upgrades the HTTP connection to a WebSocket, assigns the
// connection identity and runs the read loop. No presence state exists
// until the client sends a login envelope.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow all origins in dev; tighten in production.
	})
	if err != nil {
		log.Printf("ws: accept error: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	client := &Client{
		conn: conn,
		id:   uuid.NewString(),
	}

	connCtx := h.hub.add(client)
	defer func() {
		h.hub.remove(client)
		h.broker.Disconnect(client.id)
	}()

	h.readLoop(r.Context(), connCtx, client)
}

// readLoop reads envelopes from the client until the connection closes
// or the connection manager cancels connCtx.
func (h *Handler) readLoop(ctx context.Context, connCtx context.Context, client *Client) {
	for {
		select {
		case <-connCtx.Done():
			return
		default:
		}

		_, data, err := client.conn.Read(ctx)
		if err != nil {
			// Normal close or context cancelled.
			return
		}

		var env event.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.hub.Unicast(client.id, event.Error("invalid JSON"))
			continue
		}

		switch env.Type {
		case event.TypeLogin:
			var payload event.LoginPayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				h.hub.Unicast(client.id, event.Error("invalid login payload"))
				continue
			}
			h.broker.Login(client.id, payload.Username)

		case event.TypeSendMessage:
			var payload event.SendPayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				h.hub.Unicast(client.id, event.Error("invalid send_message payload"))
				continue
			}
			h.broker.Send(ctx, client.id, payload)

		case event.TypeDeleteMessage:
			var payload event.DeletePayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				h.hub.Unicast(client.id, event.Error("invalid delete_message payload"))
				continue
			}
			h.broker.Delete(ctx, client.id, payload)

		default:
			h.hub.Unicast(client.id, event.Error("unknown event type"))
		}
	}
}
