// Package broker routes presence and message events between connections.
// It owns the presence table, consults the message store, and emits
// outbound events through the connection layer without ever waiting for
// client acknowledgment.
package broker

import (
	"context"
	"log"

	"github.com/danielcroft/chatline/internal/event"
	"github.com/danielcroft/chatline/internal/message"
	"github.com/danielcroft/chatline/internal/presence"
)

// Emitter delivers outbound envelopes. Unicast targets one connection;
// Broadcast targets every connection except the given one. Both are
// fire-and-forget: delivery to a vanished connection is a no-op.
type Emitter interface {
	Unicast(connID string, env event.Envelope)
	Broadcast(exceptConnID string, env event.Envelope)
}

// Broker is the presence-and-relay core. All presence mutations go
// through the internally synchronized table, so handlers for different
// connections may safely interleave around store round trips.
type Broker struct {
	presence *presence.Table
	store    message.Store
	emitter  Emitter
}

// New creates a Broker persisting to store and emitting through emitter.
func New(store message.Store, emitter Emitter) *Broker {
	return &Broker{
		presence: presence.NewTable(),
		store:    store,
		emitter:  emitter,
	}
}

// Presence exposes the presence table for read-only inspection.
func (b *Broker) Presence() *presence.Table {
	return b.presence
}

// Login binds the connection to a username. The user_online broadcast
// fires only on the username's offline-to-online edge, so a second tab
// does not re-announce the user. The snapshot sent back always includes
// the newly logged-in user.
func (b *Broker) Login(connID, username string) {
	first, ok := b.presence.SetOnline(connID, username)
	if !ok {
		b.emitter.Unicast(connID, event.Error("username is required"))
		return
	}

	if first {
		b.emitter.Broadcast(connID, event.UserOnline(username))
	}
	b.emitter.Unicast(connID, event.OnlineUsers(b.presence.AllUsernames()))
}

// Send persists the message and routes it: one receive_message to each
// of the recipient's live connections, one message_sent echo back to the
// originator. An offline recipient is not an error; the message is only
// persisted. A store failure is surfaced as send_failed rather than
// dropped silently.
func (b *Broker) Send(ctx context.Context, connID string, p event.SendPayload) {
	sender, ok := b.presence.Username(connID)
	if !ok {
		b.emitter.Unicast(connID, event.Error("login required"))
		return
	}
	if p.Recipient == "" {
		b.emitter.Unicast(connID, event.Error("recipient is required"))
		return
	}

	m := &message.Message{
		Sender:    sender,
		Recipient: p.Recipient,
		Body:      p.Message,
		ClientID:  p.MessageID,
	}
	if err := b.store.Append(ctx, m); err != nil {
		log.Printf("broker: store message from %s to %s: %v", sender, p.Recipient, err)
		b.emitter.Unicast(connID, event.SendFailed(p.MessageID, "failed to store message"))
		return
	}

	for _, rc := range b.presence.Connections(p.Recipient) {
		b.emitter.Unicast(rc, event.ReceiveMessage(m))
	}
	b.emitter.Unicast(connID, event.MessageSent(m))
}

// Delete removes a stored message, addressed by the client-supplied id
// the sender attached on send. Removal requires the deleting
// connection's bound username to match the stored sender; on success the
// deletion notice goes to every connection of both parties, the deleter's
// other tabs included.
func (b *Broker) Delete(ctx context.Context, connID string, p event.DeletePayload) {
	sender, ok := b.presence.Username(connID)
	if !ok {
		b.emitter.Unicast(connID, event.Error("login required"))
		return
	}

	removed, err := b.store.Remove(ctx, p.MessageID, sender)
	if err != nil {
		log.Printf("broker: delete message %q for %s: %v", p.MessageID, sender, err)
		b.emitter.Unicast(connID, event.DeleteFailed(p.MessageID, "failed to delete message"))
		return
	}
	if !removed {
		b.emitter.Unicast(connID, event.DeleteFailed(p.MessageID, "message not found or not yours"))
		return
	}

	notice := event.MessageDeleted(p.MessageID)
	targets := make(map[string]struct{})
	for _, id := range b.presence.Connections(p.Counterpart) {
		targets[id] = struct{}{}
	}
	for _, id := range b.presence.Connections(sender) {
		targets[id] = struct{}{}
	}
	for id := range targets {
		b.emitter.Unicast(id, notice)
	}
}

// Disconnect drops the connection's presence entry. The user_offline
// broadcast fires only when the last connection for that username closed.
func (b *Broker) Disconnect(connID string) {
	username, last, ok := b.presence.Remove(connID)
	if ok && last {
		b.emitter.Broadcast(connID, event.UserOffline(username))
	}
}
