// Package event defines the wire contract between the server and
// connected clients. Every frame on the WebSocket is an Envelope whose
// payload shape is determined by its type.
package event

import (
	"encoding/json"
	"log"

	"github.com/danielcroft/chatline/internal/message"
)

// Envelope is the JSON structure sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound event types.
const (
	TypeLogin         = "login"
	TypeSendMessage   = "send_message"
	TypeDeleteMessage = "delete_message"
)

// Outbound event types.
const (
	TypeUserOnline     = "user_online"
	TypeUserOffline    = "user_offline"
	TypeOnlineUsers    = "online_users"
	TypeReceiveMessage = "receive_message"
	TypeMessageSent    = "message_sent"
	TypeMessageDeleted = "message_deleted"
	TypeError          = "error"
	TypeSendFailed     = "send_failed"
	TypeDeleteFailed   = "delete_failed"
)

// LoginPayload binds a connection to a username.
type LoginPayload struct {
	Username string `json:"username"`
}

// SendPayload originates a message to a recipient.
type SendPayload struct {
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
	MessageID string `json:"message_id"`
}

// DeletePayload requests removal of a stored message. MessageID is the
// client-supplied id the sender attached on send; clients correlate the
// deletion notice against that same string. Counterpart is the other
// party of the conversation, used to route the notice.
type DeletePayload struct {
	MessageID   string `json:"message_id"`
	Counterpart string `json:"counterpart"`
}

// PresencePayload announces a user coming online or going offline.
type PresencePayload struct {
	Username string `json:"username"`
}

// DeletedPayload notifies both parties that a message was removed,
// echoing the client-supplied id they render messages under.
type DeletedPayload struct {
	MessageID string `json:"message_id"`
}

// ErrorPayload reports a protocol error back to the offending connection.
type ErrorPayload struct {
	Message string `json:"message"`
}

// SendFailedPayload reports a failed send to its originator. MessageID is
// the client-supplied correlation id since no durable id was assigned.
type SendFailedPayload struct {
	MessageID string `json:"message_id"`
	Reason    string `json:"reason"`
}

// DeleteFailedPayload reports a failed deletion to its originator.
type DeleteFailedPayload struct {
	MessageID string `json:"message_id"`
	Reason    string `json:"reason"`
}

// UserOnline builds the broadcast announcing a user came online.
func UserOnline(username string) Envelope {
	return Envelope{Type: TypeUserOnline, Payload: raw(PresencePayload{Username: username})}
}

// UserOffline builds the broadcast announcing a user went offline.
func UserOffline(username string) Envelope {
	return Envelope{Type: TypeUserOffline, Payload: raw(PresencePayload{Username: username})}
}

// OnlineUsers builds the snapshot envelope sent to a logging-in connection.
func OnlineUsers(usernames []string) Envelope {
	if usernames == nil {
		usernames = []string{}
	}
	return Envelope{Type: TypeOnlineUsers, Payload: raw(usernames)}
}

// ReceiveMessage builds the unicast delivered to the recipient.
func ReceiveMessage(m *message.Message) Envelope {
	return Envelope{Type: TypeReceiveMessage, Payload: raw(m)}
}

// MessageSent builds the echo unicast delivered back to the sender.
func MessageSent(m *message.Message) Envelope {
	return Envelope{Type: TypeMessageSent, Payload: raw(m)}
}

// MessageDeleted builds the removal notice for both parties.
func MessageDeleted(clientMessageID string) Envelope {
	return Envelope{Type: TypeMessageDeleted, Payload: raw(DeletedPayload{MessageID: clientMessageID})}
}

// Error builds a protocol error envelope.
func Error(msg string) Envelope {
	return Envelope{Type: TypeError, Payload: raw(ErrorPayload{Message: msg})}
}

// SendFailed builds the failure notice for an unsent message.
func SendFailed(clientMessageID, reason string) Envelope {
	return Envelope{Type: TypeSendFailed, Payload: raw(SendFailedPayload{MessageID: clientMessageID, Reason: reason})}
}

// DeleteFailed builds the failure notice for a rejected deletion.
func DeleteFailed(clientMessageID, reason string) Envelope {
	return Envelope{Type: TypeDeleteFailed, Payload: raw(DeleteFailedPayload{MessageID: clientMessageID, Reason: reason})}
}

func raw(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("event: failed to marshal payload: %v", err)
		return json.RawMessage("null")
	}
	return data
}
