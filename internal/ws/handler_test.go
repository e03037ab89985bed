package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/danielcroft/chatline/internal/broker"
	"github.com/danielcroft/chatline/internal/event"
	"github.com/danielcroft/chatline/internal/message"
)

func newHandlerTestServer(t *testing.T) (*httptest.Server, *message.MemStore) {
	t.Helper()
	hub := NewHub(NewConnManager())
	store := message.NewMemStore()
	b := broker.New(store, hub)
	return httptest.NewServer(NewHandler(hub, b)), store
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	env, err := json.Marshal(event.Envelope{Type: typ, Payload: data})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, env); err != nil {
		t.Fatalf("write error: %v", err)
	}
}

func login(t *testing.T, conn *websocket.Conn, username string) {
	t.Helper()
	writeEnvelope(t, conn, event.TypeLogin, event.LoginPayload{Username: username})
}

func readTyped(t *testing.T, conn *websocket.Conn, wantType string) event.Envelope {
	t.Helper()
	env := readEnvelope(t, conn)
	if env.Type != wantType {
		t.Fatalf("expected %q envelope, got %q (%s)", wantType, env.Type, env.Payload)
	}
	return env
}

func TestHandlerLoginSnapshot(t *testing.T) {
	ts, _ := newHandlerTestServer(t)
	defer ts.Close()

	conn := dialWS(t, ts.URL)
	defer conn.Close(websocket.StatusNormalClosure, "")

	login(t, conn, "alice")

	env := readTyped(t, conn, event.TypeOnlineUsers)
	var users []string
	if err := json.Unmarshal(env.Payload, &users); err != nil {
		t.Fatalf("payload error: %v", err)
	}
	if len(users) != 1 || users[0] != "alice" {
		t.Fatalf("expected snapshot [alice], got %v", users)
	}
}

func TestHandlerPresenceLifecycle(t *testing.T) {
	ts, _ := newHandlerTestServer(t)
	defer ts.Close()

	alice := dialWS(t, ts.URL)
	defer alice.Close(websocket.StatusNormalClosure, "")
	login(t, alice, "alice")
	readTyped(t, alice, event.TypeOnlineUsers)

	bob := dialWS(t, ts.URL)
	login(t, bob, "bob")

	env := readTyped(t, alice, event.TypeUserOnline)
	var p event.PresencePayload
	json.Unmarshal(env.Payload, &p)
	if p.Username != "bob" {
		t.Fatalf("expected user_online bob, got %q", p.Username)
	}

	env = readTyped(t, bob, event.TypeOnlineUsers)
	var users []string
	json.Unmarshal(env.Payload, &users)
	if len(users) != 2 || users[0] != "alice" || users[1] != "bob" {
		t.Fatalf("expected snapshot [alice bob], got %v", users)
	}

	bob.Close(websocket.StatusNormalClosure, "")

	env = readTyped(t, alice, event.TypeUserOffline)
	json.Unmarshal(env.Payload, &p)
	if p.Username != "bob" {
		t.Fatalf("expected user_offline bob, got %q", p.Username)
	}
}

func TestHandlerSendMessageDelivery(t *testing.T) {
	ts, store := newHandlerTestServer(t)
	defer ts.Close()

	alice := dialWS(t, ts.URL)
	defer alice.Close(websocket.StatusNormalClosure, "")
	login(t, alice, "alice")
	readTyped(t, alice, event.TypeOnlineUsers)

	bob := dialWS(t, ts.URL)
	defer bob.Close(websocket.StatusNormalClosure, "")
	login(t, bob, "bob")
	readTyped(t, bob, event.TypeOnlineUsers)
	readTyped(t, alice, event.TypeUserOnline)

	writeEnvelope(t, alice, event.TypeSendMessage, event.SendPayload{
		Recipient: "bob",
		Message:   "hi",
		MessageID: "m1",
	})

	var got, echo message.Message
	env := readTyped(t, bob, event.TypeReceiveMessage)
	json.Unmarshal(env.Payload, &got)
	env = readTyped(t, alice, event.TypeMessageSent)
	json.Unmarshal(env.Payload, &echo)

	if got.Body != "hi" || got.ClientID != "m1" || got.Sender != "alice" {
		t.Fatalf("unexpected delivery: %+v", got)
	}
	if echo.ID != got.ID || !echo.CreatedAt.Equal(got.CreatedAt) {
		t.Fatalf("echo and delivery must match: %+v vs %+v", echo, got)
	}

	msgs, _ := store.ListBetween(context.Background(), "alice", "bob")
	if len(msgs) != 1 {
		t.Fatalf("expected message persisted, got %d", len(msgs))
	}
}

func TestHandlerDeleteMessageFlow(t *testing.T) {
	ts, store := newHandlerTestServer(t)
	defer ts.Close()

	alice := dialWS(t, ts.URL)
	defer alice.Close(websocket.StatusNormalClosure, "")
	login(t, alice, "alice")
	readTyped(t, alice, event.TypeOnlineUsers)

	bob := dialWS(t, ts.URL)
	defer bob.Close(websocket.StatusNormalClosure, "")
	login(t, bob, "bob")
	readTyped(t, bob, event.TypeOnlineUsers)
	readTyped(t, alice, event.TypeUserOnline)

	writeEnvelope(t, alice, event.TypeSendMessage, event.SendPayload{
		Recipient: "bob",
		Message:   "oops",
		MessageID: "m1",
	})
	readTyped(t, bob, event.TypeReceiveMessage)

	var echo message.Message
	env := readTyped(t, alice, event.TypeMessageSent)
	json.Unmarshal(env.Payload, &echo)
	if echo.ClientID != "m1" {
		t.Fatalf("echo must carry the client id, got %q", echo.ClientID)
	}

	writeEnvelope(t, alice, event.TypeDeleteMessage, event.DeletePayload{
		MessageID:   "m1",
		Counterpart: "bob",
	})

	for name, conn := range map[string]*websocket.Conn{"bob": bob, "alice": alice} {
		env := readTyped(t, conn, event.TypeMessageDeleted)
		var p event.DeletedPayload
		json.Unmarshal(env.Payload, &p)
		if p.MessageID != "m1" {
			t.Fatalf("%s got deletion notice for wrong id %q", name, p.MessageID)
		}
	}

	msgs, _ := store.ListBetween(context.Background(), "alice", "bob")
	if len(msgs) != 0 {
		t.Fatalf("expected empty conversation after delete, got %d", len(msgs))
	}
}

func TestHandlerSendBeforeLogin(t *testing.T) {
	ts, _ := newHandlerTestServer(t)
	defer ts.Close()

	conn := dialWS(t, ts.URL)
	defer conn.Close(websocket.StatusNormalClosure, "")

	writeEnvelope(t, conn, event.TypeSendMessage, event.SendPayload{
		Recipient: "bob",
		Message:   "hi",
		MessageID: "m1",
	})

	readTyped(t, conn, event.TypeError)
}

func TestHandlerInvalidJSON(t *testing.T) {
	ts, _ := newHandlerTestServer(t)
	defer ts.Close()

	conn := dialWS(t, ts.URL)
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("not json")); err != nil {
		t.Fatalf("write error: %v", err)
	}

	readTyped(t, conn, event.TypeError)
}

func TestHandlerUnknownEventType(t *testing.T) {
	ts, _ := newHandlerTestServer(t)
	defer ts.Close()

	conn := dialWS(t, ts.URL)
	defer conn.Close(websocket.StatusNormalClosure, "")

	writeEnvelope(t, conn, "noise", map[string]string{})
	readTyped(t, conn, event.TypeError)
}
