package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/danielcroft/chatline/internal/event"
)

// newHubTestServer starts an httptest.Server that registers each
// connection in the hub under the id given by the "id" query parameter
// and reads until the connection closes.
func newHubTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}

		client := &Client{
			conn: conn,
			id:   r.URL.Query().Get("id"),
		}
		connCtx := hub.add(client)
		defer hub.remove(client)

		for {
			select {
			case <-connCtx.Done():
				return
			default:
			}
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}))
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(url, "http")
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.ClientCount() != n {
		t.Fatalf("expected %d clients, got %d", n, hub.ClientCount())
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) event.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	var env event.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	return env
}

func expectNoEnvelope(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, data, err := conn.Read(ctx); err == nil {
		t.Fatalf("expected no message, got %s", data)
	}
}

func TestHubAddRemoveClient(t *testing.T) {
	hub := NewHub(NewConnManager())

	ts := newHubTestServer(t, hub)
	defer ts.Close()

	conn := dialWS(t, ts.URL+"?id=c1")
	waitForClients(t, hub, 1)

	conn.Close(websocket.StatusNormalClosure, "")
	waitForClients(t, hub, 0)
}

func TestHubUnicastTargetsOneConnection(t *testing.T) {
	hub := NewHub(NewConnManager())

	ts := newHubTestServer(t, hub)
	defer ts.Close()

	conn1 := dialWS(t, ts.URL+"?id=c1")
	defer conn1.Close(websocket.StatusNormalClosure, "")
	conn2 := dialWS(t, ts.URL+"?id=c2")
	defer conn2.Close(websocket.StatusNormalClosure, "")

	waitForClients(t, hub, 2)

	hub.Unicast("c1", event.Error("just for c1"))

	env := readEnvelope(t, conn1)
	if env.Type != event.TypeError {
		t.Fatalf("expected error envelope, got %q", env.Type)
	}
	expectNoEnvelope(t, conn2)
}

func TestHubUnicastUnknownConnectionIsNoop(t *testing.T) {
	hub := NewHub(NewConnManager())

	ts := newHubTestServer(t, hub)
	defer ts.Close()

	conn := dialWS(t, ts.URL+"?id=c1")
	defer conn.Close(websocket.StatusNormalClosure, "")
	waitForClients(t, hub, 1)

	hub.Unicast("ghost", event.Error("nobody home"))
	expectNoEnvelope(t, conn)
}

func TestHubBroadcastExcludesOriginator(t *testing.T) {
	hub := NewHub(NewConnManager())

	ts := newHubTestServer(t, hub)
	defer ts.Close()

	conn1 := dialWS(t, ts.URL+"?id=c1")
	defer conn1.Close(websocket.StatusNormalClosure, "")
	conn2 := dialWS(t, ts.URL+"?id=c2")
	defer conn2.Close(websocket.StatusNormalClosure, "")
	conn3 := dialWS(t, ts.URL+"?id=c3")
	defer conn3.Close(websocket.StatusNormalClosure, "")

	waitForClients(t, hub, 3)

	hub.Broadcast("c1", event.UserOnline("alice"))

	for _, conn := range []*websocket.Conn{conn2, conn3} {
		env := readEnvelope(t, conn)
		if env.Type != event.TypeUserOnline {
			t.Fatalf("expected user_online, got %q", env.Type)
		}
		var p event.PresencePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			t.Fatalf("payload error: %v", err)
		}
		if p.Username != "alice" {
			t.Fatalf("expected alice, got %q", p.Username)
		}
	}
	expectNoEnvelope(t, conn1)
}
