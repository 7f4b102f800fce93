package engine

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func (h *WSHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func waitForClients(t *testing.T, hub *WSHub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.clientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d clients, have %d", want, hub.clientCount())
}

func TestWSHub_BroadcastReachesClients(t *testing.T) {
	hub := NewWSHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dialHub(t, srv)
	defer conn.Close()
	waitForClients(t, hub, 1)

	hub.Broadcast(WSMessage{Type: "round_created", RoundID: "r1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if !strings.Contains(string(data), `"round_created"`) || !strings.Contains(string(data), `"r1"`) {
		t.Errorf("unexpected payload: %s", data)
	}
}

// A client whose writes fail must be dropped without disturbing the
// remaining clients or any concurrent reader of the client map.
func TestWSHub_DeadClientRemovedDuringBroadcast(t *testing.T) {
	hub := NewWSHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	dead := dialHub(t, srv)
	live := dialHub(t, srv)
	defer live.Close()
	waitForClients(t, hub, 2)

	// Kill the transport underneath the first client so hub writes to it
	// start failing.
	dead.UnderlyingConn().Close()

	// Keep broadcasting until the failed connection has been swept out.
	deadline := time.Now().Add(2 * time.Second)
	for hub.clientCount() > 1 {
		if time.Now().After(deadline) {
			t.Fatalf("dead client never removed, %d clients", hub.clientCount())
		}
		hub.Broadcast(WSMessage{Type: "trade_executed", RoundID: "r1"})
		time.Sleep(10 * time.Millisecond)
	}

	// The surviving client still receives broadcasts.
	hub.Broadcast(WSMessage{Type: "round_settled", RoundID: "r1"})
	live.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := live.ReadMessage()
		if err != nil {
			t.Fatalf("surviving client read: %v", err)
		}
		if strings.Contains(string(data), `"round_settled"`) {
			return
		}
	}
}
