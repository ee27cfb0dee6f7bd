package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"personarelay/internal/models"
)

type received struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func dial(t *testing.T, srv *httptest.Server, client string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?client=" + client
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if got := read(t, conn); got.Event != models.EventConnectionStatus {
		t.Fatalf("expected connection status first, got %s", got.Event)
	}
	return conn
}

func read(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg received
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	var msg received
	if err := conn.ReadJSON(&msg); err == nil {
		t.Fatalf("unexpected message %s", msg.Event)
	}
}

func TestHubRoomScopedBroadcast(t *testing.T) {
	hub := NewHub(false)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	mine := dial(t, srv, "Fullgazz")
	other := dial(t, srv, "OtherAcct")

	ev := models.Event{Room: "Fullgazz", Name: models.EventCharacterChange, Data: models.CharacterChange{Character: "Ayla"}}
	if err := hub.Broadcast(context.Background(), ev); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	got := read(t, mine)
	if got.Event != models.EventCharacterChange || !strings.Contains(string(got.Data), `"Ayla"`) {
		t.Fatalf("unexpected frame %s %s", got.Event, got.Data)
	}
	expectSilence(t, other)

	if err := hub.Broadcast(context.Background(), models.Event{Name: models.EventNewMessage, Data: "all"}); err != nil {
		t.Fatal(err)
	}
	if read(t, mine).Event != models.EventNewMessage || read(t, other).Event != models.EventNewMessage {
		t.Fatalf("roomless events must reach everyone")
	}
}

func TestHubBroadcastAll(t *testing.T) {
	hub := NewHub(true)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	other := dial(t, srv, "OtherAcct")
	if err := hub.Broadcast(context.Background(), models.Event{Room: "Fullgazz", Name: models.EventAIReply, Data: nil}); err != nil {
		t.Fatal(err)
	}
	if read(t, other).Event != models.EventAIReply {
		t.Fatalf("broadcast_all must ignore rooms")
	}
}

func TestHubCommands(t *testing.T) {
	hub := NewHub(false)
	seen := make(chan Command, 1)
	hub.SetCommandHandler(func(_ context.Context, c *Client, cmd Command) {
		seen <- cmd
		c.Send(models.Event{Name: "ack", Data: c.Room()})
	})
	srv := httptest.NewServer(hub)
	defer srv.Close()
	conn := dial(t, srv, "Fullgazz")

	if err := conn.WriteJSON(map[string]string{"event": "ping"}); err != nil {
		t.Fatal(err)
	}
	if got := read(t, conn); got.Event != models.EventPong {
		t.Fatalf("expected pong, got %s", got.Event)
	}

	if err := conn.WriteJSON(map[string]any{"event": "activate_character", "data": map[string]string{"character": "Ayla"}}); err != nil {
		t.Fatal(err)
	}
	select {
	case cmd := <-seen:
		if cmd.Name != "activate_character" || !strings.Contains(string(cmd.Data), "Ayla") {
			t.Fatalf("unexpected command %+v", cmd)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("command handler not called")
	}
	if got := read(t, conn); got.Event != "ack" || string(got.Data) != `"Fullgazz"` {
		t.Fatalf("unexpected ack %s %s", got.Event, got.Data)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if got := read(t, conn); got.Event != models.EventError {
		t.Fatalf("expected error frame, got %s", got.Event)
	}
}

func TestHubRequiresClient(t *testing.T) {
	hub := NewHub(false)
	rec := httptest.NewRecorder()
	hub.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	hub := NewHub(false)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv, "Fullgazz")
	if hub.RoomSize("Fullgazz") != 1 {
		t.Fatalf("room size = %d", hub.RoomSize("Fullgazz"))
	}
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.RoomSize("Fullgazz") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client not unregistered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubCloseSendsCloseFrame(t *testing.T) {
	hub := NewHub(false)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv, "Fullgazz")
	hub.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close frame, got %v", err)
	}
}
