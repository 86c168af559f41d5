package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/glyphcast/glyphcast/internal/frame"
	"github.com/glyphcast/glyphcast/internal/history"
	"github.com/glyphcast/glyphcast/internal/ws"
)

func testFrame() *frame.Frame {
	return &frame.Frame{
		Palette:    frame.Palette{{R: 255}, {B: 255}},
		Width:      2,
		Height:     1,
		Glyphs:     []byte{0, 15},
		Foreground: []byte{0, 1},
		Background: []byte{1, 0},
	}
}

// scriptedServer sends a status, a frame, an error and a broken frame, then
// records the first text message the client sends.
func scriptedServer(t *testing.T, got chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		status, _ := json.Marshal(ws.WSMessage{Type: ws.MsgStatus, Seq: 7, Payload: ws.StatusPayload{Event: "viewers", Viewers: 3}})
		conn.WriteMessage(websocket.TextMessage, status)
		data, _ := frame.Encode(testFrame())
		conn.WriteMessage(websocket.BinaryMessage, data)
		errMsg, _ := json.Marshal(ws.WSMessage{Type: ws.MsgError, Seq: 8, Payload: ws.ErrorPayload{Code: "cooldown", Message: "wait"}})
		conn.WriteMessage(websocket.TextMessage, errMsg)
		conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3})

		_, msg, err := conn.ReadMessage()
		if err == nil {
			got <- string(msg)
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSClient_Dispatch(t *testing.T) {
	got := make(chan string, 1)
	srv := scriptedServer(t, got)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := NewWSClient(wsURL(srv))
	if _, ok := c.Listen(ctx, 0)().(ConnectedMsg); !ok {
		t.Fatal("Listen did not connect")
	}

	status, ok := c.ReadLoop(ctx)().(StatusMsg)
	if !ok || status.Payload.Viewers != 3 || status.Seq != 7 {
		t.Fatalf("first message = %+v, want status with 3 viewers", status)
	}

	fm, ok := c.ReadLoop(ctx)().(FrameMsg)
	if !ok {
		t.Fatal("second message is not a frame")
	}
	if fm.Frame.Width != 2 || fm.Frame.Glyphs[1] != 15 {
		t.Errorf("frame = %+v", fm.Frame)
	}
	if c.Frames() != 1 {
		t.Errorf("Frames() = %d, want 1", c.Frames())
	}

	em, ok := c.ReadLoop(ctx)().(ErrorMsg)
	if !ok || em.Payload.Code != "cooldown" {
		t.Fatalf("third message = %+v, want cooldown error", em)
	}
	if c.Seq() != 8 {
		t.Errorf("Seq() = %d, want 8", c.Seq())
	}

	bad, ok := c.ReadLoop(ctx)().(BadFrameMsg)
	if !ok || !errors.Is(bad.Err, frame.ErrMalformedFrame) {
		t.Fatalf("fourth message = %+v, want malformed frame", bad)
	}

	if err := c.Watch("synthetic://bars"); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	select {
	case text := <-got:
		if ws.ParseWatch([]byte(text)) != "synthetic://bars" {
			t.Errorf("server got %q", text)
		}
	case <-ctx.Done():
		t.Fatal("server never received the watch request")
	}

	if _, ok := c.ReadLoop(ctx)().(DisconnectedMsg); !ok {
		t.Error("expected DisconnectedMsg after the server hung up")
	}
	if err := c.Watch("x"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Watch after disconnect = %v, want ErrNotConnected", err)
	}
}

func TestWSClient_DialFailed(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	c := NewWSClient(url)
	msg, ok := c.Listen(context.Background(), 0)().(DialFailedMsg)
	if !ok {
		t.Fatal("expected DialFailedMsg")
	}
	if msg.Delay != reconnectBaseDelay {
		t.Errorf("Delay = %v, want %v", msg.Delay, reconnectBaseDelay)
	}
}

func TestWSClient_ListenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewWSClient("ws://127.0.0.1:1/ws")
	if msg := c.Listen(ctx, time.Second)(); msg != nil {
		t.Errorf("Listen on cancelled ctx = %#v, want nil", msg)
	}
}

func TestNextDelay(t *testing.T) {
	tests := []struct {
		in, want time.Duration
	}{
		{0, reconnectBaseDelay},
		{reconnectBaseDelay, 2 * reconnectBaseDelay},
		{10 * time.Second, reconnectMaxDelay},
		{reconnectMaxDelay, reconnectMaxDelay},
	}
	for _, tt := range tests {
		if got := NextDelay(tt.in); got != tt.want {
			t.Errorf("NextDelay(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestHTTPClient(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ws.StatusPayload{Viewers: 2, CooldownRemaining: 1.5})
	})
	mux.HandleFunc("/api/history", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "5" {
			http.Error(w, "bad limit", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode([]history.Entry{{SessionID: "s1", URL: "synthetic://bars"}})
	})
	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "stats not available", http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewHTTPClient(srv.URL + "/")
	ctx := context.Background()

	st, err := c.GetStatus(ctx)
	if err != nil || st.Viewers != 2 || st.CooldownRemaining != 1.5 {
		t.Errorf("GetStatus = %+v, %v", st, err)
	}
	entries, err := c.GetHistory(ctx, 5)
	if err != nil || len(entries) != 1 || entries[0].SessionID != "s1" {
		t.Errorf("GetHistory = %+v, %v", entries, err)
	}
	if _, err := c.GetStats(ctx); err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("GetStats err = %v, want 503", err)
	}
}

func TestHTTPBase(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"ws://127.0.0.1:8765/ws", "http://127.0.0.1:8765"},
		{"wss://cast.example.com/ws", "https://cast.example.com"},
		{"::bad", "http://127.0.0.1:8765"},
	}
	for _, tt := range tests {
		if got := HTTPBase(tt.in); got != tt.want {
			t.Errorf("HTTPBase(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
