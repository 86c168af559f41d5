// Package client connects the terminal viewer to a glyphcast server.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"github.com/glyphcast/glyphcast/internal/frame"
	"github.com/glyphcast/glyphcast/internal/ws"
)

const (
	reconnectBaseDelay = 500 * time.Millisecond
	reconnectMaxDelay  = 15 * time.Second
	writeTimeout       = 10 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
)

// ErrNotConnected is returned by Watch while there is no live connection.
var ErrNotConnected = errors.New("not connected")

// WSClient manages the websocket connection to the server.
type WSClient struct {
	url    string
	dialer *websocket.Dialer

	mu      sync.Mutex
	writeMu sync.Mutex // serialises conn writes (ping, watch)
	conn    *websocket.Conn
	seq     uint64
	frames  uint64
	pingCtx context.CancelFunc
}

// NewWSClient creates a client for the given websocket URL.
func NewWSClient(url string) *WSClient {
	return &WSClient{url: url, dialer: websocket.DefaultDialer}
}

// URL returns the server address the client dials.
func (c *WSClient) URL() string { return c.url }

// --- Bubble Tea messages ---

// ConnectedMsg is sent when the websocket connects.
type ConnectedMsg struct{}

// DisconnectedMsg is sent when the connection drops.
type DisconnectedMsg struct{ Err error }

// DialFailedMsg reports a failed dial; the client retries after Delay.
type DialFailedMsg struct {
	Err   error
	Delay time.Duration
}

// FrameMsg delivers one decoded frame.
type FrameMsg struct{ Frame *frame.Frame }

// StatusMsg delivers a broadcaster status change.
type StatusMsg struct {
	Seq     uint64
	Payload ws.StatusPayload
}

// ErrorMsg delivers an error the server sent to this viewer.
type ErrorMsg struct{ Payload ws.ErrorPayload }

// BadFrameMsg reports a binary message that failed to decode.
type BadFrameMsg struct{ Err error }

// message is the inbound text envelope.
type message struct {
	Type    ws.MessageType  `json:"type"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

// Listen returns a command that dials once, waiting delay first. On failure
// it reports DialFailedMsg so the model can schedule the next attempt.
func (c *WSClient) Listen(ctx context.Context, delay time.Duration) tea.Cmd {
	return func() tea.Msg {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
		}

		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return DialFailedMsg{Err: err, Delay: NextDelay(delay)}
		}

		c.mu.Lock()
		if c.pingCtx != nil {
			c.pingCtx()
		}
		pingCtx, pingCancel := context.WithCancel(ctx)
		c.conn = conn
		c.seq = 0
		c.pingCtx = pingCancel
		c.mu.Unlock()

		go c.pingLoop(pingCtx, conn)
		return ConnectedMsg{}
	}
}

// NextDelay doubles a reconnect delay within the base and max bounds.
func NextDelay(d time.Duration) time.Duration {
	if d < reconnectBaseDelay {
		return reconnectBaseDelay
	}
	return min(d*2, reconnectMaxDelay)
}

// ReadLoop returns a command that reads until the next message the model
// cares about. Re-issue it after handling each message.
func (c *WSClient) ReadLoop(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return DisconnectedMsg{Err: ErrNotConnected}
		}

		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongTimeout))
			return nil
		})
		conn.SetReadDeadline(time.Now().Add(pongTimeout))

		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				c.mu.Lock()
				if c.conn == conn {
					c.conn = nil
				}
				c.mu.Unlock()
				conn.Close()
				return DisconnectedMsg{Err: err}
			}
			// Frames arrive at the source framerate; keep the deadline moving
			// without waiting for a ping round trip.
			conn.SetReadDeadline(time.Now().Add(pongTimeout))

			if msg := c.dispatch(kind, data); msg != nil {
				return msg
			}
		}
	}
}

func (c *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			cc := c.conn
			c.mu.Unlock()
			if cc != conn {
				return
			}
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Watch asks the server to switch to url.
func (c *WSClient) Watch(url string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(ws.WatchRequest{Type: ws.MsgWatch, URL: url})
}

// Close drops the connection; a pending ReadLoop returns DisconnectedMsg.
func (c *WSClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	if c.pingCtx != nil {
		c.pingCtx()
		c.pingCtx = nil
	}
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Seq returns the last seen status sequence number.
func (c *WSClient) Seq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Frames returns how many frames were received on any connection.
func (c *WSClient) Frames() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

func (c *WSClient) dispatch(kind int, data []byte) tea.Msg {
	if kind == websocket.BinaryMessage {
		f, err := frame.Decode(data)
		if err != nil {
			return BadFrameMsg{Err: err}
		}
		c.mu.Lock()
		c.frames++
		c.mu.Unlock()
		return FrameMsg{Frame: f}
	}

	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil
	}
	c.mu.Lock()
	c.seq = msg.Seq
	c.mu.Unlock()

	switch msg.Type {
	case ws.MsgStatus:
		var p ws.StatusPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			return StatusMsg{Seq: msg.Seq, Payload: p}
		}
	case ws.MsgError:
		var p ws.ErrorPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			return ErrorMsg{Payload: p}
		}
		return ErrorMsg{Payload: ws.ErrorPayload{Code: "unknown", Message: string(msg.Payload)}}
	}
	return nil
}
