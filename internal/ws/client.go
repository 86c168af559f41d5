package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 16

	// inbound text messages per viewer: one per second, bursts of five
	messageRate  = 1
	messageBurst = 5
)

type outbound struct {
	kind int
	data []byte
}

// client is a websocket Viewer. Sends are queued on a buffered channel and
// written by writePump; a full queue means the viewer cannot keep up.
type client struct {
	id     string
	conn   *websocket.Conn
	b      *Broadcaster
	send   chan outbound
	done   chan struct{}
	once   sync.Once
	limit  *rate.Limiter
	logger *slog.Logger
}

func newClient(conn *websocket.Conn, b *Broadcaster) *client {
	id := uuid.NewString()
	return &client{
		id:     id,
		conn:   conn,
		b:      b,
		send:   make(chan outbound, sendBuffer),
		done:   make(chan struct{}),
		limit:  rate.NewLimiter(messageRate, messageBurst),
		logger: b.logger.With("viewer", id, "remote", conn.RemoteAddr().String()),
	}
}

func (c *client) ID() string { return c.id }

func (c *client) SendFrame(data []byte) error {
	return c.enqueue(websocket.BinaryMessage, data)
}

func (c *client) SendEvent(data []byte) error {
	return c.enqueue(websocket.TextMessage, data)
}

func (c *client) enqueue(kind int, data []byte) error {
	select {
	case <-c.done:
		return ErrViewerClosed
	default:
	}
	select {
	case c.send <- outbound{kind: kind, data: data}:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops the write pump, which closes the connection.
func (c *client) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(msg.kind, msg.data); err != nil {
				c.logger.Debug("write failed", "error", err)
				c.b.RemoveViewer(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.b.RemoveViewer(c)
				return
			}
		}
	}
}

func (c *client) readPump() {
	defer c.b.RemoveViewer(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read failed", "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		if !c.limit.Allow() {
			c.b.sendError(c, "rate_limited", "too many messages, slow down")
			continue
		}
		c.b.HandleText(c, data)
	}
}
