package collaboration

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"draftsync/internal/middleware"
	"draftsync/internal/models"
	"draftsync/internal/protocol"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// Pongs and frames both count as liveness; a silent socket is cut after
	// the read deadline.
	readWait  = 60 * time.Second
	pingEvery = 54 * time.Second
	writeWait = 10 * time.Second

	sendBuffer = 256
)

// Client is one accepted WebSocket connection as the hub tracks it.
type Client struct {
	*models.Session
	Conn *websocket.Conn
	Send chan []byte
	Hub  *Hub

	// Room seed when this connection opens a fresh room: the document's
	// persisted content and the version to resume counting from.
	seedText    string
	seedVersion int64

	// abnormal is set by the read pump before unregistering, so the hub
	// can tell user_disconnected apart from user_left. Atomic because the
	// hub may also drop a client whose pump is still running.
	abnormal atomic.Bool

	// sendClosed is owned by the hub loop. It guards trySend against frames
	// that were already queued when the client got dropped.
	sendClosed bool

	activeAt atomic.Int64
}

// NewClient wraps an upgraded connection for a user joining a document.
func NewClient(hub *Hub, conn *websocket.Conn, documentID, userID, username, seedText string, seedVersion int64) *Client {
	c := &Client{
		Session:     models.NewSession(documentID, userID, username),
		Conn:        conn,
		Send:        make(chan []byte, sendBuffer),
		Hub:         hub,
		seedText:    seedText,
		seedVersion: seedVersion,
	}
	c.touch()
	return c
}

func (c *Client) touch() {
	c.activeAt.Store(time.Now().UnixNano())
}

func (c *Client) lastActive() time.Time {
	return time.Unix(0, c.activeAt.Load())
}

// trySend queues a frame without blocking. False means the buffer is full
// or the client is already gone. Only the hub loop calls this.
func (c *Client) trySend(frame []byte) bool {
	if c.sendClosed {
		return false
	}
	select {
	case c.Send <- frame:
		return true
	default:
		return false
	}
}

// ReadPump reads frames off the socket and feeds them to the hub until the
// connection dies. Runs as its own goroutine per connection.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(readWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(readWait))
		c.touch()
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			// Anything but an explicit clean close frame counts as a drop:
			// abrupt TCP resets and read timeouts are not CloseErrors.
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.abnormal.Store(true)
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Session %s read error: %v", c.ID, err)
			}
			return
		}

		c.Conn.SetReadDeadline(time.Now().Add(readWait))
		c.touch()

		msgCtx, span := middleware.StartSpan(ctx, "Hub.ProcessFrame",
			attribute.String("session.id", c.ID),
			attribute.String("document.id", c.DocumentID),
			attribute.Int("frame.size", len(data)),
		)

		msg, err := protocol.Decode(data)
		if err != nil {
			// A bad frame is dropped, never fatal to the connection.
			log.Printf("⚠️  Session %s sent bad frame: %v", c.ID, err)
			middleware.AddSpanError(msgCtx, err)
			span.End()
			continue
		}
		span.SetAttributes(attribute.String("frame.kind", msg.Kind()))
		span.End()

		select {
		case c.Hub.inbound <- &inboundFrame{client: c, msg: msg, raw: data}:
		case <-c.Hub.done:
			return
		}
	}
}

// WritePump drains the send channel onto the socket and keeps the
// connection alive with pings. The separate goroutine means a slow reader
// never stalls the hub loop.
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingEvery)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

			// Drain whatever else queued up while writing.
			n := len(c.Send)
			for i := 0; i < n; i++ {
				frame, ok := <-c.Send
				if !ok {
					return
				}
				if err := c.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
