// Package ws wraps a gorilla/websocket connection's read/write pumps into
// a generic signaling message channel: a bounded outbound queue plus a
// JSON Send, decoupled from any particular message envelope shape so
// internal/signaling owns the protocol.
package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	sendBuffer   = 256
)

var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin filtering happens in httpapi's CORS middleware, upstream
		// of the upgrade.
		return true
	},
}

// Conn wraps one upgraded websocket connection with a bounded outbound
// queue so a slow reader can never block the writer that's fanning events
// out to every peer in a room.
type Conn struct {
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger
}

func NewConn(c *websocket.Conn, logger *zap.Logger) *Conn {
	return &Conn{conn: c, send: make(chan []byte, sendBuffer), logger: logger}
}

// Send marshals v as JSON and queues it for delivery. It never blocks: a
// full queue drops the message and logs a warning rather than stall the
// writer fanning events out to the rest of the room.
func (c *Conn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.logger.Warn("outbound queue full, dropping message")
		return nil
	}
}

// ReadLoop blocks reading text frames and invokes onMessage for each one,
// until the connection closes or errors. onClose runs exactly once on
// exit so the caller can run its cleanup cascade.
func (c *Conn) ReadLoop(onMessage func([]byte), onClose func()) {
	defer onClose()

	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		onMessage(message)
	}
}

// WriteLoop drains the outbound queue and sends periodic pings, until the
// queue is closed.
func (c *Conn) WriteLoop() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) Close() {
	close(c.send)
}
