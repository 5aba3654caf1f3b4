package ws

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/gofiber/websocket/v2"
)

var (
	ErrSendBufferFull = errors.New("send buffer full")
	ErrConnClosed     = errors.New("connection closed")
)

// Connection is the outbound side of one websocket. Frames queue in a bounded
// FIFO drained by writePump; a full queue is reported to the caller instead
// of blocking it.
type Connection struct {
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	closed atomic.Bool
}

func newConnection(conn *websocket.Conn, buffer int) *Connection {
	if buffer <= 0 {
		buffer = 256
	}
	return &Connection{
		ws:   conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (c *Connection) Send(frame []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops writePump, which closes the socket and unblocks the reader.
func (c *Connection) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		close(c.done)
	}
	return nil
}

func (c *Connection) readPump(conf Config, handle func([]byte)) error {
	pongWait := 2 * conf.PingInterval
	c.ws.SetReadLimit(conf.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return err
			}
			return nil
		}
		if mt != websocket.TextMessage {
			continue
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		handle(data)
	}
}

func (c *Connection) writePump(conf Config) {
	ticker := time.NewTicker(conf.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(conf.WriteDeadline))
			w, err := c.ws.NextWriter(websocket.TextMessage)
			if err != nil {
				_ = c.Close()
				return
			}
			if _, err := w.Write(frame); err != nil {
				_ = w.Close()
				_ = c.Close()
				return
			}
			if err := w.Close(); err != nil {
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(conf.WriteDeadline)); err != nil {
				_ = c.Close()
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		}
	}
}
