package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/goldstream/internal/hub"
)

// Conn is one downstream WebSocket connection. It implements hub.Conn.
type Conn struct {
	ws   *websocket.Conn
	cfg  Config
	send chan []byte

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

var _ hub.Conn = (*Conn)(nil)

func newConn(ws *websocket.Conn, cfg Config) *Conn {
	return &Conn{
		ws:   ws,
		cfg:  cfg,
		send: make(chan []byte, cfg.SendBuffer),
		done: make(chan struct{}),
	}
}

// Send queues data for the writer. It never blocks.
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return hub.ErrSendFailed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return hub.ErrSendFailed
	}
}

// Close stops the writer, which sends a close frame and closes the socket.
// It is safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

// writePump drains the send queue and pings the client. It owns all writes.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			// Flush what is already queued, then say goodbye.
			for {
				select {
				case msg := <-c.send:
					c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
					if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
						return
					}
					continue
				default:
				}
				break
			}
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteWait))
			return
		}
	}
}
