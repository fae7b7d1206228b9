package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/goldstream/internal/auth"
)

const (
	handshakeTimeout = 10 * time.Second
	controlWait      = time.Second
)

// Client is one upstream WebSocket session. A Client is not reusable: once
// closed, Connect fails with ErrAlreadyClosed and the streamer dials a new one.
type Client interface {
	Connect(ctx context.Context) error
	Close() error

	// Send writes one text frame.
	Send(data []byte) error

	// Messages yields every inbound frame, control acks included.
	Messages() <-chan TimestampedMessage

	// Errors yields at most one terminal error (read failure or staleness).
	Errors() <-chan error

	IsConnected() bool
}

type wsClient struct {
	cfg    ClientConfig
	logger *slog.Logger

	frames chan TimestampedMessage
	fatal  chan error
	quit   chan struct{}

	// ws is set once by Connect and read by both loops afterwards.
	ws      *websocket.Conn
	wsMu    sync.Mutex
	writeMu sync.Mutex

	live      atomic.Bool
	shut      atomic.Bool
	lastFrame atomic.Int64 // unix nanos of the last inbound frame or pong
	closeOnce sync.Once
}

// NewClient returns an unconnected client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultClientConfig()
	if cfg.BufferSize < 1 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return &wsClient{
		cfg:    cfg,
		logger: logger.With("url", cfg.URL),
		frames: make(chan TimestampedMessage, cfg.BufferSize),
		fatal:  make(chan error, 1),
		quit:   make(chan struct{}),
	}
}

func (c *wsClient) Connect(ctx context.Context) error {
	if c.shut.Load() {
		return ErrAlreadyClosed
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, resp, err := dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header.Clone())
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: streaming handshake rejected: %v", auth.ErrAuth, err)
		}
		return fmt.Errorf("dial stream: %w", err)
	}

	ws.SetPingHandler(func(appData string) error {
		c.markActivity()
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(controlWait))
	})
	ws.SetPongHandler(func(string) error {
		c.markActivity()
		return nil
	})

	c.wsMu.Lock()
	c.ws = ws
	c.wsMu.Unlock()
	c.markActivity()
	c.live.Store(true)

	go c.readFrames(ws)
	go c.keepalive()

	c.logger.Debug("stream socket connected")
	return nil
}

func (c *wsClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.shut.Store(true)
		c.live.Store(false)
		close(c.quit)

		ws := c.conn()
		if ws == nil {
			return
		}
		c.writeMu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(controlWait))
		c.writeMu.Unlock()
		err = ws.Close()
	})
	return err
}

func (c *wsClient) Send(data []byte) error {
	ws := c.conn()
	if ws == nil || !c.live.Load() {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsClient) Messages() <-chan TimestampedMessage { return c.frames }

func (c *wsClient) Errors() <-chan error { return c.fatal }

func (c *wsClient) IsConnected() bool { return c.live.Load() }

func (c *wsClient) conn() *websocket.Conn {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	return c.ws
}

func (c *wsClient) markActivity() {
	c.lastFrame.Store(time.Now().UnixNano())
}

func (c *wsClient) idleFor() time.Duration {
	return time.Since(time.Unix(0, c.lastFrame.Load()))
}

// fail reports err unless the client is shutting down or an error is
// already pending.
func (c *wsClient) fail(err error) {
	if c.shut.Load() {
		return
	}
	select {
	case c.fatal <- err:
	default:
	}
}

func (c *wsClient) readFrames(ws *websocket.Conn) {
	defer c.live.Store(false)

	var dropped int
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		at := time.Now()
		c.lastFrame.Store(at.UnixNano())

		select {
		case c.frames <- TimestampedMessage{Data: data, ReceivedAt: at}:
		case <-c.quit:
			return
		default:
			dropped++
			c.logger.Warn("frame buffer full, dropping frame", "dropped_total", dropped)
		}
	}
}

// keepalive sends a ping every PingInterval and gives up once nothing has
// arrived for PingTimeout.
func (c *wsClient) keepalive() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.quit:
			return
		case <-ticker.C:
		}

		if err := c.ping(); err != nil {
			c.logger.Debug("keepalive write failed", "error", err)
		}
		if c.cfg.PingTimeout <= 0 {
			continue
		}
		if idle := c.idleFor(); idle > c.cfg.PingTimeout {
			c.logger.Warn("stream socket stale", "idle", idle, "timeout", c.cfg.PingTimeout)
			c.fail(ErrStaleConnection)
			return
		}
	}
}

// ping prefers the application-level ping frame when one is configured and
// yields a frame, and falls back to a protocol ping otherwise.
func (c *wsClient) ping() error {
	if c.cfg.PingMessage != nil {
		if msg := c.cfg.PingMessage(); msg != nil {
			return c.Send(msg)
		}
	}
	ws := c.conn()
	if ws == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
}
