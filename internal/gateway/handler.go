package gateway

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/goldstream/internal/hub"
)

// CloseReasonCapacity is sent with close code 1008 when the hub is full.
const CloseReasonCapacity = "Maximum connections exceeded"

// Registry is the hub surface used by the gateway.
type Registry interface {
	Register(conn hub.Conn) (string, error)
	Unregister(id string)
	HandleMessage(id string, data []byte)
}

// Config holds per-connection settings.
type Config struct {
	SendBuffer     int           // Queued messages per client. Default: 256
	WriteWait      time.Duration // Default: 10s
	PongWait       time.Duration // Read deadline, extended by pongs. Default: 60s
	PingPeriod     time.Duration // Must be less than PongWait. Default: 54s
	MaxMessageSize int64         // Default: 64KB
	CheckOrigin    func(r *http.Request) bool
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		SendBuffer:     256,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 64 * 1024,
	}
}

// Handler upgrades requests and attaches them to the registry.
type Handler struct {
	cfg      Config
	registry Registry
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(cfg Config, registry Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.SendBuffer < 1 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait * 9 / 10
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}

	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	return &Handler{
		cfg:      cfg,
		registry: registry,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// ServeHTTP upgrades the request and serves the client until it leaves.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := newConn(ws, h.cfg)

	id, err := h.registry.Register(conn)
	if err != nil {
		if errors.Is(err, hub.ErrCapacityExceeded) {
			h.logger.Warn("refusing websocket client", "remote", r.RemoteAddr, "reason", CloseReasonCapacity)
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, CloseReasonCapacity),
				time.Now().Add(h.cfg.WriteWait))
		} else {
			h.logger.Warn("websocket register failed", "remote", r.RemoteAddr, "error", err)
		}
		ws.Close()
		return
	}

	go conn.writePump()
	h.readPump(id, conn)
}

// readPump forwards client messages until the socket fails.
func (h *Handler) readPump(id string, conn *Conn) {
	defer h.registry.Unregister(id)

	ws := conn.ws
	ws.SetReadLimit(h.cfg.MaxMessageSize)
	ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		return nil
	})

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Debug("websocket read error", "id", id, "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		h.registry.HandleMessage(id, data)
	}
}
