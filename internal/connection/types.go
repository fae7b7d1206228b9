package connection

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrStaleConnection  = errors.New("connection stale (no frames)")
	ErrTimeout          = errors.New("operation timeout")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrConnect          = errors.New("connect failed")
	ErrSubscribe        = errors.New("no instrument alias accepted")
	ErrStreamingStopped = errors.New("streaming stopped")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Frame is a raw upstream frame handed to the router.
type Frame struct {
	Data       []byte    // Raw frame bytes
	Epic       string    // Alias subscribed on the connection that produced it
	ReceivedAt time.Time // Local receive time
}

// Provider destinations.
const (
	DestinationSubscribe = "marketData.subscribe"
	DestinationPing      = "ping"
	StatusOK             = "OK"
	SubscriptionAccepted = "PROCESSED"
)

// Error code prefixes the provider uses for rejected or expired tokens.
var sessionErrorPrefixes = []string{
	"error.invalid.session",
	"error.null.client.token",
	"error.null.account.token",
	"error.security.client-token-missing",
}

// DefaultEpics are the gold aliases tried in priority order.
var DefaultEpics = []string{"GOLD", "CS.D.CFEGOLD.CFE.IP", "XAU/USD", "XAUUSD"}

// Request is an outbound streaming command.
type Request struct {
	Destination   string `json:"destination"`
	CorrelationID string `json:"correlationId"`
	CST           string `json:"cst"`
	SecurityToken string `json:"securityToken"`
	Payload       any    `json:"payload,omitempty"`
}

// SubscribePayload lists the epics to subscribe.
type SubscribePayload struct {
	Epics []string `json:"epics"`
}

// Ack is a command acknowledgement from the provider.
type Ack struct {
	Destination   string          `json:"destination"`
	CorrelationID string          `json:"correlationId"`
	Status        string          `json:"status"`
	Payload       json.RawMessage `json:"payload"`
}

// SubscribeAckPayload is the payload of a marketData.subscribe ack.
type SubscribeAckPayload struct {
	Subscriptions map[string]string `json:"subscriptions"`
	ErrorCode     string            `json:"errorCode"`
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL          string        // WebSocket URL
	Header       http.Header   // Handshake headers (session tokens)
	PingInterval time.Duration // How often to send the keepalive
	PingTimeout  time.Duration // Max time without any frame before considering connection stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Message channel buffer size

	// PingMessage builds the application-level keepalive. Nil sends a
	// WebSocket ping control frame instead.
	PingMessage func() []byte
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval: 30 * time.Second,
		PingTimeout:  90 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   1000,
	}
}

// StreamerConfig configures the Streamer.
type StreamerConfig struct {
	URL               string
	Epics             []string      // Aliases tried in order; first accepted wins
	MaxRetries        int           // Consecutive failed attempts before giving up. Default: 5
	ReconnectBaseWait time.Duration // Default: 1s
	ReconnectMaxWait  time.Duration // Default: 60s
	SubscribeTimeout  time.Duration // Ack wait per alias. Default: 5s
	Client            ClientConfig
	OutputBuffer      int // Frames channel size. Default: 10000
}

// DefaultStreamerConfig returns default configuration.
func DefaultStreamerConfig() StreamerConfig {
	epics := make([]string, len(DefaultEpics))
	copy(epics, DefaultEpics)
	return StreamerConfig{
		Epics:             epics,
		MaxRetries:        5,
		ReconnectBaseWait: time.Second,
		ReconnectMaxWait:  60 * time.Second,
		SubscribeTimeout:  5 * time.Second,
		Client:            DefaultClientConfig(),
		OutputBuffer:      10000,
	}
}

// Status is a point-in-time view of the streamer.
type Status struct {
	Connected      bool      `json:"connected"`
	Streaming      bool      `json:"streaming"`
	Stopped        bool      `json:"stopped"`
	Epic           string    `json:"epic,omitempty"`
	AccountID      string    `json:"account_id,omitempty"`
	Attempts       int       `json:"attempts"`
	Failures       int       `json:"consecutive_failures"`
	LastError      string    `json:"last_error,omitempty"`
	ConnectedAt    time.Time `json:"connected_at,omitzero"`
	FramesReceived int64     `json:"frames_received"`
	FramesDropped  int64     `json:"frames_dropped"`
}
