package hub

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrCapacityExceeded  = errors.New("maximum connections exceeded")
	ErrSendFailed        = errors.New("send to subscriber failed")
	ErrUnknownSubscriber = errors.New("unknown subscriber")
)

// Message types exchanged with downstream clients.
const (
	TypeConnectionEstablished = "connection_established"
	TypePriceHistory          = "price_history"
	TypePriceUpdate           = "gold_price_update"
	TypeCurrentPrice          = "current_price"
	TypePong                  = "pong"
	TypeStreamingStarted      = "streaming_started"
	TypeStreamingStopped      = "streaming_stopped"

	TypePing            = "ping"
	TypeGetCurrentPrice = "get_current_price"
	TypeGetPriceHistory = "get_price_history"
	TypeStartStreaming  = "start_streaming"
	TypeStopStreaming   = "stop_streaming"
)

// Conn is the send side of one downstream connection.
// Send must not block; it returns an error when the message cannot be queued.
type Conn interface {
	Send(data []byte) error
	Close() error
}

// Envelope is the outer shape of every message sent to clients.
type Envelope struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp string `json:"timestamp"`
}

// clientMessage is the shape of messages received from clients.
type clientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Config configures the Registry.
type Config struct {
	MaxConnections      int // Default: 100
	ReplayLimit         int // Entries replayed on connect. Default: 50
	DefaultHistoryLimit int // get_price_history default. Default: 100
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		MaxConnections:      100,
		ReplayLimit:         50,
		DefaultHistoryLimit: 100,
	}
}

// SweeperConfig configures the Sweeper.
type SweeperConfig struct {
	Interval   time.Duration // Default: 60s
	StaleAfter time.Duration // Default: 300s
}

// DefaultSweeperConfig returns default configuration.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:   60 * time.Second,
		StaleAfter: 300 * time.Second,
	}
}

// SubscriberInfo is a read-only view of one subscriber.
type SubscriberInfo struct {
	ID              string     `json:"id"`
	ConnectedAt     time.Time  `json:"connected_at"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at"`
	Active          bool       `json:"active"`
}

func (i SubscriberInfo) lastSeen() time.Time {
	if i.LastHeartbeatAt != nil {
		return *i.LastHeartbeatAt
	}
	return i.ConnectedAt
}

// Stats contains registry statistics.
type Stats struct {
	Total          int              `json:"total_connections"`
	Active         int              `json:"active_connections"`
	MaxConnections int              `json:"max_connections"`
	HistoryCount   int              `json:"price_history_count"`
	TicksSeen      int64            `json:"ticks_seen"`
	Broadcasts     int64            `json:"broadcasts"`
	Evictions      int64            `json:"evictions"`
	Subscribers    []SubscriberInfo `json:"connections"`
}
