package router

import (
	"github.com/shopspring/decimal"
)

// RouterConfig holds configuration for the Router.
type RouterConfig struct {
	QueueInitialSize int // Default: 1024
	QueueMaxSize     int // Default: 65536, oldest ticks dropped beyond this
}

// DefaultRouterConfig returns default configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		QueueInitialSize: 1024,
		QueueMaxSize:     65536,
	}
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	FramesReceived int64
	TicksRouted    int64
	ControlFrames  int64
	ParseErrors    int64
	Queue          QueueStats
}

// destinationQuote marks price frames; every other destination is control.
const destinationQuote = "quote"

// frameEnvelope is the outer shape of every streaming frame.
type frameEnvelope struct {
	Destination string `json:"destination"`
}

// quoteWire is a "quote" frame. The provider names the ask side "ofr".
type quoteWire struct {
	Destination string `json:"destination"`
	Payload     struct {
		Epic      string              `json:"epic"`
		Bid       decimal.NullDecimal `json:"bid"`
		Ofr       decimal.NullDecimal `json:"ofr"`
		Ask       decimal.NullDecimal `json:"ask"`
		Offer     decimal.NullDecimal `json:"offer"`
		Timestamp *int64              `json:"timestamp"` // epoch ms
		Volume    *int64              `json:"volume"`
	} `json:"payload"`
}
