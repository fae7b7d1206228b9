package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Live Types
// -----------------------------------------------------------------------------

// Tick is one normalized price observation from the upstream stream.
// At least one of Bid or Ask is valid; Mid is derived from whichever sides exist.
type Tick struct {
	Epic      string              // Instrument alias that produced the tick
	Timestamp time.Time           // Provider timestamp, or receive time if absent
	Bid       decimal.NullDecimal // Best bid
	Ask       decimal.NullDecimal // Best offer
	Mid       decimal.NullDecimal // (bid+ask)/2, or the single present side
	Volume    *int64              // Optional traded volume
}

// Spread returns ask - bid when both sides are present.
func (t Tick) Spread() decimal.NullDecimal {
	if !t.Bid.Valid || !t.Ask.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(t.Ask.Decimal.Sub(t.Bid.Decimal))
}

// TickPayload is the broadcast form of a tick.
type TickPayload struct {
	Timestamp string           `json:"timestamp"`
	Bid       *decimal.Decimal `json:"bid"`
	Ask       *decimal.Decimal `json:"ask"`
	Mid       *decimal.Decimal `json:"mid"`
	Spread    *decimal.Decimal `json:"spread"`
	Volume    *int64           `json:"volume"`
}

// Payload converts the tick to its broadcast form.
func (t Tick) Payload() TickPayload {
	return TickPayload{
		Timestamp: t.Timestamp.UTC().Format(time.RFC3339Nano),
		Bid:       nullPtr(t.Bid),
		Ask:       nullPtr(t.Ask),
		Mid:       nullPtr(t.Mid),
		Spread:    nullPtr(t.Spread()),
		Volume:    t.Volume,
	}
}

// MarshalJSON encodes the tick as its broadcast payload.
func (t Tick) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Payload())
}

func nullPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

// -----------------------------------------------------------------------------
// Historical Types
// -----------------------------------------------------------------------------

// Resolution is a candle width as named by the provider REST API.
type Resolution string

const (
	ResolutionMinute   Resolution = "MINUTE"
	ResolutionMinute5  Resolution = "MINUTE_5"
	ResolutionMinute15 Resolution = "MINUTE_15"
	ResolutionMinute30 Resolution = "MINUTE_30"
	ResolutionHour     Resolution = "HOUR"
	ResolutionHour4    Resolution = "HOUR_4"
	ResolutionDay      Resolution = "DAY"
)

// Valid reports whether r is a known resolution.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionMinute, ResolutionMinute5, ResolutionMinute15, ResolutionMinute30,
		ResolutionHour, ResolutionHour4, ResolutionDay:
		return true
	}
	return false
}

// Window is the time span requested per page when paging backwards.
func (r Resolution) Window() time.Duration {
	switch r {
	case ResolutionMinute, ResolutionMinute5, ResolutionMinute15, ResolutionMinute30:
		return time.Hour
	case ResolutionHour, ResolutionHour4:
		return 12 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// PageSize is the max number of candles requested per page.
func (r Resolution) PageSize() int {
	switch r {
	case ResolutionMinute, ResolutionMinute5, ResolutionMinute15, ResolutionMinute30:
		return 500
	default:
		return 1000
	}
}

// Candle is one OHLC bar for an instrument, with both bid and ask sides.
type Candle struct {
	Epic         string
	Resolution   Resolution
	SnapshotTime time.Time // Bar open time (UTC)

	OpenBid  decimal.Decimal
	OpenAsk  decimal.Decimal
	HighBid  decimal.Decimal
	HighAsk  decimal.Decimal
	LowBid   decimal.Decimal
	LowAsk   decimal.Decimal
	CloseBid decimal.Decimal
	CloseAsk decimal.Decimal

	Volume int64 // Last traded volume
}

// CloseMid returns the midpoint of the closing bid and ask.
func (c Candle) CloseMid() decimal.Decimal {
	return c.CloseBid.Add(c.CloseAsk).Div(decimal.NewFromInt(2))
}

// MarketSnapshot is the provider's current view of an instrument.
type MarketSnapshot struct {
	Epic             string          `json:"epic"`
	InstrumentName   string          `json:"instrument_name"`
	Bid              decimal.Decimal `json:"bid"`
	Offer            decimal.Decimal `json:"offer"`
	High             decimal.Decimal `json:"high"`
	Low              decimal.Decimal `json:"low"`
	NetChange        decimal.Decimal `json:"net_change"`
	PercentageChange decimal.Decimal `json:"percentage_change"`
	MarketStatus     string          `json:"market_status"`
	UpdateTime       string          `json:"update_time"`
}

// IsOpen reports whether the market is currently tradeable.
func (m MarketSnapshot) IsOpen() bool {
	return m.MarketStatus == "TRADEABLE"
}
