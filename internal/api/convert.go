package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/rickgao/goldstream/internal/model"
)

// TimeLayout is the provider's date format for query parameters and bars.
const TimeLayout = "2006-01-02T15:04:05"

// FormatTime formats t in UTC for the from/to query parameters.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a bar timestamp. Values without a zone are UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	s = strings.TrimSuffix(s, "Z")
	for _, layout := range []string{TimeLayout, "2006-01-02T15:04:05.000", "2006/01/02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// barTime prefers the UTC snapshot time.
func barTime(b PriceBar) (time.Time, error) {
	if b.SnapshotTimeUTC != "" {
		return ParseTime(b.SnapshotTimeUTC)
	}
	return ParseTime(b.SnapshotTime)
}

// BarToCandle converts an API bar to a model.Candle.
func BarToCandle(epic string, res model.Resolution, b PriceBar) (model.Candle, error) {
	ts, err := barTime(b)
	if err != nil {
		return model.Candle{}, err
	}
	return model.Candle{
		Epic:         epic,
		Resolution:   res,
		SnapshotTime: ts,
		OpenBid:      b.OpenPrice.Bid.Decimal,
		OpenAsk:      b.OpenPrice.AskOrOffer(),
		HighBid:      b.HighPrice.Bid.Decimal,
		HighAsk:      b.HighPrice.AskOrOffer(),
		LowBid:       b.LowPrice.Bid.Decimal,
		LowAsk:       b.LowPrice.AskOrOffer(),
		CloseBid:     b.ClosePrice.Bid.Decimal,
		CloseAsk:     b.ClosePrice.AskOrOffer(),
		Volume:       b.LastTradedVolume,
	}, nil
}

// MarketToSnapshot converts an API market response to a model.MarketSnapshot.
func MarketToSnapshot(m *MarketResponse) model.MarketSnapshot {
	return model.MarketSnapshot{
		Epic:             m.Instrument.Epic,
		InstrumentName:   m.Instrument.Name,
		Bid:              m.Snapshot.Bid,
		Offer:            m.Snapshot.Offer,
		High:             m.Snapshot.High,
		Low:              m.Snapshot.Low,
		NetChange:        m.Snapshot.NetChange,
		PercentageChange: m.Snapshot.PercentageChange,
		MarketStatus:     m.Snapshot.MarketStatus,
		UpdateTime:       m.Snapshot.UpdateTime,
	}
}
