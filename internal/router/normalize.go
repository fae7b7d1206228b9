package router

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/goldstream/internal/model"
)

var two = decimal.NewFromInt(2)

// Normalize converts one raw upstream frame into a Tick.
//
// It returns ok=false with a nil error for frames that carry no price
// (control frames, quotes with neither side). Malformed JSON is an error.
// receivedAt is used when the frame has no provider timestamp.
func Normalize(data []byte, receivedAt time.Time) (model.Tick, bool, error) {
	var env frameEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return model.Tick{}, false, fmt.Errorf("decode frame: %w", err)
	}
	if env.Destination != destinationQuote {
		return model.Tick{}, false, nil
	}

	var wire quoteWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return model.Tick{}, false, fmt.Errorf("decode quote: %w", err)
	}

	p := wire.Payload
	bid := p.Bid
	ask := firstValid(p.Ofr, p.Ask, p.Offer)

	var mid decimal.NullDecimal
	switch {
	case bid.Valid && ask.Valid:
		mid = decimal.NewNullDecimal(bid.Decimal.Add(ask.Decimal).Div(two))
	case bid.Valid:
		mid = bid
	case ask.Valid:
		mid = ask
	default:
		return model.Tick{}, false, nil
	}

	ts := receivedAt.UTC()
	if p.Timestamp != nil && *p.Timestamp > 0 {
		ts = time.UnixMilli(*p.Timestamp).UTC()
	}

	return model.Tick{
		Epic:      p.Epic,
		Timestamp: ts,
		Bid:       bid,
		Ask:       ask,
		Mid:       mid,
		Volume:    p.Volume,
	}, true, nil
}

func firstValid(vals ...decimal.NullDecimal) decimal.NullDecimal {
	for _, v := range vals {
		if v.Valid {
			return v
		}
	}
	return decimal.NullDecimal{}
}
