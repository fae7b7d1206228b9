package api

import "github.com/shopspring/decimal"

// MarketResponse from GET /api/v1/markets/{epic}
type MarketResponse struct {
	Instrument struct {
		Epic     string `json:"epic"`
		Name     string `json:"name"`
		Type     string `json:"type"`
		Currency string `json:"currency"`
	} `json:"instrument"`
	Snapshot MarketSnapshotWire `json:"snapshot"`
}

// MarketSnapshotWire is the price snapshot embedded in a market response.
type MarketSnapshotWire struct {
	MarketStatus     string          `json:"marketStatus"`
	NetChange        decimal.Decimal `json:"netChange"`
	PercentageChange decimal.Decimal `json:"percentageChange"`
	UpdateTime       string          `json:"updateTime"`
	Bid              decimal.Decimal `json:"bid"`
	Offer            decimal.Decimal `json:"offer"`
	High             decimal.Decimal `json:"high"`
	Low              decimal.Decimal `json:"low"`
}

// PricesResponse from GET /api/v1/prices/{epic}
type PricesResponse struct {
	Prices         []PriceBar `json:"prices"`
	InstrumentType string     `json:"instrumentType"`
}

// PriceBar is one historical OHLC bar.
type PriceBar struct {
	SnapshotTime     string    `json:"snapshotTime"`
	SnapshotTimeUTC  string    `json:"snapshotTimeUTC"`
	OpenPrice        PricePair `json:"openPrice"`
	ClosePrice       PricePair `json:"closePrice"`
	HighPrice        PricePair `json:"highPrice"`
	LowPrice         PricePair `json:"lowPrice"`
	LastTradedVolume int64     `json:"lastTradedVolume"`
}

// PricePair holds the bid and ask of one OHLC component. Some responses
// name the ask "offer".
type PricePair struct {
	Bid   decimal.NullDecimal `json:"bid"`
	Ask   decimal.NullDecimal `json:"ask"`
	Offer decimal.NullDecimal `json:"offer"`
}

// AskOrOffer returns Ask, falling back to Offer.
func (p PricePair) AskOrOffer() decimal.Decimal {
	if p.Ask.Valid {
		return p.Ask.Decimal
	}
	return p.Offer.Decimal
}
