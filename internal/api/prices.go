package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rickgao/goldstream/internal/model"
)

// GetPricesOptions selects one page of historical prices.
type GetPricesOptions struct {
	Resolution model.Resolution
	From       time.Time
	To         time.Time
	Max        int
}

// GetPrices fetches one page of historical bars.
func (c *Client) GetPrices(ctx context.Context, epic string, opts GetPricesOptions) (*PricesResponse, error) {
	query := url.Values{}
	if opts.Resolution != "" {
		query.Set("resolution", string(opts.Resolution))
	}
	if !opts.From.IsZero() {
		query.Set("from", FormatTime(opts.From))
	}
	if !opts.To.IsZero() {
		query.Set("to", FormatTime(opts.To))
	}
	if opts.Max > 0 {
		query.Set("max", strconv.Itoa(opts.Max))
	}

	var resp PricesResponse
	if err := c.get(ctx, "/api/v1/prices/"+url.PathEscape(epic), query, &resp); err != nil {
		return nil, fmt.Errorf("get prices %s: %w", epic, err)
	}
	return &resp, nil
}

// PageFunc receives each page of candles as it is fetched. Returning an
// error stops pagination.
type PageFunc func(page []model.Candle) error

// FetchRange walks [from, to) backwards in resolution-sized windows and
// hands each page of candles to fn. A full page continues within the same
// window from just before its oldest bar; a short or empty page moves on
// to the next window. It stops at from or after maxPages requests
// (maxPages <= 0 means unbounded). Returns the number of candles delivered.
func (c *Client) FetchRange(ctx context.Context, epic string, res model.Resolution, from, to time.Time, maxPages int, fn PageFunc) (int, error) {
	if !res.Valid() {
		return 0, fmt.Errorf("invalid resolution %q", res)
	}

	window := res.Window()
	pageSize := res.PageSize()
	cursor := to.UTC()
	from = from.UTC()
	total := 0

	for page := 0; cursor.After(from) && (maxPages <= 0 || page < maxPages); page++ {
		windowFrom := cursor.Add(-window)
		if windowFrom.Before(from) {
			windowFrom = from
		}

		resp, err := c.GetPrices(ctx, epic, GetPricesOptions{
			Resolution: res,
			From:       windowFrom,
			To:         cursor,
			Max:        pageSize,
		})
		if err != nil {
			return total, err
		}

		candles := make([]model.Candle, 0, len(resp.Prices))
		var oldest time.Time
		for _, bar := range resp.Prices {
			candle, err := BarToCandle(epic, res, bar)
			if err != nil {
				c.logger.Debug("skipping bar", "epic", epic, "error", err)
				continue
			}
			if oldest.IsZero() || candle.SnapshotTime.Before(oldest) {
				oldest = candle.SnapshotTime
			}
			candles = append(candles, candle)
		}

		c.logger.Debug("fetched price page",
			"epic", epic,
			"resolution", res,
			"page", page+1,
			"from", FormatTime(windowFrom),
			"to", FormatTime(cursor),
			"count", len(candles),
		)

		if len(candles) > 0 {
			if err := fn(candles); err != nil {
				return total, err
			}
			total += len(candles)
		}

		if len(resp.Prices) >= pageSize && !oldest.IsZero() && oldest.Before(cursor) {
			cursor = oldest.Add(-time.Second)
		} else {
			cursor = windowFrom
		}
	}

	return total, nil
}

// GetAllPrices collects every candle in [from, to) into one slice,
// newest page first.
func (c *Client) GetAllPrices(ctx context.Context, epic string, res model.Resolution, from, to time.Time, maxPages int) ([]model.Candle, error) {
	var all []model.Candle
	_, err := c.FetchRange(ctx, epic, res, from, to, maxPages, func(page []model.Candle) error {
		all = append(all, page...)
		return nil
	})
	return all, err
}
