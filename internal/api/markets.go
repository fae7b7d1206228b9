package api

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rickgao/goldstream/internal/model"
)

// GetMarket fetches the current market snapshot for an epic.
func (c *Client) GetMarket(ctx context.Context, epic string) (*model.MarketSnapshot, error) {
	var resp MarketResponse
	if err := c.get(ctx, "/api/v1/markets/"+url.PathEscape(epic), nil, &resp); err != nil {
		return nil, fmt.Errorf("get market %s: %w", epic, err)
	}
	if resp.Instrument.Epic == "" {
		resp.Instrument.Epic = epic
	}
	snap := MarketToSnapshot(&resp)
	return &snap, nil
}
