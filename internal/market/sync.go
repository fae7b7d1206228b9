package market

import (
	"context"
	"time"

	"github.com/rickgao/goldstream/internal/model"
)

// refreshLoop refreshes the snapshot on every interval.
func (t *trackerImpl) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := t.Refresh(ctx); err != nil && ctx.Err() == nil {
				t.logger.Warn("market refresh failed", "epic", t.cfg.Epic, "error", err)
			}
		}
	}
}

func (t *trackerImpl) Refresh(ctx context.Context) (*model.MarketSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	snap, err := t.source.GetMarket(ctx, t.cfg.Epic)
	if err != nil {
		t.mu.Lock()
		t.stats.Errors++
		t.stats.LastError = err.Error()
		t.mu.Unlock()
		return nil, err
	}

	var change *StatusChange
	now := t.now()

	t.mu.Lock()
	if t.current != nil && t.current.MarketStatus != snap.MarketStatus {
		change = &StatusChange{
			Epic:      snap.Epic,
			OldStatus: t.current.MarketStatus,
			NewStatus: snap.MarketStatus,
			At:        now,
		}
		t.stats.Transitions++
	}
	t.current = snap
	t.stats.Refreshes++
	t.stats.LastSyncAt = now
	t.stats.LastError = ""
	t.mu.Unlock()

	if change != nil {
		t.logger.Info("market status changed",
			"epic", change.Epic,
			"old_status", change.OldStatus,
			"new_status", change.NewStatus,
		)
		if t.onChange != nil {
			t.onChange(*change)
		}
	}

	t.logger.Debug("market refreshed",
		"epic", snap.Epic,
		"status", snap.MarketStatus,
		"bid", snap.Bid,
		"offer", snap.Offer,
	)

	copied := *snap
	return &copied, nil
}
