package writer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/goldstream/internal/database"
	"github.com/rickgao/goldstream/internal/model"
)

const upsertCandleSQL = `
	INSERT INTO price_candles (
		epic, resolution, snapshot_time,
		open_bid, open_ask, high_bid, high_ask, low_bid, low_ask, close_bid, close_ask,
		volume, updated_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
	ON CONFLICT (epic, resolution, snapshot_time) DO UPDATE SET
		open_bid = EXCLUDED.open_bid,
		open_ask = EXCLUDED.open_ask,
		high_bid = EXCLUDED.high_bid,
		high_ask = EXCLUDED.high_ask,
		low_bid = EXCLUDED.low_bid,
		low_ask = EXCLUDED.low_ask,
		close_bid = EXCLUDED.close_bid,
		close_ask = EXCLUDED.close_ask,
		volume = EXCLUDED.volume,
		updated_at = now()
	RETURNING (xmax = 0) AS inserted`

// CandleWriter upserts candles into price_candles. Unlike TickWriter it is
// synchronous: callers hand it a page and get the result back.
type CandleWriter struct {
	cfg    WriterConfig
	db     database.DBTX
	logger *slog.Logger

	mu      sync.Mutex
	metrics WriterMetrics
}

// WriteResult reports how many candles were new and how many replaced
// existing rows.
type WriteResult struct {
	Inserted int
	Updated  int
}

// NewCandleWriter creates a new CandleWriter.
func NewCandleWriter(cfg WriterConfig, db database.DBTX, logger *slog.Logger) *CandleWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultWriterConfig().BatchSize
	}
	return &CandleWriter{cfg: cfg, db: db, logger: logger}
}

// Write upserts candles in batches of cfg.BatchSize.
func (w *CandleWriter) Write(ctx context.Context, candles []model.Candle) (WriteResult, error) {
	var total WriteResult

	for start := 0; start < len(candles); start += w.cfg.BatchSize {
		end := min(start+w.cfg.BatchSize, len(candles))

		res, err := w.upsert(ctx, candles[start:end])
		if err != nil {
			w.mu.Lock()
			w.metrics.Errors++
			w.mu.Unlock()
			return total, fmt.Errorf("upsert candles: %w", err)
		}
		total.Inserted += res.Inserted
		total.Updated += res.Updated

		w.mu.Lock()
		w.metrics.Inserts += int64(res.Inserted)
		w.metrics.Updates += int64(res.Updated)
		w.metrics.Flushes++
		w.mu.Unlock()
	}

	return total, nil
}

// Stats returns current metrics.
func (w *CandleWriter) Stats() WriterMetrics {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.metrics
}

func (w *CandleWriter) upsert(ctx context.Context, candles []model.Candle) (WriteResult, error) {
	start := time.Now()

	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(upsertCandleSQL,
			c.Epic, string(c.Resolution), c.SnapshotTime.UTC(),
			c.OpenBid, c.OpenAsk, c.HighBid, c.HighAsk,
			c.LowBid, c.LowAsk, c.CloseBid, c.CloseAsk,
			c.Volume,
		)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	var res WriteResult
	for range candles {
		var inserted bool
		if err := results.QueryRow().Scan(&inserted); err != nil {
			return WriteResult{}, err
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}

	w.logger.Debug("upserted candles",
		"count", len(candles),
		"inserted", res.Inserted,
		"updated", res.Updated,
		"duration", time.Since(start),
	)
	return res, nil
}
