package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/rickgao/goldstream/internal/database"
	"github.com/rickgao/goldstream/internal/model"
	"github.com/rickgao/goldstream/internal/router"
)

const insertTickSQL = `
	INSERT INTO price_ticks (epic, ts, bid, ask, mid, volume, received_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (epic, ts) DO NOTHING`

// pollInterval is how often an idle writer checks its queue.
const pollInterval = 10 * time.Millisecond

// TickWriter persists normalized ticks from a router queue into
// price_ticks. Rows are buffered and written when the buffer reaches
// BatchSize or every FlushInterval, whichever comes first. Duplicate
// (epic, ts) pairs are counted as conflicts and skipped.
type TickWriter struct {
	cfg    WriterConfig
	input  *router.Queue[model.Tick]
	db     database.DBTX
	logger *slog.Logger

	pendingMu sync.Mutex
	pending   []tickRow

	statsMu sync.Mutex
	stats   WriterMetrics

	cancel context.CancelFunc
	done   chan struct{}
}

type tickRow struct {
	Epic       string
	Ts         time.Time
	Bid        decimal.NullDecimal
	Ask        decimal.NullDecimal
	Mid        decimal.NullDecimal
	Volume     *int64
	ReceivedAt time.Time
}

func (r tickRow) args() []any {
	return []any{r.Epic, r.Ts, r.Bid, r.Ask, r.Mid, r.Volume, r.ReceivedAt}
}

// NewTickWriter creates a TickWriter reading from input. A nil db makes
// flushes discard rows, which the service uses when storage is disabled.
func NewTickWriter(cfg WriterConfig, input *router.Queue[model.Tick], db database.DBTX, logger *slog.Logger) *TickWriter {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultWriterConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = def.FlushTimeout
	}
	return &TickWriter{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger.With("writer", "ticks"),
	}
}

func (w *TickWriter) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.run(ctx)

	w.logger.Info("tick writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop halts the consume loop, then drains the queue and writes whatever
// is left. It works on a writer that was never started.
func (w *TickWriter) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
		select {
		case <-w.done:
		case <-ctx.Done():
			w.logger.Warn("tick writer loop did not exit before deadline")
		}
	}

	w.enqueue(w.input.Drain(0))
	w.flush()

	w.logger.Info("tick writer stopped", "stats", w.Stats())
	return nil
}

func (w *TickWriter) Stats() WriterMetrics {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return w.stats
}

func (w *TickWriter) run(ctx context.Context) {
	defer close(w.done)

	flushTicker := time.NewTicker(w.cfg.FlushInterval)
	defer flushTicker.Stop()
	poll := time.NewTicker(pollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-flushTicker.C:
			w.flush()
		case <-poll.C:
			for {
				ticks := w.input.Drain(w.cfg.BatchSize)
				if len(ticks) == 0 {
					break
				}
				if w.enqueue(ticks) {
					w.flush()
				}
			}
		}
	}
}

// enqueue buffers ticks and reports whether the buffer is full.
func (w *TickWriter) enqueue(ticks []model.Tick) bool {
	if len(ticks) == 0 {
		return false
	}
	now := time.Now()

	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	for _, t := range ticks {
		w.pending = append(w.pending, newTickRow(t, now))
	}
	return len(w.pending) >= w.cfg.BatchSize
}

func newTickRow(t model.Tick, receivedAt time.Time) tickRow {
	return tickRow{
		Epic:       t.Epic,
		Ts:         t.Timestamp.UTC(),
		Bid:        t.Bid,
		Ask:        t.Ask,
		Mid:        t.Mid,
		Volume:     t.Volume,
		ReceivedAt: receivedAt.UTC(),
	}
}

func (w *TickWriter) takePending() []tickRow {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	rows := w.pending
	w.pending = nil
	return rows
}

func (w *TickWriter) flush() {
	rows := w.takePending()
	if len(rows) == 0 || w.db == nil {
		return
	}

	for start := 0; start < len(rows); start += w.cfg.BatchSize {
		chunk := rows[start:min(start+w.cfg.BatchSize, len(rows))]
		w.write(chunk)
	}
}

func (w *TickWriter) write(rows []tickRow) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.FlushTimeout)
	defer cancel()

	began := time.Now()
	skipped, err := insertTicks(ctx, w.db, rows)

	w.statsMu.Lock()
	if err != nil {
		w.stats.Errors++
	} else {
		w.stats.Inserts += int64(len(rows) - skipped)
		w.stats.Conflicts += int64(skipped)
		w.stats.Flushes++
	}
	w.statsMu.Unlock()

	if err != nil {
		w.logger.Error("tick insert failed", "rows", len(rows), "error", err)
		return
	}
	w.logger.Debug("ticks written",
		"rows", len(rows),
		"duplicates", skipped,
		"took", time.Since(began),
	)
}

// insertTicks sends rows as one pgx batch and returns how many were
// duplicates.
func insertTicks(ctx context.Context, db database.DBTX, rows []tickRow) (int, error) {
	b := &pgx.Batch{}
	for _, r := range rows {
		b.Queue(insertTickSQL, r.args()...)
	}

	br := db.SendBatch(ctx, b)
	defer br.Close()

	var dup int
	for range rows {
		tag, err := br.Exec()
		if err != nil {
			return 0, err
		}
		if tag.RowsAffected() == 0 {
			dup++
		}
	}
	return dup, nil
}
