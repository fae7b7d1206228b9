package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/goldstream/internal/model"
)

// Fetch statuses recorded in data_fetch_log.
const (
	FetchSuccess = "success"
	FetchFailed  = "failed"
)

// MaxCandleLimit caps the rows returned by GetCandles.
const MaxCandleLimit = 5000

// CandleQuery selects stored candles.
type CandleQuery struct {
	Epic       string
	Resolution model.Resolution
	From       time.Time // inclusive, zero means unbounded
	To         time.Time // exclusive, zero means unbounded
	Limit      int       // most recent N, clamped to MaxCandleLimit
}

// FetchLog is one backfill run.
type FetchLog struct {
	Epic       string
	Resolution model.Resolution
	RangeStart time.Time
	RangeEnd   time.Time
	Records    int
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// ResolutionStats summarizes the stored candles of one resolution.
type ResolutionStats struct {
	Resolution model.Resolution `json:"resolution"`
	Count      int64            `json:"count"`
	First      *time.Time       `json:"first,omitempty"`
	Last       *time.Time       `json:"last,omitempty"`
}

// DataStats summarizes everything stored.
type DataStats struct {
	Ticks       int64             `json:"ticks"`
	LatestTick  *time.Time        `json:"latest_tick,omitempty"`
	Candles     []ResolutionStats `json:"candles"`
	LastFetch   *time.Time        `json:"last_fetch,omitempty"`
	FailedFetch int64             `json:"failed_fetches"`
}

// Store runs read queries and fetch-log writes against the database.
type Store struct {
	db     DBTX
	logger *slog.Logger
}

// NewStore creates a Store.
func NewStore(db DBTX, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// LatestCandleTime returns the newest stored snapshot time for an epic and
// resolution. ok is false when nothing is stored.
func (s *Store) LatestCandleTime(ctx context.Context, epic string, res model.Resolution) (t time.Time, ok bool, err error) {
	var latest *time.Time
	err = s.db.QueryRow(ctx,
		`SELECT max(snapshot_time) FROM price_candles WHERE epic = $1 AND resolution = $2`,
		epic, string(res),
	).Scan(&latest)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest candle time: %w", err)
	}
	if latest == nil {
		return time.Time{}, false, nil
	}
	return latest.UTC(), true, nil
}

// GetCandles returns stored candles oldest-first.
func (s *Store) GetCandles(ctx context.Context, q CandleQuery) ([]model.Candle, error) {
	sql, args := buildCandleQuery(q)

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	candles := make([]model.Candle, 0)
	for rows.Next() {
		var (
			c   model.Candle
			res string
		)
		if err := rows.Scan(
			&c.Epic, &res, &c.SnapshotTime,
			&c.OpenBid, &c.OpenAsk, &c.HighBid, &c.HighAsk,
			&c.LowBid, &c.LowAsk, &c.CloseBid, &c.CloseAsk,
			&c.Volume,
		); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Resolution = model.Resolution(res)
		c.SnapshotTime = c.SnapshotTime.UTC()
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candles: %w", err)
	}

	// Rows come newest-first so LIMIT keeps the most recent.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

func buildCandleQuery(q CandleQuery) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}

	add("epic = ?", q.Epic)
	add("resolution = ?", string(q.Resolution))
	if !q.From.IsZero() {
		add("snapshot_time >= ?", q.From.UTC())
	}
	if !q.To.IsZero() {
		add("snapshot_time < ?", q.To.UTC())
	}

	limit := q.Limit
	if limit <= 0 || limit > MaxCandleLimit {
		limit = MaxCandleLimit
	}
	args = append(args, limit)

	sql := `SELECT epic, resolution, snapshot_time,
		open_bid, open_ask, high_bid, high_ask, low_bid, low_ask, close_bid, close_ask, volume
		FROM price_candles
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY snapshot_time DESC
		LIMIT $` + strconv.Itoa(len(args))
	return sql, args
}

// Stats summarizes stored ticks, candles and fetch runs.
func (s *Store) Stats(ctx context.Context) (*DataStats, error) {
	stats := &DataStats{Candles: make([]ResolutionStats, 0)}

	if err := s.db.QueryRow(ctx,
		`SELECT count(*), max(ts) FROM price_ticks`,
	).Scan(&stats.Ticks, &stats.LatestTick); err != nil {
		return nil, fmt.Errorf("tick stats: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT resolution, count(*), min(snapshot_time), max(snapshot_time)
		FROM price_candles
		GROUP BY resolution
		ORDER BY resolution`)
	if err != nil {
		return nil, fmt.Errorf("candle stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rs  ResolutionStats
			res string
		)
		if err := rows.Scan(&res, &rs.Count, &rs.First, &rs.Last); err != nil {
			return nil, fmt.Errorf("scan candle stats: %w", err)
		}
		rs.Resolution = model.Resolution(res)
		stats.Candles = append(stats.Candles, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle stats: %w", err)
	}

	err = s.db.QueryRow(ctx, `
		SELECT max(finished_at), count(*) FILTER (WHERE status = $1)
		FROM data_fetch_log`, FetchFailed,
	).Scan(&stats.LastFetch, &stats.FailedFetch)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("fetch log stats: %w", err)
	}

	return stats, nil
}

// LogFetch records one backfill run.
func (s *Store) LogFetch(ctx context.Context, l FetchLog) error {
	var errText *string
	if l.Error != "" {
		errText = &l.Error
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO data_fetch_log
			(epic, resolution, range_start, range_end, records, status, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		l.Epic, string(l.Resolution), l.RangeStart.UTC(), l.RangeEnd.UTC(),
		l.Records, l.Status, errText, l.StartedAt.UTC(), l.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("log fetch: %w", err)
	}
	s.logger.Debug("fetch logged",
		"epic", l.Epic,
		"resolution", l.Resolution,
		"records", l.Records,
		"status", l.Status,
	)
	return nil
}
