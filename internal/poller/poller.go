package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/goldstream/internal/api"
	"github.com/rickgao/goldstream/internal/database"
	"github.com/rickgao/goldstream/internal/model"
	"github.com/rickgao/goldstream/internal/writer"
)

// ErrBusy is returned by Submit when a manual request is already pending.
var ErrBusy = errors.New("backfill already pending")

// PriceSource pages historical candles.
type PriceSource interface {
	FetchRange(ctx context.Context, epic string, res model.Resolution, from, to time.Time, maxPages int, fn api.PageFunc) (int, error)
}

// CandleStore reads resume points and records runs.
type CandleStore interface {
	LatestCandleTime(ctx context.Context, epic string, res model.Resolution) (time.Time, bool, error)
	LogFetch(ctx context.Context, l database.FetchLog) error
}

// CandleSink persists fetched pages.
type CandleSink interface {
	Write(ctx context.Context, candles []model.Candle) (writer.WriteResult, error)
}

// Config holds poller configuration.
type Config struct {
	Epic        string
	Resolutions []model.Resolution
	Interval    time.Duration // Zero disables periodic runs; Submit still works
	Lookback    time.Duration // Start of range when nothing is stored (default: 7d)
	MaxPages    int           // Page cap per resolution per run (default: 50)
	Concurrency int           // Resolutions fetched in parallel (default: 2)
	Timeout     time.Duration // Per-resolution deadline (default: 10m)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Epic:        "GOLD",
		Resolutions: []model.Resolution{model.ResolutionMinute, model.ResolutionHour, model.ResolutionDay},
		Interval:    15 * time.Minute,
		Lookback:    7 * 24 * time.Hour,
		MaxPages:    50,
		Concurrency: 2,
		Timeout:     10 * time.Minute,
	}
}

// Request is a manual backfill of one resolution over [From, To).
type Request struct {
	Resolution model.Resolution
	From       time.Time
	To         time.Time
}

// Result reports one resolution's run.
type Result struct {
	Resolution model.Resolution
	From       time.Time
	To         time.Time
	Records    int
	Inserted   int
	Updated    int
	Err        error
}

// Poller periodically backfills candles via the REST API.
type Poller struct {
	cfg    Config
	source PriceSource
	store  CandleStore
	sink   CandleSink
	logger *slog.Logger
	now    func() time.Time

	requests chan Request

	mu      sync.Mutex
	last    []Result
	lastRun time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, source PriceSource, store CandleStore, sink CandleSink, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Epic == "" {
		cfg.Epic = def.Epic
	}
	if len(cfg.Resolutions) == 0 {
		cfg.Resolutions = def.Resolutions
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = def.Lookback
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Poller{
		cfg:      cfg,
		source:   source,
		store:    store,
		sink:     sink,
		logger:   logger,
		now:      time.Now,
		requests: make(chan Request, 1),
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("backfill poller started",
		"epic", p.cfg.Epic,
		"resolutions", p.cfg.Resolutions,
		"interval", p.cfg.Interval,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("backfill poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues a manual backfill. It does not wait for the run.
func (p *Poller) Submit(req Request) error {
	if !req.Resolution.Valid() {
		return fmt.Errorf("invalid resolution %q", req.Resolution)
	}
	if !req.From.Before(req.To) {
		return fmt.Errorf("empty range %s..%s", req.From.Format(time.RFC3339), req.To.Format(time.RFC3339))
	}
	select {
	case p.requests <- req:
		return nil
	default:
		return ErrBusy
	}
}

// LastResults returns the results of the most recent periodic run.
func (p *Poller) LastResults() (time.Time, []Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRun, append([]Result(nil), p.last...)
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	var tick <-chan time.Time
	if p.cfg.Interval > 0 {
		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C

		// Poll immediately on start.
		p.RunOnce(p.ctx)
	}

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-tick:
			p.RunOnce(p.ctx)
		case req := <-p.requests:
			p.Backfill(p.ctx, req.Resolution, req.From, req.To)
		}
	}
}

// RunOnce backfills every configured resolution from its resume point to
// now, fetching up to Concurrency resolutions in parallel.
func (p *Poller) RunOnce(ctx context.Context) []Result {
	start := p.now()
	results := make([]Result, len(p.cfg.Resolutions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for i, res := range p.cfg.Resolutions {
		i, res := i, res // per-iteration copies (pre-Go 1.22 loop semantics)
		g.Go(func() error {
			from, err := p.resumeFrom(gctx, res, start)
			if err != nil {
				results[i] = Result{Resolution: res, To: start, Err: err}
				p.logger.Warn("resume point lookup failed", "resolution", res, "error", err)
				return nil
			}
			results[i] = p.Backfill(gctx, res, from, start)
			return nil
		})
	}
	g.Wait()

	var records, failed int
	for _, r := range results {
		records += r.Records
		if r.Err != nil {
			failed++
		}
	}

	p.mu.Lock()
	p.last = results
	p.lastRun = start
	p.mu.Unlock()

	p.logger.Info("backfill cycle complete",
		"resolutions", len(results),
		"records", records,
		"failed", failed,
		"duration", p.now().Sub(start),
	)
	return results
}

// resumeFrom returns the newest stored candle time, or now minus the
// lookback. The newest bar is refetched since it may have been partial.
func (p *Poller) resumeFrom(ctx context.Context, res model.Resolution, now time.Time) (time.Time, error) {
	latest, ok, err := p.store.LatestCandleTime(ctx, p.cfg.Epic, res)
	if err != nil {
		return time.Time{}, err
	}
	floor := now.Add(-p.cfg.Lookback)
	if !ok || latest.Before(floor) {
		return floor, nil
	}
	return latest, nil
}

// Backfill fetches and stores one resolution over [from, to) and records
// the run in the fetch log.
func (p *Poller) Backfill(ctx context.Context, res model.Resolution, from, to time.Time) Result {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	started := p.now()
	result := Result{Resolution: res, From: from, To: to}

	n, err := p.source.FetchRange(ctx, p.cfg.Epic, res, from, to, p.cfg.MaxPages, func(page []model.Candle) error {
		wr, err := p.sink.Write(ctx, page)
		result.Inserted += wr.Inserted
		result.Updated += wr.Updated
		return err
	})
	result.Records = n
	result.Err = err

	entry := database.FetchLog{
		Epic:       p.cfg.Epic,
		Resolution: res,
		RangeStart: from,
		RangeEnd:   to,
		Records:    n,
		Status:     database.FetchSuccess,
		StartedAt:  started,
		FinishedAt: p.now(),
	}
	if err != nil {
		entry.Status = database.FetchFailed
		entry.Error = err.Error()
		p.logger.Warn("backfill failed",
			"resolution", res,
			"records", n,
			"error", err,
		)
	} else {
		p.logger.Info("backfill complete",
			"resolution", res,
			"from", from,
			"to", to,
			"records", n,
			"inserted", result.Inserted,
			"updated", result.Updated,
		)
	}

	// The fetch log is written even when ctx has expired.
	logCtx, logCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer logCancel()
	if err := p.store.LogFetch(logCtx, entry); err != nil {
		p.logger.Warn("failed to record fetch", "resolution", res, "error", err)
	}

	return result
}
