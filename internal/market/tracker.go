package market

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/goldstream/internal/model"
)

// Source fetches a market snapshot.
type Source interface {
	GetMarket(ctx context.Context, epic string) (*model.MarketSnapshot, error)
}

// Tracker keeps a periodically refreshed market snapshot.
type Tracker interface {
	// Start loads the first snapshot and begins periodic refresh. A failed
	// first load is logged, not returned; the loop keeps trying.
	Start(ctx context.Context) error

	// Stop gracefully shuts down.
	Stop(ctx context.Context) error

	// Current returns the last good snapshot.
	Current() (model.MarketSnapshot, bool)

	// Refresh fetches a fresh snapshot now and stores it.
	Refresh(ctx context.Context) (*model.MarketSnapshot, error)

	// Stats returns refresh counters.
	Stats() Stats
}

// StatusChange describes a market status transition.
type StatusChange struct {
	Epic      string
	OldStatus string
	NewStatus string
	At        time.Time
}

// Config holds tracker configuration.
type Config struct {
	Epic            string
	RefreshInterval time.Duration
	Timeout         time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Epic:            "GOLD",
		RefreshInterval: 60 * time.Second,
		Timeout:         10 * time.Second,
	}
}

// Stats contains tracker counters.
type Stats struct {
	Refreshes   int64
	Errors      int64
	LastSyncAt  time.Time
	LastError   string
	Transitions int64
}

type trackerImpl struct {
	cfg      Config
	source   Source
	logger   *slog.Logger
	onChange func(StatusChange)
	now      func() time.Time

	mu      sync.RWMutex
	current *model.MarketSnapshot
	stats   Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTracker creates a new market Tracker. onChange, if non-nil, is called
// for every status transition after the first load.
func NewTracker(cfg Config, source Source, onChange func(StatusChange), logger *slog.Logger) Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Epic == "" {
		cfg.Epic = def.Epic
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = def.RefreshInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	return &trackerImpl{
		cfg:      cfg,
		source:   source,
		logger:   logger,
		onChange: onChange,
		now:      time.Now,
	}
}

func (t *trackerImpl) Start(ctx context.Context) error {
	t.ctx, t.cancel = context.WithCancel(ctx)

	if _, err := t.Refresh(t.ctx); err != nil {
		t.logger.Warn("initial market load failed", "epic", t.cfg.Epic, "error", err)
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.refreshLoop(t.ctx)
	}()

	t.logger.Info("market tracker started",
		"epic", t.cfg.Epic,
		"interval", t.cfg.RefreshInterval,
	)
	return nil
}

func (t *trackerImpl) Stop(ctx context.Context) error {
	if t.cancel != nil {
		t.cancel()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Info("market tracker stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *trackerImpl) Current() (model.MarketSnapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == nil {
		return model.MarketSnapshot{}, false
	}
	return *t.current, true
}

func (t *trackerImpl) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}
