package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper periodically evicts subscribers that have been silent too long.
type Sweeper struct {
	cfg      SweeperConfig
	registry *Registry
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a Sweeper for registry.
func NewSweeper(cfg SweeperConfig, registry *Registry, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultSweeperConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	return &Sweeper{
		cfg:      cfg,
		registry: registry,
		logger:   logger,
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	s.logger.Info("liveness sweeper started",
		"interval", s.cfg.Interval,
		"stale_after", s.cfg.StaleAfter,
	)
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("liveness sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(now)
		}
	}
}

// Sweep evicts every subscriber whose last heartbeat (or connect time if it
// never sent one) is more than StaleAfter before now. Returns evicted ids.
func (s *Sweeper) Sweep(now time.Time) []string {
	cutoff := now.Add(-s.cfg.StaleAfter)

	var evicted []string
	for _, info := range s.registry.snapshot() {
		if !info.lastSeen().Before(cutoff) {
			continue
		}
		// A heartbeat may land between the snapshot and here.
		if !s.registry.evictIfStale(info.ID, cutoff) {
			continue
		}
		s.logger.Info("evicted stale subscriber", "id", info.ID)
		evicted = append(evicted, info.ID)
	}
	return evicted
}
