package sink

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/goldstream/internal/model"
)

// Publisher writes a batch of ticks to an external system.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, ticks []model.Tick) error
	Close() error
}

// Stats contains sink counters.
type Stats struct {
	Published int64
	Dropped   int64
	Errors    int64
}

// Async feeds a Publisher from a bounded buffer on its own goroutine.
type Async struct {
	pub      Publisher
	logger   *slog.Logger
	ch       chan model.Tick
	maxBatch int
	timeout  time.Duration

	published atomic.Int64
	dropped   atomic.Int64
	errors    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAsync creates an Async sink with the given buffer size.
func NewAsync(pub Publisher, buffer int, logger *slog.Logger) *Async {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer < 1 {
		buffer = 1024
	}
	return &Async{
		pub:      pub,
		logger:   logger.With("sink", pub.Name()),
		ch:       make(chan model.Tick, buffer),
		maxBatch: 100,
		timeout:  5 * time.Second,
	}
}

// Name returns the wrapped publisher's name.
func (a *Async) Name() string {
	return a.pub.Name()
}

// HandleTick queues a tick. It never blocks.
func (a *Async) HandleTick(tick model.Tick) {
	select {
	case a.ch <- tick:
	default:
		if a.dropped.Add(1)%1000 == 1 {
			a.logger.Warn("sink buffer full, dropping ticks", "dropped", a.dropped.Load())
		}
	}
}

// Start begins publishing.
func (a *Async) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	a.wg.Add(1)
	go a.run()

	a.logger.Info("sink started", "buffer", cap(a.ch))
	return nil
}

// Stop publishes what is buffered, then closes the publisher.
func (a *Async) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("sink stop timed out")
	}

	// Final flush of anything still buffered.
	for {
		batch := a.collect(nil)
		if len(batch) == 0 {
			break
		}
		a.publish(batch)
	}

	if err := a.pub.Close(); err != nil {
		a.logger.Warn("sink close failed", "error", err)
	}
	a.logger.Info("sink stopped", "published", a.published.Load(), "dropped", a.dropped.Load())
	return nil
}

// Stats returns current counters.
func (a *Async) Stats() Stats {
	return Stats{
		Published: a.published.Load(),
		Dropped:   a.dropped.Load(),
		Errors:    a.errors.Load(),
	}
}

func (a *Async) run() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		case tick := <-a.ch:
			a.publish(a.collect([]model.Tick{tick}))
		}
	}
}

// collect adds whatever is immediately available, up to maxBatch.
func (a *Async) collect(batch []model.Tick) []model.Tick {
	for len(batch) < a.maxBatch {
		select {
		case tick := <-a.ch:
			batch = append(batch, tick)
		default:
			return batch
		}
	}
	return batch
}

func (a *Async) publish(batch []model.Tick) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	if err := a.pub.Publish(ctx, batch); err != nil {
		a.errors.Add(1)
		a.logger.Warn("sink publish failed", "count", len(batch), "error", err)
		return
	}
	a.published.Add(int64(len(batch)))
}
