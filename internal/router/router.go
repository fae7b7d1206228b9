package router

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rickgao/goldstream/internal/connection"
	"github.com/rickgao/goldstream/internal/model"
)

// TickHandler receives every normalized tick. Implementations must not block.
type TickHandler interface {
	HandleTick(tick model.Tick)
}

// TickHandlerFunc adapts a function to TickHandler.
type TickHandlerFunc func(tick model.Tick)

// HandleTick calls f(tick).
func (f TickHandlerFunc) HandleTick(tick model.Tick) { f(tick) }

// Router normalizes upstream frames and routes ticks to handlers.
type Router interface {
	// Start begins routing frames from the input channel.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the router and closes the tick queue.
	Stop(ctx context.Context) error

	// Ticks returns the persistence queue consumed by the tick writer.
	Ticks() *Queue[model.Tick]

	// Stats returns current router statistics.
	Stats() RouterStats
}

type router struct {
	cfg      RouterConfig
	logger   *slog.Logger
	input    <-chan connection.Frame
	handlers []TickHandler
	ticks    *Queue[model.Tick]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	received    atomic.Int64
	routed      atomic.Int64
	control     atomic.Int64
	parseErrors atomic.Int64
}

// NewRouter creates a Router reading from input.
func NewRouter(cfg RouterConfig, input <-chan connection.Frame, handlers []TickHandler, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}

	return &router{
		cfg:      cfg,
		logger:   logger,
		input:    input,
		handlers: handlers,
		ticks:    NewQueue[model.Tick](cfg.QueueInitialSize, cfg.QueueMaxSize),
	}
}

func (r *router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.routeLoop()

	r.logger.Info("tick router started",
		"handlers", len(r.handlers),
		"queue_max", r.cfg.QueueMaxSize,
	)
	return nil
}

func (r *router) Stop(ctx context.Context) error {
	r.logger.Info("stopping tick router")

	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("tick router stopped")
	case <-ctx.Done():
		r.logger.Warn("tick router stop timed out")
	}

	r.ticks.Close()
	return nil
}

func (r *router) Ticks() *Queue[model.Tick] {
	return r.ticks
}

func (r *router) Stats() RouterStats {
	return RouterStats{
		FramesReceived: r.received.Load(),
		TicksRouted:    r.routed.Load(),
		ControlFrames:  r.control.Load(),
		ParseErrors:    r.parseErrors.Load(),
		Queue:          r.ticks.Stats(),
	}
}

func (r *router) routeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case frame, ok := <-r.input:
			if !ok {
				r.logger.Info("input channel closed")
				return
			}
			r.route(frame)
		}
	}
}

func (r *router) route(frame connection.Frame) {
	r.received.Add(1)

	tick, ok, err := Normalize(frame.Data, frame.ReceivedAt)
	if err != nil {
		r.parseErrors.Add(1)
		r.logger.Warn("dropping malformed frame", "error", err)
		return
	}
	if !ok {
		r.control.Add(1)
		return
	}

	if tick.Epic == "" {
		tick.Epic = frame.Epic
	}

	for _, h := range r.handlers {
		h.HandleTick(tick)
	}
	r.ticks.Push(tick)
	r.routed.Add(1)
}
