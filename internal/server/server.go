package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rickgao/goldstream/internal/connection"
	"github.com/rickgao/goldstream/internal/database"
	"github.com/rickgao/goldstream/internal/history"
	"github.com/rickgao/goldstream/internal/hub"
	"github.com/rickgao/goldstream/internal/metrics"
	"github.com/rickgao/goldstream/internal/model"
	"github.com/rickgao/goldstream/internal/poller"
)

// Constants
const (
	ServiceName         = "goldstream"
	RequestIDContextKey = "request_id"
	RequestIDHeaderKey  = "X-Request-ID"
	DefaultTimeout      = 30 * time.Second
)

// StreamStatus reports the upstream stream state.
type StreamStatus interface {
	Status() connection.Status
}

// HubStats reports subscriber registry state.
type HubStats interface {
	Stats() hub.Stats
}

// MarketCache returns the last known market snapshot.
type MarketCache interface {
	Current() (model.MarketSnapshot, bool)
}

// MarketFetcher fetches a market snapshot from the provider.
type MarketFetcher interface {
	GetMarket(ctx context.Context, epic string) (*model.MarketSnapshot, error)
}

// CandleReader reads stored data.
type CandleReader interface {
	GetCandles(ctx context.Context, q database.CandleQuery) ([]model.Candle, error)
	Stats(ctx context.Context) (*database.DataStats, error)
}

// BackfillQueue accepts manual backfill requests.
type BackfillQueue interface {
	Submit(req poller.Request) error
}

// MetricsSource samples runtime counters.
type MetricsSource interface {
	Snapshot() metrics.Snapshot
}

// Deps are the components the server reads from. Market, Markets, Candles,
// Backfill and Metrics are optional; routes that need a missing one answer 503.
type Deps struct {
	Epic      string
	Stream    StreamStatus
	Hub       HubStats
	History   *history.Buffer
	WebSocket http.Handler

	Market   MarketCache
	Markets  MarketFetcher
	Candles  CandleReader
	Backfill BackfillQueue
	Metrics  MetricsSource
}

// Config configures the HTTP server.
type Config struct {
	Host               string
	Port               int
	RateLimitPerMinute int      // Requests per client IP per minute; <= 0 disables
	CORSOrigins        []string // Empty or "*" allows any origin
	ShutdownTimeout    time.Duration
}

// Server is the HTTP API.
type Server struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	router *gin.Engine
	now    func() time.Time
}

// New creates a Server and builds its routes.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		now:    time.Now,
	}
	s.router = s.setupRoutes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(requestIDMiddleware())
	router.Use(accessLogMiddleware(s.logger))
	router.Use(recoveryMiddleware(s.logger))
	router.Use(corsMiddleware(s.cfg.CORSOrigins))
	router.Use(newRateLimiter(s.cfg.RateLimitPerMinute, s.now).middleware(s.logger, "/health", "/api/health"))

	router.GET("/health", s.health)

	api := router.Group("/api")
	api.GET("/health", s.health)
	api.GET("/gold-live", s.goldLive)
	api.GET("/gold-info", s.goldInfo)
	api.GET("/connection-status", s.connectionStatus)
	api.GET("/prices", s.prices)
	api.GET("/price-history", s.priceHistory)
	api.GET("/data-stats", s.dataStats)
	api.POST("/backfill", s.backfill)
	api.GET("/metrics", s.metricsSnapshot)

	if s.deps.WebSocket != nil {
		router.GET("/ws/gold-prices", gin.WrapH(s.deps.WebSocket))
	}

	return router
}
