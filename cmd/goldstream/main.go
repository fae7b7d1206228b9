package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/goldstream/internal/api"
	"github.com/rickgao/goldstream/internal/auth"
	"github.com/rickgao/goldstream/internal/config"
	"github.com/rickgao/goldstream/internal/connection"
	"github.com/rickgao/goldstream/internal/database"
	"github.com/rickgao/goldstream/internal/gateway"
	"github.com/rickgao/goldstream/internal/history"
	"github.com/rickgao/goldstream/internal/hub"
	"github.com/rickgao/goldstream/internal/market"
	"github.com/rickgao/goldstream/internal/metrics"
	"github.com/rickgao/goldstream/internal/model"
	"github.com/rickgao/goldstream/internal/poller"
	"github.com/rickgao/goldstream/internal/router"
	"github.com/rickgao/goldstream/internal/server"
	"github.com/rickgao/goldstream/internal/sink"
	"github.com/rickgao/goldstream/internal/version"
	"github.com/rickgao/goldstream/internal/writer"
)

// component is anything started before streaming and stopped on shutdown.
type component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

func main() {
	configPath := flag.String("config", "configs/goldstream.example.yaml", "path to config file")
	envFile := flag.String("env", ".env", "optional .env file loaded before the config")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("goldstream", version.String())
		return
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "goldstream: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "goldstream: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.Logging.NewLogger(os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "goldstream: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	logger.Info("starting goldstream", version.LogAttrs(), "config", *configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("goldstream exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("goldstream stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Provider session and REST client
	authn := auth.NewAuthenticator(
		cfg.Capital.BaseURL,
		auth.Credentials{
			APIKey:     cfg.Capital.APIKey,
			Identifier: cfg.Capital.Identifier,
			Password:   cfg.Capital.Password,
		},
		&http.Client{Timeout: cfg.Capital.Timeout},
		logger.With("component", "auth"),
	)

	apiClient := api.NewClient(
		cfg.Capital.BaseURL,
		authn,
		api.WithLogger(logger.With("component", "api")),
		api.WithTimeout(cfg.Capital.Timeout),
		api.WithRetries(cfg.Capital.MaxRetries, time.Second),
		api.WithRateLimit(cfg.Capital.RequestsPerSecond, 1),
	)

	// Subscriber side
	hist := history.NewBuffer(cfg.Hub.HistorySize)
	registry := hub.NewRegistry(hub.Config{
		MaxConnections:      cfg.Hub.MaxConnections,
		ReplayLimit:         cfg.Hub.ReplayLimit,
		DefaultHistoryLimit: hub.DefaultConfig().DefaultHistoryLimit,
	}, hist, logger.With("component", "hub"))

	sweeper := hub.NewSweeper(hub.SweeperConfig{
		Interval:   cfg.Hub.SweepInterval,
		StaleAfter: cfg.Hub.StaleAfter,
	}, registry, logger.With("component", "sweeper"))

	wsHandler := gateway.NewHandler(gateway.Config{
		SendBuffer:  cfg.Hub.SendBuffer,
		CheckOrigin: originChecker(cfg.Server.CORSOrigins),
	}, registry, logger.With("component", "gateway"))

	// Tick handlers run on the router goroutine, registry first.
	handlers := []router.TickHandler{registry}
	var components []component

	collector := metrics.NewCollector()
	collector.Register("auth", func() any { return map[string]int{"logins": authn.Logins()} })
	collector.Register("hub", func() any {
		st := registry.Stats()
		st.Subscribers = nil
		return st
	})

	for _, s := range buildSinks(cfg, logger) {
		s := s // per-iteration copy (pre-Go 1.22 loop semantics)
		handlers = append(handlers, s)
		components = append(components, s)
		collector.Register("sink_"+s.Name(), func() any { return s.Stats() })
	}

	// Upstream stream
	streamer := connection.NewStreamer(connection.StreamerConfig{
		URL:               cfg.Capital.StreamingURL,
		Epics:             cfg.Stream.Epics,
		MaxRetries:        cfg.Stream.MaxRetries,
		ReconnectBaseWait: cfg.Stream.ReconnectBaseDelay,
		ReconnectMaxWait:  cfg.Stream.ReconnectMaxDelay,
		SubscribeTimeout:  cfg.Stream.SubscribeTimeout,
		OutputBuffer:      cfg.Stream.BufferSize,
		Client: connection.ClientConfig{
			PingInterval: cfg.Stream.PingInterval,
			PingTimeout:  cfg.Stream.PingTimeout,
			WriteTimeout: connection.DefaultClientConfig().WriteTimeout,
			BufferSize:   cfg.Stream.BufferSize,
		},
	}, authn, logger.With("component", "streamer"))

	queueMax := cfg.Writers.BufferSize
	if !cfg.Database.Enabled() {
		// Nothing drains the persistence queue without storage.
		queueMax = 1
	}
	tickRouter := router.NewRouter(router.RouterConfig{
		QueueInitialSize: min(1024, queueMax),
		QueueMaxSize:     queueMax,
	}, streamer.Frames(), handlers, logger.With("component", "router"))

	// Market status
	tracker := market.NewTracker(market.Config{
		Epic:            cfg.Market.Epic,
		RefreshInterval: cfg.Market.RefreshInterval,
		Timeout:         cfg.Capital.Timeout,
	}, apiClient, func(ch market.StatusChange) {
		logger.Info("market status changed",
			"epic", ch.Epic,
			"from", ch.OldStatus,
			"to", ch.NewStatus,
		)
	}, logger.With("component", "market"))
	components = append(components, tracker)
	collector.Register("stream", func() any { return streamer.Status() })
	collector.Register("router", func() any { return tickRouter.Stats() })
	collector.Register("market", func() any { return tracker.Stats() })

	deps := server.Deps{
		Epic:      cfg.Market.Epic,
		Stream:    streamer,
		Hub:       registry,
		History:   hist,
		WebSocket: wsHandler,
		Market:    tracker,
		Markets:   apiClient,
		Metrics:   collector,
	}

	// Storage, tick persistence and backfill
	if cfg.Database.Enabled() {
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := database.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		logger.Info("database connected", "max_conns", cfg.Database.MaxConns)

		writerCfg := writer.WriterConfig{
			BatchSize:     cfg.Writers.BatchSize,
			FlushInterval: cfg.Writers.FlushInterval,
		}
		store := database.NewStore(pool, logger.With("component", "store"))
		tickWriter := writer.NewTickWriter(writerCfg, tickRouter.Ticks(), pool, logger.With("component", "tick_writer"))
		candleWriter := writer.NewCandleWriter(writerCfg, pool, logger.With("component", "candle_writer"))

		interval := time.Duration(0)
		if cfg.Backfill.Enabled {
			interval = cfg.Backfill.Interval
		}
		backfill := poller.New(poller.Config{
			Epic:        cfg.Backfill.Epic,
			Resolutions: parseResolutions(cfg.Backfill.Resolutions),
			Interval:    interval,
			Lookback:    cfg.Backfill.Lookback,
			MaxPages:    cfg.Backfill.MaxPages,
			Concurrency: cfg.Backfill.Concurrency,
		}, apiClient, store, candleWriter, logger.With("component", "poller"))

		components = append(components, tickWriter, backfill)
		collector.Register("tick_writer", func() any { return tickWriter.Stats() })
		collector.Register("candle_writer", func() any { return candleWriter.Stats() })
		collector.Register("backfill", func() any { return backfillStats(backfill) })
		deps.Candles = store
		deps.Backfill = backfill
	} else {
		logger.Warn("no database configured: ticks are not persisted and backfill is disabled")
	}

	components = append(components, sweeper, tickRouter)

	for i, c := range components {
		if err := c.Start(ctx); err != nil {
			stopAll(components[:i], logger)
			return fmt.Errorf("start component: %w", err)
		}
	}

	srv := server.New(server.Config{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		CORSOrigins:        cfg.Server.CORSOrigins,
		ShutdownTimeout:    cfg.Server.ShutdownTimeout,
	}, deps, logger.With("component", "server"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return streamer.Run(gctx)
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})

	logger.Info("goldstream running",
		"addr", srv.Addr(),
		"epics", strings.Join(cfg.Stream.Epics, ","),
		"database", cfg.Database.Enabled(),
	)

	err := g.Wait()
	if errors.Is(err, connection.ErrStreamingStopped) {
		logger.Error("upstream stream gave up", "error", err)
	}

	registry.CloseAll()
	stopAll(components, logger)
	return err
}

// stopAll stops components in reverse start order.
func stopAll(components []component, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for i := len(components) - 1; i >= 0; i-- {
		if err := components[i].Stop(ctx); err != nil {
			logger.Warn("component stop failed", "error", err)
		}
	}
}

// buildSinks creates the optional Redis and Kafka sinks.
func buildSinks(cfg *config.Config, logger *slog.Logger) []*sink.Async {
	var sinks []*sink.Async

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pub := sink.NewRedis(client, cfg.Redis.KeyPrefix, cfg.Redis.Channel)
		sinks = append(sinks, sink.NewAsync(pub, cfg.Writers.BufferSize, logger.With("component", "sink")))
		logger.Info("redis sink enabled", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		w := sink.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.BatchTimeout)
		pub := sink.NewKafka(w)
		sinks = append(sinks, sink.NewAsync(pub, cfg.Writers.BufferSize, logger.With("component", "sink")))
		logger.Info("kafka sink enabled", "brokers", strings.Join(cfg.Kafka.Brokers, ","), "topic", cfg.Kafka.Topic)
	}

	return sinks
}

// backfillStats reports the last periodic backfill run.
func backfillStats(p *poller.Poller) any {
	at, results := p.LastResults()

	type row struct {
		Resolution model.Resolution `json:"resolution"`
		Records    int              `json:"records"`
		Inserted   int              `json:"inserted"`
		Updated    int              `json:"updated"`
		Error      string           `json:"error,omitempty"`
	}
	rows := make([]row, 0, len(results))
	for _, r := range results {
		rw := row{Resolution: r.Resolution, Records: r.Records, Inserted: r.Inserted, Updated: r.Updated}
		if r.Err != nil {
			rw.Error = r.Err.Error()
		}
		rows = append(rows, rw)
	}
	return map[string]any{"last_run": at, "results": rows}
}

func parseResolutions(names []string) []model.Resolution {
	out := make([]model.Resolution, 0, len(names))
	for _, n := range names {
		out = append(out, model.Resolution(strings.ToUpper(n)))
	}
	return out
}

// originChecker allows WebSocket upgrades from the configured CORS origins.
func originChecker(origins []string) func(r *http.Request) bool {
	for _, o := range origins {
		if o == "*" {
			return nil
		}
	}
	if len(origins) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range origins {
			if o == origin {
				return true
			}
		}
		return false
	}
}
