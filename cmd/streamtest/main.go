// streamtest connects to the Capital.com stream and prints normalized ticks.
// Usage: go run ./cmd/streamtest --config configs/goldstream.yaml
//
// Required environment variables (referenced from the config):
//
//	CAPITAL_API_KEY     - API key from the Capital.com dashboard
//	CAPITAL_IDENTIFIER  - account login
//	CAPITAL_PASSWORD    - API key password
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/goldstream/internal/api"
	"github.com/rickgao/goldstream/internal/auth"
	"github.com/rickgao/goldstream/internal/config"
	"github.com/rickgao/goldstream/internal/connection"
	"github.com/rickgao/goldstream/internal/model"
	"github.com/rickgao/goldstream/internal/router"
)

func main() {
	configPath := flag.String("config", "configs/goldstream.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full tick JSON")
	showMarket := flag.Bool("market", true, "print the market snapshot before streaming")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	if err := config.LoadDotEnv(".env"); err != nil {
		logger.Error("failed to load .env", "error", err)
		os.Exit(1)
	}
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	creds := auth.Credentials{
		APIKey:     cfg.Capital.APIKey,
		Identifier: cfg.Capital.Identifier,
		Password:   cfg.Capital.Password,
	}
	if err := creds.Validate(); err != nil {
		logger.Error("credentials required",
			"error", err,
			"api_key_set", cfg.Capital.APIKey != "",
			"identifier_set", cfg.Capital.Identifier != "",
		)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	authn := auth.NewAuthenticator(cfg.Capital.BaseURL, creds, &http.Client{Timeout: cfg.Capital.Timeout}, logger)

	if *showMarket {
		apiClient := api.NewClient(cfg.Capital.BaseURL, authn, api.WithLogger(logger))
		snap, err := apiClient.GetMarket(ctx, cfg.Market.Epic)
		if err != nil {
			logger.Error("failed to fetch market", "epic", cfg.Market.Epic, "error", err)
			os.Exit(1)
		}
		fmt.Printf("[MARKET] epic=%s name=%q status=%s bid=%s offer=%s high=%s low=%s change=%s%%\n",
			snap.Epic, snap.InstrumentName, snap.MarketStatus,
			snap.Bid, snap.Offer, snap.High, snap.Low, snap.PercentageChange)
	}

	streamer := connection.NewStreamer(connection.StreamerConfig{
		URL:               cfg.Capital.StreamingURL,
		Epics:             cfg.Stream.Epics,
		MaxRetries:        cfg.Stream.MaxRetries,
		ReconnectBaseWait: cfg.Stream.ReconnectBaseDelay,
		ReconnectMaxWait:  cfg.Stream.ReconnectMaxDelay,
		SubscribeTimeout:  cfg.Stream.SubscribeTimeout,
		Client:            connection.DefaultClientConfig(),
	}, authn, logger)

	printer := router.TickHandlerFunc(func(t model.Tick) {
		printTick(t, *verbose)
	})
	rtr := router.NewRouter(router.RouterConfig{QueueInitialSize: 1, QueueMaxSize: 1},
		streamer.Frames(), []router.TickHandler{printer}, logger)

	if err := rtr.Start(ctx); err != nil {
		logger.Error("failed to start router", "error", err)
		os.Exit(1)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := streamer.Status()
				rs := rtr.Stats()
				logger.Info("stats",
					"connected", st.Connected,
					"epic", st.Epic,
					"frames", st.FramesReceived,
					"dropped", st.FramesDropped,
					"ticks", rs.TicksRouted,
					"control", rs.ControlFrames,
					"parse_errors", rs.ParseErrors,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	runErr := streamer.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rtr.Stop(shutdownCtx)

	if runErr != nil {
		logger.Error("stream stopped", "error", runErr)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func printTick(t model.Tick, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(t, "", "  ")
		fmt.Printf("[TICK] %s %s\n", t.Epic, data)
		return
	}
	p := t.Payload()
	fmt.Printf("[TICK] epic=%s time=%s bid=%s ask=%s mid=%s spread=%s\n",
		t.Epic, p.Timestamp, dec(p.Bid), dec(p.Ask), dec(p.Mid), dec(p.Spread))
}

func dec(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.String()
}
