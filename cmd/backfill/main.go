// backfill fetches historical gold candles for the last N days and stores them.
// Usage: go run ./cmd/backfill --config configs/goldstream.yaml --days 30 --resolutions MINUTE_5,HOUR
//
// With -dry-run nothing is stored and no database is needed.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/goldstream/internal/api"
	"github.com/rickgao/goldstream/internal/auth"
	"github.com/rickgao/goldstream/internal/config"
	"github.com/rickgao/goldstream/internal/database"
	"github.com/rickgao/goldstream/internal/model"
	"github.com/rickgao/goldstream/internal/poller"
	"github.com/rickgao/goldstream/internal/version"
	"github.com/rickgao/goldstream/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/goldstream.example.yaml", "path to config file")
	days := flag.Int("days", 7, "days of history to fetch, ending now")
	resolutions := flag.String("resolutions", "", "comma-separated resolutions (default: backfill.resolutions)")
	maxPages := flag.Int("max-pages", 0, "page cap per resolution (default: backfill.max_pages)")
	dryRun := flag.Bool("dry-run", false, "fetch and summarize candles without a database")
	flag.Parse()

	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "backfill: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backfill: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := cfg.Logging.NewLogger(os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backfill: %v\n", err)
		os.Exit(1)
	}

	if !cfg.Database.Enabled() && !*dryRun {
		logger.Error("backfill requires a database (or -dry-run)")
		os.Exit(1)
	}
	if *days < 1 {
		logger.Error("days must be >= 1", "days", *days)
		os.Exit(1)
	}

	resNames := cfg.Backfill.Resolutions
	if *resolutions != "" {
		resNames = strings.Split(*resolutions, ",")
	}
	var resList []model.Resolution
	for _, n := range resNames {
		res := model.Resolution(strings.ToUpper(strings.TrimSpace(n)))
		if !res.Valid() {
			logger.Error("unknown resolution", "resolution", n)
			os.Exit(1)
		}
		resList = append(resList, res)
	}

	pages := cfg.Backfill.MaxPages
	if *maxPages > 0 {
		pages = *maxPages
	}

	logger.Info("starting backfill", version.LogAttrs(),
		"epic", cfg.Backfill.Epic,
		"days", *days,
		"resolutions", resNames,
		"max_pages", pages,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	authn := auth.NewAuthenticator(cfg.Capital.BaseURL, auth.Credentials{
		APIKey:     cfg.Capital.APIKey,
		Identifier: cfg.Capital.Identifier,
		Password:   cfg.Capital.Password,
	}, &http.Client{Timeout: cfg.Capital.Timeout}, logger)

	apiClient := api.NewClient(cfg.Capital.BaseURL, authn,
		api.WithLogger(logger),
		api.WithTimeout(cfg.Capital.Timeout),
		api.WithRetries(cfg.Capital.MaxRetries, time.Second),
		api.WithRateLimit(cfg.Capital.RequestsPerSecond, 1),
	)

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -*days)

	if *dryRun {
		if !summarize(ctx, apiClient, cfg.Backfill.Epic, resList, from, to, pages) {
			os.Exit(1)
		}
		return
	}

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.EnsureSchema(ctx, pool); err != nil {
		logger.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}

	store := database.NewStore(pool, logger)
	candles := writer.NewCandleWriter(writer.WriterConfig{BatchSize: cfg.Writers.BatchSize}, pool, logger)

	p := poller.New(poller.Config{
		Epic:        cfg.Backfill.Epic,
		Resolutions: resList,
		MaxPages:    pages,
		Concurrency: 1,
		Timeout:     time.Duration(*days) * time.Hour,
	}, apiClient, store, candles, logger)

	failed := 0
	for _, res := range resList {
		if ctx.Err() != nil {
			break
		}
		r := p.Backfill(ctx, res, from, to)
		status := "ok"
		if r.Err != nil {
			status = "failed: " + r.Err.Error()
			failed++
		}
		fmt.Printf("%-10s records=%-6d inserted=%-6d updated=%-6d %s\n",
			r.Resolution, r.Records, r.Inserted, r.Updated, status)
	}

	if stats, err := store.Stats(ctx); err == nil {
		for _, rs := range stats.Candles {
			fmt.Printf("stored %-10s count=%d\n", rs.Resolution, rs.Count)
		}
	}

	if failed > 0 {
		logger.Error("backfill finished with failures", "failed", failed)
		os.Exit(1)
	}
	logger.Info("backfill finished")
}

// summarize fetches each resolution into memory and prints its extent.
func summarize(ctx context.Context, c *api.Client, epic string, resList []model.Resolution, from, to time.Time, maxPages int) bool {
	ok := true
	for _, res := range resList {
		candles, err := c.GetAllPrices(ctx, epic, res, from, to, maxPages)
		if err != nil {
			fmt.Printf("%-10s failed after %d candles: %v\n", res, len(candles), err)
			ok = false
			continue
		}
		if len(candles) == 0 {
			fmt.Printf("%-10s no candles\n", res)
			continue
		}
		oldest, newest := candles[0].SnapshotTime, candles[0].SnapshotTime
		for _, cd := range candles[1:] {
			if cd.SnapshotTime.Before(oldest) {
				oldest = cd.SnapshotTime
			}
			if cd.SnapshotTime.After(newest) {
				newest = cd.SnapshotTime
			}
		}
		fmt.Printf("%-10s candles=%-6d oldest=%s newest=%s\n",
			res, len(candles), oldest.Format(time.RFC3339), newest.Format(time.RFC3339))
	}
	return ok
}
