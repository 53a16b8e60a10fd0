// Command feed-loader runs a single ingestion pass over every configured
// feed and exits. Useful for seeding a fresh data directory or for cron
// driven ingestion without the long-running daemon.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"threatpipe/internal/config"
	"threatpipe/internal/enrich"
	"threatpipe/internal/feed"
	"threatpipe/internal/lifecycle"
	"threatpipe/internal/pipeline"
	"threatpipe/internal/quality"
	"threatpipe/internal/retry"
	"threatpipe/internal/store"
	"threatpipe/internal/validate"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the pipeline config file")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall deadline for the pass")
	flag.Parse()

	if err := run(*configPath, *timeout); err != nil {
		slog.Error("feed load failed", "err", err)
		os.Exit(1)
	}
}

func run(configPath string, timeout time.Duration) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	hot, err := store.NewHot(cfg.Hot.Capacity)
	if err != nil {
		return err
	}
	warm, err := store.OpenWarm(cfg.DataDir)
	if err != nil {
		return err
	}
	cold, err := store.OpenCold(cfg.DataDir)
	if err != nil {
		return err
	}
	merge := lifecycle.MergePolicy{Additive: cfg.Merge.Additive}
	tiered := store.NewTiered(hot, warm, cold, merge.Func())
	defer tiered.Close()

	whitelist := lifecycle.NewWhitelist(cfg.Whitelist)
	enricher := enrich.NewEngine(cfg.Enrich.Timeout.Std(), cfg.Enrich.CacheSize, cfg.Enrich.CacheTTL.Std())
	sink := pipeline.New(validate.New(), enricher, tiered, whitelist)

	controller := feed.NewController(sink, quality.NewAlerter(nil), retry.DefaultPolicy, 0)
	for _, src := range cfg.Feeds {
		a, err := feed.NewAdapter(src, nil)
		if err != nil {
			return err
		}
		controller.Register(a)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	controller.RunOnce(ctx)

	count, err := tiered.Warm().Count()
	if err != nil {
		return err
	}
	slog.Info("feed pass complete", "feeds", len(cfg.Feeds), "stored", count, "took", time.Since(start))
	return nil
}
