package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"threatpipe/internal/config"
	"threatpipe/internal/detect"
	"threatpipe/internal/enrich"
	"threatpipe/internal/feed"
	"threatpipe/internal/lifecycle"
	"threatpipe/internal/pipeline"
	"threatpipe/internal/quality"
	"threatpipe/internal/respond"
	"threatpipe/internal/retry"
	"threatpipe/internal/server"
	"threatpipe/internal/siem"
	"threatpipe/internal/store"
	"threatpipe/internal/telemetry"
	"threatpipe/internal/validate"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the pipeline config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
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

	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(time.Second))
		if err != nil {
			return err
		}
		defer nc.Close()
	}
	alerter := quality.NewAlerter(nc)

	enricher := enrich.NewEngine(cfg.Enrich.Timeout.Std(), cfg.Enrich.CacheSize, cfg.Enrich.CacheTTL.Std())
	enricher.SetAlerter(alerter)
	if len(cfg.Enrich.GeoTable) > 0 {
		geo, err := enrich.NewGeoEnricher(cfg.Enrich.GeoTable)
		if err != nil {
			return err
		}
		enricher.Register(geo)
	}
	enricher.Register(enrich.NewDNSEnricher(nil))
	if cfg.Enrich.ReputationURL != "" {
		token := os.Getenv(cfg.Enrich.ReputationTokenEnv)
		enricher.Register(enrich.NewReputationEnricher(cfg.Enrich.ReputationURL, token, nil))
	}

	sink := pipeline.New(validate.New(), enricher, tiered, whitelist)
	controller := feed.NewController(sink, alerter, retry.DefaultPolicy, 0)
	if err := registerFeeds(controller, cfg.Feeds); err != nil {
		return err
	}

	detector := detect.NewEngine(tiered, whitelist, cfg.Detection.MinConfidence)

	var executor respond.Executor
	if cfg.Respond.CollaboratorURL != "" {
		executor = respond.NewHTTPExecutor(cfg.Respond.CollaboratorURL, cfg.Respond.ActionTimeout.Std())
	}
	orch := respond.NewOrchestrator(executor,
		respond.NewAuditLog(0),
		respond.NewQueue(0),
		whitelist, alerter, nc,
		respond.Config{
			AutoThreshold: cfg.Respond.AutoThreshold,
			SuppressFloor: cfg.Respond.SuppressFloor,
			ActionTimeout: cfg.Respond.ActionTimeout.Std(),
			Retry:         retry.Policy{MaxAttempts: cfg.Respond.MaxAttempts},
		})

	var forwarder *siem.Forwarder
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.SIEMTopic != "" {
		forwarder = siem.NewForwarder(cfg.Kafka.Brokers, cfg.Kafka.SIEMTopic, retry.DefaultPolicy, alerter)
		defer forwarder.Close()
	}

	detectionSink := func(ctx context.Context, dets []detect.Detection) {
		for _, det := range dets {
			orch.Handle(ctx, det)
		}
		if forwarder != nil {
			if err := forwarder.PushDetections(ctx, dets); err != nil {
				slog.Error("siem push failed", "err", err)
			}
		}
	}

	reload := func() error {
		next, err := config.Load(configPath)
		if err != nil {
			return err
		}
		whitelist.Swap(next.Whitelist)
		adapters := make([]feed.Adapter, 0, len(next.Feeds))
		for _, src := range next.Feeds {
			a, err := feed.NewAdapter(src, nil)
			if err != nil {
				return err
			}
			adapters = append(adapters, a)
		}
		controller.Replace(adapters)
		slog.Info("config reloaded", "feeds", len(next.Feeds), "whitelist", whitelist.Len())
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := reload(); err != nil {
				slog.Error("reload failed", "err", err)
			}
		}
	}()

	go controller.Run(ctx)

	sweeper := lifecycle.NewSweeper(tiered, whitelist, nil, cfg.Aging.Decay)
	go sweeper.Run(ctx, cfg.Aging.SweepInterval.Std())
	go archiveLoop(ctx, tiered, cfg.Aging.ArchiveInterval.Std())

	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.TelemetryTopic != "" {
		consumer := telemetry.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TelemetryTopic, cfg.Kafka.Group, detector, telemetry.Handler(detectionSink), alerter)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				slog.Error("telemetry consumer stopped", "err", err)
			}
		}()
	}

	srv := server.New(detector, tiered, orch, detectionSink, reload)
	srv.StartMetrics(cfg.MetricsAddr)

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Router()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	slog.Info("listening", "addr", cfg.HTTPAddr, "metrics", cfg.MetricsAddr)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func registerFeeds(c *feed.Controller, sources []feed.Source) error {
	for _, src := range sources {
		a, err := feed.NewAdapter(src, nil)
		if err != nil {
			return err
		}
		c.Register(a)
	}
	return nil
}

func archiveLoop(ctx context.Context, st *store.Tiered, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := st.Archive(ctx)
			if err != nil {
				slog.Error("archive pass failed", "err", err)
				continue
			}
			if n > 0 {
				slog.Info("archived expired indicators", "count", n)
			}
		}
	}
}
