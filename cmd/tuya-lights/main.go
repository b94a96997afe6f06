package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"tuya-lights/config"
	"tuya-lights/internal/application"
	"tuya-lights/internal/domain"
	"tuya-lights/internal/infra/homekit"
	"tuya-lights/internal/infra/httpapi"
	"tuya-lights/internal/infra/metrics"
	"tuya-lights/internal/infra/mqtt"
	"tuya-lights/internal/infra/pushover"
	"tuya-lights/internal/infra/tuya"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("tuya lights error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	tuyaClient := tuya.NewClient(cfg.Tuya.ClientID, cfg.Tuya.Secret, cfg.Tuya.Region)
	registry := tuya.NewRegistry(tuyaClient, logger)
	collector := metrics.NewCollector()

	var notifier application.Notifier
	if cfg.Pushover.Enabled {
		notifier = pushover.NewClient(cfg.Pushover.Token, cfg.Pushover.UserKey)
	} else {
		notifier = &application.NoopNotifier{}
	}

	// A nil StatusSource disables pushed reports; keep it untyped.
	var reports application.StatusSource
	if cfg.MQ.Enabled {
		subscriber := mqtt.NewSubscriber(tuyaClient, cfg.MQ.LinkID, logger)
		subscriber.ReportReceived = collector.StatusReportReceived
		reports = subscriber
	}

	bridge := application.NewBridge(registry, tuyaClient, reports, notifier, application.BridgeConfig{
		Debounce:     cfg.Lights.DebounceDuration(),
		FlushTimeout: cfg.Lights.FlushTimeoutDuration(),
		Observer:     collector,
	}, logger)

	if err := bridge.Load(ctx); err != nil {
		return err
	}
	collector.ObserveLights(bridge.Lights())

	var hk *homekit.Server
	if cfg.HomeKit.Enabled {
		var err error
		hk, err = homekit.NewServer(homekit.Config{
			Name:        cfg.HomeKit.Name,
			Pin:         cfg.HomeKit.Pin,
			StoragePath: cfg.HomeKit.StoragePath,
			Addr:        cfg.HomeKit.Addr,
		}, bridge.Lights(), logger)
		if err != nil {
			return err
		}
	}

	registry.StartPeriodicSync(ctx, cfg.Tuya.SyncEvery(), func(devices []domain.Device) {
		bridge.Refresh(devices)
		collector.ObserveLights(bridge.Lights())
		if hk == nil {
			return
		}
		for _, l := range hk.Unpublished(bridge.Lights()) {
			logger.Warn("new light not on the homekit bridge until restart", "device", l.ID(), "name", l.Name())
		}
	})

	api := httpapi.NewServer(httpapi.Config{
		Addr:      cfg.HTTP.Addr,
		AuthToken: cfg.HTTP.AuthToken,
		RateLimit: cfg.HTTP.RateLimit,
	}, bridge, collector.Handler(), logger)
	if err := api.Start(ctx); err != nil {
		return err
	}
	defer api.Stop()

	g, gctx := errgroup.WithContext(ctx)

	if hk != nil {
		g.Go(func() error { return hk.ListenAndServe(gctx) })
	}

	g.Go(func() error { return bridge.Run(gctx) })

	logger.Info("tuya lights running",
		"lights", len(bridge.Lights()),
		"mq", cfg.MQ.Enabled,
		"homekit", cfg.HomeKit.Enabled,
		"http", cfg.HTTP.Addr,
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
