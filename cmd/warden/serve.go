package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/warden/internal/gateway"
	"github.com/jkaninda/warden/internal/gateway/httpapi"
	"github.com/jkaninda/warden/internal/ratelimit"
	"github.com/jkaninda/warden/internal/scheduler"
	"github.com/jkaninda/warden/internal/security"
)

const auditPurgeJob = "audit_purge"

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API with token sweeping, audit purge and pricing reload",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen address (e.g. :8080)")
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}
	if servePort != "" {
		cfg.Server.ListenAddr = servePort
	}
	if len(cfg.Server.APIKeys) == 0 {
		return fmt.Errorf("no API keys configured: set server.api_keys or WARDEN_API_KEYS")
	}

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sc, err := initShared(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Expired confirmation tokens.
	if sc.tokenSweeper != nil {
		cancelSweeper := sc.tokenSweeper.StartSweeper(ctx, cfg.Confirmation.SweepInterval())
		defer cancelSweeper()
	}

	// Audit retention purge.
	metrics := sc.Obs.MetricsOrNil()
	var sched *scheduler.Scheduler
	if metrics != nil {
		sched = scheduler.New(scheduler.NewMetrics(metrics.Registry), logger)
	} else {
		sched = scheduler.New(nil, logger)
	}
	if sc.auditPurger != nil {
		purger := sc.auditPurger
		if err := sched.Add(scheduler.Job{
			Name: auditPurgeJob,
			Spec: cfg.Audit.PurgeSchedule,
			Run: func(ctx context.Context) error {
				_, err := purger.PurgeExpired(ctx)
				return err
			},
		}); err != nil {
			return err
		}
	}
	stopScheduler := sched.Start(ctx)
	defer stopScheduler()

	// Pricing hot-reload.
	if cfg.Budget.WatchPricing {
		watcher, err := security.NewPricingWatcher(sc.Budget, cfg.Budget.PricingFile, logger)
		if err != nil {
			return err
		}
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Error("pricing watcher stopped", slog.String("error", err.Error()))
			}
		}()
		logger.Info("watching pricing file", slog.String("path", cfg.Budget.PricingFile))
	}

	// HTTP gateway.
	gwCfg := httpapi.Config{
		ListenAddr:     cfg.Server.ListenAddr,
		EnableDocs:     cfg.Server.EnableDocs,
		APIKeys:        cfg.Server.APIKeys,
		MaxRequestSize: cfg.Server.MaxRequestSizeBytes,
		HealthChecker:  sc.Obs.Health,
	}
	if metrics != nil && cfg.MetricsEnabled() {
		gwCfg.MetricsRegistry = metrics.Registry
		gwCfg.MetricsPath = cfg.MetricsPath()
		gwCfg.Metrics = metrics
	}
	var tracer trace.Tracer
	if ts := sc.Obs.TracerOrNil(); ts != nil {
		tracer = ts.Tracer()
		gwCfg.Tracer = tracer
	}

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: cfg.Server.RateLimit.RequestsPerMinute,
		BurstSize:         cfg.Server.RateLimit.BurstSize,
	})

	var gw gateway.Gateway = httpapi.NewGateway(gwCfg, sc.Engine, sc.Parser, limiter, logger).
		WithCatalog(sc.Registry).
		WithAudit(sc.Audit).
		WithPricing(sc.Budget)

	errs := make(chan error, 1)
	go func() { errs <- gw.Start(ctx) }()

	// Wait for signal or gateway error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("stopping gateway", slog.String("error", err.Error()))
	}
	return nil
}
