// Package main is the entry point for the tracker worker, the background
// half of the pipeline. It drains the transport work lists, decodes and
// normalizes packets, persists them and publishes position events for the
// API's realtime fan-out, and runs the cron that keeps the path view and
// flight predictions fresh.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/umich-balloons/tracker/internal/broker"
	"github.com/umich-balloons/tracker/internal/config"
	"github.com/umich-balloons/tracker/internal/dispatcher"
	"github.com/umich-balloons/tracker/internal/metrics"
	"github.com/umich-balloons/tracker/internal/normalize"
	"github.com/umich-balloons/tracker/internal/scheduler"
	"github.com/umich-balloons/tracker/internal/store"
	"github.com/umich-balloons/tracker/internal/worker"
)

func main() {
	// --- Configuration ---
	cfg, err := config.Load()
	if err != nil {
		boot, _ := zap.NewProduction()
		boot.Fatal("configuration failed", zap.Error(err))
	}

	// --- Structured Logger ---
	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	// --- Graceful Shutdown Context ---
	// Cancels the dispatcher's pop loop on SIGTERM/SIGINT; envelopes whose
	// retry waits are cut short go back to the front of their lists.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- OpenTelemetry ---
	if cfg.OTELEndpoint != "" {
		tp, err := metrics.InitTracer(context.Background(), "tracker-worker", cfg.OTELEndpoint)
		if err != nil {
			logger.Error("failed to init OTel tracer", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
		}
		mp, err := metrics.InitMeterProvider(context.Background(), "tracker-worker", cfg.OTELEndpoint)
		if err != nil {
			logger.Error("failed to init OTel meter provider", zap.Error(err))
		} else {
			defer mp.Shutdown(context.Background())
		}
		logger.Info("OTel initialized", zap.String("endpoint", cfg.OTELEndpoint))
	}

	pipelineMetrics, err := metrics.NewPipeline()
	if err != nil {
		logger.Fatal("metrics initialization failed", zap.Error(err))
	}

	// --- Queue Broker ---
	b, err := broker.New(cfg.RedisURL, cfg.RedisQueueDB, cfg.RedisCacheDB, logger)
	if err != nil {
		logger.Fatal("broker initialization failed", zap.Error(err))
	}
	defer b.Close()

	if err := b.Ping(context.Background()); err != nil {
		logger.Fatal("Redis connection failed", zap.Error(err))
	}
	logger.Info("Redis connected", zap.String("url", cfg.RedisURL))

	// --- Database Connection Pool ---
	pool, err := store.NewPool(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("database connected")

	st := store.New(pool)

	// --- Pipeline Wiring ---
	// The transport handlers and the maintenance trigger handlers share one
	// dispatcher, so a single concurrency limit governs everything popped
	// off the work lists.
	pipe := worker.New(st, b, normalize.New(logger, cfg.StrictVoltage), cfg.UpdatesChannel, pipelineMetrics, logger)
	triggers := scheduler.NewTriggers(st, logger)

	handlers := pipe.Handlers()
	for queue, h := range triggers.Handlers() {
		handlers[queue] = h
	}
	d := dispatcher.New(b, handlers, cfg.WorkerConcurrency, pipelineMetrics, logger)

	// --- Cron Scheduler ---
	cron := scheduler.NewCronScheduler(b, logger)
	if err := cron.Start(); err != nil {
		logger.Fatal("cron scheduler failed to start", zap.Error(err))
	}
	defer cron.Stop()

	// --- Dispatch Loop ---
	logger.Info("tracker worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.String("channel", cfg.UpdatesChannel),
	)
	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("dispatcher stopped", zap.Error(err))
	}
	logger.Info("tracker worker shut down cleanly")
}

// newLogger builds the production logger at the configured level. An
// unparseable level falls back to info rather than failing startup.
func newLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		cfg.Level = lvl
	}
	logger, err := cfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
