// Package main is the entry point for the tracker API, the edge service
// that accepts transmissions from the radio gateways, serves telemetry
// lookups and runs the realtime viewport socket.
//
// Design constraints (enforced here):
//   - Ingest never blocks on Postgres. Transmissions are acknowledged as
//     soon as they sit in a Redis work list; the worker binary does the
//     decoding and persistence.
//   - The viewport socket and the read endpoints share one pgx pool and
//     one cache, so a map full of viewers costs the database little.
//
// @title        Balloon Tracker API
// @version      1.0
// @description  Ingests APRS, LoRa and Iridium transmissions into the work queues and serves the live map: path history, telemetry lookups and per-viewport position streaming.
// @host         localhost:8000
// @BasePath     /
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/umich-balloons/tracker/internal/auth"
	"github.com/umich-balloons/tracker/internal/broker"
	"github.com/umich-balloons/tracker/internal/config"
	"github.com/umich-balloons/tracker/internal/grid"
	"github.com/umich-balloons/tracker/internal/handler"
	"github.com/umich-balloons/tracker/internal/metrics"
	"github.com/umich-balloons/tracker/internal/realtime"
	"github.com/umich-balloons/tracker/internal/store"
)

func main() {
	// ── Configuration ──────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		boot, _ := zap.NewProduction()
		boot.Fatal("configuration failed", zap.Error(err))
	}

	// ── Structured Logger ──────────────────────────────────────────────────
	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	// ── OpenTelemetry Tracer ───────────────────────────────────────────────
	if cfg.OTELEndpoint != "" {
		tp, err := metrics.InitTracer(context.Background(), "tracker-api", cfg.OTELEndpoint)
		if err != nil {
			logger.Error("failed to init OTel tracer", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
			logger.Info("OTel tracer initialized", zap.String("endpoint", cfg.OTELEndpoint))
		}
	}

	// ── Queue Broker ───────────────────────────────────────────────────────
	b, err := broker.New(cfg.RedisURL, cfg.RedisQueueDB, cfg.RedisCacheDB, logger)
	if err != nil {
		logger.Fatal("broker initialization failed", zap.Error(err))
	}
	defer b.Close()

	if err := b.Ping(context.Background()); err != nil {
		logger.Fatal("Redis connection failed", zap.Error(err))
	}
	logger.Info("Redis connected", zap.String("url", cfg.RedisURL))

	// ── Database Connection Pool (instrumented with OTel) ──────────────────
	pool, err := store.NewPool(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("database connected (OTel-instrumented)")

	st := store.New(pool)

	// ── Iridium Token Verifier ─────────────────────────────────────────────
	verifier, err := auth.NewVerifier(cfg.IridiumPublicKey)
	if err != nil {
		logger.Fatal("iridium verifier initialization failed", zap.Error(err))
	}

	// ── Realtime Fan-Out ───────────────────────────────────────────────────
	// One registry and one grid shared by the socket handler (which fills
	// rooms) and the dispatcher (which broadcasts into them).
	registry := realtime.NewRegistry()
	g := grid.New(cfg.GridResolution, logger)
	rtd := realtime.NewDispatcher(b, registry, g, cfg.UpdatesChannel, logger)

	rtCtx, rtCancel := context.WithCancel(context.Background())
	defer rtCancel()
	rtDone := make(chan struct{})
	go func() {
		defer close(rtDone)
		if err := rtd.Run(rtCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("realtime dispatcher stopped", zap.Error(err))
		}
	}()

	// ── HTTP Server ────────────────────────────────────────────────────────
	e := echo.New()
	e.HideBanner = true

	// OTel tracing middleware
	e.Use(otelecho.Middleware("tracker-api"))

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("HTTP request",
				zap.String("URI", v.URI),
				zap.Int("status", v.Status),
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	handler.NewIngestHandler(b, verifier, logger).Register(e)
	handler.NewViewHandler(st, b, logger).Register(e)
	handler.NewSocketHandler(st, b, registry, g, cfg.CatchupHistorySeconds, logger).Register(e)

	go func() {
		logger.Info("tracker api listening", zap.String("addr", cfg.ListenAddr()))
		if err := e.Start(cfg.ListenAddr()); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failure", zap.Error(err))
		}
	}()

	// ── Graceful Shutdown ──────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Echo shutdown error", zap.Error(err))
	}

	rtCancel()
	select {
	case <-rtDone:
	case <-shutdownCtx.Done():
	}
	logger.Info("tracker api shut down cleanly")
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
