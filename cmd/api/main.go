// Package main implements the portal import API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/carsgate/portal-engine/engine/extract"
	"github.com/carsgate/portal-engine/engine/remote"
	"github.com/carsgate/portal-engine/engine/store"
	"github.com/carsgate/portal-engine/engine/sync"
	"github.com/carsgate/portal-engine/pkg/metrics"
	"github.com/carsgate/portal-engine/pkg/natsutil"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration.
type Config struct {
	Port            string
	DatabaseURL     string
	SQLitePath      string
	NATSURL         string
	AdminID         string
	CORSOrigin      string
	ExtractEndpoint string
	ExtractTimeout  time.Duration
	ConversionRate  float64
}

func loadConfig() Config {
	return Config{
		Port:            envOr("PORT", "8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		SQLitePath:      envOr("SQLITE_PATH", "portal.db"),
		NATSURL:         envOr("NATS_URL", "nats://localhost:4222"),
		AdminID:         envOr("ADMIN_ID", "local"),
		CORSOrigin:      envOr("CORS_ORIGIN", "*"),
		ExtractEndpoint: envOr("EXTRACT_ENDPOINT", extract.DefaultEndpoint),
		ExtractTimeout:  durationOr("EXTRACT_TIMEOUT", extract.DefaultTimeout),
		ConversionRate:  floatOr("USD_SAR_RATE", 3.75),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func floatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return fallback
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()

	// --- Remote store: Postgres when configured, embedded SQLite otherwise ---
	var (
		rs  remote.Store
		err error
	)
	if cfg.DatabaseURL != "" {
		rs, err = remote.NewPostgres(cfg.DatabaseURL, cfg.AdminID)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		logger.Info("remote store ready", "backend", "postgres")
	} else {
		rs, err = remote.NewSQLite(cfg.SQLitePath, cfg.AdminID)
		if err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
		logger.Info("remote store ready", "backend", "sqlite", "path", cfg.SQLitePath)
	}

	// --- NATS change feed ---
	// State changes are buffered so early handler fires before the
	// subscriber exists are not lost.
	stateCh := make(chan bool, 8)
	nc, err := natsutil.Connect(cfg.NATSURL, natsutil.ConnectOpts{
		Name:    "portal-api",
		MaxWait: 10 * time.Second,
		OnStateChange: func(online bool) {
			select {
			case stateCh <- online:
			default:
			}
		},
	})
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Drain()

	feed := remote.WithFeed(rs, nc, logger)

	// --- Extraction client ---
	extractor := extract.New(logger,
		extract.WithEndpoint(cfg.ExtractEndpoint),
		extract.WithTimeout(cfg.ExtractTimeout),
	)

	// --- Post store ---
	st := store.New(feed, extractor,
		store.WithLogger(logger),
		store.WithMetrics(reg),
		store.WithRate(cfg.ConversionRate),
	)
	if err := st.Hydrate(ctx); err != nil {
		return fmt.Errorf("hydrate: %w", err)
	}

	// --- Live sync ---
	subscriber := sync.New(st, logger, reg)
	if err := subscriber.Start(ctx, nc); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case online := <-stateCh:
				subscriber.SetOnline(online)
			}
		}
	}()

	// --- HTTP server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newServer(st, subscriber, reg, logger).handler(cfg.CORSOrigin),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
