package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/zhejian/url-shortener/shortlink/internal/config"
	"github.com/zhejian/url-shortener/shortlink/internal/infra"
	"github.com/zhejian/url-shortener/shortlink/internal/observability"
	"github.com/zhejian/url-shortener/shortlink/internal/server"
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Cancelled on SIGINT or SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.Setup(ctx, observability.Config{
		ServiceName:  cfg.Observability.ServiceName,
		Environment:  cfg.Observability.Environment,
		OTLPEndpoint: cfg.Observability.OTLPEndpoint,
	})
	if err != nil {
		log.Fatalf("Failed to setup observability: %v", err)
	}
	logger := obs.Logger

	if err := run(ctx, cfg, obs); err != nil {
		logger.Error("server exited with error", slog.String("error", err.Error()))
		shutdownObs(obs)
		os.Exit(1)
	}

	shutdownObs(obs)
	logger.Info("server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config, obs *observability.Observability) error {
	logger := obs.Logger

	if cfg.Database.MigrateOnStart {
		if err := infra.RunMigrations(cfg.Database.ConnectionString(), cfg.Database.MigrationsPath); err != nil {
			return err
		}
		logger.Info("migrations applied", slog.String("path", cfg.Database.MigrationsPath))
	}

	db, err := infra.NewPostgresPool(ctx, cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("database connected")

	cache, err := infra.NewCacheClient(ctx, cfg.Cache.ConnectionString())
	if err != nil {
		return err
	}
	defer cache.Close()
	logger.Info("cache connected")

	var broker *amqp.Connection
	if cfg.Broker.ClickMode == config.ClickModeQueue {
		broker, err = infra.NewBrokerConnection(cfg.Broker.URL)
		if err != nil {
			return err
		}
		defer broker.Close()
		logger.Info("broker connected", slog.String("queue", cfg.Broker.Queue))
	}

	srv, err := server.NewServer(cfg, server.Deps{
		DB:     db,
		Cache:  cache,
		Broker: broker,
		Obs:    obs,
	})
	if err != nil {
		return err
	}

	logger.Info("configuration loaded",
		slog.String("base_url", cfg.App.BaseURL),
		slog.String("rate_limit_backend", cfg.RateLimit.Backend),
		slog.String("rate_limit_key", cfg.RateLimit.KeyMode),
		slog.String("click_mode", cfg.Broker.ClickMode))

	return srv.ListenAndServe(ctx)
}

func shutdownObs(obs *observability.Observability) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	obs.Shutdown(ctx)
}
