// Command clickworker drains queued click events into the links table.
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
	"github.com/zhejian/url-shortener/shortlink/internal/clicks"
	"github.com/zhejian/url-shortener/shortlink/internal/config"
	"github.com/zhejian/url-shortener/shortlink/internal/infra"
	"github.com/zhejian/url-shortener/shortlink/internal/observability"
	"github.com/zhejian/url-shortener/shortlink/internal/repository"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.Setup(ctx, observability.Config{
		ServiceName:  cfg.Observability.ServiceName + "-clickworker",
		Environment:  cfg.Observability.Environment,
		OTLPEndpoint: cfg.Observability.OTLPEndpoint,
	})
	if err != nil {
		log.Fatalf("Failed to setup observability: %v", err)
	}

	code := 0
	if err := run(ctx, cfg, obs); err != nil {
		obs.Logger.Error("click worker exited with error", slog.String("error", err.Error()))
		code = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	obs.Shutdown(shutdownCtx)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config, obs *observability.Observability) error {
	db, err := infra.NewPostgresPool(ctx, cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer db.Close()

	conn, err := infra.NewBrokerConnection(cfg.Broker.URL)
	if err != nil {
		return err
	}
	defer conn.Close()

	consumer, err := clicks.NewConsumer(conn, cfg.Broker.Queue, repository.NewLinkRepository(db),
		clicks.WithTimeout(cfg.App.ClickTimeout),
		clicks.WithLogger(obs.Logger),
		clicks.WithMetrics(obs.Metrics))
	if err != nil {
		return err
	}
	defer consumer.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(gctx)
	})
	g.Go(func() error {
		// A dropped broker connection ends the worker so it can be restarted.
		closed := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-gctx.Done():
			return nil
		case err, ok := <-closed:
			if !ok || err == nil {
				return nil
			}
			return err
		}
	})

	return g.Wait()
}
