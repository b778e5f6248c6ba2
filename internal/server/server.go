package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/zhejian/url-shortener/shortlink/internal/api"
	"github.com/zhejian/url-shortener/shortlink/internal/auth"
	"github.com/zhejian/url-shortener/shortlink/internal/clicks"
	"github.com/zhejian/url-shortener/shortlink/internal/config"
	"github.com/zhejian/url-shortener/shortlink/internal/middleware"
	"github.com/zhejian/url-shortener/shortlink/internal/observability"
	"github.com/zhejian/url-shortener/shortlink/internal/ratelimit"
	"github.com/zhejian/url-shortener/shortlink/internal/repository"
	"github.com/zhejian/url-shortener/shortlink/internal/service"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	sweepInterval   = time.Minute
)

// Deps are the connections the server is built on. Broker is only needed
// when clicks go through the queue; Obs may be nil in tests.
type Deps struct {
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Broker *amqp.Connection
	Obs    *observability.Observability
}

// Server is the HTTP server plus the background work it owns.
type Server struct {
	HTTP   *http.Server
	logger *slog.Logger

	memory *ratelimit.MemoryCounter // nil with the redis backend
	drain  func() error             // flushes in-flight click recordings
}

// NewRouter initializes all dependencies and returns a configured Gin router.
// The returned drain func must be called once the router stops serving.
func NewRouter(cfg *config.Config, deps Deps) (*gin.Engine, *ratelimit.MemoryCounter, func() error, error) {
	obs := deps.Obs
	if obs == nil {
		obs = &observability.Observability{Logger: observability.Discard(), Registry: observability.NewRegistry()}
	}
	logger, metrics := obs.Logger, obs.Metrics

	// Without trusted proxies ClientIP is the TCP peer, so X-Forwarded-For
	// cannot be used to pick a fresh rate window.
	router := gin.New()
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, nil, nil, fmt.Errorf("trusted proxies: %w", err)
	}

	linkRepo := repository.NewLinkRepository(deps.DB)
	cachedRepo := repository.NewCachedLinkRepository(linkRepo, deps.Cache, cfg.Cache.TTL,
		repository.WithCacheLogger(logger),
		repository.WithCacheMetrics(metrics))

	var (
		counter ratelimit.Counter
		memory  *ratelimit.MemoryCounter
	)
	switch cfg.RateLimit.Backend {
	case config.BackendMemory:
		memory = ratelimit.NewMemoryCounter()
		counter = memory
	default:
		counter = ratelimit.NewRedisCounter(deps.Cache)
	}
	limiter := ratelimit.NewLimiter(counter, cfg.RateLimit.Requests, cfg.RateLimit.Window,
		ratelimit.WithFailOpen(cfg.RateLimit.FailOpen),
		ratelimit.WithLogger(logger),
		ratelimit.WithMetrics(metrics))
	keyFunc, err := ratelimit.NewKeyFunc(cfg.RateLimit.KeyMode)
	if err != nil {
		return nil, nil, nil, err
	}

	clickOpts := []clicks.Option{
		clicks.WithTimeout(cfg.App.ClickTimeout),
		clicks.WithLogger(logger),
		clicks.WithMetrics(metrics),
	}
	var (
		recorder clicks.Recorder
		drain    func() error
	)
	switch cfg.Broker.ClickMode {
	case config.ClickModeQueue:
		if deps.Broker == nil {
			return nil, nil, nil, errors.New("click mode queue requires a broker connection")
		}
		publisher, err := clicks.NewPublisher(deps.Broker, cfg.Broker.Queue, clickOpts...)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create click publisher: %w", err)
		}
		recorder, drain = publisher, publisher.Close
	default:
		direct := clicks.NewDirectRecorder(linkRepo, clickOpts...)
		recorder, drain = direct, func() error { direct.Wait(); return nil }
	}

	svcOpts := []service.Option{service.WithLogger(logger), service.WithMetrics(metrics)}
	allocator := service.NewCodeAllocator(linkRepo, cfg.App.ShortCodeLen, cfg.App.ShortCodeRetries, svcOpts...)
	shortener := service.NewShortenService(cachedRepo, allocator, limiter, cfg.App.BaseURL, svcOpts...)
	resolver := service.NewRedirectService(cachedRepo, recorder, cfg.App.BaseURL, svcOpts...)
	links := service.NewLinkService(cachedRepo, linkRepo, cfg.App.BaseURL, svcOpts...)

	checks := map[string]api.Pinger{
		"database": api.PingFunc(deps.DB.Ping),
		"cache": api.PingFunc(func(ctx context.Context) error {
			return deps.Cache.Ping(ctx).Err()
		}),
	}
	if cfg.Broker.ClickMode == config.ClickModeQueue {
		checks["broker"] = api.PingFunc(func(context.Context) error {
			if deps.Broker.IsClosed() {
				return amqp.ErrClosed
			}
			return nil
		})
	}

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	handler := api.NewHandler(shortener, resolver, links, keyFunc, verifier, checks, logger)

	router.Use(
		gin.Recovery(),
		otelgin.Middleware(cfg.Observability.ServiceName),
		middleware.RequestID(),
		middleware.Logging(logger),
		middleware.Metrics(metrics),
	)
	router.GET("/metrics", gin.WrapH(observability.MetricsHandler(obs.Registry)))
	handler.RegisterRoutes(router)

	return router, memory, drain, nil
}

// NewServer initializes all dependencies and returns a configured server.
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	router, memory, drain, err := NewRouter(cfg, deps)
	if err != nil {
		return nil, err
	}

	logger := observability.Discard()
	if deps.Obs != nil {
		logger = deps.Obs.Logger
	}

	return &Server{
		HTTP: &http.Server{
			Addr:         ":" + cfg.Server.Port,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
		logger: logger,
		memory: memory,
		drain:  drain,
	}, nil
}

// ListenAndServe listens on the configured address and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.HTTP.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully and flushes pending click recordings.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("server starting", slog.String("addr", ln.Addr().String()))
		if err := s.HTTP.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})

	if s.memory != nil {
		g.Go(func() error {
			return s.memory.Run(gctx, sweepInterval)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.HTTP.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if derr := s.drain(); derr != nil {
		err = errors.Join(err, fmt.Errorf("drain click recorder: %w", derr))
	}
	return err
}
