package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zhejian/url-shortener/shortlink/internal/auth"
	"github.com/zhejian/url-shortener/shortlink/internal/config"
	"github.com/zhejian/url-shortener/shortlink/internal/model"
	"github.com/zhejian/url-shortener/shortlink/internal/observability"
)

// Limiter admits at most limit requests per client key per window.
type Limiter struct {
	counter  Counter
	limit    int
	window   time.Duration
	failOpen bool
	logger   *slog.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

type Option func(*Limiter)

// WithFailOpen admits requests when the counter store is unavailable.
func WithFailOpen(failOpen bool) Option {
	return func(l *Limiter) { l.failOpen = failOpen }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

func NewLimiter(counter Counter, limit int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		counter: counter,
		limit:   limit,
		window:  window,
		logger:  observability.Discard(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Limit is the number of requests admitted per window.
func (l *Limiter) Limit() int {
	return l.limit
}

// Admit counts one request for clientKey. Denied requests are not counted.
func (l *Limiter) Admit(ctx context.Context, clientKey string) (model.Decision, error) {
	count, allowed, resetIn, err := l.counter.Take(ctx, clientKey, l.limit, l.window)
	now := l.now()
	if err != nil {
		if !l.failOpen {
			return model.Decision{}, fmt.Errorf("admit %q: %w", clientKey, err)
		}
		l.logger.WarnContext(ctx, "rate counter unavailable, admitting request",
			slog.String("client_key", clientKey),
			slog.String("error", err.Error()),
		)
		l.metrics.RateLimitDecision(ctx, true)
		return model.Decision{
			Allowed:   true,
			Limit:     l.limit,
			Remaining: l.limit - 1,
			ResetAt:   now.Add(l.window),
		}, nil
	}

	l.metrics.RateLimitDecision(ctx, allowed)

	d := model.Decision{
		Allowed: allowed,
		Limit:   l.limit,
		ResetAt: now.Add(resetIn),
	}
	if allowed {
		d.Remaining = max(l.limit-count, 0)
	}
	return d, nil
}

// KeyFunc derives the client key a request is counted under.
type KeyFunc func(c *gin.Context) string

// KeyByIP counts requests per client address.
func KeyByIP(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// KeyByPrincipal counts authenticated callers per owner and everyone else per address.
func KeyByPrincipal(c *gin.Context) string {
	if principal, ok := auth.PrincipalFrom(c); ok {
		return "principal:" + principal
	}
	return KeyByIP(c)
}

// NewKeyFunc returns the KeyFunc for a RATE_LIMIT_KEY mode.
func NewKeyFunc(mode string) (KeyFunc, error) {
	switch mode {
	case config.KeyModeIP:
		return KeyByIP, nil
	case config.KeyModePrincipal:
		return KeyByPrincipal, nil
	default:
		return nil, fmt.Errorf("unknown rate limit key mode %q", mode)
	}
}
