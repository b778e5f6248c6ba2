package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zhejian/url-shortener/shortlink/internal/model"
	"github.com/zhejian/url-shortener/shortlink/internal/observability"
)

var (
	ErrInvalidURL          = errors.New("invalid URL")
	ErrInvalidExpiry       = errors.New("invalid expiry")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrAllocationExhausted = errors.New("could not allocate a unique short code")
	ErrNotFound            = errors.New("link not found")
	ErrExpired             = errors.New("link has expired")
	ErrForbidden           = errors.New("link belongs to another owner")
)

// MaxExpiry is the longest lifetime a link can be given at creation.
const MaxExpiry = 10 * 365 * 24 * time.Hour

// RateLimitedError carries when the caller may try again.
type RateLimitedError struct {
	Limit   int
	ResetAt time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: %d requests per window, resets at %s",
		ErrRateLimited, e.Limit, e.ResetAt.UTC().Format(time.RFC3339))
}

func (e *RateLimitedError) Unwrap() error {
	return ErrRateLimited
}

// Shortener creates short links
type Shortener interface {
	Shorten(ctx context.Context, req model.ShortenRequest) (*model.ShortenResult, error)
}

// Resolver maps a code to its target for redirection
type Resolver interface {
	Resolve(ctx context.Context, code string) (*model.ShortLink, error)
}

// LinkManager exposes owner-only operations
type LinkManager interface {
	ListByOwner(ctx context.Context, ownerID string) ([]*model.ShortLink, error)
	Get(ctx context.Context, code, ownerID string) (*model.ShortLink, error)
	Delete(ctx context.Context, code, ownerID string) error
}

type options struct {
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// Option configures the services in this package.
type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func newOptions(opts []Option) options {
	o := options{logger: observability.Discard(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func shortURL(baseURL, code string) string {
	return baseURL + "/" + code
}
