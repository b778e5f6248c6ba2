package repository

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/zhejian/url-shortener/shortlink/internal/model"
	"github.com/zhejian/url-shortener/shortlink/internal/observability"
)

const (
	notFoundSentinel = "__NOT_FOUND__"
	maxNegativeTTL   = time.Minute
)

// CachedLinkRepository puts a Redis cache-aside layer in front of a LinkStore.
// Cache failures never fail a request: calls run through a circuit breaker
// and an open breaker simply bypasses the cache.
type CachedLinkRepository struct {
	db      LinkStore
	cache   *redis.Client
	ttl     time.Duration
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
	metrics *observability.Metrics
}

// CacheOption configures a CachedLinkRepository
type CacheOption func(*CachedLinkRepository)

func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(r *CachedLinkRepository) { r.logger = logger }
}

func WithCacheMetrics(m *observability.Metrics) CacheOption {
	return func(r *CachedLinkRepository) { r.metrics = m }
}

// WithBreakerSettings replaces the default circuit breaker settings.
func WithBreakerSettings(st gobreaker.Settings) CacheOption {
	return func(r *CachedLinkRepository) { r.breaker = gobreaker.NewCircuitBreaker(st) }
}

// DefaultBreakerSettings trips after five consecutive cache failures and
// lets a trial request through after thirty seconds. A cache miss is not a failure.
func DefaultBreakerSettings() gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "link-cache",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
	}
}

// NewCachedLinkRepository wraps db with cache. A nil cache disables caching.
func NewCachedLinkRepository(db LinkStore, cache *redis.Client, ttl time.Duration, opts ...CacheOption) *CachedLinkRepository {
	r := &CachedLinkRepository{
		db:      db,
		cache:   cache,
		ttl:     ttl,
		breaker: gobreaker.NewCircuitBreaker(DefaultBreakerSettings()),
		logger:  observability.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func cacheKey(code string) string {
	return "link:" + code
}

func (r *CachedLinkRepository) negativeTTL() time.Duration {
	if r.ttl > 0 && r.ttl < maxNegativeTTL {
		return r.ttl
	}
	return maxNegativeTTL
}

// GetByCode with cache-aside pattern and negative caching
func (r *CachedLinkRepository) GetByCode(ctx context.Context, code string) (*model.ShortLink, error) {
	key := cacheKey(code)

	if r.cache != nil {
		res, err := r.breaker.Execute(func() (interface{}, error) {
			return r.cache.Get(ctx, key).Result()
		})
		switch {
		case err == nil:
			cached := res.(string)
			if cached == notFoundSentinel {
				r.metrics.CacheLookup(ctx, "negative_hit")
				return nil, ErrNotFound
			}
			var link model.ShortLink
			if jerr := json.Unmarshal([]byte(cached), &link); jerr == nil {
				r.metrics.CacheLookup(ctx, "hit")
				return &link, nil
			}
			r.logger.WarnContext(ctx, "discarding unreadable cache entry", slog.String("key", key))
		case errors.Is(err, redis.Nil):
			r.metrics.CacheLookup(ctx, "miss")
		default:
			r.metrics.CacheLookup(ctx, "error")
			r.logger.DebugContext(ctx, "cache read skipped", slog.String("error", err.Error()))
		}
	}

	link, err := r.db.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			r.fill(ctx, key, notFoundSentinel, r.negativeTTL())
		}
		return nil, err
	}

	// Fills never overwrite: a write-through or delete tombstone that landed
	// after the db read wins.
	if data, jerr := json.Marshal(link); jerr == nil {
		r.fill(ctx, key, string(data), r.ttl)
	}
	return link, nil
}

// Create writes through so the first redirect is served from cache and any
// negative entry for the code is overwritten.
func (r *CachedLinkRepository) Create(ctx context.Context, link *model.ShortLink) error {
	if err := r.db.Create(ctx, link); err != nil {
		return err
	}
	r.setLink(ctx, link)
	return nil
}

// Delete removes the link and replaces its cache entry with a tombstone.
// Deleted codes are never reissued, so the tombstone lives as long as any
// positive entry could.
func (r *CachedLinkRepository) Delete(ctx context.Context, code, ownerID string) error {
	if err := r.db.Delete(ctx, code, ownerID); err != nil {
		return err
	}
	key := cacheKey(code)
	if err := r.set(ctx, key, notFoundSentinel, r.ttl); err != nil {
		r.logger.ErrorContext(ctx, "cache tombstone failed, deleted link may still redirect until it expires",
			slog.String("key", key),
			slog.Duration("ttl", r.ttl),
			slog.String("error", err.Error()))
	}
	return nil
}

func (r *CachedLinkRepository) Exists(ctx context.Context, code string) (bool, error) {
	return r.db.Exists(ctx, code)
}

func (r *CachedLinkRepository) IncrementClicks(ctx context.Context, code string) error {
	return r.db.IncrementClicks(ctx, code)
}

func (r *CachedLinkRepository) ListByOwner(ctx context.Context, ownerID string) ([]*model.ShortLink, error) {
	return r.db.ListByOwner(ctx, ownerID)
}

func (r *CachedLinkRepository) setLink(ctx context.Context, link *model.ShortLink) {
	data, err := json.Marshal(link)
	if err != nil {
		return
	}
	if err := r.set(ctx, cacheKey(link.Code), string(data), r.ttl); err != nil {
		r.logger.DebugContext(ctx, "cache write skipped", slog.String("code", link.Code), slog.String("error", err.Error()))
	}
}

func (r *CachedLinkRepository) set(ctx context.Context, key, value string, ttl time.Duration) error {
	if r.cache == nil {
		return nil
	}
	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, r.cache.Set(ctx, key, value, ttl).Err()
	})
	return err
}

// fill stores value only when key is absent.
func (r *CachedLinkRepository) fill(ctx context.Context, key, value string, ttl time.Duration) {
	if r.cache == nil {
		return
	}
	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, r.cache.SetNX(ctx, key, value, ttl).Err()
	})
	if err != nil {
		r.logger.DebugContext(ctx, "cache fill skipped", slog.String("key", key), slog.String("error", err.Error()))
	}
}

var _ LinkStore = (*CachedLinkRepository)(nil)
