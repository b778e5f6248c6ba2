package testutil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	redisTC "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/zhejian/url-shortener/shortlink/internal/infra"
)

// TestCache is a throwaway Redis shared by the link cache and the rate
// counters. URL points at database 0.
type TestCache struct {
	Client    *redis.Client
	URL       string
	container *redisTC.RedisContainer
}

func SetupTestCache(ctx context.Context) (*TestCache, error) {
	container, err := redisTC.Run(ctx, "redis:8-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("6379/tcp").WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("start redis: %w", err)
	}

	url, err := container.ConnectionString(ctx)
	if err != nil {
		return nil, abort(ctx, container, err)
	}

	client, err := infra.NewCacheClient(ctx, url)
	if err != nil {
		return nil, abort(ctx, container, err)
	}

	return &TestCache{Client: client, URL: url, container: container}, nil
}

// Peek returns a key's raw value and remaining lifetime in one round trip.
// Missing keys surface redis.Nil.
func (t *TestCache) Peek(ctx context.Context, key string) (string, time.Duration, error) {
	var (
		val *redis.StringCmd
		ttl *redis.DurationCmd
	)
	_, err := t.Client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		val = p.Get(ctx, key)
		ttl = p.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return "", 0, err
	}
	return val.Val(), ttl.Val(), nil
}

// Cleanup drops every cached link and rate counter.
func (t *TestCache) Cleanup(ctx context.Context) {
	if t == nil || t.Client == nil {
		return
	}
	t.Client.FlushDB(ctx)
}

func (t *TestCache) Teardown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	if t.Client != nil {
		errs = append(errs, t.Client.Close())
	}
	if t.container != nil {
		errs = append(errs, t.container.Terminate(ctx))
	}
	return errors.Join(errs...)
}
