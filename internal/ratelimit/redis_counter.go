package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript increments only below the limit so denied requests never
// extend or inflate the window. A key left without a TTL gets one.
var takeScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local allowed = 0
if current < limit then
  current = redis.call('INCR', KEYS[1])
  allowed = 1
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], window)
  ttl = window
end
return {current, allowed, ttl}
`)

// RedisCounter keeps windows in Redis so every gateway instance shares them.
type RedisCounter struct {
	client redis.Scripter
	prefix string
}

// NewRedisCounter stores windows under "ratelimit:{key}".
func NewRedisCounter(client redis.Scripter) *RedisCounter {
	return &RedisCounter{client: client, prefix: "ratelimit:"}
}

func (r *RedisCounter) Take(ctx context.Context, key string, limit int, window time.Duration) (int, bool, time.Duration, error) {
	res, err := takeScript.Run(ctx, r.client, []string{r.prefix + key}, limit, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, false, 0, fmt.Errorf("rate counter: %w", err)
	}
	if len(res) != 3 {
		return 0, false, 0, fmt.Errorf("rate counter: unexpected reply %v", res)
	}
	return int(res[0]), res[1] == 1, time.Duration(res[2]) * time.Millisecond, nil
}

var _ Counter = (*RedisCounter)(nil)
