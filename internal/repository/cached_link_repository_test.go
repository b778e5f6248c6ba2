package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDB and testCache are initialized in link_repository_test.go's TestMain

func TestCachedLinkRepository_GetByCode(t *testing.T) {
	ctx := context.Background()
	cacheTTL := 5 * time.Minute

	t.Run("cache miss - fetches from db and caches", func(t *testing.T) {
		testDB.Cleanup(ctx)
		testCache.Cleanup(ctx)

		dbRepo := NewLinkRepository(testDB.Pool)
		repo := NewCachedLinkRepository(dbRepo, testCache.Client, cacheTTL)

		require.NoError(t, dbRepo.Create(ctx, newLink("miss01", "https://example.com/miss", nil)))

		link, err := repo.GetByCode(ctx, "miss01")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/miss", link.TargetURL)

		exists, err := testCache.Client.Exists(ctx, "link:miss01").Result()
		require.NoError(t, err)
		assert.Equal(t, int64(1), exists, "link should be cached after fetch")
	})

	t.Run("cache hit - served without db", func(t *testing.T) {
		testDB.Cleanup(ctx)
		testCache.Cleanup(ctx)

		dbRepo := NewLinkRepository(testDB.Pool)
		repo := NewCachedLinkRepository(dbRepo, testCache.Client, cacheTTL)

		require.NoError(t, dbRepo.Create(ctx, newLink("hit001", "https://example.com/hit", nil)))
		_, err := repo.GetByCode(ctx, "hit001")
		require.NoError(t, err)

		_, err = testDB.Pool.Exec(ctx, "DELETE FROM links WHERE short_code = $1", "hit001")
		require.NoError(t, err)

		link, err := repo.GetByCode(ctx, "hit001")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/hit", link.TargetURL)
	})

	t.Run("negative caching - stores sentinel", func(t *testing.T) {
		testDB.Cleanup(ctx)
		testCache.Cleanup(ctx)

		repo := NewCachedLinkRepository(NewLinkRepository(testDB.Pool), testCache.Client, cacheTTL)

		_, err := repo.GetByCode(ctx, "absent")
		assert.ErrorIs(t, err, ErrNotFound)

		cached, ttl, err := testCache.Peek(ctx, "link:absent")
		require.NoError(t, err)
		assert.Equal(t, "__NOT_FOUND__", cached)
		assert.LessOrEqual(t, ttl, time.Minute, "negative entries are short-lived")
	})

	t.Run("create overwrites a negative entry", func(t *testing.T) {
		testDB.Cleanup(ctx)
		testCache.Cleanup(ctx)

		repo := NewCachedLinkRepository(NewLinkRepository(testDB.Pool), testCache.Client, cacheTTL)

		_, err := repo.GetByCode(ctx, "late01")
		require.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, repo.Create(ctx, newLink("late01", "https://example.com/late", nil)))

		link, err := repo.GetByCode(ctx, "late01")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/late", link.TargetURL)
	})

	t.Run("nil cache - behaves as plain repository", func(t *testing.T) {
		testDB.Cleanup(ctx)

		dbRepo := NewLinkRepository(testDB.Pool)
		repo := NewCachedLinkRepository(dbRepo, nil, cacheTTL)

		require.NoError(t, repo.Create(ctx, newLink("nocach", "https://example.com/nc", nil)))
		link, err := repo.GetByCode(ctx, "nocach")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/nc", link.TargetURL)

		_, err = repo.GetByCode(ctx, "absent")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unreachable cache - falls back to db", func(t *testing.T) {
		testDB.Cleanup(ctx)

		broken := redis.NewClient(&redis.Options{
			Addr:        "localhost:1",
			DialTimeout: 50 * time.Millisecond,
			MaxRetries:  -1,
		})
		defer broken.Close()

		settings := DefaultBreakerSettings()
		settings.ReadyToTrip = func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 1 }

		dbRepo := NewLinkRepository(testDB.Pool)
		repo := NewCachedLinkRepository(dbRepo, broken, cacheTTL, WithBreakerSettings(settings))
		require.NoError(t, dbRepo.Create(ctx, newLink("down01", "https://example.com/down", nil)))

		for i := 0; i < 3; i++ {
			link, err := repo.GetByCode(ctx, "down01")
			require.NoError(t, err)
			assert.Equal(t, "https://example.com/down", link.TargetURL)
		}
	})
}

func TestCachedLinkRepository_Delete(t *testing.T) {
	ctx := context.Background()
	testDB.Cleanup(ctx)
	testCache.Cleanup(ctx)

	repo := NewCachedLinkRepository(NewLinkRepository(testDB.Pool), testCache.Client, 5*time.Minute)

	require.NoError(t, repo.Create(ctx, newLink("del001", "https://example.com/del", strPtr("alice"))))
	_, err := repo.GetByCode(ctx, "del001")
	require.NoError(t, err)

	t.Run("non-owner leaves cache intact", func(t *testing.T) {
		assert.ErrorIs(t, repo.Delete(ctx, "del001", "mallory"), ErrForbidden)

		link, err := repo.GetByCode(ctx, "del001")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/del", link.TargetURL)
	})

	t.Run("owner delete replaces cached link with tombstone", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, "del001", "alice"))

		cached, ttl, err := testCache.Peek(ctx, "link:del001")
		require.NoError(t, err)
		assert.Equal(t, "__NOT_FOUND__", cached)
		assert.Greater(t, ttl, time.Minute, "tombstone lives as long as a positive entry")

		_, err = repo.GetByCode(ctx, "del001")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("reader that saw the live row cannot resurrect it", func(t *testing.T) {
		link := newLink("del002", "https://example.com/race", strPtr("alice"))
		require.NoError(t, repo.Create(ctx, link))

		// Read from the db before the delete, fill the cache after it.
		stale, err := NewLinkRepository(testDB.Pool).GetByCode(ctx, "del002")
		require.NoError(t, err)
		require.NoError(t, repo.Delete(ctx, "del002", "alice"))

		data, err := json.Marshal(stale)
		require.NoError(t, err)
		repo.fill(ctx, "link:del002", string(data), 5*time.Minute)

		_, err = repo.GetByCode(ctx, "del002")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("late negative fill does not hide a new link", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, newLink("new001", "https://example.com/new", nil)))

		repo.fill(ctx, "link:new001", "__NOT_FOUND__", time.Minute)

		link, err := repo.GetByCode(ctx, "new001")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/new", link.TargetURL)
	})
}

func TestCachedLinkRepository_PassThrough(t *testing.T) {
	ctx := context.Background()
	testDB.Cleanup(ctx)
	testCache.Cleanup(ctx)

	repo := NewCachedLinkRepository(NewLinkRepository(testDB.Pool), testCache.Client, 5*time.Minute)
	require.NoError(t, repo.Create(ctx, newLink("pass01", "https://example.com", strPtr("alice"))))

	exists, err := repo.Exists(ctx, "pass01")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, repo.IncrementClicks(ctx, "pass01"))
	require.NoError(t, repo.IncrementClicks(ctx, "pass01"))

	links, err := repo.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, int64(2), links[0].ClickCount, "listing reads fresh counts from the database")
}
