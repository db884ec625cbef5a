package infrastructure

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noShuffle(n int, swap func(i, j int)) {}

func TestMemoryProxyPoolCandidates(t *testing.T) {
	pool := NewMemoryProxyPool([]string{"http://p1:8080", "http://p2:8080", "http://p3:8080", "http://p4:8080"}, 2)
	pool.shuffle = noShuffle
	ctx := context.Background()

	got, err := pool.Candidates(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "http://p1:8080", got[0].URL)

	require.NoError(t, pool.MarkFailed(ctx, "http://p1:8080"))
	require.NoError(t, pool.MarkFailed(ctx, "http://p1:8080"))

	got, err = pool.Candidates(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	for _, p := range got {
		assert.NotEqual(t, "http://p1:8080", p.ID)
	}

	require.NoError(t, pool.MarkSucceeded(ctx, "http://p1:8080"))
	assert.Equal(t, 0, pool.Failures("http://p1:8080"))
}

func TestMemoryProxyPoolConcurrentMarks(t *testing.T) {
	pool := NewMemoryProxyPool([]string{"http://p1"}, 1000)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Go(func() {
			_ = pool.MarkFailed(ctx, "http://p1")
			_, _ = pool.Candidates(ctx, 3)
		})
	}
	wg.Wait()

	assert.Equal(t, 50, pool.Failures("http://p1"))
}

func newRedisPool(t *testing.T, limit int) (*RedisProxyPool, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	pool := NewRedisProxyPool(client, "test", limit)
	pool.shuffle = noShuffle
	return pool, mr
}

func TestRedisProxyPoolFailureCounters(t *testing.T) {
	pool, mr := newRedisPool(t, 2)
	ctx := context.Background()

	require.NoError(t, pool.Add(ctx, "http://b:1", "http://a:1", "http://c:1"))

	got, err := pool.Candidates(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "http://a:1", got[0].ID)
	assert.Equal(t, "http://b:1", got[1].ID)

	require.NoError(t, pool.MarkFailed(ctx, "http://a:1"))
	require.NoError(t, pool.MarkFailed(ctx, "http://a:1"))
	assert.Equal(t, "2", mr.HGet("test:proxy_failures", "http://a:1"))

	got, err = pool.Candidates(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "http://b:1", got[0].ID)

	require.NoError(t, pool.MarkSucceeded(ctx, "http://a:1"))
	got, err = pool.Candidates(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestRedisProxyPoolConcurrentMarks(t *testing.T) {
	pool, mr := newRedisPool(t, 1000)
	ctx := context.Background()
	require.NoError(t, pool.Add(ctx, "http://p1"))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Go(func() {
			_ = pool.MarkFailed(ctx, "http://p1")
		})
	}
	wg.Wait()

	assert.Equal(t, "20", mr.HGet("test:proxy_failures", "http://p1"))
}

func TestRedisProxyPoolUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()
	pool := NewRedisProxyPool(client, "", 0)

	_, err := pool.Candidates(context.Background(), 3)
	assert.Error(t, err)
}
