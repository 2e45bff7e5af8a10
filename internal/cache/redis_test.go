package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/raaihank/lead-sentinel/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T) (*TokenCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := config.CacheConfig{DefaultTTL: time.Hour, KeyPrefix: "test"}
	c := NewTokenCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), cfg, zap.NewNop())
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestTokenCache_GetSet(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	_, found, err := c.Get(ctx, "lead-1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, "lead-1", "anon-1"))
	assert.Equal(t, time.Hour, mr.TTL("test:token:lead-1"))

	token, found, err := c.Get(ctx, "lead-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "anon-1", token)

	stats, err := c.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.TotalKeys)
	assert.InDelta(t, 50.0, stats.HitRate, 0.001)
}

func TestTokenCache_Ping(t *testing.T) {
	c, mr := newTestCache(t)
	require.NoError(t, c.Ping(context.Background()))

	mr.Close()
	assert.Error(t, c.Ping(context.Background()))
}

func TestNewTokenCache_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	c, err := NewTokenCache(config.CacheConfig{
		RedisURL:       "redis://" + addr + "/0",
		MaxConnections: 2,
		DefaultTTL:     time.Minute,
		KeyPrefix:      "test",
	}, zap.NewNop())
	assert.ErrorContains(t, err, "failed to connect to Redis")
	assert.Nil(t, c)
}

func TestNewTokenCache(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := NewTokenCache(config.CacheConfig{
		RedisURL:       "redis://" + mr.Addr() + "/0",
		MaxConnections: 2,
		DefaultTTL:     time.Minute,
		KeyPrefix:      "test",
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	require.NoError(t, c.Set(context.Background(), "lead-1", "anon-1"))
	assert.True(t, mr.Exists("test:token:lead-1"))
}

func TestTokenCache_ConnectionError(t *testing.T) {
	c, mr := newTestCache(t)
	mr.Close()

	_, found, err := c.Get(context.Background(), "lead-1")
	assert.Error(t, err)
	assert.False(t, found)
}

func TestMaskRedisURL(t *testing.T) {
	assert.Equal(t, "redis://:***@cache:6379/0", maskRedisURL("redis://:hunter2@cache:6379/0"))
	assert.Equal(t, "redis://cache:6379/0", maskRedisURL("redis://cache:6379/0"))
}
