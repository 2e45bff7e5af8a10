package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/raaihank/lead-sentinel/internal/config"
	"go.uber.org/zap"
)

// TokenCache keeps lead → anonymous token pairs in Redis
type TokenCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *zap.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// Stats represents cache performance statistics
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
	TotalKeys int64   `json:"total_keys"`
}

// NewTokenCache connects to Redis and verifies the connection
func NewTokenCache(cfg config.CacheConfig, logger *zap.Logger) (*TokenCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = cfg.MaxConnections
	opts.MinIdleConns = cfg.MinIdleConns

	cache := NewTokenCacheFromClient(redis.NewClient(opts), cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cache.Ping(ctx); err != nil {
		cache.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Token cache initialized",
		zap.String("redis_url", maskRedisURL(cfg.RedisURL)),
		zap.Int("max_connections", cfg.MaxConnections),
		zap.Duration("default_ttl", cfg.DefaultTTL))

	return cache, nil
}

// NewTokenCacheFromClient wraps an existing client
func NewTokenCacheFromClient(client *redis.Client, cfg config.CacheConfig, logger *zap.Logger) *TokenCache {
	return &TokenCache{
		client: client,
		ttl:    cfg.DefaultTTL,
		prefix: cfg.KeyPrefix,
		logger: logger,
	}
}

// Get returns the cached token of a lead. found is false on a miss.
func (c *TokenCache) Get(ctx context.Context, leadID string) (string, bool, error) {
	token, err := c.client.Get(ctx, c.key(leadID)).Result()
	if errors.Is(err, redis.Nil) {
		c.misses.Add(1)
		return "", false, nil
	}
	if err != nil {
		c.misses.Add(1)
		return "", false, fmt.Errorf("token cache lookup failed: %w", err)
	}

	c.hits.Add(1)
	return token, true, nil
}

// Set stores a token with the default TTL
func (c *TokenCache) Set(ctx context.Context, leadID, token string) error {
	if err := c.client.Set(ctx, c.key(leadID), token, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache token: %w", err)
	}
	return nil
}

// GetStats returns cache performance statistics
func (c *TokenCache) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}

	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	var keys int64
	iter := c.client.Scan(ctx, 0, c.key("*"), 0).Iterator()
	for iter.Next(ctx) {
		keys++
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan cache keys: %w", err)
	}
	stats.TotalKeys = keys

	return stats, nil
}

// Ping checks the Redis connection
func (c *TokenCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *TokenCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *TokenCache) key(leadID string) string {
	return fmt.Sprintf("%s:token:%s", c.prefix, leadID)
}

// maskRedisURL masks the password in a Redis URL for logging
func maskRedisURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	if colon < 0 || strings.HasPrefix(userPart[colon:], "://") {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
