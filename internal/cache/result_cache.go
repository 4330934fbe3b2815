package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheStats tracks cache performance metrics
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
	mu     sync.RWMutex
}

// ResultCache stores serialized analysis results and dashboard aggregates in
// Redis. Entries are JSON blobs under a namespaced key with a TTL.
type ResultCache struct {
	redis  *redis.Client
	ttl    time.Duration
	stats  *CacheStats
	prefix string
	logger *slog.Logger
}

// NewResultCache creates a Redis-backed result cache with the given TTL.
func NewResultCache(redisClient *redis.Client, ttl time.Duration) *ResultCache {
	return &ResultCache{
		redis:  redisClient,
		ttl:    ttl,
		stats:  &CacheStats{},
		prefix: "result_cache:",
		logger: slog.Default().With("component", "result_cache"),
	}
}

// Get retrieves a cached entry into dest, reporting whether it was found.
func (c *ResultCache) Get(ctx context.Context, key string, dest interface{}) bool {
	data, err := c.redis.Get(ctx, c.prefix+key).Result()
	if err == redis.Nil {
		c.miss()
		return false
	}
	if err != nil {
		c.logger.Warn("redis get failed", "key", key, "error", err)
		c.miss()
		return false
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		c.logger.Warn("cached entry is not valid JSON", "key", key, "error", err)
		c.miss()
		return false
	}

	c.stats.mu.Lock()
	c.stats.Hits++
	c.stats.mu.Unlock()
	return true
}

// Set stores a value under the key. Serialization or Redis failures are
// logged, not returned: the cache is best effort.
func (c *ResultCache) Set(ctx context.Context, key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("failed to serialize cache entry", "key", key, "error", err)
		return
	}
	if err := c.redis.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("redis set failed", "key", key, "error", err)
		return
	}
	c.stats.mu.Lock()
	c.stats.Sets++
	c.stats.mu.Unlock()
}

// Invalidate removes the given keys.
func (c *ResultCache) Invalidate(ctx context.Context, keys ...string) error {
	namespaced := make([]string, len(keys))
	for i, k := range keys {
		namespaced[i] = c.prefix + k
	}
	if err := c.redis.Del(ctx, namespaced...).Err(); err != nil {
		return fmt.Errorf("error invalidating cache keys: %w", err)
	}
	return nil
}

// Clear removes all entries under the cache prefix using SCAN.
func (c *ResultCache) Clear(ctx context.Context) error {
	var keys []string
	iter := c.redis.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("error scanning cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("error clearing cache: %w", err)
	}
	c.logger.Info("cache cleared", "entries", len(keys))
	return nil
}

// GetStats returns current cache statistics
func (c *ResultCache) GetStats() CacheStats {
	c.stats.mu.RLock()
	defer c.stats.mu.RUnlock()
	return CacheStats{
		Hits:   c.stats.Hits,
		Misses: c.stats.Misses,
		Sets:   c.stats.Sets,
	}
}

func (c *ResultCache) miss() {
	c.stats.mu.Lock()
	c.stats.Misses++
	c.stats.mu.Unlock()
}
