package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/veridoc/stmtguard-go/internal/models"
)

const defaultPrefix = "stmtguard:verdict:"

// VerdictCacheEntry is the JSON envelope stored per fingerprint.
type VerdictCacheEntry struct {
	Verdict   models.Verdict `json:"verdict"`
	CachedAt  time.Time      `json:"cached_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// VerdictCacheStats is a point-in-time snapshot of cache counters.
type VerdictCacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
}

// RedisVerdictCache stores finished verdicts keyed by document fingerprint.
// A hit short-circuits the whole verification pipeline, so entries carry
// their own expiry besides the Redis TTL and stale entries count as misses.
type RedisVerdictCache struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
	logger *logrus.Logger

	mu     sync.RWMutex
	hits   int64
	misses int64
	sets   int64
}

// NewRedisVerdictCache creates a verdict cache with the given key prefix and
// TTL. A nil logger falls back to the logrus standard logger.
func NewRedisVerdictCache(redisClient *redis.Client, prefix string, ttl time.Duration, logger *logrus.Logger) *RedisVerdictCache {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RedisVerdictCache{
		redis:  redisClient,
		ttl:    ttl,
		prefix: prefix,
		logger: logger,
	}
}

// Get returns the cached verdict for a fingerprint, if a fresh one exists.
func (c *RedisVerdictCache) Get(ctx context.Context, fingerprint string) (*models.Verdict, bool) {
	cacheKey := c.prefix + fingerprint

	data, err := c.redis.Get(ctx, cacheKey).Result()
	if err == redis.Nil {
		c.recordMiss()
		return nil, false
	}
	if err != nil {
		c.logger.WithError(err).WithField("fingerprint", fingerprint).Warn("verdict cache read failed")
		c.recordMiss()
		return nil, false
	}

	var entry VerdictCacheEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		c.logger.WithError(err).WithField("fingerprint", fingerprint).Warn("verdict cache entry corrupt")
		c.recordMiss()
		return nil, false
	}

	if time.Now().After(entry.ExpiresAt) {
		c.redis.Del(ctx, cacheKey)
		c.recordMiss()
		return nil, false
	}

	c.mu.Lock()
	c.hits++
	c.mu.Unlock()

	return &entry.Verdict, true
}

// Set stores a verdict under its document fingerprint.
func (c *RedisVerdictCache) Set(ctx context.Context, fingerprint string, verdict *models.Verdict) {
	cacheKey := c.prefix + fingerprint

	now := time.Now()
	entry := VerdictCacheEntry{
		Verdict:   *verdict,
		CachedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.WithError(err).WithField("fingerprint", fingerprint).Error("failed to encode verdict cache entry")
		return
	}

	if err := c.redis.Set(ctx, cacheKey, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("fingerprint", fingerprint).Warn("verdict cache write failed")
		return
	}

	c.mu.Lock()
	c.sets++
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"fingerprint": fingerprint,
		"label":       verdict.Label,
		"ttl":         c.ttl,
	}).Debug("verdict cached")
}

// Invalidate drops the cached verdict for one fingerprint.
func (c *RedisVerdictCache) Invalidate(ctx context.Context, fingerprint string) error {
	if err := c.redis.Del(ctx, c.prefix+fingerprint).Err(); err != nil {
		return fmt.Errorf("error invalidating verdict cache: %w", err)
	}
	return nil
}

// Clear removes every cached verdict under the configured prefix.
func (c *RedisVerdictCache) Clear(ctx context.Context) error {
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

	c.logger.WithField("entries", len(keys)).Info("verdict cache cleared")
	return nil
}

// Stats returns current cache counters.
func (c *RedisVerdictCache) Stats() VerdictCacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return VerdictCacheStats{
		Hits:   c.hits,
		Misses: c.misses,
		Sets:   c.sets,
	}
}

// LogStats emits the hit-rate summary line.
func (c *RedisVerdictCache) LogStats() {
	stats := c.Stats()
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}

	c.logger.WithFields(logrus.Fields{
		"hits":     stats.Hits,
		"misses":   stats.Misses,
		"sets":     stats.Sets,
		"hit_rate": fmt.Sprintf("%.2f%%", hitRate),
	}).Info("verdict cache stats")
}

func (c *RedisVerdictCache) recordMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}
