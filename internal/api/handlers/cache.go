package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/veridoc/stmtguard-go/internal/cache"
)

// VerdictCacheAdmin is the cache surface the admin endpoints need.
type VerdictCacheAdmin interface {
	Stats() cache.VerdictCacheStats
	Clear(ctx context.Context) error
	Invalidate(ctx context.Context, fingerprint string) error
}

// CacheHandler exposes operator endpoints over the verdict cache.
type CacheHandler struct {
	cache  VerdictCacheAdmin
	logger *logrus.Logger
}

// NewCacheHandler creates the handler.
func NewCacheHandler(verdictCache VerdictCacheAdmin, logger *logrus.Logger) *CacheHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &CacheHandler{
		cache:  verdictCache,
		logger: logger,
	}
}

// GetStats handles GET /api/v1/admin/cache/stats.
func (h *CacheHandler) GetStats(c *gin.Context) {
	if h.cache == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "verdict cache disabled"})
		return
	}

	stats := h.cache.Stats()
	total := stats.Hits + stats.Misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total)
	}

	c.JSON(http.StatusOK, gin.H{
		"stats":     stats,
		"hit_rate":  hitRate,
		"timestamp": time.Now().UTC(),
	})
}

// ClearCache handles POST /api/v1/admin/cache/clear. Clearing forces every
// document through the full pipeline again; it exists for model or rule
// rollouts where stale verdicts must not be served.
func (h *CacheHandler) ClearCache(c *gin.Context) {
	if h.cache == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "verdict cache disabled"})
		return
	}

	if fingerprint := c.Query("fingerprint"); fingerprint != "" {
		if err := h.cache.Invalidate(c.Request.Context(), fingerprint); err != nil {
			h.logger.WithError(err).Error("failed to invalidate cache entry")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to invalidate cache entry"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "cache entry invalidated", "fingerprint": fingerprint})
		return
	}

	if err := h.cache.Clear(c.Request.Context()); err != nil {
		h.logger.WithError(err).Error("failed to clear verdict cache")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear verdict cache"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "verdict cache cleared"})
}
