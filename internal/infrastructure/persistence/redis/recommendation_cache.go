package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lingvohub/lingvo-engine/internal/domain/recommendation"
	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
	"github.com/lingvohub/lingvo-engine/pkg/circuitbreaker"
	"github.com/lingvohub/lingvo-engine/pkg/logger"
	"github.com/lingvohub/lingvo-engine/pkg/timeutil"
)

// RecommendationCacheConfig configures RecommendationCache.
type RecommendationCacheConfig struct {
	// TTL caps how long a list may be served from cache.
	TTL time.Duration

	// Breaker guards Redis calls; nil means circuitbreaker.CacheBreaker.
	Breaker *circuitbreaker.CircuitBreaker

	// Enabled reports whether caching is on for a user; nil means always.
	Enabled func(userID shared.UserID) bool

	Logger *slog.Logger
}

// RecommendationCache decorates a recommendation.Repository with a
// read-through cache of each user's active list. Every write through the
// decorator drops the owner's list. Reads refilter by the caller's clock, so
// a cached entry never returns an expired or completed recommendation
// created before it was cached.
type RecommendationCache struct {
	recommendation.Repository

	cache   *Cache
	ttl     time.Duration
	breaker *circuitbreaker.CircuitBreaker
	enabled func(shared.UserID) bool
	log     *slog.Logger
}

// NewRecommendationCache creates the decorator.
func NewRecommendationCache(inner recommendation.Repository, cache *Cache, cfg RecommendationCacheConfig) *RecommendationCache {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.Breaker == nil {
		cfg.Breaker = circuitbreaker.CacheBreaker(nil)
	}
	if cfg.Enabled == nil {
		cfg.Enabled = func(shared.UserID) bool { return true }
	}
	return &RecommendationCache{
		Repository: inner,
		cache:      cache,
		ttl:        cfg.TTL,
		breaker:    cfg.Breaker,
		enabled:    cfg.Enabled,
		log:        logger.OrDefault(cfg.Logger).With(logger.Component("recommendation_cache")),
	}
}

// generationTTL keeps a user's generation counter well past any read.
const generationTTL = 24 * time.Hour

// FindActiveForUser serves the active list from cache when possible.
// A list read from the database is written back only if no write for the
// user invalidated the cache in the meantime.
func (c *RecommendationCache) FindActiveForUser(ctx context.Context, userID shared.UserID, now time.Time) ([]*recommendation.Recommendation, error) {
	if !c.enabled(userID) {
		return c.Repository.FindActiveForUser(ctx, userID, now)
	}
	key := RecommendationsKey(userID.String())
	genKey := RecommendationsGenerationKey(userID.String())

	var (
		cached []*recommendation.Recommendation
		gen    int64
		hit    bool
	)
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		gen, err = c.cache.GetWithGeneration(ctx, key, genKey, &cached)
		switch {
		case errors.Is(err, ErrCacheMiss):
			// A miss is a healthy answer from Redis.
			return nil
		case err != nil:
			return err
		}
		hit = true
		return nil
	})
	switch {
	case err == nil && hit:
		return recommendation.FilterActive(cached, now), nil
	case err != nil && !circuitbreaker.IsRejected(err):
		c.log.WarnContext(ctx, "recommendation cache read failed", logger.UserID(userID.String()), logger.Err(err))
	}

	recs, dbErr := c.Repository.FindActiveForUser(ctx, userID, now)
	if dbErr != nil {
		return nil, dbErr
	}
	if err == nil {
		c.store(ctx, key, genKey, gen, recs, now)
	}
	return recs, nil
}

func (c *RecommendationCache) store(ctx context.Context, key, genKey string, gen int64, recs []*recommendation.Recommendation, now time.Time) {
	ttl := c.ttl
	for _, r := range recs {
		ttl = timeutil.Min(ttl, timeutil.TTLUntil(now, r.ExpiresAt))
	}
	if ttl <= 0 {
		return
	}
	if recs == nil {
		recs = []*recommendation.Recommendation{}
	}

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		err := c.cache.SetIfGeneration(ctx, key, genKey, gen, recs, ttl)
		if errors.Is(err, ErrStaleGeneration) {
			// A writer got in between; the next read fills the cache.
			return nil
		}
		return err
	})
	if err != nil && !circuitbreaker.IsRejected(err) {
		c.log.WarnContext(ctx, "recommendation cache write failed", logger.Err(err))
	}
}

// Invalidate drops the cached list of a user and bumps its generation. It
// bypasses the breaker: a skipped invalidation would let a half-open call
// serve a stale list.
func (c *RecommendationCache) Invalidate(ctx context.Context, userID shared.UserID) {
	id := userID.String()
	if err := c.cache.Invalidate(ctx, RecommendationsGenerationKey(id), generationTTL, RecommendationsKey(id)); err != nil {
		c.log.WarnContext(ctx, "recommendation cache invalidation failed",
			logger.UserID(id), logger.Err(err))
	}
}

// Create implements recommendation.Repository.
func (c *RecommendationCache) Create(ctx context.Context, rec *recommendation.Recommendation) error {
	if err := c.Repository.Create(ctx, rec); err != nil {
		return err
	}
	c.Invalidate(ctx, rec.UserID)
	return nil
}

// MarkShown implements recommendation.Repository.
func (c *RecommendationCache) MarkShown(ctx context.Context, rec *recommendation.Recommendation) error {
	if err := c.Repository.MarkShown(ctx, rec); err != nil {
		return err
	}
	c.Invalidate(ctx, rec.UserID)
	return nil
}

// MarkAccepted implements recommendation.Repository.
func (c *RecommendationCache) MarkAccepted(ctx context.Context, rec *recommendation.Recommendation) error {
	if err := c.Repository.MarkAccepted(ctx, rec); err != nil {
		return err
	}
	c.Invalidate(ctx, rec.UserID)
	return nil
}

// MarkCompleted implements recommendation.Repository.
func (c *RecommendationCache) MarkCompleted(ctx context.Context, rec *recommendation.Recommendation) error {
	if err := c.Repository.MarkCompleted(ctx, rec); err != nil {
		return err
	}
	c.Invalidate(ctx, rec.UserID)
	return nil
}
