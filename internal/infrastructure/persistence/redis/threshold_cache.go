package redis

import (
	"context"
	"errors"
	"time"

	"github.com/alem-hub/progression-hub/internal/domain/progression"
	"github.com/alem-hub/progression-hub/internal/domain/shared"
)

// ThresholdCache shares built threshold tables between instances.
// It implements progression.ThresholdCache.
type ThresholdCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewThresholdCache creates a threshold cache. A zero ttl uses TTLThresholds.
func NewThresholdCache(cache *Cache, ttl time.Duration) *ThresholdCache {
	if ttl <= 0 {
		ttl = TTLThresholds
	}
	return &ThresholdCache{cache: cache, ttl: ttl}
}

// GetThresholds returns the cached table for a settings key.
func (c *ThresholdCache) GetThresholds(ctx context.Context, key string) (progression.Table, error) {
	var table progression.Table
	if err := c.cache.Get(ctx, ThresholdsKey(key), &table); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, shared.WrapError("progression", "GetThresholds", shared.ErrNotFound, "thresholds not cached", err)
		}
		return nil, err
	}
	// A table that fails the basic invariant is treated as a miss and rebuilt.
	if !table.IsMonotonic() {
		return nil, shared.NewDomainError("progression", "GetThresholds", shared.ErrNotFound, "cached thresholds are corrupt")
	}
	return table, nil
}

// SetThresholds stores a table under its settings key.
func (c *ThresholdCache) SetThresholds(ctx context.Context, key string, table progression.Table) error {
	return c.cache.Set(ctx, ThresholdsKey(key), table, c.ttl)
}
