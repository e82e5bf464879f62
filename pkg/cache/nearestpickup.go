package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// NearestPickupCache memoizes a nearest-pickup lookup for a delivery
// coordinate; internal/pickups.Registry is its user. Keys are
// rounded to a ~100m grid (CoordKey) so nearby deliveries share an entry.
type NearestPickupCache struct {
	cache      Cache
	defaultTTL time.Duration
}

// CachedNearestPickup is the memoized result of a nearest-pickup lookup.
type CachedNearestPickup struct {
	PickupID   string    `json:"pickup_id"`
	DistanceKm float64   `json:"distance_km"`
	ComputedAt time.Time `json:"computed_at"`
}

// NewNearestPickupCache creates a nearest-pickup cache backed by cache, with
// defaultTTL applied when Set is called with ttl <= 0.
func NewNearestPickupCache(cache Cache, defaultTTL time.Duration) *NearestPickupCache {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	return &NearestPickupCache{
		cache:      cache,
		defaultTTL: defaultTTL,
	}
}

// Get returns the memoized nearest pickup for the given coordinate, if any.
func (nc *NearestPickupCache) Get(ctx context.Context, lat, lng float64) (*CachedNearestPickup, bool, error) {
	key := BuildNearestPickupKey(CoordKey(lat, lng))

	data, err := nc.cache.Get(ctx, key)
	if err != nil {
		if err == ErrKeyNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}

	var result CachedNearestPickup
	if err := json.Unmarshal(data, &result); err != nil {
		_ = nc.cache.Delete(ctx, key)
		return nil, false, nil
	}

	return &result, true, nil
}

// Set stores the nearest pickup for the given coordinate.
func (nc *NearestPickupCache) Set(ctx context.Context, lat, lng float64, result *CachedNearestPickup, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = nc.defaultTTL
	}

	result.ComputedAt = time.Now()

	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return nc.cache.Set(ctx, BuildNearestPickupKey(CoordKey(lat, lng)), data, ttl)
}

// Invalidate removes the memoized nearest pickup for the given coordinate.
func (nc *NearestPickupCache) Invalidate(ctx context.Context, lat, lng float64) error {
	return nc.cache.Delete(ctx, BuildNearestPickupKey(CoordKey(lat, lng)))
}

// InvalidateAll clears every memoized nearest-pickup lookup, e.g. when the
// set of active pickup points changes.
func (nc *NearestPickupCache) InvalidateAll(ctx context.Context) (int64, error) {
	return nc.cache.DeleteByPattern(ctx, fmt.Sprintf("%s*", BuildNearestPickupKey("")))
}
