// Package pickups is the static registry of pickup points (depots/hubs)
// drivers collect orders from. Pickup points are immutable within a
// planning horizon, so unlike orders and drivers they are loaded once
// from configuration rather than read from the persistence gateway on
// every tick.
package pickups

import (
	"context"

	"dispatch/internal/domain"
	"dispatch/internal/geo"
	"dispatch/pkg/cache"
	"dispatch/pkg/config"
)

// Registry resolves pickupIds to coordinates and, for deliveries missing a
// pickupId, finds the nearest configured pickup point. Nearest-pickup
// lookups are memoized through a NearestPickupCache when one is supplied.
type Registry struct {
	points []domain.PickupPoint
	byID   map[string]domain.PickupPoint
	near   *cache.NearestPickupCache
}

// New builds a Registry from the configured pickup points. near may be nil,
// in which case nearest-pickup lookups are never cached.
func New(cfg config.PickupsConfig, near *cache.NearestPickupCache) *Registry {
	r := &Registry{
		byID: make(map[string]domain.PickupPoint, len(cfg.Points)),
		near: near,
	}
	for _, p := range cfg.Points {
		pp := domain.PickupPoint{ID: p.ID, Lat: p.Lat, Lng: p.Lng, Name: p.Name}
		r.points = append(r.points, pp)
		r.byID[pp.ID] = pp
	}
	return r
}

// All returns every configured pickup point, in configuration order. The
// slice is owned by the Registry and must not be mutated by callers.
func (r *Registry) All() []domain.PickupPoint {
	return r.points
}

// Lookup resolves a pickupId to its coordinates. It satisfies
// assignment.PickupLookup.
func (r *Registry) Lookup(pickupID string) (geo.Point, bool) {
	p, ok := r.byID[pickupID]
	if !ok {
		return geo.Point{}, false
	}
	return geo.Point{Lat: p.Lat, Lng: p.Lng}, true
}

// Nearest returns the configured pickup point closest (great-circle) to
// (lat, lng), used when a delivery carries no pickupId and must be
// assigned to the nearest hub. The result is served from the nearest-pickup cache when
// present; a cache miss or absent cache falls through to a linear scan,
// which is cheap since a deployment's pickup count is small (tens, not
// thousands).
func (r *Registry) Nearest(ctx context.Context, lat, lng float64) (domain.PickupPoint, bool) {
	if len(r.points) == 0 {
		return domain.PickupPoint{}, false
	}

	if r.near != nil {
		if hit, ok, err := r.near.Get(ctx, lat, lng); err == nil && ok {
			if p, ok := r.byID[hit.PickupID]; ok {
				return p, true
			}
		}
	}

	best := r.points[0]
	bestKm := geo.HaversineKm(geo.Point{Lat: lat, Lng: lng}, geo.Point{Lat: best.Lat, Lng: best.Lng})
	for _, p := range r.points[1:] {
		d := geo.HaversineKm(geo.Point{Lat: lat, Lng: lng}, geo.Point{Lat: p.Lat, Lng: p.Lng})
		if d < bestKm {
			best, bestKm = p, d
		}
	}

	if r.near != nil {
		_ = r.near.Set(ctx, lat, lng, &cache.CachedNearestPickup{PickupID: best.ID, DistanceKm: bestKm}, 0)
	}

	return best, true
}
