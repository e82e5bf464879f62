// Package scorer computes the multi-factor score the assignment engine
// uses to rank candidate drivers for a pending order. Lower is better;
// every sub-score and the total are normalized to [0, 100].
package scorer

import (
	"dispatch/internal/domain"
	"dispatch/internal/geo"
)

// DefaultMaxDistKm is the hard-reject and normalization distance used when
// config does not override it.
const DefaultMaxDistKm = 50.0

const (
	loadBandOptimumLow  = 70.0
	loadBandOptimumHigh = 90.0
)

// RouteInfo describes the driver's current active route, if any, used to
// compute routeAffinity. A nil RouteInfo means the driver has no active
// route.
type RouteInfo struct {
	PickupIDs map[string]bool // every pickupId appearing anywhere in the route
}

// Input bundles everything the scorer needs for one (order, driver) pair
// beyond what's already on domain.Order/domain.Driver.
type Input struct {
	Order           domain.Order
	Driver          domain.Driver
	DriverProgress  float64 // combined target-progress in [0,1]; 0 = neediest
	HypotheticalUtilizationPct float64 // (currentLoad+orderLoad)/capacity * 100
	PriorityScore   float64 // 0..10, typically domain.Urgency.PriorityBoost-derived
	Route           *RouteInfo
}

// Scorer holds the configured weights and gates applied to every call.
type Scorer struct {
	Weights   domain.Weights
	MaxDistKm float64
}

// New builds a Scorer. If maxDistKm <= 0, DefaultMaxDistKm is used.
func New(weights domain.Weights, maxDistKm float64) *Scorer {
	if maxDistKm <= 0 {
		maxDistKm = DefaultMaxDistKm
	}
	return &Scorer{Weights: weights, MaxDistKm: maxDistKm}
}

// GateResult explains why a candidate was rejected before scoring, or that
// it passed every hard gate.
type GateResult struct {
	Passed bool
	Reason string
}

// Gate applies the hard pre-scoring constraints: driver must be
// available, capacity must not be exceeded, and distance must not
// exceed MaxDistKm.
func (s *Scorer) Gate(in Input, pickup geo.Point) GateResult {
	if in.Driver.Status != domain.DriverAvailable {
		return GateResult{Reason: "driver not available"}
	}
	if in.Driver.CurrentLoadKg+in.Order.LoadKg > in.Driver.CapacityKg {
		return GateResult{Reason: "order load exceeds remaining driver capacity"}
	}
	d := geo.HaversineKm(driverPoint(in.Driver), pickup)
	if d > s.MaxDistKm {
		return GateResult{Reason: "driver too far from pickup"}
	}
	return GateResult{Passed: true}
}

// Score computes the weighted total and its sub-score breakdown for one
// candidate. pickup is the order's pickup location.
func (s *Scorer) Score(in Input, pickup geo.Point) domain.ScoreBreakdown {
	b := domain.ScoreBreakdown{
		Distance: s.distanceScore(in, pickup),
		Time:     s.timeScore(in),
		Load:     s.loadScore(in),
		Priority: s.priorityScore(in),
		Route:    s.routeAffinityScore(in),
	}
	return b
}

func (s *Scorer) distanceScore(in Input, pickup geo.Point) float64 {
	km := geo.HaversineKm(driverPoint(in.Driver), pickup)
	score := km / s.MaxDistKm * 100
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

// timeScore is 100·(1-progress), progress clamped to [0,1]: a driver who
// has already met their daily target scores 0 on this factor.
func (s *Scorer) timeScore(in Input) float64 {
	progress := in.DriverProgress
	if progress > 1 {
		progress = 1
	}
	if progress < 0 {
		progress = 0
	}
	return 100 * (1 - progress)
}

func (s *Scorer) loadScore(in Input) float64 {
	u := in.HypotheticalUtilizationPct
	switch {
	case u > 100:
		return 100
	case u > loadBandOptimumHigh:
		return 10
	case u > loadBandOptimumLow:
		return 30
	default:
		return loadBandOptimumLow - u
	}
}

func (s *Scorer) priorityScore(in Input) float64 {
	score := 100 - in.PriorityScore*10
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// routeAffinityScore: same pickupId anywhere in the driver's active route
// scores 0 (best fit, the driver is already headed there); no active
// route scores 50 (neutral); any other active route scores 100 (worst,
// would force a detour).
func (s *Scorer) routeAffinityScore(in Input) float64 {
	if in.Route == nil {
		return 50
	}
	if in.Route.PickupIDs[in.Order.PickupID] {
		return 0
	}
	return 100
}

func driverPoint(d domain.Driver) geo.Point {
	return geo.Point{Lat: d.CurrentLat, Lng: d.CurrentLng}
}
