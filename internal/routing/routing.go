// Package routing implements the capacitated multi-pickup route optimizer:
// it allocates vehicles across pickup points in proportion to the SLA
// pressure each pickup is under, splits deliveries round-robin respecting
// vehicle capacity, then sequences each vehicle's stops with a
// nearest-neighbour pass improved by a single bounded 2-opt sweep.
package routing

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/domain"
	"dispatch/internal/geo"
	"dispatch/pkg/metrics"
	"dispatch/pkg/telemetry"
)

// Store is the subset of the persistence gateway the optimizer depends on.
type Store interface {
	InsertRoute(ctx context.Context, r domain.Route) error
	InsertRouteOptimizationLog(ctx context.Context, log domain.RouteOptimizationLog) error
	InsertDispatchAlert(ctx context.Context, a domain.DispatchAlert) error
}

// Config tunes the optimizer's heuristics. Zero-value fields fall back to
// the package defaults in New.
type Config struct {
	AvgMinPerDelivery float64 // minutes of service time budgeted per delivery when sizing the fleet
	ServiceTimeMin    float64 // minutes spent at each stop, added to travel time
	SpeedKph          float64 // straight-line travel speed assumption
	TwoOptMaxN        int     // skip 2-opt above this many stops on one vehicle
}

const (
	defaultAvgMinPerDelivery = 10.0
	defaultServiceTimeMin    = 5.0
	defaultTwoOptMaxN        = 30
)

// Engine is the route optimizer.
type Engine struct {
	store   Store
	cfg     Config
	metrics *metrics.Metrics
	now     func() time.Time
}

// New builds an Engine, filling unset Config fields with defaults.
func New(store Store, cfg Config, m *metrics.Metrics) *Engine {
	if cfg.AvgMinPerDelivery <= 0 {
		cfg.AvgMinPerDelivery = defaultAvgMinPerDelivery
	}
	if cfg.ServiceTimeMin <= 0 {
		cfg.ServiceTimeMin = defaultServiceTimeMin
	}
	if cfg.SpeedKph <= 0 {
		cfg.SpeedKph = geo.DefaultSpeedKph
	}
	if cfg.TwoOptMaxN <= 0 {
		cfg.TwoOptMaxN = defaultTwoOptMaxN
	}
	return &Engine{store: store, cfg: cfg, metrics: m, now: time.Now}
}

// Input is one planning run's worth of pickups, deliveries, and vehicles.
type Input struct {
	Pickups     []domain.PickupPoint
	Deliveries  []domain.Order
	Vehicles    []domain.Vehicle
	SLAMinutes  float64
}

// Summary aggregates one planning run across every route produced.
type Summary struct {
	VehiclesUsed          int
	TotalDeliveries       int
	AvgPerVehicle         float64
	OverallUtilizationPct float64
}

// Result is the full output of one Optimize call.
type Result struct {
	Routes   []domain.Route
	Summary  Summary
	Degraded bool
}

const defaultSLAMinutes = 120.0

// Optimize runs the full planning pipeline and persists every route and
// optimization log it produces. Deliveries that cannot be placed on any
// vehicle raise a dispatch alert and are left for the next cycle.
// Deliveries are split across vehicles round-robin in the order given;
// callers wanting deadline- or load-aware distribution pre-sort
// in.Deliveries themselves.
func (e *Engine) Optimize(ctx context.Context, in Input) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "routing.Optimize")
	defer span.End()
	start := e.now()

	slaMinutes := in.SLAMinutes
	if slaMinutes <= 0 {
		slaMinutes = defaultSLAMinutes
	}

	pickupByID := make(map[string]domain.PickupPoint, len(in.Pickups))
	for _, p := range in.Pickups {
		pickupByID[p.ID] = p
	}

	grouped, groupOrder := e.groupByPickup(in.Deliveries, in.Pickups, pickupByID)
	allocation := allocateVehicles(groupOrder, grouped, in.Vehicles, e.cfg.AvgMinPerDelivery, slaMinutes)

	var (
		routes   []domain.Route
		degraded bool
		vehiclesUsed int
		totalDeliveries int
		totalCapacity float64
		totalLoad float64
	)

	vehiclePool := in.Vehicles
	cursor := 0
	for _, pickupID := range groupOrder {
		deliveries := grouped[pickupID]
		n := allocation[pickupID]
		if n <= 0 {
			e.alertUncovered(ctx, pickupID, deliveries, domain.AlertDispatchFailed)
			continue
		}
		assigned := vehiclePool[cursor : cursor+n]
		cursor += n

		split, unplaced := splitRoundRobin(deliveries, assigned)
		if len(unplaced) > 0 {
			e.alertUncovered(ctx, pickupID, unplaced, domain.AlertOptimizationNeeded)
		}

		pickup := pickupByID[pickupID]
		for _, vb := range split {
			if len(vb.orders) == 0 {
				continue
			}
			route, log, err := e.buildRoute(pickup, vb.vehicle, vb.orders)
			if err != nil {
				degraded = true
			}
			if log.Status != domain.OptimizationOK {
				degraded = true
			}

			if err := e.store.InsertRoute(ctx, route); err != nil {
				return nil, fmt.Errorf("insert route for driver %s: %w", vb.vehicle.DriverID, err)
			}
			if err := e.store.InsertRouteOptimizationLog(ctx, log); err != nil {
				return nil, fmt.Errorf("insert route optimization log for driver %s: %w", vb.vehicle.DriverID, err)
			}

			routes = append(routes, route)
			vehiclesUsed++
			totalDeliveries += len(vb.orders)
			totalCapacity += vb.vehicle.CapacityKg
			for _, o := range vb.orders {
				totalLoad += o.LoadKg
			}
		}
	}

	summary := Summary{
		VehiclesUsed:    vehiclesUsed,
		TotalDeliveries: totalDeliveries,
	}
	if vehiclesUsed > 0 {
		summary.AvgPerVehicle = float64(totalDeliveries) / float64(vehiclesUsed)
	}
	if totalCapacity > 0 {
		summary.OverallUtilizationPct = totalLoad / totalCapacity * 100
	}

	if e.metrics != nil {
		status := "ok"
		if degraded {
			status = "degraded"
		}
		e.metrics.RecordOptimize(status, e.now().Sub(start), vehiclesUsed, sumDistance(routes))
	}
	telemetry.SetAttributes(ctx, telemetry.OptimizeAttributes(vehiclesUsed, totalDeliveries, sumDistance(routes), degraded)...)

	return &Result{Routes: routes, Summary: summary, Degraded: degraded}, nil
}

func sumDistance(routes []domain.Route) float64 {
	var total float64
	for _, r := range routes {
		total += r.TotalDistanceKm
	}
	return total
}

// groupByPickup buckets deliveries by pickupId, assigning deliveries with
// an unknown or empty pickupId to the nearest pickup point. groupOrder
// preserves the input pickup order deterministically.
func (e *Engine) groupByPickup(deliveries []domain.Order, pickups []domain.PickupPoint, pickupByID map[string]domain.PickupPoint) (map[string][]domain.Order, []string) {
	grouped := make(map[string][]domain.Order)
	var order []string
	seen := make(map[string]bool)

	addToOrder := func(id string) {
		if !seen[id] {
			seen[id] = true
			order = append(order, id)
		}
	}

	for _, p := range pickups {
		addToOrder(p.ID)
	}

	for _, d := range deliveries {
		pickupID := d.PickupID
		if _, ok := pickupByID[pickupID]; pickupID == "" || !ok {
			pickupID = nearestPickup(d, pickups)
			if pickupID == "" {
				continue // no pickups configured at all; nothing can be routed
			}
			addToOrder(pickupID)
		}
		grouped[pickupID] = append(grouped[pickupID], d)
	}

	// Drop pickups with no deliveries from the iteration order so vehicle
	// allocation isn't wasted on an empty group.
	filtered := order[:0]
	for _, id := range order {
		if len(grouped[id]) > 0 {
			filtered = append(filtered, id)
		}
	}
	return grouped, filtered
}

func nearestPickup(d domain.Order, pickups []domain.PickupPoint) string {
	best := ""
	bestDist := math.Inf(1)
	deliveryPoint := geo.Point{Lat: d.DeliveryLat, Lng: d.DeliveryLng}
	for _, p := range pickups {
		dist := geo.HaversineKm(deliveryPoint, geo.Point{Lat: p.Lat, Lng: p.Lng})
		if dist < bestDist {
			bestDist = dist
			best = p.ID
		}
	}
	return best
}

// allocateVehicles sizes the fleet per pickup from SLA pressure, raised
// where necessary to the vehicle count the pickup's total load requires,
// with a proportional fallback when total demand exceeds the fleet.
func allocateVehicles(order []string, grouped map[string][]domain.Order, vehicles []domain.Vehicle, avgMinPerDelivery, slaMinutes float64) map[string]int {
	avgCapacity := averageCapacity(vehicles)

	needed := make(map[string]int, len(order))
	totalNeeded := 0
	for _, id := range order {
		deliveries := grouped[id]
		count := len(deliveries)
		timeNeeded := float64(count) * avgMinPerDelivery
		n := int(math.Ceil(timeNeeded / slaMinutes))

		if avgCapacity > 0 {
			var load float64
			for _, d := range deliveries {
				load += d.LoadKg
			}
			if byCapacity := int(math.Ceil(load / avgCapacity)); byCapacity > n {
				n = byCapacity
			}
		}
		if n < 1 {
			n = 1
		}
		needed[id] = n
		totalNeeded += n
	}

	fleetSize := len(vehicles)
	allocation := make(map[string]int, len(order))

	if totalNeeded <= fleetSize {
		available := fleetSize
		for _, id := range order {
			n := needed[id]
			if n > available {
				n = available
			}
			allocation[id] = n
			available -= n
		}
		return allocation
	}

	// Proportional fallback: floor-allocate by share of totalNeeded, then
	// hand out the leftover vehicles to the pickups with the largest
	// fractional remainder (largest-remainder method).
	type remainder struct {
		id    string
		frac  float64
	}
	var remainders []remainder
	used := 0
	for _, id := range order {
		share := float64(needed[id]) / float64(totalNeeded) * float64(fleetSize)
		floor := int(math.Floor(share))
		allocation[id] = floor
		used += floor
		remainders = append(remainders, remainder{id: id, frac: share - float64(floor)})
	}
	sort.SliceStable(remainders, func(i, j int) bool { return remainders[i].frac > remainders[j].frac })
	leftover := fleetSize - used
	for i := 0; i < leftover && i < len(remainders); i++ {
		allocation[remainders[i].id]++
	}
	return allocation
}

func averageCapacity(vehicles []domain.Vehicle) float64 {
	if len(vehicles) == 0 {
		return 0
	}
	var total float64
	for _, v := range vehicles {
		total += v.CapacityKg
	}
	return total / float64(len(vehicles))
}

type vehicleBatch struct {
	vehicle domain.Vehicle
	orders  []domain.Order
}

// splitRoundRobin assigns deliveries to vehicles in round-robin order,
// rolling overflow to the next vehicle with spare capacity. Deliveries
// that fit nowhere are returned as unplaced.
func splitRoundRobin(deliveries []domain.Order, vehicles []domain.Vehicle) ([]vehicleBatch, []domain.Order) {
	batches := make([]vehicleBatch, len(vehicles))
	loads := make([]float64, len(vehicles))
	for i, v := range vehicles {
		batches[i] = vehicleBatch{vehicle: v}
	}

	var unplaced []domain.Order
	n := len(vehicles)
	for i, d := range deliveries {
		placed := false
		start := i % n
		for offset := 0; offset < n; offset++ {
			idx := (start + offset) % n
			if loads[idx]+d.LoadKg <= batches[idx].vehicle.CapacityKg {
				batches[idx].orders = append(batches[idx].orders, d)
				loads[idx] += d.LoadKg
				placed = true
				break
			}
		}
		if !placed {
			unplaced = append(unplaced, d)
		}
	}
	return batches, unplaced
}

func (e *Engine) alertUncovered(ctx context.Context, pickupID string, orders []domain.Order, alertType domain.AlertType) {
	for _, o := range orders {
		_ = e.store.InsertDispatchAlert(ctx, domain.DispatchAlert{
			OrderID:   o.ID,
			Type:      alertType,
			Severity:  domain.SeverityMedium,
			Message:   fmt.Sprintf("no vehicle capacity available at pickup %s", pickupID),
			CreatedAt: e.now(),
		})
		if e.metrics != nil {
			e.metrics.RecordDispatchAlert(string(alertType), string(domain.SeverityMedium))
		}
	}
}

// buildRoute sequences one vehicle's deliveries with nearest-neighbour,
// improves it with a bounded 2-opt pass, and produces the Route and its
// RouteOptimizationLog. On any sequencing failure it falls back to the
// naive pickup-then-input-order route and marks the log accordingly.
func (e *Engine) buildRoute(pickup domain.PickupPoint, vehicle domain.Vehicle, orders []domain.Order) (domain.Route, domain.RouteOptimizationLog, error) {
	origin := geo.Point{Lat: pickup.Lat, Lng: pickup.Lng}
	originalOrder := append([]domain.Order(nil), orders...)
	originalDistance := routeDistance(origin, originalOrder)

	sequence, err := nearestNeighbourSequence(origin, orders)
	status := domain.OptimizationOK
	algorithm := "nearest-neighbour+2opt"
	if err != nil {
		sequence = originalOrder
		status = domain.OptimizationFailedFallback
		algorithm = "naive"
	}

	stopsReordered := countReordered(originalOrder, sequence)

	if status == domain.OptimizationOK && len(sequence) <= e.cfg.TwoOptMaxN {
		sequence = twoOpt(origin, sequence)
	}

	optimizedDistance := routeDistance(origin, sequence)
	now := e.now()

	stops := make([]domain.Stop, len(sequence))
	cursor := origin
	elapsed := 0.0
	for i, o := range sequence {
		dest := geo.Point{Lat: o.DeliveryLat, Lng: o.DeliveryLng}
		elapsed += geo.StraightLineMinutes(cursor, dest, e.cfg.SpeedKph)
		stops[i] = domain.Stop{
			OrderID:             o.ID,
			ArrivalTimeEstimate: now.Add(time.Duration(elapsed * float64(time.Minute))),
			ServiceTimeMin:      e.cfg.ServiceTimeMin,
		}
		elapsed += e.cfg.ServiceTimeMin
		cursor = dest
	}

	route := domain.Route{
		ID:               uuid.New().String(),
		DriverID:         vehicle.DriverID,
		VehicleID:        vehicle.ID,
		PickupID:         pickup.ID,
		OrderedStops:     stops,
		TotalDistanceKm:  optimizedDistance,
		TotalDurationMin: elapsed,
		Status:           domain.RoutePlanned,
		CreatedAt:        now,
		OptimizedAt:      now,
	}

	distanceSaved := originalDistance - optimizedDistance
	improvementPct := 0.0
	if originalDistance > 0 {
		improvementPct = distanceSaved / originalDistance * 100
	}
	orderIDs := make([]string, len(sequence))
	for i, o := range sequence {
		orderIDs[i] = o.ID
	}

	log := domain.RouteOptimizationLog{
		DriverID:          vehicle.DriverID,
		OrderIDs:          orderIDs,
		OriginalDistance:  originalDistance,
		OptimizedDistance: optimizedDistance,
		DistanceSavedKm:   distanceSaved,
		StopsReordered:    stopsReordered,
		ImprovementPct:    improvementPct,
		Algorithm:         algorithm,
		Status:            status,
		CreatedAt:         now,
		OptimizedAt:       now,
	}

	return route, log, err
}

func countReordered(original, sequenced []domain.Order) int {
	count := 0
	n := len(original)
	if len(sequenced) < n {
		n = len(sequenced)
	}
	for i := 0; i < n; i++ {
		if original[i].ID != sequenced[i].ID {
			count++
		}
	}
	return count
}

// nearestNeighbourSequence orders deliveries starting from origin, always
// picking the closest remaining delivery and breaking ties by earliest
// SLA deadline.
func nearestNeighbourSequence(origin geo.Point, orders []domain.Order) ([]domain.Order, error) {
	remaining := append([]domain.Order(nil), orders...)
	sequence := make([]domain.Order, 0, len(orders))
	cursor := origin

	for len(remaining) > 0 {
		bestIdx := -1
		bestDist := math.Inf(1)
		for i, o := range remaining {
			d := geo.HaversineKm(cursor, geo.Point{Lat: o.DeliveryLat, Lng: o.DeliveryLng})
			switch {
			case d < bestDist-1e-9:
				bestDist, bestIdx = d, i
			case math.Abs(d-bestDist) <= 1e-9 && bestIdx >= 0 && o.SLADeadline.Before(remaining[bestIdx].SLADeadline):
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			return nil, fmt.Errorf("nearest-neighbour sequencing stalled with %d deliveries left", len(remaining))
		}
		sequence = append(sequence, remaining[bestIdx])
		cursor = geo.Point{Lat: remaining[bestIdx].DeliveryLat, Lng: remaining[bestIdx].DeliveryLng}
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return sequence, nil
}

// twoOpt performs a single O(n^2) improvement pass over seq, reversing any
// segment whose reversal strictly reduces total route distance.
func twoOpt(origin geo.Point, seq []domain.Order) []domain.Order {
	best := append([]domain.Order(nil), seq...)
	bestDist := routeDistance(origin, best)

	n := len(best)
	for i := 0; i < n-1; i++ {
		for j := i + 1; j < n; j++ {
			candidate := append([]domain.Order(nil), best...)
			reverse(candidate, i, j)
			d := routeDistance(origin, candidate)
			if d < bestDist {
				best = candidate
				bestDist = d
			}
		}
	}
	return best
}

func reverse(s []domain.Order, i, j int) {
	for i < j {
		s[i], s[j] = s[j], s[i]
		i++
		j--
	}
}

func routeDistance(origin geo.Point, seq []domain.Order) float64 {
	total := 0.0
	cursor := origin
	for _, o := range seq {
		dest := geo.Point{Lat: o.DeliveryLat, Lng: o.DeliveryLng}
		total += geo.HaversineKm(cursor, dest)
		cursor = dest
	}
	return total
}
