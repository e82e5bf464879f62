// Package batching implements the batching engine: it groups pending,
// unassigned orders that share a delivery zone and whose combined load
// fits a candidate vehicle into a single OrderBatch, the unit of work the
// route optimizer later sequences.
package batching

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/domain"
	"dispatch/internal/geo"
	"dispatch/pkg/telemetry"
)

// Store is the subset of the persistence gateway the batching engine
// depends on.
type Store interface {
	ListPendingUnassignedOrders(ctx context.Context) ([]domain.Order, error)
	ListAllDrivers(ctx context.Context) ([]domain.Driver, error)
	InsertBatch(ctx context.Context, b domain.OrderBatch) error
}

// Config tunes the batching engine's zone clustering.
type Config struct {
	ZoneRadiusKm   float64 // max distance between a delivery and its cluster's running centroid
	ServiceTimeMin float64
	SpeedKph       float64
}

const (
	defaultZoneRadiusKm   = 3.0
	defaultServiceTimeMin = 5.0
)

// Engine is the batching engine.
type Engine struct {
	store Store
	cfg   Config
	now   func() time.Time
}

// New builds an Engine, filling unset Config fields with defaults.
func New(store Store, cfg Config) *Engine {
	if cfg.ZoneRadiusKm <= 0 {
		cfg.ZoneRadiusKm = defaultZoneRadiusKm
	}
	if cfg.ServiceTimeMin <= 0 {
		cfg.ServiceTimeMin = defaultServiceTimeMin
	}
	if cfg.SpeedKph <= 0 {
		cfg.SpeedKph = geo.DefaultSpeedKph
	}
	return &Engine{store: store, cfg: cfg, now: time.Now}
}

// Run fetches every pending, unassigned order, clusters it into
// zone-and-capacity compatible groups, and persists one OrderBatch per
// group. It returns the batches it created.
func (e *Engine) Run(ctx context.Context) ([]domain.OrderBatch, error) {
	ctx, span := telemetry.StartSpan(ctx, "batching.Run")
	defer span.End()

	orders, err := e.store.ListPendingUnassignedOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending unassigned orders: %w", err)
	}
	if len(orders) == 0 {
		return nil, nil
	}

	maxCapacity, err := e.largestAvailableCapacity(ctx)
	if err != nil {
		return nil, err
	}
	if maxCapacity <= 0 {
		return nil, nil
	}

	byPickup := make(map[string][]domain.Order)
	var pickupOrder []string
	for _, o := range orders {
		if _, ok := byPickup[o.PickupID]; !ok {
			pickupOrder = append(pickupOrder, o.PickupID)
		}
		byPickup[o.PickupID] = append(byPickup[o.PickupID], o)
	}

	var batches []domain.OrderBatch
	for _, pickupID := range pickupOrder {
		zones := clusterByRadius(byPickup[pickupID], e.cfg.ZoneRadiusKm)
		for _, zone := range zones {
			for _, group := range packByCapacity(zone, maxCapacity) {
				batch := e.toBatch(pickupID, group)
				if err := e.store.InsertBatch(ctx, batch); err != nil {
					return batches, fmt.Errorf("insert batch for pickup %s: %w", pickupID, err)
				}
				batches = append(batches, batch)
			}
		}
	}
	return batches, nil
}

func (e *Engine) largestAvailableCapacity(ctx context.Context) (float64, error) {
	drivers, err := e.store.ListAllDrivers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list drivers for capacity check: %w", err)
	}
	var max float64
	for _, d := range drivers {
		if d.Status == domain.DriverOffline {
			continue
		}
		if d.CapacityKg > max {
			max = d.CapacityKg
		}
	}
	return max, nil
}

// clusterByRadius greedily groups orders so that every member lies within
// radiusKm of its cluster's running centroid (a delivery zone). Greedy
// and order-preserving: deterministic given input order.
func clusterByRadius(orders []domain.Order, radiusKm float64) [][]domain.Order {
	type cluster struct {
		members  []domain.Order
		sumLat   float64
		sumLng   float64
	}
	var clusters []*cluster

	for _, o := range orders {
		point := geo.Point{Lat: o.DeliveryLat, Lng: o.DeliveryLng}
		placed := false
		for _, c := range clusters {
			n := float64(len(c.members))
			centroid := geo.Point{Lat: c.sumLat / n, Lng: c.sumLng / n}
			if geo.HaversineKm(point, centroid) <= radiusKm {
				c.members = append(c.members, o)
				c.sumLat += o.DeliveryLat
				c.sumLng += o.DeliveryLng
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, &cluster{members: []domain.Order{o}, sumLat: o.DeliveryLat, sumLng: o.DeliveryLng})
		}
	}

	out := make([][]domain.Order, len(clusters))
	for i, c := range clusters {
		out[i] = c.members
	}
	return out
}

// packByCapacity splits a zone's orders into capacity-respecting groups
// using first-fit: an order joins the first open group with enough
// remaining capacity, otherwise starts a new one.
func packByCapacity(orders []domain.Order, capacityKg float64) [][]domain.Order {
	var groups [][]domain.Order
	var loads []float64

	for _, o := range orders {
		placed := false
		for i := range groups {
			if loads[i]+o.LoadKg <= capacityKg {
				groups[i] = append(groups[i], o)
				loads[i] += o.LoadKg
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []domain.Order{o})
			loads = append(loads, o.LoadKg)
		}
	}
	return groups
}

func (e *Engine) toBatch(pickupID string, orders []domain.Order) domain.OrderBatch {
	sorted := append([]domain.Order(nil), orders...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	ids := make([]string, len(sorted))
	var totalDistance, totalDuration float64
	cursor := geo.Point{}
	if len(sorted) > 0 {
		cursor = geo.Point{Lat: sorted[0].DeliveryLat, Lng: sorted[0].DeliveryLng}
	}
	for i, o := range sorted {
		ids[i] = o.ID
		dest := geo.Point{Lat: o.DeliveryLat, Lng: o.DeliveryLng}
		if i > 0 {
			totalDistance += geo.HaversineKm(cursor, dest)
			totalDuration += geo.StraightLineMinutes(cursor, dest, e.cfg.SpeedKph)
		}
		totalDuration += e.cfg.ServiceTimeMin
		cursor = dest
	}

	return domain.OrderBatch{
		BatchNumber:          uuid.New().String(),
		OrderIDs:             ids,
		OrderCount:           len(ids),
		TotalDistanceKm:      totalDistance,
		EstimatedDurationMin: totalDuration,
		DeliveryZone:         pickupID,
		Status:               domain.BatchPending,
		CreatedAt:            e.now(),
	}
}
