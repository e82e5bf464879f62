package routing

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch/internal/domain"
	"dispatch/internal/geo"
)

type fakeStore struct {
	routes []domain.Route
	logs   []domain.RouteOptimizationLog
	alerts []domain.DispatchAlert
}

func (f *fakeStore) InsertRoute(ctx context.Context, r domain.Route) error {
	f.routes = append(f.routes, r)
	return nil
}

func (f *fakeStore) InsertRouteOptimizationLog(ctx context.Context, log domain.RouteOptimizationLog) error {
	f.logs = append(f.logs, log)
	return nil
}

func (f *fakeStore) InsertDispatchAlert(ctx context.Context, a domain.DispatchAlert) error {
	f.alerts = append(f.alerts, a)
	return nil
}

func scatteredDeliveries(n int, centerLat, centerLng, loadKg float64) []domain.Order {
	orders := make([]domain.Order, n)
	for i := 0; i < n; i++ {
		angle := float64(i) / float64(n) * 2 * math.Pi
		orders[i] = domain.Order{
			ID:          fmt.Sprintf("o%d", i),
			PickupID:    "P1",
			DeliveryLat: centerLat + 0.02*math.Cos(angle),
			DeliveryLng: centerLng + 0.02*math.Sin(angle),
			LoadKg:      loadKg,
			SLADeadline: time.Now().Add(time.Duration(i) * time.Minute),
		}
	}
	return orders
}

func vehicles(n int, capacityKg float64) []domain.Vehicle {
	vs := make([]domain.Vehicle, n)
	for i := 0; i < n; i++ {
		vs[i] = domain.Vehicle{ID: fmt.Sprintf("v%d", i), DriverID: fmt.Sprintf("d%d", i), CapacityKg: capacityKg}
	}
	return vs
}

func TestOptimize_EmptyDeliveriesReturnsZeroRoutes(t *testing.T) {
	store := &fakeStore{}
	e := New(store, Config{}, nil)
	res, err := e.Optimize(context.Background(), Input{
		Pickups:    []domain.PickupPoint{{ID: "P1", Lat: 24.7136, Lng: 46.6753}},
		Vehicles:   vehicles(3, 200),
		SLAMinutes: 120,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Summary.VehiclesUsed)
	assert.Empty(t, res.Routes)
}

func TestOptimize_SingleDriverSingleOrder(t *testing.T) {
	store := &fakeStore{}
	e := New(store, Config{}, nil)
	res, err := e.Optimize(context.Background(), Input{
		Pickups:    []domain.PickupPoint{{ID: "P1", Lat: 24.7136, Lng: 46.6753}},
		Deliveries: scatteredDeliveries(1, 24.72, 46.68, 10),
		Vehicles:   vehicles(1, 200),
		SLAMinutes: 120,
	})
	require.NoError(t, err)
	require.Len(t, res.Routes, 1)
	assert.Len(t, res.Routes[0].OrderedStops, 1)
}

// S1 — single-pickup, fleet under-utilised.
func TestOptimize_S1_SinglePickupUnderUtilisedFleet(t *testing.T) {
	store := &fakeStore{}
	e := New(store, Config{}, nil)
	res, err := e.Optimize(context.Background(), Input{
		Pickups:    []domain.PickupPoint{{ID: "P1", Lat: 24.7136, Lng: 46.6753}},
		Deliveries: scatteredDeliveries(20, 24.7136, 46.6753, 10),
		Vehicles:   vehicles(10, 200),
		SLAMinutes: 120,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Summary.VehiclesUsed)
	assert.Equal(t, 20, res.Summary.TotalDeliveries)
	for _, r := range res.Routes {
		assert.Len(t, r.OrderedStops, 10)
		assert.LessOrEqual(t, r.TotalDistanceKm, 30.0)
	}
}

// S2 — multi-pickup, SLA forces parallelism.
func TestOptimize_S2_MultiPickupAllocation(t *testing.T) {
	store := &fakeStore{}
	e := New(store, Config{AvgMinPerDelivery: 10}, nil)

	pickups := []domain.PickupPoint{
		{ID: "P1", Lat: 24.70, Lng: 46.60},
		{ID: "P2", Lat: 24.80, Lng: 46.70},
		{ID: "P3", Lat: 24.90, Lng: 46.80},
	}
	var deliveries []domain.Order
	for _, p := range pickups {
		for i := 0; i < 10; i++ {
			deliveries = append(deliveries, domain.Order{
				ID:          fmt.Sprintf("%s-o%d", p.ID, i),
				PickupID:    p.ID,
				DeliveryLat: p.Lat + 0.01*float64(i),
				DeliveryLng: p.Lng + 0.01*float64(i),
				LoadKg:      5,
				SLADeadline: time.Now().Add(time.Hour),
			})
		}
	}

	res, err := e.Optimize(context.Background(), Input{
		Pickups:    pickups,
		Deliveries: deliveries,
		Vehicles:   vehicles(15, 500),
		SLAMinutes: 120,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Summary.VehiclesUsed)
}

func TestOptimize_S2_HigherAvgMinRaisesVehicleCount(t *testing.T) {
	store := &fakeStore{}
	e := New(store, Config{AvgMinPerDelivery: 15}, nil)

	pickups := []domain.PickupPoint{
		{ID: "P1", Lat: 24.70, Lng: 46.60},
		{ID: "P2", Lat: 24.80, Lng: 46.70},
		{ID: "P3", Lat: 24.90, Lng: 46.80},
	}
	var deliveries []domain.Order
	for _, p := range pickups {
		for i := 0; i < 10; i++ {
			deliveries = append(deliveries, domain.Order{
				ID:          fmt.Sprintf("%s-o%d", p.ID, i),
				PickupID:    p.ID,
				DeliveryLat: p.Lat + 0.01*float64(i),
				DeliveryLng: p.Lng + 0.01*float64(i),
				LoadKg:      5,
				SLADeadline: time.Now().Add(time.Hour),
			})
		}
	}

	res, err := e.Optimize(context.Background(), Input{
		Pickups:    pickups,
		Deliveries: deliveries,
		Vehicles:   vehicles(15, 500),
		SLAMinutes: 120,
	})
	require.NoError(t, err)
	assert.Equal(t, 6, res.Summary.VehiclesUsed)
}

// S3 — capacity overflow reroll: no route may exceed vehicle capacity.
func TestOptimize_S3_CapacityNeverExceeded(t *testing.T) {
	store := &fakeStore{}
	e := New(store, Config{}, nil)

	deliveries := make([]domain.Order, 5)
	for i := range deliveries {
		deliveries[i] = domain.Order{
			ID:          fmt.Sprintf("o%d", i),
			PickupID:    "P1",
			DeliveryLat: 24.71 + 0.001*float64(i),
			DeliveryLng: 46.68 + 0.001*float64(i),
			LoadKg:      300,
			SLADeadline: time.Now().Add(time.Hour),
		}
	}

	res, err := e.Optimize(context.Background(), Input{
		Pickups:    []domain.PickupPoint{{ID: "P1", Lat: 24.7136, Lng: 46.6753}},
		Deliveries: deliveries,
		Vehicles:   vehicles(3, 500),
		SLAMinutes: 120,
	})
	require.NoError(t, err)

	for _, r := range res.Routes {
		var load float64
		for range r.OrderedStops {
			load += 300
		}
		assert.LessOrEqual(t, load, 500.0)
	}
	if len(deliveries) > len(res.Routes) {
		assert.NotEmpty(t, store.alerts)
	}
}

func TestAllocateVehicles_ProportionalFallbackRespectsFleetSize(t *testing.T) {
	grouped := map[string][]domain.Order{
		"P1": make([]domain.Order, 100),
		"P2": make([]domain.Order, 10),
	}
	order := []string{"P1", "P2"}
	allocation := allocateVehicles(order, grouped, vehicles(5, 1000), 10, 120)

	total := allocation["P1"] + allocation["P2"]
	assert.LessOrEqual(t, total, 5)
	assert.GreaterOrEqual(t, allocation["P1"], allocation["P2"])
}

func TestNearestNeighbourSequence_OrdersByProximity(t *testing.T) {
	origin := geo.Point{Lat: 0, Lng: 0}
	orders := []domain.Order{
		{ID: "far", DeliveryLat: 10, DeliveryLng: 10, SLADeadline: time.Now()},
		{ID: "near", DeliveryLat: 1, DeliveryLng: 1, SLADeadline: time.Now()},
	}
	seq, err := nearestNeighbourSequence(origin, orders)
	require.NoError(t, err)
	require.Len(t, seq, 2)
	assert.Equal(t, "near", seq[0].ID)
	assert.Equal(t, "far", seq[1].ID)
}
