package batching

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch/internal/domain"
)

type fakeStore struct {
	orders  []domain.Order
	drivers []domain.Driver
	batches []domain.OrderBatch
}

func (f *fakeStore) ListPendingUnassignedOrders(ctx context.Context) ([]domain.Order, error) {
	return f.orders, nil
}

func (f *fakeStore) ListAllDrivers(ctx context.Context) ([]domain.Driver, error) {
	return f.drivers, nil
}

func (f *fakeStore) InsertBatch(ctx context.Context, b domain.OrderBatch) error {
	f.batches = append(f.batches, b)
	return nil
}

func nearbyOrders(n int, pickupID string, baseLat, baseLng, loadKg float64) []domain.Order {
	orders := make([]domain.Order, n)
	for i := 0; i < n; i++ {
		orders[i] = domain.Order{
			ID:          fmt.Sprintf("%s-o%d", pickupID, i),
			PickupID:    pickupID,
			DeliveryLat: baseLat + 0.001*float64(i),
			DeliveryLng: baseLng + 0.001*float64(i),
			LoadKg:      loadKg,
			Status:      domain.OrderPending,
		}
	}
	return orders
}

func TestRun_NoOrdersReturnsNoBatches(t *testing.T) {
	store := &fakeStore{drivers: []domain.Driver{{ID: "d1", CapacityKg: 200, Status: domain.DriverAvailable}}}
	e := New(store, Config{})
	batches, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestRun_NoAvailableCapacitySkipsBatching(t *testing.T) {
	store := &fakeStore{
		orders:  nearbyOrders(3, "P1", 24.71, 46.68, 10),
		drivers: []domain.Driver{{ID: "d1", CapacityKg: 200, Status: domain.DriverOffline}},
	}
	e := New(store, Config{})
	batches, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestRun_GroupsNearbyOrdersIntoOneBatch(t *testing.T) {
	store := &fakeStore{
		orders:  nearbyOrders(5, "P1", 24.71, 46.68, 10),
		drivers: []domain.Driver{{ID: "d1", CapacityKg: 200, Status: domain.DriverAvailable}},
	}
	e := New(store, Config{})
	batches, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, 5, batches[0].OrderCount)
	assert.Equal(t, domain.BatchPending, batches[0].Status)
}

func TestRun_SplitsFarApartOrdersIntoSeparateZones(t *testing.T) {
	near := nearbyOrders(2, "P1", 24.71, 46.68, 10)
	far := nearbyOrders(2, "P1", 25.50, 47.50, 10) // ~100km+ away, same pickup
	for i := range far {
		far[i].ID = "far-" + far[i].ID
	}
	store := &fakeStore{
		orders:  append(near, far...),
		drivers: []domain.Driver{{ID: "d1", CapacityKg: 200, Status: domain.DriverAvailable}},
	}
	e := New(store, Config{ZoneRadiusKm: 3})
	batches, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, batches, 2)
}

func TestRun_SplitsOverCapacityGroupIntoMultipleBatches(t *testing.T) {
	store := &fakeStore{
		orders:  nearbyOrders(5, "P1", 24.71, 46.68, 60), // 300kg total
		drivers: []domain.Driver{{ID: "d1", CapacityKg: 100, Status: domain.DriverAvailable}},
	}
	e := New(store, Config{})
	batches, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Greater(t, len(batches), 1)
	for _, b := range batches {
		var load float64
		for range b.OrderIDs {
			load += 60
		}
		assert.LessOrEqual(t, load, 100.0)
	}
}
