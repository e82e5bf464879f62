package assignment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch/internal/domain"
	"dispatch/internal/geo"
	"dispatch/internal/scorer"
	"dispatch/pkg/apperror"
)

type fakeStore struct {
	orders  map[string]domain.Order
	drivers []domain.Driver
	alerts  []domain.DispatchAlert
	assigned map[string]string // orderId -> driverId, simulates the conditional UPDATE
}

func newFakeStore() *fakeStore {
	return &fakeStore{orders: map[string]domain.Order{}, assigned: map[string]string{}}
}

func (f *fakeStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, errors.New("order not found")
	}
	return &o, nil
}

func (f *fakeStore) ListAvailableDrivers(ctx context.Context) ([]domain.Driver, error) {
	return f.drivers, nil
}

func (f *fakeStore) AssignOrder(ctx context.Context, orderID, driverID string, log domain.AssignmentLog) error {
	o := f.orders[orderID]
	if o.Status != domain.OrderPending {
		return apperror.ErrAlreadyAssigned
	}
	o.Status = domain.OrderAssigned
	o.AssignedDriverID = &driverID
	f.orders[orderID] = o
	f.assigned[orderID] = driverID
	return nil
}

func (f *fakeStore) InsertDispatchAlert(ctx context.Context, a domain.DispatchAlert) error {
	f.alerts = append(f.alerts, a)
	return nil
}

func fixedPickup(pickupID string) (geo.Point, bool) {
	if pickupID == "unknown" {
		return geo.Point{}, false
	}
	return geo.Point{Lat: 1, Lng: 1}, true
}

func weights() domain.Weights {
	return domain.Weights{Distance: 0.30, Time: 0.20, Load: 0.15, Priority: 0.20, Route: 0.15}
}

func newEngine(store Store) *Engine {
	return New(store, scorer.New(weights(), 50), fixedPickup, nil)
}

func TestAssign_PicksLowestScoringDriver(t *testing.T) {
	store := newFakeStore()
	store.orders["o1"] = domain.Order{
		ID: "o1", PickupID: "P1", LoadKg: 5,
		Status: domain.OrderPending, CreatedAt: time.Now(), SLADeadline: time.Now().Add(time.Hour),
	}
	store.drivers = []domain.Driver{
		{ID: "near", Status: domain.DriverAvailable, CapacityKg: 100, CurrentLat: 1, CurrentLng: 1},
		{ID: "far", Status: domain.DriverAvailable, CapacityKg: 100, CurrentLat: 1.2, CurrentLng: 1.2},
	}

	e := newEngine(store)
	res, err := e.Assign(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, "near", res.DriverID)
	assert.False(t, res.AlreadyAssigned)
	assert.Len(t, res.Alternatives, 1)
	assert.Equal(t, "far", res.Alternatives[0].DriverID)
}

func TestAssign_NoEligibleDriverRaisesAlert(t *testing.T) {
	store := newFakeStore()
	store.orders["o1"] = domain.Order{ID: "o1", PickupID: "P1", LoadKg: 5, Status: domain.OrderPending, CreatedAt: time.Now(), SLADeadline: time.Now().Add(time.Hour)}
	store.drivers = []domain.Driver{{ID: "busy", Status: domain.DriverBusy, CapacityKg: 100}}

	e := newEngine(store)
	_, err := e.Assign(context.Background(), "o1")
	require.Error(t, err)
	require.Len(t, store.alerts, 1)
	assert.Equal(t, domain.AlertDispatchFailed, store.alerts[0].Type)
}

func TestAssign_IdempotentOnAlreadyAssignedOrder(t *testing.T) {
	store := newFakeStore()
	existing := "d1"
	store.orders["o1"] = domain.Order{ID: "o1", PickupID: "P1", Status: domain.OrderAssigned, AssignedDriverID: &existing, CreatedAt: time.Now(), SLADeadline: time.Now().Add(time.Hour)}

	e := newEngine(store)
	res, err := e.Assign(context.Background(), "o1")
	require.NoError(t, err)
	assert.True(t, res.AlreadyAssigned)
	assert.Equal(t, "d1", res.DriverID)
}

func TestAssign_UnknownPickupFails(t *testing.T) {
	store := newFakeStore()
	store.orders["o1"] = domain.Order{ID: "o1", PickupID: "unknown", Status: domain.OrderPending, CreatedAt: time.Now(), SLADeadline: time.Now().Add(time.Hour)}
	store.drivers = []domain.Driver{{ID: "d1", Status: domain.DriverAvailable, CapacityKg: 100}}

	e := newEngine(store)
	_, err := e.Assign(context.Background(), "o1")
	require.Error(t, err)
}

func TestAssignBatch_OrdersByUrgencyThenCreatedAt(t *testing.T) {
	store := newFakeStore()
	now := time.Now()
	store.orders["stale"] = domain.Order{ID: "stale", PickupID: "P1", Status: domain.OrderPending, CreatedAt: now.Add(-time.Hour), SLADeadline: now.Add(3 * time.Hour)}
	store.orders["urgent"] = domain.Order{ID: "urgent", PickupID: "P1", Status: domain.OrderPending, CreatedAt: now, SLADeadline: now.Add(10 * time.Minute)}
	store.drivers = []domain.Driver{{ID: "d1", Status: domain.DriverAvailable, CapacityKg: 100}}

	e := newEngine(store)
	outcomes := e.AssignBatch(context.Background(), []string{"stale", "urgent"})
	require.Len(t, outcomes, 2)
	assert.Equal(t, "urgent", outcomes[0].OrderID)
	assert.Equal(t, "stale", outcomes[1].OrderID)
}

func TestRefreshQueue_ReplacesCache(t *testing.T) {
	e := newEngine(newFakeStore())
	e.bumpQueue("d1")
	assert.Equal(t, 1, e.queueLen("d1"))
	e.RefreshQueue(map[string]int{"d1": 5})
	assert.Equal(t, 5, e.queueLen("d1"))
}
