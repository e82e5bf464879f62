package targettracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch/internal/domain"
)

type fakeStore struct {
	targets map[string]domain.DriverTarget
	snaps   map[string]domain.PerformanceSnapshot
}

func newFakeStore() *fakeStore {
	return &fakeStore{targets: map[string]domain.DriverTarget{}, snaps: map[string]domain.PerformanceSnapshot{}}
}

func (f *fakeStore) UpsertTarget(ctx context.Context, t domain.DriverTarget) error {
	t.CurrentDeliveries, t.CurrentRevenue = 0, 0
	f.targets[t.DriverID] = t
	return nil
}

func (f *fakeStore) GetTarget(ctx context.Context, driverID string) (*domain.DriverTarget, error) {
	t, ok := f.targets[driverID]
	if !ok {
		return nil, errors.New("not found")
	}
	return &t, nil
}

func (f *fakeStore) ListTargets(ctx context.Context) ([]domain.DriverTarget, error) {
	var out []domain.DriverTarget
	for _, t := range f.targets {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeStore) IncrementProgress(ctx context.Context, driverID string, deliveries int, revenue float64) error {
	t, ok := f.targets[driverID]
	if !ok {
		return errors.New("not found")
	}
	t.CurrentDeliveries += deliveries
	t.CurrentRevenue += revenue
	f.targets[driverID] = t
	return nil
}

func (f *fakeStore) UpsertSnapshot(ctx context.Context, s domain.PerformanceSnapshot) error {
	key := s.DriverID + s.Date.Format("2006-01-02")
	if _, exists := f.snaps[key]; exists {
		return nil
	}
	f.snaps[key] = s
	return nil
}

func (f *fakeStore) ResetTargets(ctx context.Context) error {
	for id, t := range f.targets {
		t.CurrentDeliveries, t.CurrentRevenue = 0, 0
		f.targets[id] = t
	}
	return nil
}

func TestSetTargets_IdempotentReset(t *testing.T) {
	store := newFakeStore()
	tr := New(store, "08:00", "20:00", "UTC")
	ctx := context.Background()

	targets := []domain.DriverTarget{{DriverID: "d1", TargetDeliveries: 10, TargetRevenue: 500}}
	_, err := tr.SetTargets(ctx, targets)
	require.NoError(t, err)
	require.NoError(t, tr.IncrementProgress(ctx, "d1", 3, 100))

	_, err = tr.SetTargets(ctx, targets)
	require.NoError(t, err)

	s, err := tr.GetStatus(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 0, s.Target.CurrentDeliveries)
}

func TestIncrementProgress_RejectsNegative(t *testing.T) {
	store := newFakeStore()
	tr := New(store, "08:00", "20:00", "UTC")
	err := tr.IncrementProgress(context.Background(), "d1", -1, 0)
	require.Error(t, err)
}

func TestGetStatus_OnTrackAtMidShift(t *testing.T) {
	store := newFakeStore()
	tr := New(store, "08:00", "20:00", "UTC")
	ctx := context.Background()

	require.NoError(t, store.UpsertTarget(ctx, domain.DriverTarget{DriverID: "d1", TargetDeliveries: 10, TargetRevenue: 1000}))
	require.NoError(t, tr.IncrementProgress(ctx, "d1", 6, 600))

	noon := time.Date(2026, 7, 31, 14, 0, 0, 0, time.UTC) // 6h into a 12h shift = 50%
	tr.WithClock(func() time.Time { return noon })

	s, err := tr.GetStatus(ctx, "d1")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, s.ExpectedProgress, 1e-9)
	assert.True(t, s.OnTrack)
}

func TestGetStatus_BehindExpected(t *testing.T) {
	store := newFakeStore()
	tr := New(store, "08:00", "20:00", "UTC")
	ctx := context.Background()

	require.NoError(t, store.UpsertTarget(ctx, domain.DriverTarget{DriverID: "d1", TargetDeliveries: 10, TargetRevenue: 1000}))
	require.NoError(t, tr.IncrementProgress(ctx, "d1", 1, 100))

	lateAfternoon := time.Date(2026, 7, 31, 18, 0, 0, 0, time.UTC) // 10h/12h = 83%
	tr.WithClock(func() time.Time { return lateAfternoon })

	s, err := tr.GetStatus(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, s.OnTrack)
}

func TestGetAllStatus_SortedNeediestFirst(t *testing.T) {
	store := newFakeStore()
	tr := New(store, "08:00", "20:00", "UTC")
	ctx := context.Background()

	require.NoError(t, store.UpsertTarget(ctx, domain.DriverTarget{DriverID: "d1", TargetDeliveries: 10}))
	require.NoError(t, store.UpsertTarget(ctx, domain.DriverTarget{DriverID: "d2", TargetDeliveries: 10}))
	require.NoError(t, tr.IncrementProgress(ctx, "d1", 8, 0))
	require.NoError(t, tr.IncrementProgress(ctx, "d2", 1, 0))

	statuses, err := tr.GetAllStatus(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, "d2", statuses[0].Target.DriverID)
	assert.Equal(t, "d1", statuses[1].Target.DriverID)
}

func TestSnapshotDaily_IdempotentOnSameDay(t *testing.T) {
	store := newFakeStore()
	tr := New(store, "08:00", "20:00", "UTC")
	ctx := context.Background()

	require.NoError(t, store.UpsertTarget(ctx, domain.DriverTarget{DriverID: "d1", TargetDeliveries: 10, TargetRevenue: 100}))
	require.NoError(t, tr.IncrementProgress(ctx, "d1", 10, 100))

	date := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	n, err := tr.SnapshotDaily(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	key := "d1" + date.Format("2006-01-02")
	first := store.snaps[key]
	assert.True(t, first.TargetAchieved)

	n, err = tr.SnapshotDaily(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReset_ZeroesCounters(t *testing.T) {
	store := newFakeStore()
	tr := New(store, "08:00", "20:00", "UTC")
	ctx := context.Background()

	require.NoError(t, store.UpsertTarget(ctx, domain.DriverTarget{DriverID: "d1", TargetDeliveries: 10}))
	require.NoError(t, tr.IncrementProgress(ctx, "d1", 5, 0))
	require.NoError(t, tr.Reset(ctx))

	s, err := tr.GetStatus(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 0, s.Target.CurrentDeliveries)
}
