// Package targettracker persists and reports each driver's daily delivery
// and revenue target against running progress. The persistence gateway is
// the only source of truth: targets survive restarts, and nothing here
// caches across a store failure.
package targettracker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"dispatch/internal/domain"
	"dispatch/pkg/apperror"
)

// Store is the subset of the persistence gateway the tracker depends on.
type Store interface {
	UpsertTarget(ctx context.Context, t domain.DriverTarget) error
	GetTarget(ctx context.Context, driverID string) (*domain.DriverTarget, error)
	ListTargets(ctx context.Context) ([]domain.DriverTarget, error)
	IncrementProgress(ctx context.Context, driverID string, deliveries int, revenue float64) error
	UpsertSnapshot(ctx context.Context, s domain.PerformanceSnapshot) error
	ResetTargets(ctx context.Context) error
}

// Clock abstracts "now" so on-track computation is testable.
type Clock func() time.Time

// Tracker implements the target operations over Store.
type Tracker struct {
	store      Store
	now        Clock
	shiftStart string // HH:MM
	shiftEnd   string // HH:MM
	loc        *time.Location
}

// New builds a Tracker. shiftStart/shiftEnd are "HH:MM" local to tz
// (default "UTC" if tz is empty or unrecognized).
func New(store Store, shiftStart, shiftEnd, tz string) *Tracker {
	loc, err := time.LoadLocation(tz)
	if err != nil || loc == nil {
		loc = time.UTC
	}
	return &Tracker{store: store, now: time.Now, shiftStart: shiftStart, shiftEnd: shiftEnd, loc: loc}
}

// WithClock overrides the tracker's notion of now, for deterministic tests.
func (t *Tracker) WithClock(c Clock) *Tracker {
	t.now = c
	return t
}

// SetTargets upserts a target row per driver, resetting current counters
// to zero. Atomic and idempotent per driver.
func (t *Tracker) SetTargets(ctx context.Context, targets []domain.DriverTarget) (int, error) {
	count := 0
	for _, target := range targets {
		if err := t.store.UpsertTarget(ctx, target); err != nil {
			return count, fmt.Errorf("set target for driver %s: %w", target.DriverID, err)
		}
		count++
	}
	return count, nil
}

// IncrementProgress adds a completed delivery (and its revenue) to a
// driver's running totals. Monotonic: never called with negative deltas.
func (t *Tracker) IncrementProgress(ctx context.Context, driverID string, deliveries int, revenue float64) error {
	if deliveries < 0 || revenue < 0 {
		return apperror.NewWithField(apperror.CodeInvalidArgument, "progress deltas must be non-negative", "deliveries")
	}
	return t.store.IncrementProgress(ctx, driverID, deliveries, revenue)
}

// Status is one driver's target row plus derived progress.
type Status struct {
	Target             domain.DriverTarget
	DeliveryProgress   float64 // currentDeliveries / targetDeliveries, clamped [0,1]
	RevenueProgress    float64 // currentRevenue / targetRevenue, clamped [0,1]
	ExpectedProgress   float64 // linear expectation given time-of-day within the shift
	OnTrack            bool
}

// GetStatus returns one driver's target and derived on-track status.
func (t *Tracker) GetStatus(ctx context.Context, driverID string) (*Status, error) {
	target, err := t.store.GetTarget(ctx, driverID)
	if err != nil {
		return nil, err
	}
	return t.deriveStatus(*target), nil
}

// GetAllStatus returns every driver's status sorted by delivery progress
// ascending (neediest first).
func (t *Tracker) GetAllStatus(ctx context.Context) ([]Status, error) {
	targets, err := t.store.ListTargets(ctx)
	if err != nil {
		return nil, err
	}
	statuses := make([]Status, len(targets))
	for i, target := range targets {
		statuses[i] = *t.deriveStatus(target)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].DeliveryProgress < statuses[j].DeliveryProgress
	})
	return statuses, nil
}

func (t *Tracker) deriveStatus(target domain.DriverTarget) *Status {
	deliveryProgress := ratio(float64(target.CurrentDeliveries), float64(target.TargetDeliveries))
	revenueProgress := ratio(target.CurrentRevenue, target.TargetRevenue)
	expected := t.expectedProgress(t.now())

	return &Status{
		Target:           target,
		DeliveryProgress: deliveryProgress,
		RevenueProgress:  revenueProgress,
		ExpectedProgress: expected,
		OnTrack:          deliveryProgress >= expected && revenueProgress >= expected,
	}
}

// expectedProgress returns the linear fraction of the shift elapsed at
// instant now, clamped to [0,1]: 0 before shift start, 1 after shift end.
func (t *Tracker) expectedProgress(now time.Time) float64 {
	local := now.In(t.loc)
	start, err := parseHHMMOn(local, t.shiftStart, t.loc)
	if err != nil {
		return 0
	}
	end, err := parseHHMMOn(local, t.shiftEnd, t.loc)
	if err != nil {
		return 0
	}
	if !local.After(start) {
		return 0
	}
	if !local.Before(end) {
		return 1
	}
	total := end.Sub(start)
	if total <= 0 {
		return 0
	}
	return float64(local.Sub(start)) / float64(total)
}

func parseHHMMOn(local time.Time, hhmm string, loc *time.Location) (time.Time, error) {
	parsed, err := time.ParseInLocation("15:04", hhmm, loc)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := local.Date()
	return time.Date(y, m, d, parsed.Hour(), parsed.Minute(), 0, 0, loc), nil
}

func ratio(current, target float64) float64 {
	if target <= 0 {
		return 1
	}
	r := current / target
	if r > 1 {
		r = 1
	}
	if r < 0 {
		r = 0
	}
	return r
}

// SnapshotDaily writes one PerformanceSnapshot per driver for date,
// idempotent on conflict (driverId, date).
func (t *Tracker) SnapshotDaily(ctx context.Context, date time.Time) (int, error) {
	targets, err := t.store.ListTargets(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, target := range targets {
		achieved := target.CurrentDeliveries >= target.TargetDeliveries &&
			target.CurrentRevenue >= target.TargetRevenue
		pct := ratio(float64(target.CurrentDeliveries), float64(target.TargetDeliveries)) * 100

		snap := domain.PerformanceSnapshot{
			DriverID:            target.DriverID,
			Date:                date,
			DeliveriesCompleted: target.CurrentDeliveries,
			RevenueGenerated:    target.CurrentRevenue,
			TargetDeliveries:    target.TargetDeliveries,
			TargetRevenue:       target.TargetRevenue,
			TargetAchieved:      achieved,
			AchievementPercent:  pct,
		}
		if err := t.store.UpsertSnapshot(ctx, snap); err != nil {
			return count, fmt.Errorf("snapshot driver %s: %w", target.DriverID, err)
		}
		count++
	}
	return count, nil
}

// Reset zeroes every driver's current counters, typically invoked at
// shift-start.
func (t *Tracker) Reset(ctx context.Context) error {
	return t.store.ResetTargets(ctx)
}
