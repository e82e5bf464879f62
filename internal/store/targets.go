package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"dispatch/internal/domain"
	"dispatch/pkg/cache"
)

// UpsertTarget inserts or replaces one driver's daily target, resetting
// its current counters to zero. Idempotent: calling it twice with the
// same target leaves the same row, current counters zeroed exactly once
// per call.
func (g *Gateway) UpsertTarget(ctx context.Context, t domain.DriverTarget) error {
	return g.call(ctx, "driver_targets", "UpsertTarget", callMutation, func(ctx context.Context) error {
		_, err := g.db.Exec(ctx, `
			INSERT INTO driver_targets (driver_id, target_deliveries, target_revenue,
				current_deliveries, current_revenue, status, created_at, updated_at)
			VALUES ($1, $2, $3, 0, 0, $4, now(), now())
			ON CONFLICT (driver_id) DO UPDATE SET
				target_deliveries = EXCLUDED.target_deliveries,
				target_revenue    = EXCLUDED.target_revenue,
				current_deliveries = 0,
				current_revenue    = 0,
				status             = EXCLUDED.status,
				updated_at         = now()`,
			t.DriverID, t.TargetDeliveries, t.TargetRevenue, t.Status)
		return err
	})
}

// IncrementProgress adds deliveries/revenue to a driver's running totals.
// Fails with ErrTargetNotFound if the driver has no target row, since
// progress cannot accrue against a target that was never set.
func (g *Gateway) IncrementProgress(ctx context.Context, driverID string, deliveries int, revenue float64) error {
	return g.call(ctx, "driver_targets", "IncrementProgress", callMutation, func(ctx context.Context) error {
		tag, err := g.db.Exec(ctx, `
			UPDATE driver_targets
			SET current_deliveries = current_deliveries + $1,
			    current_revenue    = current_revenue + $2,
			    updated_at         = now()
			WHERE driver_id = $3`, deliveries, revenue, driverID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrTargetNotFound
		}
		return nil
	})
}

// GetTarget returns a single driver's target row, falling back to the last
// snapshot taken for today while the circuit breaker is open. The
// target tracker itself never caches across a store failure (it treats the
// gateway as the sole source of truth); this fallback lives here instead,
// one layer below it, so the tracker's on-track projection still always
// starts from *some* counters rather than failing outright during an
// outage. The cached entry is scoped to today's date so a stale snapshot
// from a prior shift is never served once the day rolls over.
func (g *Gateway) GetTarget(ctx context.Context, driverID string) (*domain.DriverTarget, error) {
	var t domain.DriverTarget
	key := cache.BuildTargetSnapshotKey(driverID, time.Now().Format("2006-01-02"))
	_, err := g.readThroughCache(ctx, key,
		func(ctx context.Context) error {
			return g.call(ctx, "driver_targets", "GetTarget", callRead, func(ctx context.Context) error {
				row := g.db.QueryRow(ctx, `
					SELECT driver_id, target_deliveries, target_revenue, current_deliveries,
					       current_revenue, status, created_at, updated_at
					FROM driver_targets WHERE driver_id = $1`, driverID)
				return scanTarget(row, &t)
			})
		},
		func() ([]byte, error) { return json.Marshal(t) },
		func(data []byte) error { return json.Unmarshal(data, &t) },
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTargets returns every driver target row, ascending by current
// delivery count (neediest first), matching GetAllStatus's stated order.
func (g *Gateway) ListTargets(ctx context.Context) ([]domain.DriverTarget, error) {
	var targets []domain.DriverTarget
	err := g.call(ctx, "driver_targets", "ListTargets", callRead, func(ctx context.Context) error {
		rows, err := g.db.Query(ctx, `
			SELECT driver_id, target_deliveries, target_revenue, current_deliveries,
			       current_revenue, status, created_at, updated_at
			FROM driver_targets ORDER BY current_deliveries ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var t domain.DriverTarget
			if err := scanTarget(rows, &t); err != nil {
				return err
			}
			targets = append(targets, t)
		}
		return rows.Err()
	})
	return targets, err
}

// ResetTargets zeroes every driver's current counters, typically invoked
// at shift-start.
func (g *Gateway) ResetTargets(ctx context.Context) error {
	return g.call(ctx, "driver_targets", "ResetTargets", callMutation, func(ctx context.Context) error {
		_, err := g.db.Exec(ctx, `
			UPDATE driver_targets SET current_deliveries = 0, current_revenue = 0, updated_at = now()`)
		return err
	})
}

// UpsertSnapshot writes or no-ops a PerformanceSnapshot for (driverId, date).
// The unique constraint on (driver_id, date) makes a second call on the
// same day a no-op.
func (g *Gateway) UpsertSnapshot(ctx context.Context, s domain.PerformanceSnapshot) error {
	return g.call(ctx, "performance_snapshots", "UpsertSnapshot", callMutation, func(ctx context.Context) error {
		_, err := g.db.Exec(ctx, `
			INSERT INTO performance_snapshots (driver_id, date, deliveries_completed,
				revenue_generated, target_deliveries, target_revenue, target_achieved,
				achievement_percent)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (driver_id, date) DO NOTHING`,
			s.DriverID, s.Date, s.DeliveriesCompleted, s.RevenueGenerated,
			s.TargetDeliveries, s.TargetRevenue, s.TargetAchieved, s.AchievementPercent)
		return err
	})
}

func scanTarget(row rowScanner, t *domain.DriverTarget) error {
	err := row.Scan(
		&t.DriverID, &t.TargetDeliveries, &t.TargetRevenue, &t.CurrentDeliveries,
		&t.CurrentRevenue, &t.Status, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTargetNotFound
		}
		return fmt.Errorf("scan driver target: %w", err)
	}
	return nil
}
