package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"dispatch/internal/domain"
	"dispatch/pkg/cache"
)

// GetDriver fetches a single driver by id, falling back to its last
// cached location while the circuit breaker is open — driver location is
// heartbeat-driven and eventually consistent anyway.
func (g *Gateway) GetDriver(ctx context.Context, id string) (*domain.Driver, error) {
	var d domain.Driver
	_, err := g.readThroughCache(ctx, cache.BuildDriverLocationKey(id),
		func(ctx context.Context) error {
			return g.call(ctx, "drivers", "GetDriver", callRead, func(ctx context.Context) error {
				row := g.db.QueryRow(ctx, `
					SELECT id, name, vehicle_type, capacity_kg, current_lat, current_lng,
					       status, last_heartbeat_at, current_load_kg, current_deliveries,
					       current_pickup_id
					FROM drivers WHERE id = $1`, id)
				return scanDriver(row, &d)
			})
		},
		func() ([]byte, error) { return json.Marshal(d) },
		func(data []byte) error { return json.Unmarshal(data, &d) },
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// availableDriversCacheKey is shared with the read-through cache fallback:
// the assignment engine's hot path candidate pool, served stale while the
// breaker is open rather than failing the whole Assign call outright.
const availableDriversCacheKey = "drivers:available"

// ListAvailableDrivers returns every driver currently eligible to receive
// a new order. Region scoping is not persisted separately from driver
// location in this data model, so the caller applies any region filtering
// (and the scorer's distance hard gate) after this read. While the
// circuit breaker is open this falls back to the last-known-good roster
// cached in g.cache, since a slightly stale candidate pool is preferable
// to refusing every assignment outright.
func (g *Gateway) ListAvailableDrivers(ctx context.Context) ([]domain.Driver, error) {
	var drivers []domain.Driver
	_, err := g.readThroughCache(ctx, availableDriversCacheKey,
		func(ctx context.Context) error {
			return g.call(ctx, "drivers", "ListAvailableDrivers", callRead, func(ctx context.Context) error {
				rows, err := g.db.Query(ctx, `
					SELECT id, name, vehicle_type, capacity_kg, current_lat, current_lng,
					       status, last_heartbeat_at, current_load_kg, current_deliveries,
					       current_pickup_id
					FROM drivers WHERE status = $1`, domain.DriverAvailable)
				if err != nil {
					return err
				}
				defer rows.Close()
				for rows.Next() {
					var d domain.Driver
					if err := scanDriver(rows, &d); err != nil {
						return err
					}
					drivers = append(drivers, d)
				}
				return rows.Err()
			})
		},
		func() ([]byte, error) { return json.Marshal(drivers) },
		func(data []byte) error { return json.Unmarshal(data, &drivers) },
	)
	return drivers, err
}

// ListAllDrivers returns the full driver roster, used by the escalation
// monitor's unresponsive-driver check, which must consider busy and
// on-break drivers too.
func (g *Gateway) ListAllDrivers(ctx context.Context) ([]domain.Driver, error) {
	var drivers []domain.Driver
	err := g.call(ctx, "drivers", "ListAllDrivers", callRead, func(ctx context.Context) error {
		rows, err := g.db.Query(ctx, `
			SELECT id, name, vehicle_type, capacity_kg, current_lat, current_lng,
			       status, last_heartbeat_at, current_load_kg, current_deliveries,
			       current_pickup_id
			FROM drivers`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var d domain.Driver
			if err := scanDriver(rows, &d); err != nil {
				return err
			}
			drivers = append(drivers, d)
		}
		return rows.Err()
	})
	return drivers, err
}

// IncrementDriverQueue bumps a driver's current load and delivery-queue
// counters after an assignment. The assignment engine also keeps a local
// cache of these counters between store refreshes; this is the
// authoritative write.
func (g *Gateway) IncrementDriverQueue(ctx context.Context, driverID string, loadKg float64) error {
	return g.call(ctx, "drivers", "IncrementDriverQueue", callMutation, func(ctx context.Context) error {
		_, err := g.db.Exec(ctx, `
			UPDATE drivers SET current_load_kg = current_load_kg + $1,
			                    current_deliveries = current_deliveries + 1
			WHERE id = $2`, loadKg, driverID)
		return err
	})
}

func scanDriver(row rowScanner, d *domain.Driver) error {
	err := row.Scan(
		&d.ID, &d.Name, &d.VehicleType, &d.CapacityKg, &d.CurrentLat, &d.CurrentLng,
		&d.Status, &d.LastHeartbeatAt, &d.CurrentLoadKg, &d.CurrentDeliveries,
		&d.CurrentPickupID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("scan driver: %w", err)
	}
	return nil
}
