package store

import (
	"context"
	"encoding/json"
	"fmt"

	"dispatch/internal/domain"
)

// stopDTO is the JSON-on-the-wire shape of domain.Stop stored in
// routes.ordered_stops.
type stopDTO struct {
	OrderID             string  `json:"orderId"`
	ArrivalTimeEstimate string  `json:"arrivalTimeEstimate"`
	ServiceTimeMin      float64 `json:"serviceTimeMin"`
}

// InsertRoute writes one optimizer-produced Route row.
func (g *Gateway) InsertRoute(ctx context.Context, r domain.Route) error {
	stops, err := marshalStops(r.OrderedStops)
	if err != nil {
		return err
	}
	return g.call(ctx, "routes", "InsertRoute", callMutation, func(ctx context.Context) error {
		_, err := g.db.Exec(ctx, `
			INSERT INTO routes (id, driver_id, vehicle_id, pickup_id, ordered_stops,
				total_distance_km, total_duration_min, status, created_at, optimized_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			r.ID, r.DriverID, r.VehicleID, r.PickupID, stops,
			r.TotalDistanceKm, r.TotalDurationMin, r.Status, r.CreatedAt, r.OptimizedAt)
		return err
	})
}

func marshalStops(stops []domain.Stop) ([]byte, error) {
	dtos := make([]stopDTO, len(stops))
	for i, s := range stops {
		dtos[i] = stopDTO{
			OrderID:             s.OrderID,
			ArrivalTimeEstimate: s.ArrivalTimeEstimate.Format("2006-01-02T15:04:05.000Z07:00"),
			ServiceTimeMin:      s.ServiceTimeMin,
		}
	}
	b, err := json.Marshal(dtos)
	if err != nil {
		return nil, fmt.Errorf("marshal ordered stops: %w", err)
	}
	return b, nil
}
