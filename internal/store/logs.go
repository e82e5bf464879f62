package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"

	"dispatch/internal/domain"
)

// pgExecutor is satisfied by both database.DB and pgx.Tx, letting
// insertAssignmentLog run either standalone or inside AssignOrder's
// transaction.
type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// InsertAssignmentLog appends one audit row outside of a transaction.
// AssignOrder does not go through it: it writes its log row with
// insertAssignmentLog inside its own transaction.
func (g *Gateway) InsertAssignmentLog(ctx context.Context, log domain.AssignmentLog) error {
	return g.call(ctx, "assignment_logs", "InsertAssignmentLog", callMutation, func(ctx context.Context) error {
		return insertAssignmentLog(ctx, g.db, log)
	})
}

func insertAssignmentLog(ctx context.Context, ex pgExecutor, log domain.AssignmentLog) error {
	_, err := ex.Exec(ctx, `
		INSERT INTO assignment_logs (order_id, driver_id, assignment_type, total_score,
			distance_score, time_score, load_score, priority_score, reason,
			alternatives_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		log.OrderID, log.DriverID, log.AssignmentType, log.TotalScore,
		log.Breakdown.Distance, log.Breakdown.Time, log.Breakdown.Load, log.Breakdown.Priority,
		log.Reason, log.AlternativesCount, log.CreatedAt)
	return err
}

// InsertRouteOptimizationLog appends one audit row recording the savings
// of a single vehicle's optimizer run.
func (g *Gateway) InsertRouteOptimizationLog(ctx context.Context, log domain.RouteOptimizationLog) error {
	return g.call(ctx, "route_optimization_logs", "InsertRouteOptimizationLog", callMutation, func(ctx context.Context) error {
		_, err := g.db.Exec(ctx, `
			INSERT INTO route_optimization_logs (driver_id, order_ids, original_distance,
				optimized_distance, distance_saved_km, time_saved_min, stops_reordered,
				improvement_pct, algorithm, status, created_at, optimized_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			log.DriverID, log.OrderIDs, log.OriginalDistance, log.OptimizedDistance,
			log.DistanceSavedKm, log.TimeSavedMin, log.StopsReordered, log.ImprovementPct,
			log.Algorithm, log.Status, log.CreatedAt, log.OptimizedAt)
		return err
	})
}
