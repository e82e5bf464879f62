package store

import (
	"context"
	"fmt"
	"strings"

	"dispatch/pkg/apperror"
)

// requiredColumn names a column that CheckSchema expects to find on table.
type requiredColumn struct {
	table  string
	column string
}

// requiredSchema enumerates every table/column the persistence gateway's
// repository methods read or write. It is checked once at startup so a
// drifted schema fails closed before any engine starts, rather than
// surfacing as a runtime query error mid-tick.
var requiredSchema = []requiredColumn{
	{"orders", "id"}, {"orders", "customer_ref"}, {"orders", "pickup_id"},
	{"orders", "delivery_lat"}, {"orders", "delivery_lng"}, {"orders", "load_kg"},
	{"orders", "priority"}, {"orders", "revenue"}, {"orders", "created_at"},
	{"orders", "sla_deadline"}, {"orders", "status"}, {"orders", "assigned_driver_id"},
	{"orders", "batch_id"}, {"orders", "attempts"}, {"orders", "last_status_change"},

	{"drivers", "id"}, {"drivers", "name"}, {"drivers", "vehicle_type"},
	{"drivers", "capacity_kg"}, {"drivers", "current_lat"}, {"drivers", "current_lng"},
	{"drivers", "status"}, {"drivers", "last_heartbeat_at"}, {"drivers", "current_load_kg"},
	{"drivers", "current_deliveries"}, {"drivers", "current_pickup_id"},

	{"driver_targets", "driver_id"}, {"driver_targets", "target_deliveries"},
	{"driver_targets", "target_revenue"}, {"driver_targets", "current_deliveries"},
	{"driver_targets", "current_revenue"}, {"driver_targets", "status"},
	{"driver_targets", "created_at"}, {"driver_targets", "updated_at"},

	{"performance_snapshots", "driver_id"}, {"performance_snapshots", "date"},
	{"performance_snapshots", "deliveries_completed"}, {"performance_snapshots", "revenue_generated"},
	{"performance_snapshots", "target_deliveries"}, {"performance_snapshots", "target_revenue"},
	{"performance_snapshots", "target_achieved"}, {"performance_snapshots", "achievement_percent"},

	{"routes", "id"}, {"routes", "driver_id"}, {"routes", "vehicle_id"},
	{"routes", "pickup_id"}, {"routes", "ordered_stops"}, {"routes", "total_distance_km"},
	{"routes", "total_duration_min"}, {"routes", "status"}, {"routes", "created_at"},
	{"routes", "optimized_at"},

	{"assignment_logs", "order_id"}, {"assignment_logs", "driver_id"},
	{"assignment_logs", "assignment_type"}, {"assignment_logs", "total_score"},
	{"assignment_logs", "reason"}, {"assignment_logs", "alternatives_count"},
	{"assignment_logs", "created_at"},

	{"route_optimization_logs", "driver_id"}, {"route_optimization_logs", "order_ids"},
	{"route_optimization_logs", "original_distance"}, {"route_optimization_logs", "optimized_distance"},
	{"route_optimization_logs", "status"}, {"route_optimization_logs", "created_at"},

	{"order_batches", "batch_number"}, {"order_batches", "order_ids"},
	{"order_batches", "order_count"}, {"order_batches", "status"}, {"order_batches", "created_at"},

	{"escalation_logs", "order_id"}, {"escalation_logs", "type"}, {"escalation_logs", "severity"},
	{"escalation_logs", "status"}, {"escalation_logs", "created_at"}, {"escalation_logs", "resolved_at"},

	{"dispatch_alerts", "order_id"}, {"dispatch_alerts", "type"}, {"dispatch_alerts", "severity"},
	{"dispatch_alerts", "resolved"}, {"dispatch_alerts", "created_at"},
}

// CheckSchema queries information_schema once for every (table, column)
// pair the gateway depends on and fails closed with apperror.CodeSchemaMismatch
// naming every missing one, instead of letting a missing column surface
// later as an opaque query error mid-tick.
func (g *Gateway) CheckSchema(ctx context.Context) error {
	rows, err := g.db.Query(ctx, `
		SELECT table_name, column_name FROM information_schema.columns
		WHERE table_schema = 'public'`)
	if err != nil {
		return fmt.Errorf("query information_schema: %w", err)
	}
	defer rows.Close()

	present := make(map[requiredColumn]bool)
	for rows.Next() {
		var rc requiredColumn
		if err := rows.Scan(&rc.table, &rc.column); err != nil {
			return fmt.Errorf("scan information_schema row: %w", err)
		}
		present[rc] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	var missing []string
	for _, rc := range requiredSchema {
		if !present[rc] {
			missing = append(missing, rc.table+"."+rc.column)
		}
	}
	if len(missing) > 0 {
		return apperror.New(apperror.CodeSchemaMismatch,
			"required schema is missing: "+strings.Join(missing, ", "))
	}
	return nil
}
