package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"dispatch/internal/domain"
	"dispatch/pkg/database"
)

// ListPendingUnassignedOrders returns pending orders with no batchId yet,
// the candidate pool for the batching engine.
func (g *Gateway) ListPendingUnassignedOrders(ctx context.Context) ([]domain.Order, error) {
	var orders []domain.Order
	err := g.call(ctx, "orders", "ListPendingUnassignedOrders", callRead, func(ctx context.Context) error {
		rows, err := g.db.Query(ctx, `
			SELECT id, customer_ref, pickup_id, delivery_lat, delivery_lng, load_kg,
			       priority, revenue, created_at, sla_deadline, status,
			       assigned_driver_id, batch_id, attempts, last_status_change
			FROM orders WHERE status = $1 AND batch_id IS NULL
			ORDER BY created_at ASC`, domain.OrderPending)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var o domain.Order
			if err := scanOrder(rows, &o); err != nil {
				return err
			}
			orders = append(orders, o)
		}
		return rows.Err()
	})
	return orders, err
}

// InsertBatch writes one OrderBatch row and stamps batchId onto its orders
// in the same transaction, so a batch never exists without its member
// orders pointing back to it.
func (g *Gateway) InsertBatch(ctx context.Context, b domain.OrderBatch) error {
	return g.call(ctx, "order_batches", "InsertBatch", callMutation, func(ctx context.Context) error {
		return database.RunInTransaction(ctx, g.db, "insert_batch", func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, `
				INSERT INTO order_batches (batch_number, driver_id, order_ids, order_count,
					total_distance_km, estimated_duration_min, delivery_zone, status, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				b.BatchNumber, b.DriverID, b.OrderIDs, b.OrderCount, b.TotalDistanceKm,
				b.EstimatedDurationMin, b.DeliveryZone, b.Status, b.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert order batch: %w", err)
			}

			if _, err := tx.Exec(ctx, `UPDATE orders SET batch_id = $1 WHERE id = ANY($2)`,
				b.BatchNumber, b.OrderIDs); err != nil {
				return fmt.Errorf("stamp batch id on orders: %w", err)
			}

			return nil
		})
	})
}
