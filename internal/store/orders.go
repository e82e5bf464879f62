package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"dispatch/internal/domain"
	"dispatch/pkg/database"
)

// GetOrder fetches a single order by id. Returns apperror.CodeNotFound if
// absent.
func (g *Gateway) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	var o domain.Order
	err := g.call(ctx, "orders", "GetOrder", callRead, func(ctx context.Context) error {
		row := g.db.QueryRow(ctx, `
			SELECT id, customer_ref, pickup_id, delivery_lat, delivery_lng, load_kg,
			       priority, revenue, created_at, sla_deadline, status,
			       assigned_driver_id, batch_id, attempts, last_status_change
			FROM orders WHERE id = $1`, id)
		return scanOrder(row, &o)
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ListPendingOrders returns all orders currently awaiting assignment,
// ordered oldest-first.
func (g *Gateway) ListPendingOrders(ctx context.Context) ([]domain.Order, error) {
	var orders []domain.Order
	err := g.call(ctx, "orders", "ListPendingOrders", callRead, func(ctx context.Context) error {
		rows, err := g.db.Query(ctx, `
			SELECT id, customer_ref, pickup_id, delivery_lat, delivery_lng, load_kg,
			       priority, revenue, created_at, sla_deadline, status,
			       assigned_driver_id, batch_id, attempts, last_status_change
			FROM orders WHERE status = $1 ORDER BY created_at ASC`, domain.OrderPending)
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

// ListBatchedOrders returns pending orders that have been assigned a
// batchId but have no route yet, the route optimizer's candidate pool for
// a re-optimization tick.
func (g *Gateway) ListBatchedOrders(ctx context.Context) ([]domain.Order, error) {
	var orders []domain.Order
	err := g.call(ctx, "orders", "ListBatchedOrders", callRead, func(ctx context.Context) error {
		rows, err := g.db.Query(ctx, `
			SELECT id, customer_ref, pickup_id, delivery_lat, delivery_lng, load_kg,
			       priority, revenue, created_at, sla_deadline, status,
			       assigned_driver_id, batch_id, attempts, last_status_change
			FROM orders WHERE status = $1 AND batch_id IS NOT NULL
			  AND NOT EXISTS (
			      SELECT 1 FROM routes r
			      WHERE r.ordered_stops @> jsonb_build_array(jsonb_build_object('orderId', orders.id)))
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

// ListActiveOrders returns every order whose status is not terminal, for
// the escalation monitor's sweep.
func (g *Gateway) ListActiveOrders(ctx context.Context) ([]domain.Order, error) {
	var orders []domain.Order
	err := g.call(ctx, "orders", "ListActiveOrders", callRead, func(ctx context.Context) error {
		rows, err := g.db.Query(ctx, `
			SELECT id, customer_ref, pickup_id, delivery_lat, delivery_lng, load_kg,
			       priority, revenue, created_at, sla_deadline, status,
			       assigned_driver_id, batch_id, attempts, last_status_change
			FROM orders
			WHERE status NOT IN ($1, $2, $3)
			ORDER BY sla_deadline ASC`,
			domain.OrderDelivered, domain.OrderCancelled, domain.OrderFailed)
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

// ListAtRiskOrders returns up to limit pending/assigned orders sorted by
// soonest SLA deadline, for the AtRiskOrders() read operation. Filtering
// by urgency category is done by the caller using internal/urgency, since
// the category is a pure function of (createdAt, slaDeadline, now) and is
// not persisted.
func (g *Gateway) ListAtRiskOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 500
	}
	var orders []domain.Order
	err := g.call(ctx, "orders", "ListAtRiskOrders", callRead, func(ctx context.Context) error {
		rows, err := g.db.Query(ctx, `
			SELECT id, customer_ref, pickup_id, delivery_lat, delivery_lng, load_kg,
			       priority, revenue, created_at, sla_deadline, status,
			       assigned_driver_id, batch_id, attempts, last_status_change
			FROM orders
			WHERE status IN ($1, $2)
			ORDER BY sla_deadline ASC
			LIMIT $3`, domain.OrderPending, domain.OrderAssigned, limit)
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

// AssignOrder atomically transitions an order from pending to assigned and
// appends the matching AssignmentLog row in a single transaction, so no
// external observer ever sees a log row without the matching order update.
// It returns ErrAlreadyAssigned without mutating anything if the order is
// no longer pending — the caller (the assignment engine) treats that as an
// idempotent hit, not a failure.
func (g *Gateway) AssignOrder(ctx context.Context, orderID, driverID string, log domain.AssignmentLog) error {
	return g.call(ctx, "orders", "AssignOrder", callMutation, func(ctx context.Context) error {
		return database.RunInTransaction(ctx, g.db, "assign_order", func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `
				UPDATE orders SET status = $1, assigned_driver_id = $2
				WHERE id = $3 AND status = $4 AND assigned_driver_id IS NULL`,
				domain.OrderAssigned, driverID, orderID, domain.OrderPending)
			if err != nil {
				return fmt.Errorf("update order on assign: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return ErrAlreadyAssigned
			}

			return insertAssignmentLog(ctx, tx, log)
		})
	})
}

// UpdateOrderStatus transitions an order's status and records the status
// change time, used by escalation (stuck detection reads last_status_change)
// and by driver-update flows outside this module's scope.
func (g *Gateway) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) error {
	return g.call(ctx, "orders", "UpdateOrderStatus", callMutation, func(ctx context.Context) error {
		_, err := g.db.Exec(ctx, `
			UPDATE orders SET status = $1, last_status_change = now() WHERE id = $2`,
			status, orderID)
		return err
	})
}

// SetOrderBatch stamps batchId on every order in orderIDs, used by the
// batching engine once a batch has been formed.
func (g *Gateway) SetOrderBatch(ctx context.Context, batchID string, orderIDs []string) error {
	return g.call(ctx, "orders", "SetOrderBatch", callMutation, func(ctx context.Context) error {
		_, err := g.db.Exec(ctx, `UPDATE orders SET batch_id = $1 WHERE id = ANY($2)`, batchID, orderIDs)
		return err
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner, o *domain.Order) error {
	err := row.Scan(
		&o.ID, &o.CustomerRef, &o.PickupID, &o.DeliveryLat, &o.DeliveryLng, &o.LoadKg,
		&o.Priority, &o.Revenue, &o.CreatedAt, &o.SLADeadline, &o.Status,
		&o.AssignedDriverID, &o.BatchID, &o.Attempts, &o.LastStatusChange,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("scan order: %w", err)
	}
	return nil
}
