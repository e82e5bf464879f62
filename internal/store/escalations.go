package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"dispatch/internal/domain"
)

// InsertEscalationLog appends one detection row.
func (g *Gateway) InsertEscalationLog(ctx context.Context, log domain.EscalationLog) error {
	return g.call(ctx, "escalation_logs", "InsertEscalationLog", callMutation, func(ctx context.Context) error {
		_, err := g.db.Exec(ctx, `
			INSERT INTO escalation_logs (order_id, driver_id, type, severity, status,
				reason, current_delay_min, created_at, resolved_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			log.OrderID, log.DriverID, log.Type, log.Severity, log.Status,
			log.Reason, log.CurrentDelayMin, log.CreatedAt, log.ResolvedAt)
		return err
	})
}

// LastEscalation returns the most recent EscalationLog row for
// (orderId, type), used to reconcile the escalation monitor's in-memory
// de-duplication cache against the store of record after a restart.
func (g *Gateway) LastEscalation(ctx context.Context, orderID string, typ domain.EscalationType) (*domain.EscalationLog, error) {
	var log domain.EscalationLog
	err := g.call(ctx, "escalation_logs", "LastEscalation", callRead, func(ctx context.Context) error {
		row := g.db.QueryRow(ctx, `
			SELECT order_id, driver_id, type, severity, status, reason,
			       current_delay_min, created_at, resolved_at
			FROM escalation_logs
			WHERE order_id = $1 AND type = $2
			ORDER BY created_at DESC LIMIT 1`, orderID, typ)
		err := row.Scan(&log.OrderID, &log.DriverID, &log.Type, &log.Severity, &log.Status,
			&log.Reason, &log.CurrentDelayMin, &log.CreatedAt, &log.ResolvedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("scan escalation log: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// InsertDispatchAlert writes one operator-facing alert row.
func (g *Gateway) InsertDispatchAlert(ctx context.Context, a domain.DispatchAlert) error {
	return g.call(ctx, "dispatch_alerts", "InsertDispatchAlert", callMutation, func(ctx context.Context) error {
		_, err := g.db.Exec(ctx, `
			INSERT INTO dispatch_alerts (order_id, type, severity, message, resolved,
				created_at, resolved_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			a.OrderID, a.Type, a.Severity, a.Message, a.Resolved, a.CreatedAt, a.ResolvedAt)
		return err
	})
}

// ResolveEscalation marks an open escalation resolved, used once the
// underlying condition clears (e.g. the order is delivered).
func (g *Gateway) ResolveEscalation(ctx context.Context, orderID string, typ domain.EscalationType, at time.Time) error {
	return g.call(ctx, "escalation_logs", "ResolveEscalation", callMutation, func(ctx context.Context) error {
		_, err := g.db.Exec(ctx, `
			UPDATE escalation_logs SET status = $1, resolved_at = $2
			WHERE order_id = $3 AND type = $4 AND status != $1`,
			domain.EscalationResolved, at, orderID, typ)
		return err
	})
}
