package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"dispatch/pkg/telemetry"
)

// TxFunc is the body run inside a transaction opened by WithTransaction or RunInTransaction.
type TxFunc func(tx pgx.Tx) error

// WithTransaction runs fn inside a transaction, committing on success and
// rolling back on error or panic (re-panicking after rollback so the
// caller's own recover, if any, still sees the original panic value).
func WithTransaction(ctx context.Context, db DB, fn TxFunc) error {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx) //nolint:errcheck // best effort on panic
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// WithTransactionResult is WithTransaction for a fn that also produces a value.
func WithTransactionResult[T any](ctx context.Context, db DB, fn func(tx pgx.Tx) (T, error)) (T, error) {
	var result T

	tx, err := db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx) //nolint:errcheck // best effort on panic
			panic(p)
		}
	}()

	result, err = fn(tx)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return result, fmt.Errorf("tx error: %v, rollback error: %w", err, rbErr)
		}
		return result, err
	}

	if err := tx.Commit(ctx); err != nil {
		return result, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return result, nil
}

// RunInTransaction wraps WithTransaction with a "db.transaction.<name>" span,
// so the repository methods in internal/store that need the atomic
// write-plus-log guarantee (AssignOrder, InsertBatch) get a traceable span
// around the transaction without hand-rolling BeginTx/Rollback/Commit and
// its span at every call site.
func RunInTransaction(ctx context.Context, db DB, name string, fn TxFunc) error {
	ctx, span := telemetry.StartSpan(ctx, "db.transaction."+name)
	defer span.End()

	if err := WithTransaction(ctx, db, fn); err != nil {
		telemetry.SetError(ctx, err)
		return err
	}
	return nil
}
