package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch/internal/domain"
	"dispatch/pkg/apperror"
	"dispatch/pkg/config"
)

// pgxMockAdapter satisfies database.DB by forwarding to a pgxmock pool.
type pgxMockAdapter struct {
	mock pgxmock.PgxPoolIface
}

func (a *pgxMockAdapter) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return a.mock.Exec(ctx, sql, args...)
}
func (a *pgxMockAdapter) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return a.mock.Query(ctx, sql, args...)
}
func (a *pgxMockAdapter) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return a.mock.QueryRow(ctx, sql, args...)
}
func (a *pgxMockAdapter) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	return a.mock.BeginTx(ctx, opts)
}
func (a *pgxMockAdapter) Close()                        { a.mock.Close() }
func (a *pgxMockAdapter) Ping(ctx context.Context) error { return a.mock.Ping(ctx) }

func setupGateway(t *testing.T) (pgxmock.PgxPoolIface, *Gateway) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)

	adapter := &pgxMockAdapter{mock: mock}
	cfg := config.StoreConfig{
		TimeoutMs: config.StoreTimeouts{Read: 1000, Metrics: 8000, Mutation: 3000},
		Breaker:   config.BreakerConfig{Failures: 3, OpenSec: 120},
	}
	return mock, New(adapter, nil, cfg, nil)
}

func TestGateway_AssignOrder_Success(t *testing.T) {
	mock, g := setupGateway(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE orders SET status`).
		WithArgs(domain.OrderAssigned, "d1", "o1", domain.OrderPending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO assignment_logs`).
		WithArgs("o1", "d1", domain.AssignmentAuto, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	log := domain.AssignmentLog{OrderID: "o1", DriverID: "d1", AssignmentType: domain.AssignmentAuto, CreatedAt: time.Now()}
	err := g.AssignOrder(context.Background(), "o1", "d1", log)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGateway_AssignOrder_AlreadyAssigned(t *testing.T) {
	mock, g := setupGateway(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE orders SET status`).
		WithArgs(domain.OrderAssigned, "d1", "o1", domain.OrderPending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	log := domain.AssignmentLog{OrderID: "o1", DriverID: "d1", CreatedAt: time.Now()}
	err := g.AssignOrder(context.Background(), "o1", "d1", log)

	require.ErrorIs(t, err, ErrAlreadyAssigned)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGateway_GetTarget_NotFound(t *testing.T) {
	mock, g := setupGateway(t)
	defer mock.Close()

	mock.ExpectQuery(`SELECT driver_id, target_deliveries`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := g.GetTarget(context.Background(), "missing")

	require.Error(t, err)
	assert.Equal(t, apperror.CodeTargetNotFound, apperror.Code(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGateway_UpsertTarget(t *testing.T) {
	mock, g := setupGateway(t)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO driver_targets`).
		WithArgs("d1", 10, 500.0, "active").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := g.UpsertTarget(context.Background(), domain.DriverTarget{
		DriverID: "d1", TargetDeliveries: 10, TargetRevenue: 500.0, Status: "active",
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGateway_BreakerOpensAfterTimeouts(t *testing.T) {
	mock, g := setupGateway(t)
	defer mock.Close()

	for i := 0; i < 3; i++ {
		mock.ExpectQuery(`SELECT driver_id, target_deliveries`).
			WithArgs("d1").
			WillDelayFor(0).
			WillReturnError(context.DeadlineExceeded)
	}

	for i := 0; i < 3; i++ {
		_, err := g.GetTarget(context.Background(), "d1")
		require.Error(t, err)
	}

	assert.Equal(t, BreakerOpen, g.BreakerState())

	_, err := g.GetTarget(context.Background(), "d1")
	require.ErrorIs(t, err, apperror.ErrStoreUnavailable)
}
