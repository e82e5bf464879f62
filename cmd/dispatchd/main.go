// Package main is the entry point for dispatchd, the fleet dispatch and
// route optimization daemon.
//
// dispatchd runs four long-running engines on independent cadences against
// a shared Postgres-backed persistence gateway:
//
//   - auto-dispatch   (internal/assignment) — scores and assigns pending
//     orders to available drivers every 30s.
//   - route re-optimization (internal/routing) — sequences batched,
//     unrouted deliveries into capacitated multi-pickup routes every 5m.
//   - batching        (internal/batching)   — groups pending unassigned
//     orders into delivery-zone batches every 2m.
//   - escalation      (internal/escalation) — sweeps active orders and
//     drivers for SLA risk, stuck deliveries, and unresponsive drivers
//     every 60s.
//
// # Configuration
//
// Configuration is loaded with the following priority (highest to lowest):
//  1. Environment variables (prefix: DISPATCH_)
//  2. Config files (config.yaml, config/config.yaml, /etc/dispatch/config.yaml)
//  3. Default values (pkg/config/loader.go)
//
// # Graceful shutdown
//
// On SIGINT/SIGTERM, dispatchd stops accepting new ticks on every engine,
// waits up to the cycle orchestrator's drain timeout for in-flight ticks to
// finish, closes the persistence gateway's connection pool, and flushes
// telemetry before exiting.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dispatch/internal/assignment"
	"dispatch/internal/batching"
	"dispatch/internal/domain"
	"dispatch/internal/escalation"
	"dispatch/internal/orchestrator"
	"dispatch/internal/pickups"
	"dispatch/internal/routing"
	"dispatch/internal/scorer"
	"dispatch/internal/store"
	"dispatch/internal/targettracker"
	"dispatch/migrations"
	"dispatch/pkg/audit"
	"dispatch/pkg/cache"
	"dispatch/pkg/config"
	"dispatch/pkg/database"
	"dispatch/pkg/logger"
	"dispatch/pkg/metrics"
	"dispatch/pkg/telemetry"
)

func main() {
	// =====================================================================
	// Configuration loading
	// =====================================================================
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// =====================================================================
	// Logger initialization
	// =====================================================================
	logger.InitWithConfig(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// =====================================================================
	// Telemetry (OpenTelemetry)
	// =====================================================================
	if cfg.Tracing.Enabled {
		tp, err := telemetry.Init(ctx, telemetry.Config{
			Enabled:     cfg.Tracing.Enabled,
			Endpoint:    cfg.Tracing.Endpoint,
			ServiceName: cfg.App.Name,
			Version:     cfg.App.Version,
			Environment: cfg.App.Environment,
			SampleRate:  cfg.Tracing.SampleRate,
		})
		if err != nil {
			logger.Log.Warn("failed to init telemetry", "error", err)
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(shutdownCtx); err != nil {
					logger.Log.Warn("failed to shutdown telemetry", "error", err)
				}
			}()
		}
	}

	// =====================================================================
	// Metrics (Prometheus sidecar)
	// =====================================================================
	m := metrics.InitMetrics(cfg.Metrics.Namespace, cfg.App.Name)
	m.SetServiceInfo(cfg.App.Version, cfg.App.Environment)
	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartMetricsServer(cfg.Metrics.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	// =====================================================================
	// Audit trail
	// =====================================================================
	auditCfg := &audit.Config{
		Enabled:     cfg.Audit.Enabled,
		Backend:     cfg.Audit.Backend,
		FilePath:    cfg.Audit.FilePath,
		BufferSize:  cfg.Audit.BufferSize,
		FlushPeriod: cfg.Audit.FlushPeriod,
	}
	auditLogger, err := audit.New(auditCfg)
	if err != nil {
		logger.Log.Warn("failed to init audit logger, falling back to stdout", "error", err)
		auditLogger = audit.NewStdoutLogger(auditCfg)
	}
	audit.SetGlobal(auditLogger)
	defer func() { _ = auditLogger.Close() }()

	// =====================================================================
	// Postgres connection pool + schema migrations + schema check
	// =====================================================================
	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		logger.Log.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db.Pool(), &cfg.Database, migrations.PostgresMigrations, "postgres"); err != nil {
		logger.Log.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// =====================================================================
	// Cache (driver-location + target-snapshot read-through fallback)
	// =====================================================================
	var c cache.Cache
	if cfg.Cache.Enabled {
		c, err = cache.New(cache.FromConfig(&cfg.Cache))
		if err != nil {
			logger.Log.Warn("failed to create cache, continuing without stale-read fallback", "error", err)
			c = nil
		}
	}

	// =====================================================================
	// Persistence gateway
	// =====================================================================
	gw := store.New(db, c, cfg.Store, m)

	if err := gw.CheckSchema(ctx); err != nil {
		logger.Log.Error("schema check failed", "error", err)
		os.Exit(1)
	}

	// =====================================================================
	// Pickup registry (static reference data)
	// =====================================================================
	var nearCache *cache.NearestPickupCache
	if c != nil {
		nearCache = cache.NewNearestPickupCache(c, cfg.Cache.DefaultTTL)
	}
	pickupRegistry := pickups.New(cfg.Pickups, nearCache)

	// =====================================================================
	// Engines
	// =====================================================================
	sc := scorer.New(domain.Weights{
		Distance: cfg.Scorer.Weights.Distance,
		Time:     cfg.Scorer.Weights.Time,
		Load:     cfg.Scorer.Weights.Load,
		Priority: cfg.Scorer.Weights.Priority,
		Route:    cfg.Scorer.Weights.Route,
	}, cfg.Scorer.MaxDistKm)

	tracker := targettracker.New(gw, cfg.Targets.ShiftStart, cfg.Targets.ShiftEnd, cfg.Targets.Timezone)

	assignEngine := assignment.New(gw, sc, pickupRegistry.Lookup, m).
		WithProgressLookup(func(ctx context.Context, driverID string) (float64, bool) {
			status, err := tracker.GetStatus(ctx, driverID)
			if err != nil {
				return 0, false
			}
			return (status.DeliveryProgress + status.RevenueProgress) / 2, true
		})

	routeEngine := routing.New(gw, routing.Config{
		AvgMinPerDelivery: cfg.Optimizer.AvgMinPerDelivery,
		SpeedKph:          cfg.Optimizer.AvgSpeedKph,
	}, m)

	batchEngine := batching.New(gw, batching.Config{SpeedKph: cfg.Optimizer.AvgSpeedKph})

	escalationEngine := escalation.New(gw, escalation.Config{}, m)
	if err := reconcileEscalations(ctx, gw, escalationEngine); err != nil {
		logger.Log.Warn("escalation dedup-cache reconciliation failed, first sweep may duplicate recent escalations", "error", err)
	}

	// =====================================================================
	// Cycle orchestrator
	// =====================================================================
	orch := orchestrator.New(orchestrator.Tickers{
		Dispatch:   dispatchTick(gw, assignEngine),
		Routes:     routesTick(gw, routeEngine, pickupRegistry, cfg.Optimizer.SLAMinutes),
		Batching:   batchingTick(batchEngine),
		Escalation: escalationTick(escalationEngine),
	}, cfg.Cycle, m)

	outcomes := orch.StartAll(ctx)
	for _, out := range outcomes {
		if out.Err != nil {
			logger.Log.Error("engine failed to start", "error", out.Err)
		}
	}

	stopDailySnapshot := startDailySnapshotLoop(ctx, tracker, cfg.Targets)

	logger.Log.Info("dispatchd started",
		"environment", cfg.App.Environment,
		"version", cfg.App.Version,
	)

	<-ctx.Done()
	logger.Log.Info("shutdown signal received, draining engines")

	stopDailySnapshot()

	stopOutcomes := orch.StopAll(context.Background())
	for _, out := range stopOutcomes {
		if out.Err != nil {
			logger.Log.Error("engine failed to stop cleanly", "error", out.Err)
		}
	}

	logger.Log.Info("dispatchd stopped")
}

// dispatchTick builds the auto-dispatch engine's TickFunc: list every
// pending order and try to assign each one in one batch call, tolerating
// individual failures the same way AssignBatch already does.
func dispatchTick(gw *store.Gateway, e *assignment.Engine) orchestrator.TickFunc {
	return func(ctx context.Context) error {
		orders, err := gw.ListPendingOrders(ctx)
		if err != nil {
			return err
		}
		if len(orders) == 0 {
			return nil
		}
		ids := make([]string, len(orders))
		for i, o := range orders {
			ids[i] = o.ID
		}
		e.AssignBatch(ctx, ids)
		return nil
	}
}

// routesTick builds the route re-optimization engine's TickFunc: gather
// every batched-but-unrouted order, convert every available driver into a
// routing.Vehicle, and run a single optimization pass over all configured
// pickup points.
func routesTick(gw *store.Gateway, e *routing.Engine, reg *pickups.Registry, slaMinutes int) orchestrator.TickFunc {
	return func(ctx context.Context) error {
		deliveries, err := gw.ListBatchedOrders(ctx)
		if err != nil {
			return err
		}
		if len(deliveries) == 0 {
			return nil
		}
		drivers, err := gw.ListAvailableDrivers(ctx)
		if err != nil {
			return err
		}
		vehicles := make([]domain.Vehicle, len(drivers))
		for i, d := range drivers {
			vehicles[i] = domain.Vehicle{ID: "veh-" + d.ID, DriverID: d.ID, CapacityKg: d.CapacityKg}
		}

		_, err = e.Optimize(ctx, routing.Input{
			Pickups:    reg.All(),
			Deliveries: deliveries,
			Vehicles:   vehicles,
			SLAMinutes: float64(slaMinutes),
		})
		return err
	}
}

// batchingTick builds the batching engine's TickFunc.
func batchingTick(e *batching.Engine) orchestrator.TickFunc {
	return func(ctx context.Context) error {
		_, err := e.Run(ctx)
		return err
	}
}

// reconcileEscalations seeds the escalation monitor's in-memory dedup
// cache from the store of record for every active order, across all four
// escalation types, so a freshly restarted monitor doesn't immediately
// re-fire an escalation logged just before the restart.
func reconcileEscalations(ctx context.Context, gw *store.Gateway, e *escalation.Engine) error {
	orders, err := gw.ListActiveOrders(ctx)
	if err != nil {
		return err
	}
	types := []domain.EscalationType{
		domain.EscalationSLARisk,
		domain.EscalationStuck,
		domain.EscalationUnresponsive,
		domain.EscalationFailedDelivery,
	}
	for _, o := range orders {
		for _, typ := range types {
			if err := e.ReconcileFromStore(ctx, o.ID, typ); err != nil {
				return fmt.Errorf("reconcile escalation cache for order %s: %w", o.ID, err)
			}
		}
	}
	return nil
}

// escalationTick builds the escalation monitor's TickFunc.
func escalationTick(e *escalation.Engine) orchestrator.TickFunc {
	return func(ctx context.Context) error {
		_, err := e.Sweep(ctx)
		return err
	}
}

// startDailySnapshotLoop takes a PerformanceSnapshot once per configured
// shift end and resets every driver's running counters for the next
// shift. The loop ends when ctx is cancelled; the returned function blocks
// until it has exited. SnapshotDaily and
// Reset are both idempotent, so a missed or doubled tick around a restart
// is harmless.
func startDailySnapshotLoop(ctx context.Context, t *targettracker.Tracker, cfg config.TargetsConfig) func() {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}

	done := make(chan struct{})
	go func() {
		for {
			next := nextShiftEnd(time.Now().In(loc), cfg.ShiftEnd, loc)
			select {
			case <-ctx.Done():
				close(done)
				return
			case <-time.After(time.Until(next)):
				tickCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if _, err := t.SnapshotDaily(tickCtx, next); err != nil {
					logger.Log.Error("daily snapshot failed", "error", err)
				} else if err := t.Reset(tickCtx); err != nil {
					logger.Log.Error("target reset failed", "error", err)
				}
				cancel()
			}
		}
	}()
	return func() {
		<-done
	}
}

// nextShiftEnd returns the next occurrence of shiftEnd ("HH:MM" in loc)
// strictly after now.
func nextShiftEnd(now time.Time, shiftEnd string, loc *time.Location) time.Time {
	hh, mm := 20, 0
	if parsed, err := time.Parse("15:04", shiftEnd); err == nil {
		hh, mm = parsed.Hour(), parsed.Minute()
	}
	candidate := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, loc)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}
