// Package escalation implements the escalation monitor: it sweeps every
// active order and driver each tick, detects SLA risk, stuck deliveries,
// unresponsive drivers, and repeated delivery failures, and writes one
// append-only EscalationLog per detected condition while it persists.
package escalation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/urgency"
	"dispatch/pkg/apperror"
	"dispatch/pkg/metrics"
	"dispatch/pkg/telemetry"
)

// Store is the subset of the persistence gateway the escalation monitor
// depends on.
type Store interface {
	ListActiveOrders(ctx context.Context) ([]domain.Order, error)
	ListAtRiskOrders(ctx context.Context, limit int) ([]domain.Order, error)
	ListAllDrivers(ctx context.Context) ([]domain.Driver, error)
	InsertEscalationLog(ctx context.Context, log domain.EscalationLog) error
	InsertDispatchAlert(ctx context.Context, a domain.DispatchAlert) error
	LastEscalation(ctx context.Context, orderID string, typ domain.EscalationType) (*domain.EscalationLog, error)
}

// Config tunes the monitor's detection thresholds.
type Config struct {
	StuckAfter        time.Duration // time in pickedUp before STUCK fires
	UnresponsiveAfter time.Duration // heartbeat staleness before UNRESPONSIVE_DRIVER fires
	MinFailedAttempts int           // attempts threshold for FAILED_DELIVERY
	DedupWindow       time.Duration // suppress a repeat (orderId, type) log within this window
	AtRiskLimit       int           // upper bound on AtRiskOrders results
}

const (
	defaultStuckAfter        = 45 * time.Minute
	defaultUnresponsiveAfter = 10 * time.Minute
	defaultMinFailedAttempts = 2
	defaultDedupWindow       = 30 * time.Minute
	defaultAtRiskLimit       = 500
)

// Engine is the escalation monitor.
type Engine struct {
	store   Store
	cfg     Config
	metrics *metrics.Metrics
	now     func() time.Time

	mu       sync.Mutex
	lastSeen map[string]time.Time // "orderId|type" -> last time it was written, local dedup cache
}

// New builds an Engine, filling unset Config fields with defaults.
func New(store Store, cfg Config, m *metrics.Metrics) *Engine {
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = defaultStuckAfter
	}
	if cfg.UnresponsiveAfter <= 0 {
		cfg.UnresponsiveAfter = defaultUnresponsiveAfter
	}
	if cfg.MinFailedAttempts <= 0 {
		cfg.MinFailedAttempts = defaultMinFailedAttempts
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = defaultDedupWindow
	}
	if cfg.AtRiskLimit <= 0 {
		cfg.AtRiskLimit = defaultAtRiskLimit
	}
	return &Engine{store: store, cfg: cfg, metrics: m, now: time.Now, lastSeen: make(map[string]time.Time)}
}

// Detection is one escalation condition found during a sweep.
type Detection struct {
	Log     domain.EscalationLog
	Critical bool
}

// Sweep scans every active order and driver once, writes one
// EscalationLog per newly-detected (orderId, type) condition, and emits a
// DispatchAlert for the critical subset. It returns every detection
// written this sweep (deduplicated detections are omitted).
func (e *Engine) Sweep(ctx context.Context) ([]Detection, error) {
	ctx, span := telemetry.StartSpan(ctx, "escalation.Sweep")
	defer span.End()
	start := e.now()

	orders, err := e.store.ListActiveOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active orders: %w", err)
	}
	drivers, err := e.store.ListAllDrivers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list drivers: %w", err)
	}
	driverByID := make(map[string]domain.Driver, len(drivers))
	for _, d := range drivers {
		driverByID[d.ID] = d
	}

	now := e.now()
	var detections []Detection
	for _, o := range orders {
		for _, d := range e.detectOrder(o, driverByID, now) {
			detections = append(detections, d)
		}
	}

	for _, det := range detections {
		if err := e.store.InsertEscalationLog(ctx, det.Log); err != nil {
			return detections, fmt.Errorf("insert escalation log for order %s: %w", det.Log.OrderID, err)
		}
		if e.metrics != nil {
			e.metrics.RecordEscalation(string(det.Log.Type), string(det.Log.Severity))
		}
		if det.Critical {
			if err := e.store.InsertDispatchAlert(ctx, domain.DispatchAlert{
				OrderID:   det.Log.OrderID,
				Type:      domain.AlertSLABreach,
				Severity:  det.Log.Severity,
				Message:   det.Log.Reason,
				CreatedAt: now,
			}); err != nil {
				return detections, fmt.Errorf("insert dispatch alert for order %s: %w", det.Log.OrderID, err)
			}
			if e.metrics != nil {
				e.metrics.RecordDispatchAlert(string(domain.AlertSLABreach), string(det.Log.Severity))
			}
		}
	}

	if e.metrics != nil {
		e.metrics.RecordEngineTick("escalation", e.now().Sub(start), false)
	}
	return detections, nil
}

// AtRiskOrder pairs an order with its computed urgency classification.
type AtRiskOrder struct {
	Order   domain.Order
	Urgency domain.Urgency
}

// AtRiskOrders returns pending/assigned orders whose urgency classifies as
// CRITICAL or URGENT, most at-risk first, capped at Config.AtRiskLimit.
// Read-only: it writes no escalation rows and mutates no state. The store
// returns candidates soonest-deadline-first, which is already ascending
// remaining time, so no re-sort is needed after filtering.
func (e *Engine) AtRiskOrders(ctx context.Context) ([]AtRiskOrder, error) {
	ctx, span := telemetry.StartSpan(ctx, "escalation.AtRiskOrders")
	defer span.End()

	orders, err := e.store.ListAtRiskOrders(ctx, e.cfg.AtRiskLimit)
	if err != nil {
		return nil, fmt.Errorf("list at-risk orders: %w", err)
	}

	now := e.now()
	var out []AtRiskOrder
	for _, o := range orders {
		u := urgency.Classify(o.CreatedAt, o.SLADeadline, now)
		if u.Category != domain.UrgencyCritical && u.Category != domain.UrgencyUrgent {
			continue
		}
		out = append(out, AtRiskOrder{Order: o, Urgency: u})
	}
	return out, nil
}

func (e *Engine) detectOrder(o domain.Order, driverByID map[string]domain.Driver, now time.Time) []Detection {
	var out []Detection

	if slaRisk, ok := e.slaRisk(o, now); ok {
		out = append(out, slaRisk)
	}
	if stuck, ok := e.stuck(o, now); ok {
		out = append(out, stuck)
	}
	if o.AssignedDriverID != nil {
		if driver, ok := driverByID[*o.AssignedDriverID]; ok {
			if unresponsive, ok := e.unresponsiveDriver(o, driver, now); ok {
				out = append(out, unresponsive)
			}
		}
	}
	if failed, ok := e.failedDelivery(o, now); ok {
		out = append(out, failed)
	}
	return out
}

func (e *Engine) slaRisk(o domain.Order, now time.Time) (Detection, bool) {
	if o.Status != domain.OrderPending && o.Status != domain.OrderAssigned {
		return Detection{}, false
	}
	remainingMin := o.SLADeadline.Sub(now).Minutes()
	if remainingMin >= 30 {
		return Detection{}, false
	}
	severity := domain.SeverityMedium
	switch {
	case remainingMin < 10:
		severity = domain.SeverityCritical
	case remainingMin < 20:
		severity = domain.SeverityHigh
	}
	if !e.shouldWrite(o.ID, domain.EscalationSLARisk, now) {
		return Detection{}, false
	}
	return Detection{
		Log: domain.EscalationLog{
			OrderID:         o.ID,
			DriverID:        o.AssignedDriverID,
			Type:            domain.EscalationSLARisk,
			Severity:        severity,
			Status:          domain.EscalationOpen,
			Reason:          fmt.Sprintf("%.1f minutes remaining before SLA deadline", remainingMin),
			CurrentDelayMin: -remainingMin,
			CreatedAt:       now,
		},
		Critical: severity == domain.SeverityCritical,
	}, true
}

func (e *Engine) stuck(o domain.Order, now time.Time) (Detection, bool) {
	if o.Status != domain.OrderPickedUp {
		return Detection{}, false
	}
	stuckFor := now.Sub(o.LastStatusChange)
	if stuckFor <= e.cfg.StuckAfter {
		return Detection{}, false
	}
	if !e.shouldWrite(o.ID, domain.EscalationStuck, now) {
		return Detection{}, false
	}
	return Detection{
		Log: domain.EscalationLog{
			OrderID:         o.ID,
			DriverID:        o.AssignedDriverID,
			Type:            domain.EscalationStuck,
			Severity:        domain.SeverityHigh,
			Status:          domain.EscalationOpen,
			Reason:          fmt.Sprintf("picked up %s ago with no status change", stuckFor.Round(time.Minute)),
			CurrentDelayMin: stuckFor.Minutes(),
			CreatedAt:       now,
		},
	}, true
}

func (e *Engine) unresponsiveDriver(o domain.Order, d domain.Driver, now time.Time) (Detection, bool) {
	if d.Status == domain.DriverOffline {
		return Detection{}, false
	}
	staleness := now.Sub(d.LastHeartbeatAt)
	if staleness <= e.cfg.UnresponsiveAfter {
		return Detection{}, false
	}
	if !e.shouldWrite(o.ID, domain.EscalationUnresponsive, now) {
		return Detection{}, false
	}
	return Detection{
		Log: domain.EscalationLog{
			OrderID:         o.ID,
			DriverID:        &d.ID,
			Type:            domain.EscalationUnresponsive,
			Severity:        domain.SeverityHigh,
			Status:          domain.EscalationOpen,
			Reason:          fmt.Sprintf("driver %s heartbeat stale for %s", d.ID, staleness.Round(time.Minute)),
			CurrentDelayMin: staleness.Minutes(),
			CreatedAt:       now,
		},
	}, true
}

func (e *Engine) failedDelivery(o domain.Order, now time.Time) (Detection, bool) {
	if o.Status != domain.OrderFailed || o.Attempts < e.cfg.MinFailedAttempts {
		return Detection{}, false
	}
	if !e.shouldWrite(o.ID, domain.EscalationFailedDelivery, now) {
		return Detection{}, false
	}
	return Detection{
		Log: domain.EscalationLog{
			OrderID:         o.ID,
			DriverID:        o.AssignedDriverID,
			Type:            domain.EscalationFailedDelivery,
			Severity:        domain.SeverityCritical,
			Status:          domain.EscalationOpen,
			Reason:          fmt.Sprintf("%d failed delivery attempts", o.Attempts),
			CurrentDelayMin: 0,
			CreatedAt:       now,
		},
		Critical: true,
	}, true
}

// shouldWrite applies the 30-minute (default) dedup window per
// (orderId, type), using a local cache first and falling back to nothing
// further — the store is append-only and cheap duplicate rows within the
// window are tolerable on a cache miss after restart, since LastEscalation
// reconciliation (ReconcileFromStore) seeds the cache before the first
// sweep.
func (e *Engine) shouldWrite(orderID string, typ domain.EscalationType, now time.Time) bool {
	key := orderID + "|" + string(typ)
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastSeen[key]
	if ok && now.Sub(last) < e.cfg.DedupWindow {
		return false
	}
	e.lastSeen[key] = now
	return true
}

// ReconcileFromStore seeds the dedup cache from the store of record for
// one (orderId, type) pair, so a freshly restarted monitor does not
// immediately re-fire escalations written just before the restart. A
// missing prior row is not an error — there is simply nothing to seed.
func (e *Engine) ReconcileFromStore(ctx context.Context, orderID string, typ domain.EscalationType) error {
	log, err := e.store.LastEscalation(ctx, orderID, typ)
	if err != nil {
		if apperror.Is(err, apperror.CodeNotFound) {
			return nil
		}
		return err
	}
	if log.Status != domain.EscalationOpen {
		return nil
	}
	e.mu.Lock()
	e.lastSeen[orderID+"|"+string(typ)] = log.CreatedAt
	e.mu.Unlock()
	return nil
}
