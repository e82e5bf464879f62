// Package assignment implements the greedy best-driver selection engine:
// for a pending order, score every eligible driver and assign the
// lowest-scoring one, recording an append-only audit row for every
// decision.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/geo"
	"dispatch/internal/scorer"
	"dispatch/internal/urgency"
	"dispatch/pkg/apperror"
	"dispatch/pkg/metrics"
	"dispatch/pkg/telemetry"
)

// Store is the subset of the persistence gateway the assignment engine
// depends on.
type Store interface {
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListAvailableDrivers(ctx context.Context) ([]domain.Driver, error)
	AssignOrder(ctx context.Context, orderID, driverID string, log domain.AssignmentLog) error
	InsertDispatchAlert(ctx context.Context, a domain.DispatchAlert) error
}

// PickupLookup resolves a pickupId to its coordinates; owned by whatever
// layer loads the pickup roster, since pickups are immutable reference
// data rather than persisted rows.
type PickupLookup func(pickupID string) (geo.Point, bool)

// ProgressLookup resolves a driver's combined target-progress in [0,1] for
// the scorer's time sub-score. Wired to internal/targettracker's GetStatus
// in production; a nil ProgressLookup (e.g. in tests that don't construct
// a tracker) falls back to a queue-length heuristic.
type ProgressLookup func(ctx context.Context, driverID string) (float64, bool)

// Engine is the assignment engine. It is safe for concurrent use: the
// driver-queue cache is the only mutable engine-local state and is guarded
// by a mutex.
type Engine struct {
	store    Store
	scorer   *scorer.Scorer
	pickups  PickupLookup
	progress ProgressLookup
	metrics  *metrics.Metrics
	now      func() time.Time

	mu         sync.Mutex
	driverQueue map[string]int // driverId -> pending+active deliveries, engine-local cache
}

// New builds an assignment Engine.
func New(store Store, sc *scorer.Scorer, pickups PickupLookup, m *metrics.Metrics) *Engine {
	return &Engine{
		store:       store,
		scorer:      sc,
		pickups:     pickups,
		metrics:     m,
		now:         time.Now,
		driverQueue: make(map[string]int),
	}
}

// WithProgressLookup wires a combined target-progress source (typically
// internal/targettracker.Tracker.GetStatus) into the scorer's time
// sub-score. Returns the engine for chaining at construction time.
func (e *Engine) WithProgressLookup(p ProgressLookup) *Engine {
	e.progress = p
	return e
}

// Result is the outcome of a successful Assign call.
type Result struct {
	OrderID           string
	DriverID          string
	PriorityCategory  domain.UrgencyCategory
	RemainingMin      float64
	ScoreBreakdown    domain.ScoreBreakdown
	TotalScore        float64
	Alternatives      []Alternative
	AlreadyAssigned   bool
}

// Alternative is one of up to three next-best candidates, kept for the
// audit trail and for operator visibility.
type Alternative struct {
	DriverID   string
	TotalScore float64
}

// candidate is an internal scoring intermediate.
type candidate struct {
	driver  domain.Driver
	breakdown domain.ScoreBreakdown
	total   float64
}

const maxAlternatives = 3

// Assign selects one driver for orderID under the hard gates and scoring
// weights configured on the engine, in a single store transaction. It is
// idempotent: a second call on an already-assigned order returns the
// existing assignment with AlreadyAssigned=true rather than an error.
func (e *Engine) Assign(ctx context.Context, orderID string) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "assignment.Assign")
	defer span.End()

	start := e.now()
	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		e.recordOutcome(domain.AssignmentAuto, "error", start, 0)
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}

	if order.Status != domain.OrderPending {
		if order.AssignedDriverID != nil {
			e.recordOutcome(domain.AssignmentAuto, "already_assigned", start, 0)
			return &Result{OrderID: order.ID, DriverID: *order.AssignedDriverID, AlreadyAssigned: true}, nil
		}
		return nil, apperror.New(apperror.CodeOrderTerminal, "order is not pending and has no assigned driver")
	}

	pickup, ok := e.pickups(order.PickupID)
	if !ok {
		return nil, apperror.NewWithField(apperror.CodeMissingPickup, "unknown pickup for order", "pickupId")
	}

	u := urgency.Classify(order.CreatedAt, order.SLADeadline, e.now())

	drivers, err := e.store.ListAvailableDrivers(ctx)
	if err != nil {
		e.recordOutcome(domain.AssignmentAuto, "error", start, 0)
		return nil, fmt.Errorf("list available drivers: %w", err)
	}

	candidates := e.scoreCandidates(ctx, *order, drivers, pickup, u)
	if len(candidates) == 0 {
		_ = e.store.InsertDispatchAlert(ctx, domain.DispatchAlert{
			OrderID:   order.ID,
			Type:      domain.AlertDispatchFailed,
			Severity:  domain.SeverityHigh,
			Message:   "no driver satisfies the hard constraints for this order",
			CreatedAt: e.now(),
		})
		if e.metrics != nil {
			e.metrics.RecordDispatchAlert(string(domain.AlertDispatchFailed), string(domain.SeverityHigh))
		}
		e.recordOutcome(domain.AssignmentAuto, "no_driver", start, 0)
		return nil, apperror.ErrNoDriver
	}

	winner := candidates[0]
	log := domain.AssignmentLog{
		OrderID:           order.ID,
		DriverID:          winner.driver.ID,
		AssignmentType:    domain.AssignmentAuto,
		TotalScore:        winner.total,
		Breakdown:         winner.breakdown,
		Reason:            fmt.Sprintf("lowest weighted score among %d eligible drivers", len(candidates)),
		AlternativesCount: min(len(candidates)-1, maxAlternatives),
		CreatedAt:         e.now(),
	}

	err = e.store.AssignOrder(ctx, order.ID, winner.driver.ID, log)
	if errors.Is(err, apperror.ErrAlreadyAssigned) {
		e.recordOutcome(domain.AssignmentAuto, "already_assigned", start, winner.total)
		return &Result{OrderID: order.ID, DriverID: winner.driver.ID, AlreadyAssigned: true}, nil
	}
	if err != nil {
		e.recordOutcome(domain.AssignmentAuto, "error", start, 0)
		return nil, fmt.Errorf("assign order %s to driver %s: %w", order.ID, winner.driver.ID, err)
	}

	e.bumpQueue(winner.driver.ID)
	e.recordOutcome(domain.AssignmentAuto, "ok", start, winner.total)
	telemetry.SetAttributes(ctx, telemetry.AssignmentAttributes(winner.driver.ID, string(domain.AssignmentAuto), winner.total, log.AlternativesCount)...)

	return &Result{
		OrderID:          order.ID,
		DriverID:         winner.driver.ID,
		PriorityCategory: u.Category,
		RemainingMin:     u.RemainingMin,
		ScoreBreakdown:   winner.breakdown,
		TotalScore:       winner.total,
		Alternatives:     alternatives(candidates),
	}, nil
}

// BatchOutcome is one order's result within an AssignBatch call.
type BatchOutcome struct {
	OrderID string
	Result  *Result
	Err     error
}

// AssignBatch sorts orders by (priorityBoost desc, createdAt asc) then
// assigns each in turn, refreshing driver state between assignments. A
// failure on one order never aborts the remaining batch.
func (e *Engine) AssignBatch(ctx context.Context, orderIDs []string) []BatchOutcome {
	type withOrder struct {
		id    string
		order *domain.Order
	}

	ordered := make([]withOrder, 0, len(orderIDs))
	for _, id := range orderIDs {
		order, err := e.store.GetOrder(ctx, id)
		if err != nil {
			ordered = append(ordered, withOrder{id: id})
			continue
		}
		ordered = append(ordered, withOrder{id: id, order: order})
	}

	now := e.now()
	sort.SliceStable(ordered, func(i, j int) bool {
		oi, oj := ordered[i].order, ordered[j].order
		if oi == nil || oj == nil {
			return oi != nil
		}
		bi := urgency.Classify(oi.CreatedAt, oi.SLADeadline, now).PriorityBoost
		bj := urgency.Classify(oj.CreatedAt, oj.SLADeadline, now).PriorityBoost
		if bi != bj {
			return bi > bj
		}
		return oi.CreatedAt.Before(oj.CreatedAt)
	})

	outcomes := make([]BatchOutcome, 0, len(ordered))
	for _, w := range ordered {
		res, err := e.Assign(ctx, w.id)
		outcomes = append(outcomes, BatchOutcome{OrderID: w.id, Result: res, Err: err})
	}
	return outcomes
}

func (e *Engine) scoreCandidates(ctx context.Context, order domain.Order, drivers []domain.Driver, pickup geo.Point, u domain.Urgency) []candidate {
	var candidates []candidate
	for _, d := range drivers {
		utilization := (d.CurrentLoadKg + order.LoadKg) / d.CapacityKg * 100

		in := scorer.Input{
			Order:                      order,
			Driver:                     d,
			DriverProgress:             e.driverProgress(ctx, d.ID),
			HypotheticalUtilizationPct: utilization,
			PriorityScore:              float64(u.PriorityBoost),
			Route:                      routeInfoFor(d),
		}

		gate := e.scorer.Gate(in, pickup)
		if !gate.Passed {
			continue
		}

		breakdown := e.scorer.Score(in, pickup)
		candidates = append(candidates, candidate{
			driver:    d,
			breakdown: breakdown,
			total:     breakdown.Total(e.scorer.Weights),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].total != candidates[j].total {
			return candidates[i].total < candidates[j].total
		}
		if candidates[i].driver.CurrentDeliveries != candidates[j].driver.CurrentDeliveries {
			return candidates[i].driver.CurrentDeliveries < candidates[j].driver.CurrentDeliveries
		}
		return candidates[i].driver.ID < candidates[j].driver.ID
	})

	return candidates
}

// driverProgress resolves the scorer's DriverProgress input: the wired
// ProgressLookup (internal/targettracker's GetStatus in production) when
// present, otherwise a queue-length heuristic for callers that haven't
// wired a tracker (e.g. unit tests). Either way the value is a combined
// target-progress fraction in [0,1] feeding the time sub-score.
func (e *Engine) driverProgress(ctx context.Context, driverID string) float64 {
	if e.progress != nil {
		if p, ok := e.progress(ctx, driverID); ok {
			return p
		}
	}
	return progressHeuristic(e.queueLen(driverID))
}

// progressHeuristic approximates a driver's target progress from their
// live queue length when no ProgressLookup is wired; 0 queue is treated
// as neediest.
func progressHeuristic(queueLen int) float64 {
	const saturationQueue = 10.0
	p := float64(queueLen) / saturationQueue
	if p > 1 {
		p = 1
	}
	return p
}

func routeInfoFor(d domain.Driver) *scorer.RouteInfo {
	if d.CurrentPickupID == nil {
		return nil
	}
	return &scorer.RouteInfo{PickupIDs: map[string]bool{*d.CurrentPickupID: true}}
}

func alternatives(candidates []candidate) []Alternative {
	n := min(len(candidates)-1, maxAlternatives)
	if n <= 0 {
		return nil
	}
	alts := make([]Alternative, n)
	for i := 0; i < n; i++ {
		alts[i] = Alternative{DriverID: candidates[i+1].driver.ID, TotalScore: candidates[i+1].total}
	}
	return alts
}

func (e *Engine) queueLen(driverID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.driverQueue[driverID]
}

func (e *Engine) bumpQueue(driverID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.driverQueue[driverID]++
}

// RefreshQueue resets the engine-local driver-queue cache from
// authoritative counts, typically called once per cycle tick since the
// cache is never authoritative.
func (e *Engine) RefreshQueue(counts map[string]int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.driverQueue = make(map[string]int, len(counts))
	for k, v := range counts {
		e.driverQueue[k] = v
	}
}

func (e *Engine) recordOutcome(assignmentType domain.AssignmentType, status string, start time.Time, score float64) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordAssignment(string(assignmentType), status, e.now().Sub(start), score)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
