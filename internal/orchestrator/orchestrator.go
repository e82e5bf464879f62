package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"dispatch/pkg/apperror"
	"dispatch/pkg/config"
	"dispatch/pkg/metrics"
)

// Engine names, used both as map keys and as the metric/log label.
const (
	EngineDispatch   = "dispatch"
	EngineRoutes     = "routes"
	EngineBatching   = "batching"
	EngineEscalation = "escalation"
)

const defaultDrainTimeout = 10 * time.Second

// Orchestrator owns the four long-running engines and drives each on its
// own timer, independently of the others. A single shared stop signal is
// not used between engines: each engine's Stop is called individually by
// StopAll so one engine's slow drain never blocks another.
type Orchestrator struct {
	engines      map[string]*Engine
	order        []string // deterministic iteration order for StatusAll/StartAll/StopAll
	drainTimeout time.Duration
}

// Tickers groups the four TickFuncs the caller (typically cmd/dispatchd)
// builds by closing over the persistence gateway and the concrete
// engines (assignment, routing, batching, escalation).
type Tickers struct {
	Dispatch   TickFunc
	Routes     TickFunc
	Batching   TickFunc
	Escalation TickFunc
}

// New builds an Orchestrator with one Engine per entry in Tickers, each
// configured from cfg's cadence/timeout/jitter.
func New(t Tickers, cfg config.CycleConfig, m *metrics.Metrics) *Orchestrator {
	o := &Orchestrator{
		engines:      make(map[string]*Engine, 4),
		order:        []string{EngineDispatch, EngineRoutes, EngineBatching, EngineEscalation},
		drainTimeout: defaultDrainTimeout,
	}
	o.engines[EngineDispatch] = NewEngine(EngineDispatch, t.Dispatch,
		cfg.Dispatch.Interval(), cfg.Dispatch.Timeout(), cfg.Dispatch.JitterPct, m)
	o.engines[EngineRoutes] = NewEngine(EngineRoutes, t.Routes,
		cfg.Routes.Interval(), cfg.Routes.Timeout(), cfg.Routes.JitterPct, m)
	o.engines[EngineBatching] = NewEngine(EngineBatching, t.Batching,
		cfg.Batching.Interval(), cfg.Batching.Timeout(), cfg.Batching.JitterPct, m)
	o.engines[EngineEscalation] = NewEngine(EngineEscalation, t.Escalation,
		cfg.Escalation.Interval(), cfg.Escalation.Timeout(), cfg.Escalation.JitterPct, m)
	return o
}

// WithDrainTimeout overrides the default 10s drain budget StopAll/Stop wait
// for an in-flight tick before giving up.
func (o *Orchestrator) WithDrainTimeout(d time.Duration) *Orchestrator {
	if d > 0 {
		o.drainTimeout = d
	}
	return o
}

// StartEngine starts the named engine. Starting an already-running engine
// is a success, not an error (Outcome.AlreadyRunning = true).
func (o *Orchestrator) StartEngine(ctx context.Context, name string) (Outcome, error) {
	e, ok := o.engines[name]
	if !ok {
		return Outcome{}, apperror.New(apperror.CodeEngineNotFound, "unknown engine: "+name)
	}
	return e.Start(ctx), nil
}

// StopEngine stops the named engine, waiting up to the orchestrator's
// drain timeout. Stopping an already-stopped engine is a success.
func (o *Orchestrator) StopEngine(ctx context.Context, name string) (Outcome, error) {
	e, ok := o.engines[name]
	if !ok {
		return Outcome{}, apperror.New(apperror.CodeEngineNotFound, "unknown engine: "+name)
	}
	return e.Stop(ctx, o.drainTimeout), nil
}

// StartAll starts every engine and reports a per-engine outcome; it never
// fails fast on one engine's error.
func (o *Orchestrator) StartAll(ctx context.Context) []Outcome {
	outcomes := make([]Outcome, 0, len(o.order))
	for _, name := range o.order {
		outcomes = append(outcomes, o.engines[name].Start(ctx))
	}
	return outcomes
}

// StopAll stops every engine, awaiting each drain up to the orchestrator's
// drain timeout, and reports a per-engine outcome. After StopAll returns,
// no engine produces further ticks.
func (o *Orchestrator) StopAll(ctx context.Context) []Outcome {
	outcomes := make([]Outcome, len(o.order))
	var wg sync.WaitGroup
	for i, name := range o.order {
		wg.Add(1)
		go func(i int, e *Engine) {
			defer wg.Done()
			outcomes[i] = e.Stop(ctx, o.drainTimeout)
		}(i, o.engines[name])
	}
	wg.Wait()
	return outcomes
}

// StatusSummary is StatusAll's aggregate view across all four engines.
type StatusSummary struct {
	Engines     []Status
	AnyRunning  bool
	AnyFailing  bool
	TotalTicks  uint64
	FailedTicks uint64
}

// StatusAll aggregates every engine's Status, sorted by name for a stable
// read. Safe to call at any cadence.
func (o *Orchestrator) StatusAll() StatusSummary {
	var summary StatusSummary
	for _, name := range o.order {
		s := o.engines[name].Status()
		summary.Engines = append(summary.Engines, s)
		if s.State == StateRunning {
			summary.AnyRunning = true
		}
		if s.LastError != "" {
			summary.AnyFailing = true
		}
		summary.TotalTicks += s.TicksTotal
		summary.FailedTicks += s.TicksFailed
	}
	sort.Slice(summary.Engines, func(i, j int) bool { return summary.Engines[i].Name < summary.Engines[j].Name })
	return summary
}

// Status returns a single engine's snapshot, or an error if name is unknown.
func (o *Orchestrator) Status(name string) (Status, error) {
	e, ok := o.engines[name]
	if !ok {
		return Status{}, apperror.New(apperror.CodeEngineNotFound, fmt.Sprintf("unknown engine: %s", name))
	}
	return e.Status(), nil
}
