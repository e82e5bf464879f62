// Package store is the persistence gateway: the only component that knows
// the external relational store exists. It wraps every call with a
// per-call deadline, a circuit breaker over consecutive timeouts, and a
// read-through cache used to serve stale snapshots while the breaker is
// open.
package store

import (
	"context"
	"errors"
	"time"

	"dispatch/pkg/apperror"
	"dispatch/pkg/cache"
	"dispatch/pkg/config"
	"dispatch/pkg/database"
	"dispatch/pkg/logger"
	"dispatch/pkg/metrics"
	"dispatch/pkg/telemetry"
)

// Gateway is the typed repository over the external store used by every
// engine. Engines never hold a *pgxpool.Pool directly.
type Gateway struct {
	db      database.DB
	cache   cache.Cache
	metrics *metrics.Metrics

	readTimeout     time.Duration
	metricsTimeout  time.Duration
	mutationTimeout time.Duration

	breaker *breaker
}

// New creates a persistence gateway backed by db, optionally using c for
// stale-read fallback while the circuit breaker is open (c may be nil).
func New(db database.DB, c cache.Cache, cfg config.StoreConfig, m *metrics.Metrics) *Gateway {
	g := &Gateway{
		db:              db,
		cache:           c,
		metrics:         m,
		readTimeout:     cfg.TimeoutMs.ReadTimeout(),
		metricsTimeout:  cfg.TimeoutMs.MetricsTimeout(),
		mutationTimeout: cfg.TimeoutMs.MutationTimeout(),
	}
	g.breaker = newBreaker(cfg.Breaker.Failures, cfg.Breaker.OpenDuration(), g.onBreakerChange)
	return g
}

func (g *Gateway) onBreakerChange(s BreakerState) {
	logger.Log.Warn("persistence gateway breaker state changed", "state", s.String())
	if g.metrics != nil {
		g.metrics.SetBreakerState(s.Value())
	}
}

// BreakerState returns the gateway's current circuit breaker state.
func (g *Gateway) BreakerState() BreakerState {
	return g.breaker.State()
}

type callKind int

const (
	callRead callKind = iota
	callMetrics
	callMutation
)

// call runs fn under a deadline appropriate to kind, through the circuit
// breaker, recording a span and a metric for every invocation. Mutating
// calls fail closed with ErrStoreUnavailable while the breaker is open.
// Reads that find the breaker open return ErrStoreUnavailable too; callers
// that want a stale-cache fallback instead should use readThroughCache.
func (g *Gateway) call(ctx context.Context, repository, method string, kind callKind, fn func(ctx context.Context) error) error {
	if !g.breaker.allow() {
		return apperror.ErrStoreUnavailable
	}

	ctx, span := telemetry.StartSpan(ctx, "store."+repository+"."+method)
	defer span.End()

	deadline := g.deadlineFor(kind)
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	duration := time.Since(start)

	timedOut := errors.Is(err, context.DeadlineExceeded)
	if g.metrics != nil {
		g.metrics.RecordStoreCall(repository, method, duration, timedOut)
	}
	telemetry.SetAttributes(ctx, telemetry.StoreAttributes(repository, false)...)

	if err != nil {
		telemetry.SetError(ctx, err)
		if timedOut {
			g.breaker.recordFailure()
			return apperror.Wrap(err, apperror.CodeTimeout, "store call timed out")
		}
		return err
	}

	g.breaker.recordSuccess()
	return nil
}

func (g *Gateway) deadlineFor(kind callKind) time.Duration {
	switch kind {
	case callMetrics:
		return g.metricsTimeout
	case callMutation:
		return g.mutationTimeout
	default:
		return g.readTimeout
	}
}

// defaultStaleTTL bounds how long a stale snapshot is eligible to be
// served while the breaker is open; it is deliberately short since a
// fleet's driver roster and active-order set change within seconds.
const defaultStaleTTL = 2 * time.Minute

// readThroughCache runs fn (already wrapped in g.call) and, on success,
// stores encode()'s result under key so a later breaker-open read can fall
// back to it. On ErrStoreUnavailable it tries to decode a cached value
// into the caller's out-parameter via decode and reports stale=true; if
// there is no cached entry it returns the original error untouched.
func (g *Gateway) readThroughCache(ctx context.Context, key string, fn func(ctx context.Context) error, encode func() ([]byte, error), decode func([]byte) error) (stale bool, err error) {
	err = fn(ctx)
	if err == nil {
		if g.cache != nil {
			if data, encErr := encode(); encErr == nil {
				_ = g.cache.Set(ctx, key, data, defaultStaleTTL)
			}
		}
		return false, nil
	}

	if g.cache == nil || !errors.Is(err, apperror.ErrStoreUnavailable) {
		return false, err
	}

	data, cacheErr := g.cache.Get(ctx, key)
	if cacheErr != nil {
		return false, err
	}
	if decErr := decode(data); decErr != nil {
		return false, err
	}
	logger.Log.Warn("serving stale read from cache while breaker is open", "key", key)
	return true, nil
}
