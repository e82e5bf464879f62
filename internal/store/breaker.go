package store

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker's current state.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// String renders the state the way it is logged and exported as a metric
// label.
func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Value is the Prometheus gauge value for the state (0=closed, 1=half_open, 2=open).
func (s BreakerState) Value() float64 {
	switch s {
	case BreakerHalfOpen:
		return 1
	case BreakerOpen:
		return 2
	default:
		return 0
	}
}

// breaker is a small circuit breaker over consecutive timeouts. It trips
// to open after Failures consecutive timeouts within the failure window
// and recloses, via a single half-open probe, after OpenFor elapses.
type breaker struct {
	mu sync.Mutex

	failures    int
	threshold   int
	openFor     time.Duration
	state       BreakerState
	openedAt    time.Time
	lastFailure time.Time
	failWindow  time.Duration

	onChange func(BreakerState)
}

func newBreaker(threshold int, openFor time.Duration, onChange func(BreakerState)) *breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if openFor <= 0 {
		openFor = 2 * time.Minute
	}
	return &breaker{
		threshold:  threshold,
		openFor:    openFor,
		failWindow: 60 * time.Second,
		state:      BreakerClosed,
		onChange:   onChange,
	}
}

// allow reports whether a call may proceed, transitioning open -> half_open
// once openFor has elapsed.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if time.Since(b.openedAt) >= b.openFor {
			b.setState(BreakerHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

// recordSuccess resets the failure count and closes the breaker if it was
// half-open.
func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state != BreakerClosed {
		b.setState(BreakerClosed)
	}
}

// recordFailure counts a timeout/connection failure and trips the breaker
// once threshold consecutive failures land inside failWindow.
func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if b.lastFailure.IsZero() || now.Sub(b.lastFailure) > b.failWindow {
		b.failures = 0
	}
	b.lastFailure = now
	b.failures++

	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		b.setState(BreakerOpen)
		b.openedAt = now
		b.failures = 0
	}
}

func (b *breaker) setState(s BreakerState) {
	if b.state == s {
		return
	}
	b.state = s
	if b.onChange != nil {
		b.onChange(s)
	}
}

func (b *breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
