package store

import (
	"testing"
	"time"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	var states []BreakerState
	b := newBreaker(3, 50*time.Millisecond, func(s BreakerState) {
		states = append(states, s)
	})

	if !b.allow() {
		t.Fatal("expected closed breaker to allow calls")
	}

	b.recordFailure()
	b.recordFailure()
	if b.State() != BreakerClosed {
		t.Fatal("expected breaker to stay closed below threshold")
	}

	b.recordFailure()
	if b.State() != BreakerOpen {
		t.Fatal("expected breaker to open at threshold")
	}
	if b.allow() {
		t.Fatal("expected open breaker to deny calls immediately")
	}
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	b := newBreaker(1, 10*time.Millisecond, nil)

	b.recordFailure()
	if b.State() != BreakerOpen {
		t.Fatal("expected breaker to open")
	}

	time.Sleep(20 * time.Millisecond)

	if !b.allow() {
		t.Fatal("expected breaker to allow a half-open probe after cooldown")
	}
	if b.State() != BreakerHalfOpen {
		t.Fatal("expected breaker to transition to half-open")
	}
}

func TestBreaker_RecoversOnSuccess(t *testing.T) {
	b := newBreaker(1, 10*time.Millisecond, nil)

	b.recordFailure()
	time.Sleep(20 * time.Millisecond)
	b.allow() // transition to half-open

	b.recordSuccess()
	if b.State() != BreakerClosed {
		t.Fatal("expected breaker to close after a successful half-open probe")
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := newBreaker(1, 10*time.Millisecond, nil)

	b.recordFailure()
	time.Sleep(20 * time.Millisecond)
	b.allow()

	b.recordFailure()
	if b.State() != BreakerOpen {
		t.Fatal("expected a failed half-open probe to reopen the breaker")
	}
}

func TestBreakerState_String(t *testing.T) {
	cases := map[BreakerState]string{
		BreakerClosed:   "closed",
		BreakerOpen:     "open",
		BreakerHalfOpen: "half_open",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("state.String() = %s, want %s", got, want)
		}
	}
}
