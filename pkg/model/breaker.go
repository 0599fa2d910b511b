package model

import (
	"sync"
	"time"

	"github.com/conductor-ai/conductor/internal/errors"
)

// BreakerState is the circuit breaker state for one model.
type BreakerState int

const (
	// StateClosed allows requests and counts failures.
	StateClosed BreakerState = iota

	// StateOpen short-circuits every request until the cooldown elapses.
	StateOpen

	// StateHalfOpen admits a bounded number of probe requests.
	StateHalfOpen
)

// String returns the state name.
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds circuit breaker tuning. The constants mirror the usual
// production values; none of them are load-bearing beyond ordering semantics.
type BreakerConfig struct {
	// FailureThreshold opens the circuit after this many failures within FailureWindow.
	FailureThreshold int

	// FailureWindow bounds how long failures accumulate before the count restarts.
	FailureWindow time.Duration

	// Cooldown is how long the circuit stays open before admitting probes.
	Cooldown time.Duration

	// MaxProbes caps concurrent half-open probe requests.
	MaxProbes int
}

// DefaultBreakerConfig returns the default tuning (5 failures / 60s window,
// 30s cooldown, 1 probe).
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		FailureWindow:    60 * time.Second,
		Cooldown:         30 * time.Second,
		MaxProbes:        1,
	}
}

// Breaker guards one model endpoint. All transitions happen under the mutex
// so concurrent failures against the same model cannot lose updates.
//
// Transitions:
//   - Closed -> Open: FailureThreshold failures within FailureWindow
//   - Open -> HalfOpen: Cooldown elapsed
//   - HalfOpen -> Closed: a probe succeeded (failure count resets here and only here)
//   - HalfOpen -> Open: a probe failed (cooldown restarts)
type Breaker struct {
	model string
	cfg   BreakerConfig
	clock func() time.Time

	mu             sync.Mutex
	state          BreakerState
	failures       int
	windowStart    time.Time
	lastFailure    time.Time
	openedAt       time.Time
	probesInFlight int

	// onTransition is invoked outside the hot path but under the lock; keep it cheap.
	onTransition func(model string, from, to BreakerState)
}

// NewBreaker creates a closed breaker for the named model.
func NewBreaker(model string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = 60 * time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.MaxProbes <= 0 {
		cfg.MaxProbes = 1
	}
	return &Breaker{
		model: model,
		cfg:   cfg,
		clock: time.Now,
		state: StateClosed,
	}
}

// OnTransition registers a callback for state changes.
func (b *Breaker) OnTransition(fn func(model string, from, to BreakerState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTransition = fn
}

// Allow reports whether a request may proceed. In HalfOpen it reserves one
// probe slot; the caller must follow up with RecordSuccess or RecordFailure.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if now.Sub(b.openedAt) >= b.cfg.Cooldown {
			b.transition(StateHalfOpen)
			b.probesInFlight = 1
			return nil
		}
		return errors.CircuitOpen(b.model)

	case StateHalfOpen:
		if b.probesInFlight < b.cfg.MaxProbes {
			b.probesInFlight++
			return nil
		}
		return errors.CircuitOpen(b.model)

	default:
		return nil
	}
}

// RecordSuccess records a successful call.
//
// A success in Closed state leaves the failure count alone; only the
// HalfOpen -> Closed transition resets it, so a flapping endpoint cannot keep
// the count hovering below the threshold.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.probesInFlight = 0
		b.failures = 0
		b.transition(StateClosed)
	case StateOpen:
		// Stray success from a call issued before the circuit opened; ignore.
	}
}

// RecordFailure records a failed call and opens the circuit at the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	b.lastFailure = now

	switch b.state {
	case StateClosed:
		if b.failures == 0 || now.Sub(b.windowStart) > b.cfg.FailureWindow {
			b.failures = 0
			b.windowStart = now
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.openedAt = now
			b.transition(StateOpen)
		}

	case StateHalfOpen:
		b.probesInFlight = 0
		b.failures = b.cfg.FailureThreshold
		b.openedAt = now
		b.transition(StateOpen)

	case StateOpen:
		// Counter already at threshold.
	}
}

// State returns the current state, accounting for an elapsed cooldown.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.clock().Sub(b.openedAt) >= b.cfg.Cooldown {
		// Reported as half-open; the actual transition happens in Allow.
		return StateHalfOpen
	}
	return b.state
}

// FailureCount returns the current failure count.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset forces the breaker closed. Admin action only.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probesInFlight = 0
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

// transition must be called with the lock held.
func (b *Breaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	if b.onTransition != nil && from != to {
		b.onTransition(b.model, from, to)
	}
}
