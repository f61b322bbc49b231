// Package circuitbreaker keeps one breaker per provider credential so a key
// that keeps failing (revoked, out of quota for the day) is skipped without
// spending an attempt on it.
//
// State transitions:
//
//	Closed → Open        when consecutive failures ≥ FailureThreshold
//	Open   → HalfOpen   after Timeout elapses
//	HalfOpen → Closed   when consecutive successes ≥ SuccessThreshold
//	HalfOpen → Open     on any failure
//
// While half-open, trial attempts run one at a time: Allow admits a single
// caller until it reports back through RecordSuccess, RecordFailure or
// Release. A trial that never reports back lapses after Timeout.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/direitopremium/lexgen/internal/metrics"
)

// State represents the circuit breaker's current state.
type State int

const (
	// StateClosed: normal operation; attempts pass through.
	StateClosed State = iota
	// StateOpen: the credential is considered failing and is skipped.
	StateOpen
	// StateHalfOpen: one trial attempt at a time is allowed through.
	StateHalfOpen
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when an attempt is skipped because the circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Config holds breaker thresholds. Zero values take the defaults applied by New.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

// CircuitBreaker guards a single credential.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            State
	failureCount     int
	successCount     int
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	openUntil        time.Time
	trialUntil       time.Time // zero when no half-open trial is running
	now              func() time.Time
	onChange         func(State)
}

// New creates a CircuitBreaker with the given thresholds and open timeout.
// Defaults are applied for zero/negative values: failureThreshold=5,
// successThreshold=1, timeout=30s.
func New(failureThreshold, successThreshold int, timeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if successThreshold <= 0 {
		successThreshold = 1
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		now:              time.Now,
	}
}

// State returns the current state, transitioning Open→HalfOpen if the timeout
// has elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.resolveState()
}

// resolveState must be called with cb.mu held.
func (cb *CircuitBreaker) resolveState() State {
	if cb.state == StateOpen && cb.now().After(cb.openUntil) {
		cb.setState(StateHalfOpen)
		cb.successCount = 0
	}
	return cb.state
}

// setState must be called with cb.mu held.
func (cb *CircuitBreaker) setState(s State) {
	if cb.state == s {
		return
	}
	cb.state = s
	if cb.onChange != nil {
		cb.onChange(s)
	}
}

// Allow reports whether an attempt should proceed. In the half-open state it
// starts a trial and refuses everyone else until the trial reports back.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.resolveState() {
	case StateOpen:
		return false
	case StateHalfOpen:
		now := cb.now()
		if !cb.trialUntil.IsZero() && now.Before(cb.trialUntil) {
			return false
		}
		cb.trialUntil = now.Add(cb.timeout)
	}
	return true
}

// Release ends a trial without a verdict, for attempts whose outcome says
// nothing about the credential (a missing model, a cancelled caller).
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trialUntil = time.Time{}
}

// RecordSuccess notifies the breaker that an attempt succeeded.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trialUntil = time.Time{}
	switch cb.state {
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.setState(StateClosed)
			cb.failureCount = 0
			cb.successCount = 0
		}
	case StateClosed:
		cb.failureCount = 0
	}
}

// RecordFailure notifies the breaker that an attempt failed.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trialUntil = time.Time{}
	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.setState(StateOpen)
			cb.openUntil = cb.now().Add(cb.timeout)
		}
	case StateHalfOpen:
		cb.setState(StateOpen)
		cb.openUntil = cb.now().Add(cb.timeout)
		cb.successCount = 0
	}
}

// Set lazily creates one breaker per (provider, credential fingerprint) pair
// and mirrors every state change into the circuit breaker gauge.
type Set struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	breakers map[[2]string]*CircuitBreaker
}

// NewSet creates an empty Set using cfg for every breaker it creates.
func NewSet(cfg Config) *Set {
	return &Set{cfg: cfg, now: time.Now, breakers: make(map[[2]string]*CircuitBreaker)}
}

// WithClock replaces the time source, for tests.
func (s *Set) WithClock(now func() time.Time) *Set {
	s.now = now
	return s
}

// For returns the breaker for provider and credential fingerprint.
func (s *Set) For(provider, fingerprint string) *CircuitBreaker {
	key := [2]string{provider, fingerprint}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[key]; ok {
		return cb
	}
	cb := New(s.cfg.FailureThreshold, s.cfg.SuccessThreshold, s.cfg.Timeout)
	cb.now = s.now
	gauge := metrics.CircuitBreakerState.WithLabelValues(provider, fingerprint)
	gauge.Set(float64(StateClosed))
	cb.onChange = func(st State) { gauge.Set(float64(st)) }
	s.breakers[key] = cb
	return cb
}

// Snapshot returns the current state of every breaker, keyed "provider/fingerprint".
func (s *Set) Snapshot() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]State, len(s.breakers))
	for k, cb := range s.breakers {
		out[k[0]+"/"+k[1]] = cb.State()
	}
	return out
}
