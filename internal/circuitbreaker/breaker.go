// Package circuitbreaker short-circuits calls to an endpoint after a run of
// consecutive failures.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker state of one endpoint.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

type endpointState struct {
	state    State
	failures int
	openedAt time.Time
}

// CircuitBreaker tracks endpoints independently. After threshold
// consecutive failures an endpoint opens for cooldown; then a single probe
// is let through, and its outcome closes or reopens the circuit.
type CircuitBreaker struct {
	mu        sync.Mutex
	endpoints map[string]*endpointState
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		endpoints: make(map[string]*endpointState),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// WithClock replaces time.Now, for tests.
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// Allow returns ErrCircuitOpen when calls to endpoint must be skipped.
func (cb *CircuitBreaker) Allow(endpoint string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.endpoints[endpoint]
	if !ok {
		return nil
	}

	switch s.state {
	case Open:
		if cb.now().Sub(s.openedAt) < cb.cooldown {
			return ErrCircuitOpen
		}
		s.state = HalfOpen
		return nil
	case HalfOpen:
		// probe in flight
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (cb *CircuitBreaker) RecordSuccess(endpoint string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	delete(cb.endpoints, endpoint)
}

func (cb *CircuitBreaker) RecordFailure(endpoint string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.endpoints[endpoint]
	if !ok {
		s = &endpointState{}
		cb.endpoints[endpoint] = s
	}

	s.failures++
	if s.state == HalfOpen || s.failures >= cb.threshold {
		s.state = Open
		s.openedAt = cb.now()
	}
}

// State reports the current state of endpoint.
func (cb *CircuitBreaker) State(endpoint string) State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if s, ok := cb.endpoints[endpoint]; ok {
		return s.state
	}
	return Closed
}
