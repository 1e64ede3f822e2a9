package isolation

import (
	"errors"
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned by Allow when the breaker is open and the
// cooldown has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitBreaker tracks consecutive failures on one external adapter kind
// and trips to open after failureThreshold consecutive failures, admitting
// a single probe request after cooldown before closing again. Grounded
// exactly on the reference error_handling.py CircuitBreaker: same field
// names, same thresholds (5 failures, 60s cooldown).
type CircuitBreaker struct {
	mu               sync.Mutex
	failureThreshold int
	cooldown         time.Duration

	state          State
	failureCount   int
	lastFailureAt  time.Time
	onTrip         func()
}

// OnTrip registers a callback invoked whenever the breaker transitions to
// open. Used to feed a Prometheus counter without this package importing
// the metrics middleware directly.
func (cb *CircuitBreaker) OnTrip(fn func()) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onTrip = fn
}

func NewCircuitBreaker(failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		state:            StateClosed,
	}
}

// Allow reports whether a call may proceed, transitioning open→half-open
// once the cooldown has elapsed. Only the caller that performs that
// transition is admitted as the probe; any caller arriving while the
// breaker is already half-open is refused until OnSuccess/OnFailure
// resolves the probe, so concurrent callers can never pile onto the same
// half-open window.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailureAt) >= cb.cooldown {
			cb.state = StateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		return ErrCircuitOpen
	default:
		return nil
	}
}

// OnSuccess records a successful call, closing the breaker.
func (cb *CircuitBreaker) OnSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount = 0
	cb.state = StateClosed
}

// OnFailure records a failed call. In half-open, any failure reopens the
// breaker immediately; in closed, failureThreshold consecutive failures
// are required.
func (cb *CircuitBreaker) OnFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureAt = time.Now()
	if cb.state == StateHalfOpen {
		cb.state = StateOpen
		if cb.onTrip != nil {
			cb.onTrip()
		}
		return
	}

	cb.failureCount++
	if cb.failureCount >= cb.failureThreshold {
		cb.state = StateOpen
		if cb.onTrip != nil {
			cb.onTrip()
		}
	}
}

// Snapshot returns the breaker's current state, for diagnostics endpoints.
func (cb *CircuitBreaker) Snapshot() (State, int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state, cb.failureCount
}

// Breakers holds one CircuitBreaker per adapter kind, process-wide.
type Breakers struct {
	Chat   *CircuitBreaker
	Search *CircuitBreaker
	Doc    *CircuitBreaker
	Graph  *CircuitBreaker
}

func NewBreakers() *Breakers {
	return &Breakers{
		Chat:   NewCircuitBreaker(5, 60*time.Second),
		Search: NewCircuitBreaker(5, 60*time.Second),
		Doc:    NewCircuitBreaker(5, 60*time.Second),
		Graph:  NewCircuitBreaker(5, 60*time.Second),
	}
}
