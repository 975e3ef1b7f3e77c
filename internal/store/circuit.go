package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/borrowchecker/borrowchecker/internal/logging"
)

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

var circuitStateNames = map[CircuitState]string{
	CircuitClosed:   "closed",
	CircuitOpen:     "open",
	CircuitHalfOpen: "half-open",
}

func (s CircuitState) String() string {
	if name, ok := circuitStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// CircuitBreakerConfig tunes a CircuitBreaker. FailureThreshold transient
// failures within FailureWindow open the circuit; after Timeout a single
// probe is let through, and SuccessThreshold successful probes close it.
type CircuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	FailureWindow    time.Duration
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		FailureWindow:    time.Minute,
	}
}

// CircuitOpenError is returned instead of calling the remote.
type CircuitOpenError struct {
	Name    string
	RetryAt time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("%s: remote temporarily unavailable, circuit open until %s", e.Name, e.RetryAt.Format(time.TimeOnly))
}

// CircuitBreaker guards git fetches so an unreachable remote is not
// hammered by every scheduled refresh.
type CircuitBreaker struct {
	name string
	cfg  CircuitBreakerConfig
	log  *logging.Logger
	now  func() time.Time

	mu        sync.Mutex
	state     CircuitState
	openedAt  time.Time
	failures  []time.Time
	successes int
	probing   bool
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig, log *logging.Logger) *CircuitBreaker {
	if log == nil {
		log = logging.Nop()
	}
	return &CircuitBreaker{name: name, cfg: cfg, log: log, now: time.Now}
}

// Execute calls fn unless the circuit is open or a half-open probe is
// already in flight. Only retryable errors count as failures and only nil
// counts as a success.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.settle(err)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		retryAt := cb.openedAt.Add(cb.cfg.Timeout)
		if cb.now().Before(retryAt) {
			return &CircuitOpenError{Name: cb.name, RetryAt: retryAt}
		}
		cb.setState(CircuitHalfOpen)
		cb.probing = true
	case CircuitHalfOpen:
		if cb.probing {
			return &CircuitOpenError{Name: cb.name, RetryAt: cb.now()}
		}
		cb.probing = true
	}
	return nil
}

func (cb *CircuitBreaker) settle(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false

	failed := isRetryable(err)
	switch cb.state {
	case CircuitHalfOpen:
		if failed {
			cb.setState(CircuitOpen)
			return
		}
		// A permanent error says nothing about the remote recovering.
		if err != nil {
			return
		}
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.setState(CircuitClosed)
		}
	case CircuitClosed:
		if err == nil {
			cb.failures = cb.failures[:0]
			return
		}
		if !failed {
			return
		}
		now := cb.now()
		cb.failures = append(pruneBefore(cb.failures, now.Add(-cb.cfg.FailureWindow)), now)
		if len(cb.failures) >= cb.cfg.FailureThreshold {
			cb.setState(CircuitOpen)
		}
	}
}

// pruneBefore drops timestamps not after cutoff, reusing ts.
func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func (cb *CircuitBreaker) setState(next CircuitState) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next
	cb.successes = 0
	switch next {
	case CircuitOpen:
		cb.openedAt = cb.now()
	case CircuitClosed:
		cb.failures = cb.failures[:0]
	}
	cb.log.Info().Str("circuit", cb.name).Stringer("from", prev).Stringer("to", next).Msg("circuit state changed")
}

// State returns the current state. An open circuit whose timeout has passed
// still reports open until the next call probes it.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
