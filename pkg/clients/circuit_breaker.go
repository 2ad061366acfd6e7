package clients

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitState represents the state of a circuit breaker
type CircuitState int32

const (
	// StateClosed allows all requests to pass through
	StateClosed CircuitState = iota
	// StateOpen blocks all requests
	StateOpen
	// StateHalfOpen allows a limited number of requests to test if the host has recovered
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// ErrCircuitOpen is returned while a host's breaker is open.
var ErrCircuitOpen = fmt.Errorf("circuit breaker is open")

// CircuitBreakerConfig is the configuration for circuit breaker
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // consecutive half-open successes before closing
	Timeout          time.Duration // how long to stay open
	HalfOpenLimit    int           // concurrent trial requests while half-open
}

// CircuitBreaker stops calling a host after repeated failures and probes it
// again once Timeout has passed.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	logger *zap.Logger
	now    func() time.Time

	mu                   sync.Mutex
	state                CircuitState
	consecutiveFailures  int
	consecutiveSuccesses int
	halfOpenInFlight     int
	nextRetryTime        time.Time
	lastStateChange      time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.HalfOpenLimit <= 0 {
		config.HalfOpenLimit = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{
		config:          config,
		logger:          logger.With(zap.String("component", "circuit_breaker")),
		now:             time.Now,
		lastStateChange: time.Now(),
	}
}

// Execute runs fn with circuit breaker protection.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}
	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

// Allow determines if a request should be allowed based on the current circuit state.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Before(cb.nextRetryTime) {
			return false
		}
		cb.transition(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.config.HalfOpenLimit {
			return false
		}
		cb.halfOpenInFlight++
		return true
	}
	return false
}

// RecordSuccess records a successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.consecutiveFailures = 0
	case StateHalfOpen:
		cb.halfOpenInFlight--
		cb.consecutiveSuccesses++
		if cb.consecutiveSuccesses >= cb.config.SuccessThreshold {
			cb.transition(StateClosed)
		}
	}
}

// RecordFailure records a failed request. Any failure while half-open
// reopens the circuit.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// transition changes state. Callers hold mu.
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.lastStateChange = cb.now()
	cb.consecutiveSuccesses = 0
	cb.halfOpenInFlight = 0
	switch to {
	case StateOpen:
		cb.nextRetryTime = cb.now().Add(cb.config.Timeout)
		cb.logger.Warn("circuit breaker opened",
			zap.Time("retry_after", cb.nextRetryTime),
			zap.Int("consecutive_failures", cb.consecutiveFailures))
	case StateClosed:
		cb.consecutiveFailures = 0
		cb.logger.Info("circuit breaker closed", zap.Stringer("from", from))
	case StateHalfOpen:
		cb.logger.Info("circuit breaker half-open")
	}
}
