package errors

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int

const (
	// CircuitBreakerClosed - normal operation, requests are allowed
	CircuitBreakerClosed CircuitBreakerState = iota
	// CircuitBreakerOpen - circuit is open, requests are rejected
	CircuitBreakerOpen
	// CircuitBreakerHalfOpen - testing if the upstream has recovered
	CircuitBreakerHalfOpen
)

// String returns the string representation of the circuit breaker state
func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitBreakerClosed:
		return "CLOSED"
	case CircuitBreakerOpen:
		return "OPEN"
	case CircuitBreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds configuration for a circuit breaker
type CircuitBreakerConfig struct {
	// MaxFailures is the maximum number of failures before opening the circuit
	MaxFailures int
	// ResetTimeout is the time to wait before transitioning from Open to Half-Open
	ResetTimeout time.Duration
	// SuccessThreshold is the number of consecutive successes needed to close the circuit from Half-Open
	SuccessThreshold int
	// Name is the identifier for this circuit breaker
	Name string
	// IsFailure decides whether an error counts against the breaker.
	// Nil counts every non-nil error.
	IsFailure func(error) bool
}

// DefaultCircuitBreakerConfig returns a default configuration
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:      5,
		ResetTimeout:     30 * time.Second,
		SuccessThreshold: 2,
		Name:             name,
	}
}

// CircuitBreaker implements the circuit breaker pattern for calls to the Pizza API
type CircuitBreaker struct {
	config          CircuitBreakerConfig
	state           CircuitBreakerState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	mutex           sync.RWMutex
	onStateChange   func(name string, from, to CircuitBreakerState)
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		config: config,
		state:  CircuitBreakerClosed,
	}
}

// SetStateChangeCallback sets a callback function that is called when the circuit breaker state changes
func (cb *CircuitBreaker) SetStateChangeCallback(callback func(name string, from, to CircuitBreakerState)) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.onStateChange = callback
}

// Execute runs fn with circuit breaker protection. A cancelled context is
// returned as-is and does not count as an upstream failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !cb.allowRequest() {
		return NewSystemError(ErrCodeCircuitOpen,
			fmt.Sprintf("circuit breaker '%s' is open", cb.config.Name), nil).
			WithContext("circuit_breaker", cb.config.Name).
			WithContext("state", cb.GetState().String())
	}

	err := fn(ctx)
	if err != nil && ctx.Err() != nil {
		return err
	}
	cb.recordResult(err)
	return err
}

// allowRequest determines if a request should be allowed based on the current state
func (cb *CircuitBreaker) allowRequest() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case CircuitBreakerClosed:
		return true
	case CircuitBreakerOpen:
		if time.Since(cb.lastFailureTime) >= cb.config.ResetTimeout {
			cb.setState(CircuitBreakerHalfOpen)
			return true
		}
		return false
	case CircuitBreakerHalfOpen:
		return true
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if err != nil && cb.countsAsFailure(err) {
		cb.recordFailure()
	} else {
		cb.recordSuccess()
	}
}

func (cb *CircuitBreaker) countsAsFailure(err error) bool {
	if cb.config.IsFailure == nil {
		return true
	}
	return cb.config.IsFailure(err)
}

func (cb *CircuitBreaker) recordFailure() {
	cb.failureCount++
	cb.successCount = 0
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case CircuitBreakerClosed:
		if cb.failureCount >= cb.config.MaxFailures {
			cb.setState(CircuitBreakerOpen)
		}
	case CircuitBreakerHalfOpen:
		cb.setState(CircuitBreakerOpen)
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.successCount++

	switch cb.state {
	case CircuitBreakerHalfOpen:
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.setState(CircuitBreakerClosed)
			cb.reset()
		}
	case CircuitBreakerClosed:
		cb.failureCount = 0
	}
}

// setState must be called with the mutex held; the callback runs on its own goroutine.
func (cb *CircuitBreaker) setState(newState CircuitBreakerState) {
	oldState := cb.state
	cb.state = newState

	if cb.onStateChange != nil && oldState != newState {
		go cb.onStateChange(cb.config.Name, oldState, newState)
	}
}

func (cb *CircuitBreaker) reset() {
	cb.failureCount = 0
	cb.successCount = 0
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.state
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() CircuitBreakerStats {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()

	return CircuitBreakerStats{
		Name:            cb.config.Name,
		State:           cb.state,
		FailureCount:    cb.failureCount,
		SuccessCount:    cb.successCount,
		LastFailureTime: cb.lastFailureTime,
	}
}

// CircuitBreakerStats holds statistics about a circuit breaker
type CircuitBreakerStats struct {
	Name            string              `json:"name"`
	State           CircuitBreakerState `json:"state"`
	FailureCount    int                 `json:"failureCount"`
	SuccessCount    int                 `json:"successCount"`
	LastFailureTime time.Time           `json:"lastFailureTime"`
}

// IsHealthy returns true if the circuit breaker is in a healthy state
func (stats CircuitBreakerStats) IsHealthy() bool {
	return stats.State == CircuitBreakerClosed
}

// CircuitBreakerManager hands out one breaker per upstream endpoint
type CircuitBreakerManager struct {
	breakers      map[string]*CircuitBreaker
	template      CircuitBreakerConfig
	onStateChange func(name string, from, to CircuitBreakerState)
	mutex         sync.RWMutex
}

// NewCircuitBreakerManager creates a manager whose breakers share the template config
func NewCircuitBreakerManager(template CircuitBreakerConfig) *CircuitBreakerManager {
	return &CircuitBreakerManager{
		breakers: make(map[string]*CircuitBreaker),
		template: template,
	}
}

// SetStateChangeCallback installs a callback on current and future breakers
func (cbm *CircuitBreakerManager) SetStateChangeCallback(callback func(name string, from, to CircuitBreakerState)) {
	cbm.mutex.Lock()
	defer cbm.mutex.Unlock()

	cbm.onStateChange = callback
	for _, breaker := range cbm.breakers {
		breaker.SetStateChangeCallback(callback)
	}
}

// GetOrCreate gets an existing circuit breaker or creates a new one
func (cbm *CircuitBreakerManager) GetOrCreate(name string) *CircuitBreaker {
	cbm.mutex.Lock()
	defer cbm.mutex.Unlock()

	if breaker, exists := cbm.breakers[name]; exists {
		return breaker
	}

	config := cbm.template
	config.Name = name
	breaker := NewCircuitBreaker(config)
	if cbm.onStateChange != nil {
		breaker.SetStateChangeCallback(cbm.onStateChange)
	}
	cbm.breakers[name] = breaker
	return breaker
}

// GetAllStats returns statistics for all circuit breakers
func (cbm *CircuitBreakerManager) GetAllStats() map[string]CircuitBreakerStats {
	cbm.mutex.RLock()
	defer cbm.mutex.RUnlock()

	stats := make(map[string]CircuitBreakerStats)
	for name, breaker := range cbm.breakers {
		stats[name] = breaker.GetStats()
	}
	return stats
}

// GetUnhealthyBreakers returns the names of all breakers that are not closed
func (cbm *CircuitBreakerManager) GetUnhealthyBreakers() []string {
	cbm.mutex.RLock()
	defer cbm.mutex.RUnlock()

	var unhealthy []string
	for name, breaker := range cbm.breakers {
		if !breaker.GetStats().IsHealthy() {
			unhealthy = append(unhealthy, name)
		}
	}
	return unhealthy
}
