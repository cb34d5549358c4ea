package metrics

import (
	"time"
)

// Collector records API, ledger and store signals. Implementations export
// them to a backend; NoOpCollector drops everything.
type Collector interface {
	// HTTP edge
	RecordRequest(method, route string, status int, duration time.Duration)

	// Ledger operations, outcome is "ok" or an error class
	RecordOperation(op, outcome string, duration time.Duration)

	// Store circuit breaker
	RecordCircuitState(name string, state CircuitState)
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NoOpCollector is the default when metrics are not needed.
type NoOpCollector struct{}

func (NoOpCollector) RecordRequest(method, route string, status int, duration time.Duration) {}

func (NoOpCollector) RecordOperation(op, outcome string, duration time.Duration) {}

func (NoOpCollector) RecordCircuitState(name string, state CircuitState) {}
