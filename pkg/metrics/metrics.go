package metrics

import (
	"time"
)

// Collector defines the interface for collecting payment-flow metrics.
// Implementations can export metrics to various backends (Prometheus, StatsD, etc.).
type Collector interface {
	// Gateway calls
	RecordInitiate(success bool, duration time.Duration)
	RecordCancel(success bool, duration time.Duration)
	RecordPoll(outcome string, duration time.Duration)

	// Event stream
	RecordStreamEvent(statusCode string)
	RecordStreamFailure()

	// Circuit breaker on the initiation path
	RecordCircuitState(state CircuitState)

	// Transaction lifecycle
	RecordTransactionOutcome(status string)
	RecordSettlement(success bool, duration time.Duration)
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit breaker is allowing requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit breaker is blocking requests.
	CircuitOpen
	// CircuitHalfOpen means the circuit breaker is testing if the gateway has recovered.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
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

// NoOpCollector is a no-op implementation of Collector.
// It's used as the default collector when metrics are not needed.
type NoOpCollector struct{}

// RecordInitiate does nothing.
func (NoOpCollector) RecordInitiate(success bool, duration time.Duration) {}

// RecordCancel does nothing.
func (NoOpCollector) RecordCancel(success bool, duration time.Duration) {}

// RecordPoll does nothing.
func (NoOpCollector) RecordPoll(outcome string, duration time.Duration) {}

// RecordStreamEvent does nothing.
func (NoOpCollector) RecordStreamEvent(statusCode string) {}

// RecordStreamFailure does nothing.
func (NoOpCollector) RecordStreamFailure() {}

// RecordCircuitState does nothing.
func (NoOpCollector) RecordCircuitState(state CircuitState) {}

// RecordTransactionOutcome does nothing.
func (NoOpCollector) RecordTransactionOutcome(status string) {}

// RecordSettlement does nothing.
func (NoOpCollector) RecordSettlement(success bool, duration time.Duration) {}
