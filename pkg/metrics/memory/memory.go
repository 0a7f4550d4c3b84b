package memory

import (
	"sync"
	"time"

	"golocallink/pkg/metrics"
)

// MemoryCollector implements Collector for in-memory inspection and testing.
type MemoryCollector struct {
	mu sync.RWMutex

	// Gateway calls
	Initiations      int64
	InitiateFailures int64
	Cancels          int64
	CancelFailures   int64
	PollsByOutcome   map[string]int64

	// Event stream
	EventsByCode   map[string]int64
	StreamFailures int64

	// Circuit breaker
	CircuitState metrics.CircuitState
	CircuitOpens int64

	// Transaction lifecycle
	OutcomesByStatus   map[string]int64
	Settlements        int64
	SettlementFailures int64

	// Latencies (simple stats)
	InitiateLatencies   []time.Duration
	PollLatencies       []time.Duration
	SettlementLatencies []time.Duration
}

// NewMemoryCollector creates a new in-memory metrics collector.
func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{
		PollsByOutcome:   make(map[string]int64),
		EventsByCode:     make(map[string]int64),
		OutcomesByStatus: make(map[string]int64),
	}
}

// RecordInitiate records a transaction-initiation call.
func (mc *MemoryCollector) RecordInitiate(success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.Initiations++
	if !success {
		mc.InitiateFailures++
	}
	mc.InitiateLatencies = append(mc.InitiateLatencies, duration)
}

// RecordCancel records a cancel call.
func (mc *MemoryCollector) RecordCancel(success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.Cancels++
	if !success {
		mc.CancelFailures++
	}
}

// RecordPoll records a status-poll call by outcome.
func (mc *MemoryCollector) RecordPoll(outcome string, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.PollsByOutcome[outcome]++
	mc.PollLatencies = append(mc.PollLatencies, duration)
}

// RecordStreamEvent records an inbound stream event by status code.
func (mc *MemoryCollector) RecordStreamEvent(statusCode string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.EventsByCode[statusCode]++
}

// RecordStreamFailure records a transport-level stream failure.
func (mc *MemoryCollector) RecordStreamFailure() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.StreamFailures++
}

// RecordCircuitState records the current circuit breaker state.
func (mc *MemoryCollector) RecordCircuitState(state metrics.CircuitState) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	oldState := mc.CircuitState
	mc.CircuitState = state

	// Count transitions to open
	if oldState != metrics.CircuitOpen && state == metrics.CircuitOpen {
		mc.CircuitOpens++
	}
}

// RecordTransactionOutcome records a terminal transaction status.
func (mc *MemoryCollector) RecordTransactionOutcome(status string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.OutcomesByStatus[status]++
}

// RecordSettlement records an order-settlement attempt.
func (mc *MemoryCollector) RecordSettlement(success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.Settlements++
	if !success {
		mc.SettlementFailures++
	}
	mc.SettlementLatencies = append(mc.SettlementLatencies, duration)
}

// Snapshot is a copy of the current metrics state.
type Snapshot struct {
	Initiations        int64
	InitiateFailures   int64
	Cancels            int64
	CancelFailures     int64
	PollsByOutcome     map[string]int64
	EventsByCode       map[string]int64
	StreamFailures     int64
	CircuitState       metrics.CircuitState
	CircuitOpens       int64
	OutcomesByStatus   map[string]int64
	Settlements        int64
	SettlementFailures int64
}

// Snapshot returns a copy of the current metrics state.
func (mc *MemoryCollector) Snapshot() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	snapshot := Snapshot{
		Initiations:        mc.Initiations,
		InitiateFailures:   mc.InitiateFailures,
		Cancels:            mc.Cancels,
		CancelFailures:     mc.CancelFailures,
		PollsByOutcome:     make(map[string]int64),
		EventsByCode:       make(map[string]int64),
		StreamFailures:     mc.StreamFailures,
		CircuitState:       mc.CircuitState,
		CircuitOpens:       mc.CircuitOpens,
		OutcomesByStatus:   make(map[string]int64),
		Settlements:        mc.Settlements,
		SettlementFailures: mc.SettlementFailures,
	}

	for k, v := range mc.PollsByOutcome {
		snapshot.PollsByOutcome[k] = v
	}
	for k, v := range mc.EventsByCode {
		snapshot.EventsByCode[k] = v
	}
	for k, v := range mc.OutcomesByStatus {
		snapshot.OutcomesByStatus[k] = v
	}

	return snapshot
}

// Reset clears all collected metrics.
func (mc *MemoryCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.Initiations = 0
	mc.InitiateFailures = 0
	mc.Cancels = 0
	mc.CancelFailures = 0
	mc.PollsByOutcome = make(map[string]int64)
	mc.EventsByCode = make(map[string]int64)
	mc.StreamFailures = 0
	mc.CircuitOpens = 0
	mc.OutcomesByStatus = make(map[string]int64)
	mc.Settlements = 0
	mc.SettlementFailures = 0
	mc.InitiateLatencies = nil
	mc.PollLatencies = nil
	mc.SettlementLatencies = nil
}
