package prometheus

import (
	"time"

	"golocallink/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector for Prometheus.
type PrometheusCollector struct {
	namespace string

	// Gateway calls
	initiations *prometheus.CounterVec
	cancels     *prometheus.CounterVec
	polls       *prometheus.CounterVec

	// Event stream
	streamEvents   *prometheus.CounterVec
	streamFailures prometheus.Counter

	// Circuit breaker on the initiation path
	circuitOpens prometheus.Counter
	circuitState prometheus.Gauge

	// Transaction lifecycle
	outcomes    *prometheus.CounterVec
	settlements *prometheus.CounterVec

	// Histograms
	initiateLatency   prometheus.Histogram
	pollLatency       prometheus.Histogram
	settlementLatency prometheus.Histogram
}

// NewPrometheusCollector creates a new Prometheus metrics collector.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	pc := &PrometheusCollector{
		namespace: namespace,
		initiations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "initiations_total",
				Help:      "Total number of transaction initiation calls by status",
			},
			[]string{"status"},
		),
		cancels: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cancels_total",
				Help:      "Total number of cancel calls by status",
			},
			[]string{"status"},
		),
		polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "status_polls_total",
				Help:      "Total number of status-poll calls by outcome",
			},
			[]string{"outcome"},
		),
		streamEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_events_total",
				Help:      "Total number of stream events by terminal status code",
			},
			[]string{"status_code"},
		),
		streamFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_failures_total",
				Help:      "Total number of transport-level event stream failures",
			},
		),
		circuitOpens: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_opens_total",
				Help:      "Total number of initiation circuit breaker opens",
			},
		),
		circuitState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Current initiation circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transaction_outcomes_total",
				Help:      "Total number of terminal transaction outcomes by status",
			},
			[]string{"status"},
		),
		settlements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "settlements_total",
				Help:      "Total number of order settlement attempts by status",
			},
			[]string{"status"},
		),
		initiateLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "initiate_duration_seconds",
				Help:      "Transaction initiation latency",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
		),
		pollLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "status_poll_duration_seconds",
				Help:      "Status-poll latency",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		settlementLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "settlement_duration_seconds",
				Help:      "Order settlement latency",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
			},
		),
	}

	return pc
}

// Register registers all metrics with the given Prometheus registry.
func (pc *PrometheusCollector) Register(registry *prometheus.Registry) error {
	collectors := []prometheus.Collector{
		pc.initiations,
		pc.cancels,
		pc.polls,
		pc.streamEvents,
		pc.streamFailures,
		pc.circuitOpens,
		pc.circuitState,
		pc.outcomes,
		pc.settlements,
		pc.initiateLatency,
		pc.pollLatency,
		pc.settlementLatency,
	}

	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}

	return nil
}

func statusLabel(success bool) string {
	if success {
		return "ok"
	}
	return "error"
}

// RecordInitiate records a transaction-initiation call.
func (pc *PrometheusCollector) RecordInitiate(success bool, duration time.Duration) {
	pc.initiations.WithLabelValues(statusLabel(success)).Inc()
	pc.initiateLatency.Observe(duration.Seconds())
}

// RecordCancel records a cancel call.
func (pc *PrometheusCollector) RecordCancel(success bool, duration time.Duration) {
	pc.cancels.WithLabelValues(statusLabel(success)).Inc()
}

// RecordPoll records a status-poll call by outcome.
func (pc *PrometheusCollector) RecordPoll(outcome string, duration time.Duration) {
	pc.polls.WithLabelValues(outcome).Inc()
	pc.pollLatency.Observe(duration.Seconds())
}

// RecordStreamEvent records an inbound stream event by status code.
func (pc *PrometheusCollector) RecordStreamEvent(statusCode string) {
	pc.streamEvents.WithLabelValues(statusCode).Inc()
}

// RecordStreamFailure records a transport-level stream failure.
func (pc *PrometheusCollector) RecordStreamFailure() {
	pc.streamFailures.Inc()
}

// RecordCircuitState records the current circuit breaker state.
func (pc *PrometheusCollector) RecordCircuitState(state metrics.CircuitState) {
	pc.circuitState.Set(float64(state))
	if state == metrics.CircuitOpen {
		pc.circuitOpens.Inc()
	}
}

// RecordTransactionOutcome records a terminal transaction status.
func (pc *PrometheusCollector) RecordTransactionOutcome(status string) {
	pc.outcomes.WithLabelValues(status).Inc()
}

// RecordSettlement records an order-settlement attempt.
func (pc *PrometheusCollector) RecordSettlement(success bool, duration time.Duration) {
	pc.settlements.WithLabelValues(statusLabel(success)).Inc()
	pc.settlementLatency.Observe(duration.Seconds())
}
