package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for ledger operations.
const (
	OutcomeSuccess  = "success"
	OutcomeReplayed = "replayed"
)

// LedgerMetrics records per-operation counts and latency for the engine.
type LedgerMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	drift      prometheus.Counter
}

// NewLedgerMetrics registers the ledger metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	m := &LedgerMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Ledger operations by outcome; failures are labelled with the error code.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "Wall time of ledger operations including the transaction.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
		}, []string{"operation"}),
		drift: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_balance_drift_corrections_total",
			Help: "Customer balances that differed from the authoritative recalculation.",
		}),
	}
	reg.MustRegister(m.operations, m.duration, m.drift)
	return m
}

// Observe records one operation with its outcome and latency.
func (m *LedgerMetrics) Observe(operation, outcome string, took time.Duration) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
	m.duration.WithLabelValues(normalizeLabel(operation)).Observe(took.Seconds())
}

// IncDrift counts a balance that was corrected by recalculation.
func (m *LedgerMetrics) IncDrift() {
	if m == nil || m.drift == nil {
		return
	}
	m.drift.Inc()
}
