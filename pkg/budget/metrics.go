package budget

import "github.com/prometheus/client_golang/prometheus"

// Metrics mirrors ledger activity into Prometheus counters/gauges for
// in-process introspection without requiring an
// HTTP /metrics endpoint — callers gather directly from Registry().
// A nil *Metrics is a valid no-op receiver, matching the observability
// idiom used elsewhere in this module.
type Metrics struct {
	registry       *prometheus.Registry
	tokensTotal    *prometheus.CounterVec
	thresholdTotal *prometheus.CounterVec
}

// NewMetrics builds a fresh registry scoped to the budget ledger.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.tokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrelflow",
			Subsystem: "budget",
			Name:      "tokens_total",
			Help:      "Total tokens recorded against a budget scope.",
		},
		[]string{"run_id", "scope", "direction"},
	)
	m.thresholdTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrelflow",
			Subsystem: "budget",
			Name:      "threshold_total",
			Help:      "Number of times a budget scope crossed its alert threshold.",
		},
		[]string{"run_id", "scope"},
	)

	m.registry.MustRegister(m.tokensTotal, m.thresholdTotal)
	return m
}

// ObserveTokens records input/output token counts for one scope crossing.
func (m *Metrics) ObserveTokens(runID, scope string, input, output int64) {
	if m == nil {
		return
	}
	if input > 0 {
		m.tokensTotal.WithLabelValues(runID, scope, "input").Add(float64(input))
	}
	if output > 0 {
		m.tokensTotal.WithLabelValues(runID, scope, "output").Add(float64(output))
	}
}

// IncThreshold records a budget_threshold crossing for one scope.
func (m *Metrics) IncThreshold(runID, scope string) {
	if m == nil {
		return
	}
	m.thresholdTotal.WithLabelValues(runID, scope).Inc()
}

// Registry exposes the underlying Prometheus registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
