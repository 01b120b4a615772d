package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes of a resolver operation.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// ResolverMetrics counts routed operations per resolver alias. A nil
// *ResolverMetrics records nothing.
type ResolverMetrics struct {
	Operations *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	Bytes      *prometheus.CounterVec
}

// NewResolverMetrics creates the resolver metrics and registers them with reg.
func NewResolverMetrics(namespace string, reg prometheus.Registerer) (*ResolverMetrics, error) {
	m := &ResolverMetrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "operations_total",
			Help:      "Total number of routed resolver operations",
		}, []string{"alias", "operation", "outcome"}),

		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "operation_duration_seconds",
			Help:      "Duration of resolver operations in seconds, excluding stream transfer",
			Buckets:   prometheus.DefBuckets,
		}, []string{"alias", "operation"}),

		Bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "bytes_total",
			Help:      "Total number of artifact bytes streamed",
		}, []string{"alias", "direction"}),
	}

	for _, c := range []prometheus.Collector{m.Operations, m.Duration, m.Bytes} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register resolver metrics: %w", err)
		}
	}
	return m, nil
}

// Observe records one operation.
func (m *ResolverMetrics) Observe(alias, operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(alias, operation, outcome).Inc()
	m.Duration.WithLabelValues(alias, operation).Observe(d.Seconds())
}

// AddBytes records streamed bytes; direction is "in" or "out".
func (m *ResolverMetrics) AddBytes(alias, direction string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.Bytes.WithLabelValues(alias, direction).Add(float64(n))
}
