package odoo

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricCallsTotal      = "odoo_rpc_calls_total"
	MetricCallDuration    = "odoo_rpc_duration_seconds"
	MetricRetriesTotal    = "odoo_rpc_retries_total"
	MetricAuthFailedTotal = "odoo_rpc_auth_failures_total"
)

// Metrics holds the client's Prometheus collectors.
type Metrics struct {
	calls        *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	retries      prometheus.Counter
	authFailures prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricCallsTotal,
			Help: "execute_kw attempts by model, method and outcome",
		}, []string{"model", "method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricCallDuration,
			Help:    "execute_kw attempt latency",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"model", "method"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRetriesTotal,
			Help: "Attempts that were followed by a retry",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricAuthFailedTotal,
			Help: "Failed authentication attempts",
		}),
	}
	for _, c := range []prometheus.Collector{m.calls, m.duration, m.retries, m.authFailures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(model, method, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(model, method, status).Inc()
	m.duration.WithLabelValues(model, method).Observe(d.Seconds())
	if status == StatusRetry {
		m.retries.Inc()
	}
}

func (m *Metrics) authFailed() {
	if m == nil {
		return
	}
	m.authFailures.Inc()
}
