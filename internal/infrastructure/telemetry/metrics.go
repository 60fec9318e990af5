package telemetry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names.
const (
	MetricStepDuration = "provisioner_step_duration_seconds"
	MetricStepRecords  = "provisioner_step_records_total"
	MetricRunsTotal    = "provisioner_runs_total"
)

// Metrics is the registry of one provisioner process together with the
// step collectors. The RPC client registers its own collectors on Registry.
type Metrics struct {
	Registry *prometheus.Registry

	stepDuration *prometheus.HistogramVec
	stepRecords  *prometheus.CounterVec
	runs         *prometheus.CounterVec

	otel *otelInstruments
}

// otelInstruments mirror the collectors on an OpenTelemetry meter
type otelInstruments struct {
	stepDuration metric.Float64Histogram
	stepRecords  metric.Int64Counter
	runs         metric.Int64Counter
}

// NewMetrics creates a fresh registry with the step collectors and the Go
// runtime collector.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricStepDuration,
			Help:    "Wall time of a provisioning step",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		}, []string{"step", "status"}),
		stepRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricStepRecords,
			Help: "Step statistics reported by the loaders",
		}, []string{"step", "stat"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRunsTotal,
			Help: "Finished provisioning runs by final status",
		}, []string{"status"}),
	}
	reg.MustRegister(m.stepDuration, m.stepRecords, m.runs, collectors.NewGoCollector())
	return m
}

// Instrument records every later observation on meter too, under the same
// names as the Prometheus collectors.
func (m *Metrics) Instrument(meter metric.Meter) error {
	var (
		inst otelInstruments
		err  error
	)
	inst.stepDuration, err = meter.Float64Histogram(MetricStepDuration,
		metric.WithDescription("Wall time of a provisioning step"), metric.WithUnit("s"))
	if err != nil {
		return fmt.Errorf("create histogram %s: %w", MetricStepDuration, err)
	}
	inst.stepRecords, err = meter.Int64Counter(MetricStepRecords,
		metric.WithDescription("Step statistics reported by the loaders"))
	if err != nil {
		return fmt.Errorf("create counter %s: %w", MetricStepRecords, err)
	}
	inst.runs, err = meter.Int64Counter(MetricRunsTotal,
		metric.WithDescription("Finished provisioning runs by final status"))
	if err != nil {
		return fmt.Errorf("create counter %s: %w", MetricRunsTotal, err)
	}
	m.otel = &inst
	return nil
}

// ObserveStep records the duration and statistics of a finished step.
func (m *Metrics) ObserveStep(step, status string, d time.Duration, stats map[string]int) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step, status).Observe(d.Seconds())
	for stat, n := range stats {
		if n > 0 {
			m.stepRecords.WithLabelValues(step, stat).Add(float64(n))
		}
	}
	if m.otel == nil {
		return
	}
	ctx := context.Background()
	m.otel.stepDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("step", step), attribute.String("status", status)))
	for stat, n := range stats {
		if n > 0 {
			m.otel.stepRecords.Add(ctx, int64(n), metric.WithAttributes(
				attribute.String("step", step), attribute.String("stat", stat)))
		}
	}
}

// ObserveRun counts a finished run.
func (m *Metrics) ObserveRun(status string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
	if m.otel != nil {
		m.otel.runs.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

// WriteMetricsFile writes the registry in the text exposition format to path,
// for node_exporter's textfile collector.
func (m *Metrics) WriteMetricsFile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("write metrics file: %w", err)
	}
	return nil
}
