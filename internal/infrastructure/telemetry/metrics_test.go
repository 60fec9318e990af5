package telemetry_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/erp/provisioner/internal/infrastructure/telemetry"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"
)

func TestMetrics_ObserveStep(t *testing.T) {
	m := telemetry.NewMetrics()

	m.ObserveStep("products", "succeeded", 1500*time.Millisecond, map[string]int{
		"products_created": 3,
		"products_skipped": 0,
	})
	m.ObserveStep("products", "succeeded", time.Second, map[string]int{"products_created": 2})
	m.ObserveStep("bom", "failed", time.Second, nil)

	count, err := testutil.GatherAndCount(m.Registry, telemetry.MetricStepDuration)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	expected := `
# HELP provisioner_step_records_total Step statistics reported by the loaders
# TYPE provisioner_step_records_total counter
provisioner_step_records_total{stat="products_created",step="products"} 5
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry, strings.NewReader(expected), telemetry.MetricStepRecords))
}

func TestMetrics_ObserveRun(t *testing.T) {
	m := telemetry.NewMetrics()
	m.ObserveRun("completed")
	m.ObserveRun("completed")
	m.ObserveRun("failed")

	expected := `
# HELP provisioner_runs_total Finished provisioning runs by final status
# TYPE provisioner_runs_total counter
provisioner_runs_total{status="completed"} 2
provisioner_runs_total{status="failed"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry, strings.NewReader(expected), telemetry.MetricRunsTotal))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *telemetry.Metrics
	m.ObserveStep("x", "failed", time.Second, nil)
	m.ObserveRun("failed")
	assert.NoError(t, m.WriteMetricsFile("/nonexistent/metrics.prom"))
}

func TestMetrics_WriteMetricsFile(t *testing.T) {
	m := telemetry.NewMetrics()
	m.ObserveStep("routing", "succeeded", 2*time.Second, nil)

	path := filepath.Join(t.TempDir(), "textfile", "provisioner.prom")
	require.NoError(t, m.WriteMetricsFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `provisioner_step_duration_seconds_count{status="succeeded",step="routing"} 1`)

	assert.NoError(t, m.WriteMetricsFile(""))
}

func TestMetrics_Instrument(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m := telemetry.NewMetrics()
	require.NoError(t, m.Instrument(provider.Meter("provisioner")))

	m.ObserveStep("products", "succeeded", 1500*time.Millisecond, map[string]int{
		"products_created": 3,
		"products_skipped": 0,
	})
	m.ObserveRun("completed")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := map[string]metricdata.Metrics{}
	for _, md := range rm.ScopeMetrics[0].Metrics {
		byName[md.Name] = md
	}

	hist, ok := byName[telemetry.MetricStepDuration].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	assert.InDelta(t, 1.5, hist.DataPoints[0].Sum, 1e-9)

	records, ok := byName[telemetry.MetricStepRecords].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, records.DataPoints, 1, "zero statistics are not recorded")
	assert.Equal(t, int64(3), records.DataPoints[0].Value)
	stat, _ := records.DataPoints[0].Attributes.Value("stat")
	assert.Equal(t, "products_created", stat.AsString())

	runs, ok := byName[telemetry.MetricRunsTotal].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, runs.DataPoints, 1)
	assert.Equal(t, int64(1), runs.DataPoints[0].Value)

	// the Prometheus view is still fed
	count, err := testutil.GatherAndCount(m.Registry, telemetry.MetricRunsTotal)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMeterProvider_Disabled(t *testing.T) {
	mp, err := telemetry.NewMeterProvider(context.Background(), telemetry.Config{Enabled: true}, nil)
	require.NoError(t, err)
	assert.False(t, mp.Enabled(), "metric export is opt in")
	assert.NotNil(t, mp.Meter("provisioner"))
	assert.NoError(t, mp.Shutdown(context.Background()))
}

func TestMeterProvider_Exporting(t *testing.T) {
	if testing.Short() {
		t.Skip("builds a gRPC exporter")
	}
	mp, err := telemetry.NewMeterProvider(context.Background(), telemetry.Config{
		Enabled:           true,
		ExportMetrics:     true,
		CollectorEndpoint: "127.0.0.1:14317",
		ServiceName:       "provisioner",
		Insecure:          true,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.True(t, mp.Enabled())

	m := telemetry.NewMetrics()
	require.NoError(t, m.Instrument(mp.Meter("provisioner")))
	m.ObserveRun("completed")

	// nothing listens on the endpoint; shutdown gives up after its deadline
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = mp.Shutdown(ctx)
}
