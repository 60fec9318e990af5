package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/erp/provisioner/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestTracerProvider_DisabledIsNoop(t *testing.T) {
	ctx := context.Background()
	cfg := telemetry.Config{CollectorEndpoint: "otel:4317", SamplingRatio: 1, ServiceName: "provisioner"}

	for name, tp := range map[string]func() (*telemetry.TracerProvider, error){
		"with logger": func() (*telemetry.TracerProvider, error) {
			return telemetry.NewTracerProvider(ctx, cfg, zaptest.NewLogger(t))
		},
		"nil logger": func() (*telemetry.TracerProvider, error) {
			return telemetry.NewTracerProvider(ctx, cfg, nil)
		},
	} {
		t.Run(name, func(t *testing.T) {
			p, err := tp()
			require.NoError(t, err)
			assert.False(t, p.Enabled())
			assert.Equal(t, "provisioner", p.Config().ServiceName)

			_, span := p.Tracer("provision").Start(ctx, "step.products")
			span.End()
			assert.False(t, span.SpanContext().IsSampled())

			assert.NoError(t, p.Flush(ctx))
			assert.NoError(t, p.Shutdown(ctx))
		})
	}
}

func TestTracerProvider_Exporting(t *testing.T) {
	if testing.Short() {
		t.Skip("builds a gRPC exporter")
	}
	ctx := context.Background()

	for _, ratio := range []float64{1, 0, 0.25} {
		p, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
			Enabled:           true,
			CollectorEndpoint: "127.0.0.1:14317",
			SamplingRatio:     ratio,
			ServiceName:       "provisioner",
			Insecure:          true,
		}, zaptest.NewLogger(t))
		require.NoError(t, err, "ratio %v", ratio)
		assert.True(t, p.Enabled())

		_, span := p.Tracer("provision").Start(ctx, "provision.run")
		span.End()
		if ratio == 0 || ratio == 1 {
			assert.Equal(t, ratio == 1, span.SpanContext().IsSampled(), "ratio %v", ratio)
		}

		stop, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		_ = p.Shutdown(stop)
		cancel()
	}
}
