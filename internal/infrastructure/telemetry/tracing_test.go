package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/erp/provisioner/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// setupTestTracer installs an in-memory span recorder as the global provider.
func setupTestTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, a := range attrs {
		if string(a.Key) == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestStartSpan(t *testing.T) {
	sr := setupTestTracer(t)

	_, span := telemetry.StartSpan(context.Background(), "provision.run",
		telemetry.WithAttribute("provision.mode", "full"),
	)
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "provision.run", spans[0].Name())
	assert.Equal(t, trace.SpanKindInternal, spans[0].SpanKind())
	v, ok := attrValue(spans[0].Attributes(), "provision.mode")
	require.True(t, ok)
	assert.Equal(t, "full", v.AsString())
}

func TestStartStepSpan(t *testing.T) {
	sr := setupTestTracer(t)

	ctx, parent := telemetry.StartSpan(context.Background(), "provision.run")
	_, child := telemetry.StartStepSpan(ctx, "products")
	child.End()
	parent.End()

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "step.products", spans[0].Name())
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
	v, ok := attrValue(spans[0].Attributes(), "provision.step")
	require.True(t, ok)
	assert.Equal(t, "products", v.AsString())
}

func TestSetAttributes(t *testing.T) {
	sr := setupTestTracer(t)

	id := uuid.New()
	_, span := telemetry.StartSpan(context.Background(), "op")
	telemetry.SetAttributes(span,
		"run_id", id,
		"steps", 9,
		"ratio", 0.5,
		"ok", true,
		42, "skipped",
		"dangling",
	)
	span.End()

	attrs := sr.Ended()[0].Attributes()
	v, ok := attrValue(attrs, "run_id")
	require.True(t, ok)
	assert.Equal(t, id.String(), v.AsString())
	v, _ = attrValue(attrs, "steps")
	assert.Equal(t, int64(9), v.AsInt64())
	v, _ = attrValue(attrs, "ratio")
	assert.Equal(t, 0.5, v.AsFloat64())
	v, _ = attrValue(attrs, "ok")
	assert.True(t, v.AsBool())
	_, ok = attrValue(attrs, "dangling")
	assert.False(t, ok)
	assert.Len(t, attrs, 4)

	telemetry.SetAttributes(nil, "k", "v")
}

func TestRecordError(t *testing.T) {
	sr := setupTestTracer(t)

	_, span := telemetry.StartSpan(context.Background(), "op")
	telemetry.RecordError(span, errors.New("boom"))
	span.End()

	s := sr.Ended()[0]
	assert.Equal(t, codes.Error, s.Status().Code)
	assert.Equal(t, "boom", s.Status().Description)
	require.NotEmpty(t, s.Events())
	assert.Equal(t, "exception", s.Events()[0].Name)

	telemetry.RecordError(nil, errors.New("ignored"))
}

func TestRecordError_NilError(t *testing.T) {
	sr := setupTestTracer(t)

	_, span := telemetry.StartSpan(context.Background(), "op")
	telemetry.RecordError(span, nil)
	telemetry.SetOK(span)
	span.End()

	assert.Equal(t, codes.Ok, sr.Ended()[0].Status().Code)
}
