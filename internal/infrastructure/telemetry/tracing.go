package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of run and step spans.
const TracerName = "github.com/erp/provisioner"

// SpanOption adds to the start options of a span
type SpanOption func(*[]trace.SpanStartOption)

// WithAttribute sets an attribute when the span starts
func WithAttribute(key string, value any) SpanOption {
	return func(opts *[]trace.SpanStartOption) {
		*opts = append(*opts, trace.WithAttributes(attr(key, value)))
	}
}

// StartSpan starts an internal span on the global provider. The caller ends
// it.
func StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, trace.Span) {
	start := []trace.SpanStartOption{trace.WithSpanKind(trace.SpanKindInternal)}
	for _, opt := range opts {
		opt(&start)
	}
	return otel.Tracer(TracerName).Start(ctx, name, start...)
}

// StartStepSpan starts the span of one provisioning step
func StartStepSpan(ctx context.Context, step string, opts ...SpanOption) (context.Context, trace.Span) {
	return StartSpan(ctx, "step."+step, append(opts, WithAttribute("provision.step", step))...)
}

// SetAttributes sets alternating key/value pairs on span. Pairs whose key is
// not a string are dropped, as is a trailing key without value.
func SetAttributes(span trace.Span, kv ...any) {
	if span == nil {
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 1; i < len(kv); i += 2 {
		if key, ok := kv[i-1].(string); ok {
			attrs = append(attrs, attr(key, kv[i]))
		}
	}
	span.SetAttributes(attrs...)
}

// RecordError marks span failed with err
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetOK marks span successful
func SetOK(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

func attr(key string, value any) attribute.KeyValue {
	k := attribute.Key(key)
	switch v := value.(type) {
	case string:
		return k.String(v)
	case bool:
		return k.Bool(v)
	case int:
		return k.Int(v)
	case int64:
		return k.Int64(v)
	case float64:
		return k.Float64(v)
	case []string:
		return k.StringSlice(v)
	case fmt.Stringer:
		return k.String(v.String())
	}
	return k.String(fmt.Sprint(value))
}
