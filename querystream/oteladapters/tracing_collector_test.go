package oteladapters_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/querystream/query-change-streams-go/querystream/oteladapters"
)

func Test_NewTracingCollector_Construction(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(trace.WithSyncer(exporter))
	tracer := provider.Tracer("test")

	collector := oteladapters.NewTracingCollector(tracer)

	assert.NotNil(t, collector, "NewTracingCollector should return non-nil collector")
}

func Test_TracingCollector_StartSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(trace.WithSyncer(exporter))
	tracer := provider.Tracer("test")

	collector := oteladapters.NewTracingCollector(tracer)

	attrs := map[string]string{
		"operation": "refresh",
		"table":     "sensor_readings",
	}

	ctx, spanCtx := collector.StartSpan(context.Background(), "querystream.refresh", attrs)

	assert.NotNil(t, ctx, "Context should not be nil")
	assert.NotNil(t, spanCtx, "SpanContext should not be nil")

	// Finish the span to capture it
	collector.FinishSpan(spanCtx, "success", map[string]string{"row_count": "5"})

	spans := exporter.GetSpans()
	require.Len(t, spans, 1, "Expected exactly one span")

	span := spans[0]
	assert.Equal(t, "querystream.refresh", span.Name, "Span name should match")

	assertSpanHasAttribute(t, span, "operation", "refresh")
	assertSpanHasAttribute(t, span, "table", "sensor_readings")
	assertSpanHasAttribute(t, span, "row_count", "5")

	assert.Equal(t, codes.Ok, span.Status.Code, "Span should have OK status")
}

func Test_TracingCollector_FinishSpan_Error(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(trace.WithSyncer(exporter))
	tracer := provider.Tracer("test")

	collector := oteladapters.NewTracingCollector(tracer)

	_, spanCtx := collector.StartSpan(context.Background(), "querystream.execute", nil)
	collector.FinishSpan(spanCtx, "error", map[string]string{
		"error_type": "database_query",
	})

	spans := exporter.GetSpans()
	require.Len(t, spans, 1, "Expected exactly one span")

	span := spans[0]
	assert.Equal(t, codes.Error, span.Status.Code, "Span should have Error status")
	assert.Equal(t, "Operation failed", span.Status.Description, "Error description should match")
	assertSpanHasAttribute(t, span, "error_type", "database_query")
}

func Test_TracingCollector_StatusMapping(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(trace.WithSyncer(exporter))
	tracer := provider.Tracer("test")

	collector := oteladapters.NewTracingCollector(tracer)

	testCases := []struct {
		status              string
		expectedCode        codes.Code
		expectedDescription string
	}{
		{"ok", codes.Ok, ""},
		{"success", codes.Ok, ""},
		{"completed", codes.Ok, ""},
		{"error", codes.Error, "Operation failed"},
		{"failed", codes.Error, "Operation failed"},
		{"failure", codes.Error, "Operation failed"},
		{"cancelled", codes.Error, "Operation cancelled"},
		{"canceled", codes.Error, "Operation cancelled"},
		{"timeout", codes.Error, "Operation timed out"},
	}

	for _, tc := range testCases {
		t.Run(tc.status, func(t *testing.T) {
			exporter.Reset()

			_, spanCtx := collector.StartSpan(context.Background(), "test", nil)
			collector.FinishSpan(spanCtx, tc.status, nil)

			spans := exporter.GetSpans()
			require.Len(t, spans, 1, "Expected exactly one span")

			span := spans[0]
			assert.Equal(t, tc.expectedCode, span.Status.Code, "Status code should match")
			assert.Equal(t, tc.expectedDescription, span.Status.Description, "Status description should match")
		})
	}
}

func Test_TracingCollector_UnknownStatus(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(trace.WithSyncer(exporter))
	tracer := provider.Tracer("test")

	collector := oteladapters.NewTracingCollector(tracer)

	_, spanCtx := collector.StartSpan(context.Background(), "test", nil)
	collector.FinishSpan(spanCtx, "unknown_status", nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1, "Expected exactly one span")

	span := spans[0]
	// Unknown status should be recorded as an attribute, not span status
	assertSpanHasAttribute(t, span, "status", "unknown_status")
}

func Test_TracingCollector_EmptyAttributes(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(trace.WithSyncer(exporter))
	tracer := provider.Tracer("test")

	collector := oteladapters.NewTracingCollector(tracer)

	_, spanCtx := collector.StartSpan(context.Background(), "test-empty", map[string]string{})
	collector.FinishSpan(spanCtx, "ok", map[string]string{})

	_, spanCtx2 := collector.StartSpan(context.Background(), "test-nil", nil)
	collector.FinishSpan(spanCtx2, "ok", nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2, "Expected exactly two spans")

	for _, span := range spans {
		assert.Equal(t, codes.Ok, span.Status.Code, "Spans should complete successfully")
	}
}

func Test_TracingCollector_ContextPropagation(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(trace.WithSyncer(exporter))
	tracer := provider.Tracer("test")

	collector := oteladapters.NewTracingCollector(tracer)

	parentCtx, parentSpan := tracer.Start(context.Background(), "parent-operation")
	defer parentSpan.End()

	childCtx, childSpanCtx := collector.StartSpan(parentCtx, "querystream.execute", nil)
	collector.FinishSpan(childSpanCtx, "ok", nil)

	assert.NotEqual(t, parentCtx, childCtx, "Child context should be different from parent")

	spans := exporter.GetSpans()
	require.Len(t, spans, 1, "Expected exactly one span from collector")

	childSpan := spans[0]
	assert.Equal(t, "querystream.execute", childSpan.Name, "Child span name should match")

	// The child span should have the parent span as its parent
	assert.Equal(t, parentSpan.SpanContext().SpanID(), childSpan.Parent.SpanID(), "Child should have correct parent")
}

func Test_TracingCollector_NilTracer(t *testing.T) {
	collector := oteladapters.NewTracingCollector(nil)
	assert.NotNil(t, collector, "NewTracingCollector should handle nil tracer")

	// This will panic with nil tracer - this documents the current behavior
	assert.Panics(t, func() {
		collector.StartSpan(context.Background(), "test", nil)
	}, "StartSpan should panic with nil tracer")
}

func Test_TracingCollector_ForeignSpanContext(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(trace.WithSyncer(exporter))
	tracer := provider.Tracer("test")

	collector := oteladapters.NewTracingCollector(tracer)

	foreignSpanCtx := &foreignSpanContext{}

	assert.NotPanics(t, func() {
		collector.FinishSpan(foreignSpanCtx, "ok", map[string]string{"test": "value"})
	}, "FinishSpan should not panic with a foreign SpanContext")

	spans := exporter.GetSpans()
	assert.Len(t, spans, 0, "No spans should be recorded for a foreign SpanContext")
}

func Test_OTelSpanContext_Methods(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(trace.WithSyncer(exporter))
	tracer := provider.Tracer("test")

	collector := oteladapters.NewTracingCollector(tracer)

	_, spanCtx := collector.StartSpan(context.Background(), "querystream.refresh", nil)

	assert.NotPanics(t, func() {
		spanCtx.SetStatus("success")
	}, "SetStatus should not panic")

	assert.NotPanics(t, func() {
		spanCtx.AddAttribute("table", "sensor_readings")
	}, "AddAttribute should not panic")

	collector.FinishSpan(spanCtx, "completed", nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1, "Expected exactly one span")

	span := spans[0]
	assert.Equal(t, "querystream.refresh", span.Name, "Span name should match")
	assert.Equal(t, codes.Ok, span.Status.Code, "Span should have OK status")
	assertSpanHasAttribute(t, span, "table", "sensor_readings")
}

// foreignSpanContext implements querystream.SpanContext but is not *OTelSpanContext
type foreignSpanContext struct{}

func (m *foreignSpanContext) SetStatus(_ string) {}

func (m *foreignSpanContext) AddAttribute(_, _ string) {}

func assertSpanHasAttribute(t *testing.T, span tracetest.SpanStub, key, expectedValue string) {
	t.Helper()
	found := false
	for _, attr := range span.Attributes {
		if attr.Key == attribute.Key(key) && attr.Value.AsString() == expectedValue {
			found = true
			break
		}
	}
	assert.True(t, found, "Span should have attribute %s=%s", key, expectedValue)
}
