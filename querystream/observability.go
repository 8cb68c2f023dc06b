package querystream

import (
	"context"
	"math"
	"strconv"
	"time"
)

// Logger interface for subscription lifecycle logging, warnings, and error reporting.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MetricsCollector interface for collecting change stream performance and operational metrics.
type MetricsCollector interface {
	RecordDuration(metric string, duration time.Duration, labels map[string]string)
	IncrementCounter(metric string, labels map[string]string)
	RecordValue(metric string, value float64, labels map[string]string)
}

// ContextualMetricsCollector extends MetricsCollector with context-aware methods for better tracing integration.
// Implementations can use the context for trace correlation, span propagation, and other contextual metadata.
// This interface is optional - the streams use context-aware methods when available, falling back to
// the base MetricsCollector interface for backward compatibility.
type ContextualMetricsCollector interface {
	MetricsCollector
	RecordDurationContext(ctx context.Context, metric string, duration time.Duration, labels map[string]string)
	IncrementCounterContext(ctx context.Context, metric string, labels map[string]string)
	RecordValueContext(ctx context.Context, metric string, value float64, labels map[string]string)
}

// SpanContext represents an active tracing span that can be finished and updated with attributes.
type SpanContext interface {
	SetStatus(status string)
	AddAttribute(key, value string)
}

// TracingCollector interface for collecting distributed tracing information from subscribe operations.
// This interface follows the same dependency-free pattern as MetricsCollector, allowing users to integrate
// with any tracing backend (OpenTelemetry, Jaeger, Zipkin, etc.) by implementing this interface.
type TracingCollector interface {
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, SpanContext)
	FinishSpan(spanCtx SpanContext, status string, attrs map[string]string)
}

// ContextualLogger interface for context-aware logging with automatic trace correlation.
// This interface follows the same dependency-free pattern as MetricsCollector and TracingCollector,
// allowing users to integrate with any logging backend (OpenTelemetry, structured loggers, etc.)
// that supports context-based correlation and automatic trace/span ID inclusion.
type ContextualLogger interface {
	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
}

// logDebugContext logs per-change details at debug level, preferring the contextual logger.
func (c *config) logDebugContext(ctx context.Context, msg string, args ...any) {
	if c.contextualLogger != nil {
		c.contextualLogger.DebugContext(ctx, msg, args...)
		return
	}

	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

// logOperationContext logs operational information at info level, preferring the contextual logger.
func (c *config) logOperationContext(ctx context.Context, msg string, args ...any) {
	if c.contextualLogger != nil {
		c.contextualLogger.InfoContext(ctx, msg, args...)
		return
	}

	if c.logger != nil {
		c.logger.Info(msg, args...)
	}
}

// logWarnContext logs non-critical issues at warn level, preferring the contextual logger.
func (c *config) logWarnContext(ctx context.Context, msg string, err error, args ...any) {
	allArgs := append([]any{logAttrError, err.Error()}, args...)

	if c.contextualLogger != nil {
		c.contextualLogger.WarnContext(ctx, msg, allArgs...)
		return
	}

	if c.logger != nil {
		c.logger.Warn(msg, allArgs...)
	}
}

// logErrorContext logs error information at error level, preferring the contextual logger.
func (c *config) logErrorContext(ctx context.Context, msg string, err error, args ...any) {
	allArgs := append([]any{logAttrError, err.Error()}, args...)

	if c.contextualLogger != nil {
		c.contextualLogger.ErrorContext(ctx, msg, allArgs...)
		return
	}

	if c.logger != nil {
		c.logger.Error(msg, allArgs...)
	}
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func (c *config) toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}

// incrementCounterContext increments a counter, using the context-aware collector when available.
func (c *config) incrementCounterContext(ctx context.Context, metricName string, labels map[string]string) {
	if c.metricsCollector == nil {
		return
	}

	if contextualCollector, ok := c.metricsCollector.(ContextualMetricsCollector); ok {
		contextualCollector.IncrementCounterContext(ctx, metricName, labels)
	} else {
		c.metricsCollector.IncrementCounter(metricName, labels)
	}
}

// recordDurationContext records a duration, using the context-aware collector when available.
func (c *config) recordDurationContext(ctx context.Context, metricName string, duration time.Duration, labels map[string]string) {
	if c.metricsCollector == nil {
		return
	}

	if contextualCollector, ok := c.metricsCollector.(ContextualMetricsCollector); ok {
		contextualCollector.RecordDurationContext(ctx, metricName, duration, labels)
	} else {
		c.metricsCollector.RecordDuration(metricName, duration, labels)
	}
}

// recordDeliveredMetrics counts one change delivered to the consumer.
func (c *config) recordDeliveredMetrics(ctx context.Context) {
	c.incrementCounterContext(ctx, metricChangesDelivered, map[string]string{
		spanAttrOperation: operationSubscribe,
		"status":          statusSuccess,
	})
}

// recordDroppedMetrics counts one change discarded in DeliverDropNewest mode.
func (c *config) recordDroppedMetrics(ctx context.Context) {
	c.incrementCounterContext(ctx, metricChangesDropped, map[string]string{
		spanAttrOperation: operationSubscribe,
		"status":          statusDropped,
	})
}

// recordSubscribeErrorMetrics counts a subscribe call that failed before a stream existed.
func (c *config) recordSubscribeErrorMetrics(ctx context.Context, errorType string) {
	c.incrementCounterContext(ctx, metricSubscriptionErrors, map[string]string{
		spanAttrOperation: operationSubscribe,
		"status":          statusError,
		spanAttrErrorType: errorType,
	})
}

// recordTerminationMetrics records the subscription lifetime and, for abnormal
// termination, counts the terminal error.
func (c *config) recordTerminationMetrics(ctx context.Context, duration time.Duration, status string) {
	c.recordDurationContext(ctx, metricSubscriptionDuration, duration, map[string]string{
		spanAttrOperation: operationSubscribe,
		"status":          status,
	})

	if status == statusError {
		c.incrementCounterContext(ctx, metricSubscriptionErrors, map[string]string{
			spanAttrOperation: operationSubscribe,
			"status":          statusError,
			spanAttrErrorType: errorTypeChange,
		})
	}
}

// startSubscribeSpan starts a tracing span for a subscribe call if the tracing collector is configured.
func (c *config) startSubscribeSpan(ctx context.Context) (context.Context, SpanContext) {
	if c.tracingCollector == nil {
		return ctx, nil
	}

	spanAttrs := map[string]string{
		spanAttrOperation:    operationSubscribe,
		spanAttrBufferSize:   strconv.Itoa(c.bufferSize),
		spanAttrDeliveryMode: c.deliveryMode.String(),
	}

	return c.tracingCollector.StartSpan(ctx, spanNameSubscribe, spanAttrs)
}

// finishSubscribeSpanSuccess finishes a successful subscribe span with the minted token.
func (c *config) finishSubscribeSpanSuccess(span SpanContext, token ListenerToken) {
	if c.tracingCollector == nil || span == nil {
		return
	}

	span.SetStatus(statusSuccess)
	span.AddAttribute(spanAttrToken, token)

	c.tracingCollector.FinishSpan(span, statusSuccess, map[string]string{spanAttrToken: token})
}

// finishSubscribeSpanError finishes a subscribe span with error details.
func (c *config) finishSubscribeSpanError(span SpanContext, errorType string) {
	if c.tracingCollector == nil || span == nil {
		return
	}

	span.SetStatus(statusError)
	span.AddAttribute(spanAttrErrorType, errorType)

	c.tracingCollector.FinishSpan(span, statusError, map[string]string{spanAttrErrorType: errorType})
}
