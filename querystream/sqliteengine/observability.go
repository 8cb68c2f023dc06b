package sqliteengine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/querystream/query-change-streams-go/querystream"
)

const (
	metricExecuteDuration = "querystream_execute_duration_seconds"
	metricRefreshDuration = "querystream_refresh_duration_seconds"
	metricRowsStreamed    = "querystream_rows_streamed_total"
	metricDatabaseErrors  = "querystream_database_errors_total"
	metricChangesDetected = "querystream_changes_detected_total"
	spanNameExecute       = "querystream.execute"
	spanNameRefresh       = "querystream.refresh"
	spanAttrOperation     = "operation"
	spanAttrErrorType     = "error_type"
	spanAttrTable         = "table"
	spanAttrRowCount      = "row_count"
	spanAttrDurationMS    = "duration_ms"
	operationExecute      = "execute"
	operationRefresh      = "refresh"
	operationPoll         = "poll"
	statusSuccess         = "success"
	statusError           = "error"
	errorTypeBuildQuery   = "build_query"
	errorTypeDBQuery      = "database_query"
	errorTypeScanRow      = "scan_row"
)

// logQueryWithDurationContext logs SQL queries with execution time at debug level.
// The contextual logger is preferred when both loggers are configured.
func (e *Engine) logQueryWithDurationContext(
	ctx context.Context,
	sqlQuery string,
	action string,
	duration time.Duration,
) {
	if e.contextualLogger != nil {
		e.contextualLogger.DebugContext(ctx, logMsgSQLExecuted+action, logAttrDurationMS, e.toMilliseconds(duration), logAttrQuery, sqlQuery)
		return
	}

	if e.logger != nil {
		e.logger.Debug(logMsgSQLExecuted+action, logAttrDurationMS, e.toMilliseconds(duration), logAttrQuery, sqlQuery)
	}
}

// logOperationContext logs operational information at info level.
// The contextual logger is preferred when both loggers are configured.
func (e *Engine) logOperationContext(ctx context.Context, action string, args ...any) {
	if e.contextualLogger != nil {
		e.contextualLogger.InfoContext(ctx, logMsgOperation+action, args...)
		return
	}

	if e.logger != nil {
		e.logger.Info(logMsgOperation+action, args...)
	}
}

// logWarnContext logs non-critical issues at warn level.
// The contextual logger is preferred when both loggers are configured.
func (e *Engine) logWarnContext(
	ctx context.Context,
	message string,
	err error,
	args ...any,
) {
	allArgs := []any{logAttrError, err.Error()}
	allArgs = append(allArgs, args...)

	if e.contextualLogger != nil {
		e.contextualLogger.WarnContext(ctx, message, allArgs...)
		return
	}

	if e.logger != nil {
		e.logger.Warn(message, allArgs...)
	}
}

// logErrorContext logs error information at error level.
// The contextual logger is preferred when both loggers are configured.
func (e *Engine) logErrorContext(
	ctx context.Context,
	message string,
	err error,
	args ...any,
) {
	allArgs := []any{logAttrError, err.Error()}
	allArgs = append(allArgs, args...)

	if e.contextualLogger != nil {
		e.contextualLogger.ErrorContext(ctx, message, allArgs...)
		return
	}

	if e.logger != nil {
		e.logger.Error(message, allArgs...)
	}
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func (e *Engine) toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}

// recordErrorMetricsContext records error metrics with context if the collector supports it.
func (e *Engine) recordErrorMetricsContext(ctx context.Context, operation, errorType string) {
	if e.metricsCollector != nil {
		labels := map[string]string{
			spanAttrOperation: operation,
			"status":          statusError,
			spanAttrErrorType: errorType,
		}

		// Use context-aware method if available
		if contextualCollector, ok := e.metricsCollector.(querystream.ContextualMetricsCollector); ok {
			contextualCollector.IncrementCounterContext(ctx, metricDatabaseErrors, labels)
		} else {
			e.metricsCollector.IncrementCounter(metricDatabaseErrors, labels)
		}
	}
}

// recordDurationMetricsContext records duration metrics with context if the collector supports it.
func (e *Engine) recordDurationMetricsContext(
	ctx context.Context,
	metricName string,
	duration time.Duration,
	operation, status string,
) {
	if e.metricsCollector != nil {
		labels := map[string]string{
			spanAttrOperation: operation,
			"status":          status,
		}

		// Use context-aware method if available
		if contextualCollector, ok := e.metricsCollector.(querystream.ContextualMetricsCollector); ok {
			contextualCollector.RecordDurationContext(ctx, metricName, duration, labels)
		} else {
			e.metricsCollector.RecordDuration(metricName, duration, labels)
		}
	}
}

// recordValueMetricsContext records value metrics with context if the collector supports it.
func (e *Engine) recordValueMetricsContext(
	ctx context.Context,
	metricName string,
	value float64,
	operation,
	status string,
) {
	if e.metricsCollector != nil {
		labels := map[string]string{
			spanAttrOperation: operation,
			"status":          status,
		}

		// Use context-aware method if available
		if contextualCollector, ok := e.metricsCollector.(querystream.ContextualMetricsCollector); ok {
			contextualCollector.RecordValueContext(ctx, metricName, value, labels)
		} else {
			e.metricsCollector.RecordValue(metricName, value, labels)
		}
	}
}

// recordChangeDetectedMetricsContext counts one detected data version change.
func (e *Engine) recordChangeDetectedMetricsContext(ctx context.Context) {
	if e.metricsCollector != nil {
		labels := map[string]string{
			spanAttrOperation: operationPoll,
		}

		// Use context-aware method if available
		if contextualCollector, ok := e.metricsCollector.(querystream.ContextualMetricsCollector); ok {
			contextualCollector.IncrementCounterContext(ctx, metricChangesDetected, labels)
		} else {
			e.metricsCollector.IncrementCounter(metricChangesDetected, labels)
		}
	}
}

// startTraceSpan starts a tracing span if the tracing collector is configured.
func (e *Engine) startTraceSpan(
	ctx context.Context,
	operation string,
	attrs map[string]string,
) (context.Context, querystream.SpanContext) {
	if e.tracingCollector != nil {
		return e.tracingCollector.StartSpan(ctx, operation, attrs)
	}

	return ctx, nil
}

// finishTraceSpan finishes a tracing span if the tracing collector is configured.
func (e *Engine) finishTraceSpan(
	spanCtx querystream.SpanContext,
	status string,
	attrs map[string]string,
) {
	if e.tracingCollector != nil && spanCtx != nil {
		e.tracingCollector.FinishSpan(spanCtx, status, attrs)
	}
}

// runTracingObserver encapsulates tracing span lifecycle management for one
// query run, the initial execute or a poll-driven refresh.
type runTracingObserver struct {
	e    *Engine
	span querystream.SpanContext
}

// startExecuteTracing creates a new tracing observer for the initial query execution.
func (e *Engine) startExecuteTracing(
	ctx context.Context,
	table querystream.DefinitionTableString,
) (*runTracingObserver, context.Context) {
	newCtx, span := e.startTraceSpan(ctx, spanNameExecute, map[string]string{
		spanAttrOperation: operationExecute,
		spanAttrTable:     table,
	})

	return &runTracingObserver{e: e, span: span}, newCtx
}

// startRefreshTracing creates a new tracing observer for a poll-driven refresh.
func (e *Engine) startRefreshTracing(
	ctx context.Context,
	table querystream.DefinitionTableString,
) (*runTracingObserver, context.Context) {
	newCtx, span := e.startTraceSpan(ctx, spanNameRefresh, map[string]string{
		spanAttrOperation: operationRefresh,
		spanAttrTable:     table,
	})

	return &runTracingObserver{e: e, span: span}, newCtx
}

// finishSuccess completes the run tracing span for successful operations.
func (rto *runTracingObserver) finishSuccess(rowCount int, duration time.Duration) {
	if rto.span == nil {
		return
	}

	rto.span.SetStatus(statusSuccess)
	rto.span.AddAttribute(spanAttrRowCount, fmt.Sprintf("%d", rowCount))
	rto.span.AddAttribute(spanAttrDurationMS, fmt.Sprintf("%.2f", rto.e.toMilliseconds(duration)))

	rto.e.finishTraceSpan(rto.span, statusSuccess, map[string]string{
		spanAttrRowCount: fmt.Sprintf("%d", rowCount),
	})
}

// finishError completes the run tracing span with error details.
func (rto *runTracingObserver) finishError(errorType string, duration time.Duration) {
	if rto.span == nil {
		return
	}

	rto.span.SetStatus(statusError)
	rto.span.AddAttribute(spanAttrErrorType, errorType)

	if duration > 0 {
		rto.span.AddAttribute(spanAttrDurationMS, fmt.Sprintf("%.2f", rto.e.toMilliseconds(duration)))
	}

	rto.e.finishTraceSpan(rto.span, statusError, map[string]string{spanAttrErrorType: errorType})
}

// runMetricsObserver encapsulates the metrics collection for one query run.
type runMetricsObserver struct {
	e              *Engine
	ctx            context.Context
	operation      string
	durationMetric string
}

// startExecuteMetrics creates a new metrics observer for the initial query execution.
func (e *Engine) startExecuteMetrics(ctx context.Context) *runMetricsObserver {
	return &runMetricsObserver{
		e:              e,
		ctx:            ctx,
		operation:      operationExecute,
		durationMetric: metricExecuteDuration,
	}
}

// startRefreshMetrics creates a new metrics observer for a poll-driven refresh.
func (e *Engine) startRefreshMetrics(ctx context.Context) *runMetricsObserver {
	return &runMetricsObserver{
		e:              e,
		ctx:            ctx,
		operation:      operationRefresh,
		durationMetric: metricRefreshDuration,
	}
}

// recordSuccess records all metrics for a successful query run.
func (rmo *runMetricsObserver) recordSuccess(rowCount int, duration time.Duration) {
	rmo.e.recordDurationMetricsContext(rmo.ctx, rmo.durationMetric, duration, rmo.operation, statusSuccess)
	rmo.e.recordValueMetricsContext(rmo.ctx, metricRowsStreamed, float64(rowCount), rmo.operation, statusSuccess)
}

// recordError records all metrics for a failed query run.
func (rmo *runMetricsObserver) recordError(errorType string, duration time.Duration) {
	rmo.e.recordDurationMetricsContext(rmo.ctx, rmo.durationMetric, duration, rmo.operation, statusError)
	rmo.e.recordErrorMetricsContext(rmo.ctx, rmo.operation, errorType)
}
