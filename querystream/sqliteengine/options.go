package sqliteengine

import (
	"time"

	"github.com/querystream/query-change-streams-go/querystream"
)

// Option defines a functional option for configuring the Engine.
type Option func(*Engine) error

// WithPollInterval sets how often the engine polls the database for changes.
// SQLite has no push notification channel, so change detection polls
// PRAGMA data_version on a dedicated connection. Shorter intervals reduce
// the latency between a write and the refresh at the cost of more polling
// queries. The default is 250ms.
func WithPollInterval(interval time.Duration) Option {
	return func(e *Engine) error {
		if interval <= 0 {
			return querystream.ErrInvalidPollInterval
		}

		e.pollInterval = interval

		return nil
	}
}

// WithLogger sets the logger for the Engine.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: SQL queries with execution timing (development use)
// Info level: Engine lifecycle and refresh summaries (production-safe)
// Warn level: Non-critical issues like transient poll failures
// Error level: Critical failures that cause operation failures.
func WithLogger(logger querystream.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the Engine.
// The metrics collector will receive performance and operational metrics including
// refresh durations, streamed row counts, detected changes, and database errors.
func WithMetrics(collector querystream.MetricsCollector) Option {
	return func(e *Engine) error {
		e.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the Engine.
// The tracing collector will receive distributed tracing information including
// span creation for execute/refresh operations, context propagation, and error tracking.
func WithTracing(collector querystream.TracingCollector) Option {
	return func(e *Engine) error {
		e.tracingCollector = collector
		return nil
	}
}

// WithContextualLogger sets the contextual logger for the Engine.
// The contextual logger will receive log messages with context information including
// automatic trace/span correlation when tracing is enabled, enabling unified observability.
func WithContextualLogger(logger querystream.ContextualLogger) Option {
	return func(e *Engine) error {
		e.contextualLogger = logger
		return nil
	}
}
