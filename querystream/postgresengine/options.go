package postgresengine

import (
	"github.com/querystream/query-change-streams-go/querystream"
)

// Option defines a functional option for configuring the Engine.
type Option func(*Engine) error

// WithNotifyChannel sets the LISTEN/NOTIFY channel name for the Engine.
// The same channel name must be used when installing the notify trigger.
func WithNotifyChannel(channel string) Option {
	return func(e *Engine) error {
		if channel == "" {
			return querystream.ErrEmptyNotifyChannel
		}

		e.notifyChannel = channel

		return nil
	}
}

// WithListenerDSN sets the connection string used to open the dedicated
// notification listener connection. It is required for engines built on
// sql.DB or sqlx.DB, which cannot surface notifications through their pool.
// Engines built on a pgx pool listen through the pool and ignore this option.
func WithListenerDSN(dsn string) Option {
	return func(e *Engine) error {
		if dsn == "" {
			return querystream.ErrEmptyListenerDSN
		}

		e.listenerDSN = dsn

		return nil
	}
}

// WithLogger sets the logger for the Engine.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: SQL queries with execution timing (development use)
// Info level: Engine lifecycle, trigger installation, refresh summaries (production-safe)
// Warn level: Non-critical issues like undecodable notification payloads
// Error level: Critical failures that cause operation failures.
func WithLogger(logger querystream.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the Engine.
// The metrics collector will receive performance and operational metrics including
// refresh durations, streamed row counts, received notifications, and database errors.
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
