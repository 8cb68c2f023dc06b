// Package observability provides test doubles (spies) for the querystream
// observability interfaces.
//
// This package contains spy implementations for OpenTelemetry-compatible
// observability interfaces used by the change streams and engines:
//   - LogHandlerSpy: captures slog handler calls and attributes
//   - ContextualLoggerSpy: captures structured logging with context
//   - MetricsCollectorSpy: captures metrics recording calls for verification
//   - TracingCollectorSpy: captures distributed tracing spans and events
//
// These test doubles enable comprehensive testing of observability
// instrumentation without requiring actual telemetry backends.
package observability
