package querystream

import (
	"errors"
)

var ErrInvalidBufferSize = errors.New("buffer size must be at least 1")
var ErrInvalidDeliveryMode = errors.New("unknown delivery mode supplied")

const defaultBufferSize = 64

// DeliveryMode defines how a change stream behaves when its buffer is full.
type DeliveryMode int

const (
	// DeliverBlocking blocks the collaborator's callback until buffer space
	// is available or the stream terminates. This is the default, it
	// preserves every change at the cost of slowing the producer down.
	DeliverBlocking DeliveryMode = iota

	// DeliverDropNewest discards the incoming change when the buffer is
	// full. Changes carrying an error are never discarded.
	DeliverDropNewest
)

// String provides a string representation of DeliveryMode for logging and debugging.
func (m DeliveryMode) String() string {
	switch m {
	case DeliverBlocking:
		return "blocking"
	case DeliverDropNewest:
		return "drop_newest"
	default:
		return "unknown"
	}
}

// config collects the per-subscription settings applied by the Observe functions.
type config struct {
	bufferSize       int
	deliveryMode     DeliveryMode
	strictResults    bool
	logger           Logger
	contextualLogger ContextualLogger
	metricsCollector MetricsCollector
	tracingCollector TracingCollector
}

// Option defines a functional option for configuring one change stream subscription.
type Option func(*config) error

func defaultConfig() config {
	return config{
		bufferSize:   defaultBufferSize,
		deliveryMode: DeliverBlocking,
	}
}

func newConfig(options ...Option) (config, error) {
	cfg := defaultConfig()

	for _, option := range options {
		if err := option(&cfg); err != nil {
			return config{}, err
		}
	}

	return cfg, nil
}

// WithBufferSize sets the capacity of the change buffer between the
// collaborator's callback and the consumer channel.
func WithBufferSize(size int) Option {
	return func(c *config) error {
		if size < 1 {
			return ErrInvalidBufferSize
		}

		c.bufferSize = size

		return nil
	}
}

// WithDeliveryMode sets the full-buffer behavior for the subscription.
func WithDeliveryMode(mode DeliveryMode) Option {
	return func(c *config) error {
		if mode != DeliverBlocking && mode != DeliverDropNewest {
			return ErrInvalidDeliveryMode
		}

		c.deliveryMode = mode

		return nil
	}
}

// WithStrictResults makes a change without results and without an error
// terminate the stream with ErrMissingResults.
//
// By default such a change is skipped, since result presence after a
// non-error notification is not contractually guaranteed by every
// collaborator.
func WithStrictResults() Option {
	return func(c *config) error {
		c.strictResults = true
		return nil
	}
}

// WithLogger sets the logger for the subscription.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: per-change delivery and drop details (development use)
// Info level: subscription lifecycle, delivered counts, durations (production-safe)
// Warn level: non-critical issues like listener removal failures
// Error level: collaborator failures that terminate the stream.
func WithLogger(logger Logger) Option {
	return func(c *config) error {
		c.logger = logger
		return nil
	}
}

// WithContextualLogger sets the contextual logger for the subscription.
// The contextual logger will receive log messages with context information
// including automatic trace/span correlation when tracing is enabled,
// and takes precedence over a plain logger when both are configured.
func WithContextualLogger(logger ContextualLogger) Option {
	return func(c *config) error {
		c.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the subscription.
// The metrics collector will receive delivered/dropped change counts,
// subscription durations, and terminal error counts.
func WithMetrics(collector MetricsCollector) Option {
	return func(c *config) error {
		c.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the subscription.
// The tracing collector will receive one span per subscribe call covering
// listener registration and the initial query execution.
func WithTracing(collector TracingCollector) Option {
	return func(c *config) error {
		c.tracingCollector = collector
		return nil
	}
}
