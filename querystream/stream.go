package querystream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	logMsgSubscribed           = "change stream subscribed"
	logMsgStreamTerminated     = "change stream terminated"
	logMsgChangeDelivered      = "change delivered to consumer"
	logMsgChangeDropped        = "change dropped, buffer full"
	logMsgAddListenerFailed    = "failed to add change listener"
	logMsgExecuteFailed        = "initial query execution failed"
	logMsgRemoveListenerFailed = "failed to remove change listener"
	logAttrError               = "error"
	logAttrToken               = "listener_token"
	logAttrStatus              = "status"
	logAttrDurationMS          = "duration_ms"
	logAttrDelivered           = "delivered_changes"
	logAttrDropped             = "dropped_changes"
	logAttrBufferSize          = "buffer_size"
	logAttrDeliveryMode        = "delivery_mode"
	metricChangesDelivered     = "querystream_changes_delivered_total"
	metricChangesDropped       = "querystream_changes_dropped_total"
	metricSubscriptionDuration = "querystream_subscription_duration_seconds"
	metricSubscriptionErrors   = "querystream_subscription_errors_total"
	spanNameSubscribe          = "querystream.subscribe"
	spanAttrOperation          = "operation"
	spanAttrErrorType          = "error_type"
	spanAttrToken              = "listener_token"
	spanAttrBufferSize         = "buffer_size"
	spanAttrDeliveryMode       = "delivery_mode"
	operationSubscribe         = "subscribe"
	statusSuccess              = "success"
	statusError                = "error"
	statusCancelled            = "cancelled"
	statusDropped              = "dropped"
	errorTypeAddListener       = "add_listener_failed"
	errorTypeExecute           = "execute_failed"
	errorTypeChange            = "change_error"
)

// projector turns one QueryChange into the stream's element type.
// The boolean excludes the change from delivery, the error terminates the stream.
type projector[T any] func(change QueryChange) (T, bool, error)

// ChangeStream is the consumer-side handle of one live query subscription.
//
// Events delivers the projected changes in notification order until the
// stream terminates. The channel is closed on termination, after the
// listener has been removed from the collaborator and after Err has been
// set, so this is race-free:
//
//	for event := range stream.Events() {
//		// consume
//	}
//	if err := stream.Err(); err != nil {
//		// abnormal termination
//	}
type ChangeStream[T any] struct {
	events chan T
	in     chan QueryChange
	done   chan struct{}

	query   Query
	token   ListenerToken
	cfg     config
	started time.Time

	stopOnce  sync.Once
	mu        sync.Mutex
	err       error
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func newChangeStream[T any](query Query, cfg config) *ChangeStream[T] {
	return &ChangeStream[T]{
		events:  make(chan T),
		in:      make(chan QueryChange, cfg.bufferSize),
		done:    make(chan struct{}),
		query:   query,
		cfg:     cfg,
		started: time.Now(),
	}
}

// Events returns the channel the projected changes are delivered on.
// It is closed when the stream terminates.
func (s *ChangeStream[T]) Events() <-chan T {
	return s.events
}

// Err reports why the stream terminated: the collaborator's error value,
// passed through unwrapped, or nil after cancellation.
// It is guaranteed to be set before Events is closed.
func (s *ChangeStream[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

// Stop cancels the subscription. It is idempotent and safe to call from any
// goroutine; the listener removal happens exactly once regardless of how the
// stream terminates.
func (s *ChangeStream[T]) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

func (s *ChangeStream[T]) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.err = err
}

// enqueue is the producer side, invoked from the collaborator's callback
// goroutine. In blocking mode it waits for buffer space, in drop-newest mode
// it discards the change when the buffer is full. Changes carrying an error
// are always enqueued blocking so a terminal failure cannot be lost.
func (s *ChangeStream[T]) enqueue(ctx context.Context, change QueryChange) {
	if s.cfg.deliveryMode == DeliverDropNewest && change.Err == nil {
		select {
		case s.in <- change:
		case <-s.done:
		case <-ctx.Done():
		default:
			// The callback may fire before the subscribe call has stored the
			// token, so this log deliberately omits it.
			s.dropped.Add(1)
			s.cfg.recordDroppedMetrics(ctx)
			s.cfg.logDebugContext(ctx, logMsgChangeDropped, logAttrDropped, s.dropped.Load())
		}

		return
	}

	select {
	case s.in <- change:
	case <-s.done:
	case <-ctx.Done():
	}
}

// pump moves changes from the buffer to the consumer channel, one goroutine
// per stream. It is the only writer of err and the only closer of events;
// the deferred teardown runs before the events channel closes.
func (s *ChangeStream[T]) pump(ctx context.Context, project projector[T]) {
	defer close(s.events)
	defer s.teardown(ctx)

	for {
		select {
		case <-ctx.Done():
			return

		case <-s.done:
			return

		case change := <-s.in:
			if change.Err != nil {
				s.setErr(change.Err)
				return
			}

			value, deliver, projectErr := project(change)
			if projectErr != nil {
				s.setErr(projectErr)
				return
			}

			if !deliver {
				continue
			}

			select {
			case s.events <- value:
				s.delivered.Add(1)
				s.cfg.recordDeliveredMetrics(ctx)
				s.cfg.logDebugContext(ctx, logMsgChangeDelivered, logAttrToken, s.token, logAttrDelivered, s.delivered.Load())

			case <-ctx.Done():
				return

			case <-s.done:
				return
			}
		}
	}
}

// teardown removes the listener from the collaborator and records the
// subscription outcome. It runs exactly once, from the pump goroutine.
func (s *ChangeStream[T]) teardown(ctx context.Context) {
	s.Stop() // releases producers blocked on a full buffer

	if removeErr := s.query.RemoveChangeListener(s.token); removeErr != nil {
		s.cfg.logWarnContext(ctx, logMsgRemoveListenerFailed, removeErr, logAttrToken, s.token)
	}

	duration := time.Since(s.started)

	status := statusCancelled
	if s.Err() != nil {
		status = statusError
	}

	s.cfg.recordTerminationMetrics(ctx, duration, status)
	s.cfg.logOperationContext(
		ctx,
		logMsgStreamTerminated,
		logAttrToken, s.token,
		logAttrStatus, status,
		logAttrDelivered, s.delivered.Load(),
		logAttrDropped, s.dropped.Load(),
		logAttrDurationMS, s.cfg.toMilliseconds(duration))
}
