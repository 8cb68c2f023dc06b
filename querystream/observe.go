package querystream

import (
	"context"
	"errors"
)

var ErrNilQuery = errors.New("nil query supplied")
var ErrNilRowFactory = errors.New("nil row factory supplied")
var ErrMissingResults = errors.New("change notification carries neither results nor an error")

// RowFactory converts one row into a value of type T.
// Returning false excludes the row from the emitted batch.
type RowFactory[T any] func(row Row) (T, bool)

// ObserveChanges registers a listener on the given query, triggers its
// execution, and returns a stream of the raw change notifications.
//
// The listener is registered before the initial execution so no change can
// fall between the two. When the execution fails, the listener is removed
// again and the error is returned; no stream exists in that case.
//
// A change carrying an error terminates the stream with that error. All
// changes enqueued before it are delivered first, in notification order.
// Cancelling ctx or calling Stop ends the stream with a nil Err.
func ObserveChanges(ctx context.Context, query Query, options ...Option) (*ChangeStream[QueryChange], error) {
	cfg, cfgErr := newConfig(options...)
	if cfgErr != nil {
		return nil, cfgErr
	}

	return observe(ctx, query, cfg, changeProjector())
}

// ObserveResults behaves like ObserveChanges but emits each change's
// ResultSet instead of the raw notification.
//
// A change without results and without an error is skipped by default; with
// WithStrictResults it terminates the stream with ErrMissingResults.
func ObserveResults(ctx context.Context, query Query, options ...Option) (*ChangeStream[ResultSet], error) {
	cfg, cfgErr := newConfig(options...)
	if cfgErr != nil {
		return nil, cfgErr
	}

	return observe(ctx, query, cfg, resultSetProjector(cfg))
}

// ObserveObjects behaves like ObserveResults but drains each ResultSet and
// emits one slice of factory-built values per change. Rows the factory
// rejects are excluded; a change whose rows are all rejected still emits an
// empty batch. An iteration error while draining terminates the stream.
func ObserveObjects[T any](ctx context.Context, query Query, factory RowFactory[T], options ...Option) (*ChangeStream[[]T], error) {
	if factory == nil {
		return nil, ErrNilRowFactory
	}

	cfg, cfgErr := newConfig(options...)
	if cfgErr != nil {
		return nil, cfgErr
	}

	return observe(ctx, query, cfg, objectsProjector(cfg, factory))
}

// observe wires one subscription: listener first, initial execution second,
// pump goroutine last. Collaborator errors are returned as-is, this package
// neither wraps nor classifies them.
func observe[T any](ctx context.Context, query Query, cfg config, project projector[T]) (*ChangeStream[T], error) {
	if query == nil {
		return nil, ErrNilQuery
	}

	s := newChangeStream[T](query, cfg)

	spanCtx, span := cfg.startSubscribeSpan(ctx)

	token, addErr := query.AddChangeListener(func(change QueryChange) {
		s.enqueue(ctx, change)
	})
	if addErr != nil {
		cfg.logErrorContext(spanCtx, logMsgAddListenerFailed, addErr)
		cfg.recordSubscribeErrorMetrics(spanCtx, errorTypeAddListener)
		cfg.finishSubscribeSpanError(span, errorTypeAddListener)

		return nil, addErr
	}

	s.token = token

	if execErr := query.Execute(ctx); execErr != nil {
		if removeErr := query.RemoveChangeListener(token); removeErr != nil {
			cfg.logWarnContext(spanCtx, logMsgRemoveListenerFailed, removeErr, logAttrToken, token)
		}

		cfg.logErrorContext(spanCtx, logMsgExecuteFailed, execErr, logAttrToken, token)
		cfg.recordSubscribeErrorMetrics(spanCtx, errorTypeExecute)
		cfg.finishSubscribeSpanError(span, errorTypeExecute)

		return nil, execErr
	}

	cfg.logOperationContext(
		spanCtx,
		logMsgSubscribed,
		logAttrToken, token,
		logAttrBufferSize, cfg.bufferSize,
		logAttrDeliveryMode, cfg.deliveryMode.String())
	cfg.finishSubscribeSpanSuccess(span, token)

	go s.pump(ctx, project)

	return s, nil
}

// changeProjector passes every non-error change through untouched.
func changeProjector() projector[QueryChange] {
	return func(change QueryChange) (QueryChange, bool, error) {
		return change, true, nil
	}
}

// resultSetProjector extracts the ResultSet, applying the configured
// missing-results policy.
func resultSetProjector(cfg config) projector[ResultSet] {
	return func(change QueryChange) (ResultSet, bool, error) {
		if change.Results == nil {
			if cfg.strictResults {
				return nil, false, ErrMissingResults
			}

			return nil, false, nil
		}

		return change.Results, true, nil
	}
}

// objectsProjector drains the ResultSet and maps each row through the factory.
func objectsProjector[T any](cfg config, factory RowFactory[T]) projector[[]T] {
	return func(change QueryChange) ([]T, bool, error) {
		if change.Results == nil {
			if cfg.strictResults {
				return nil, false, ErrMissingResults
			}

			return nil, false, nil
		}

		rows, collectErr := CollectRows(change.Results)
		if collectErr != nil {
			return nil, false, collectErr
		}

		batch := make([]T, 0, len(rows))
		for _, row := range rows {
			if value, ok := factory(row); ok {
				batch = append(batch, value)
			}
		}

		return batch, true, nil
	}
}
