package sqliteengine

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/querystream/query-change-streams-go/querystream"
)

// LiveQuery is one registered query definition on the Engine. It implements
// querystream.Query: Execute runs the compiled definition and dispatches the
// result to the registered listeners, and the engine's poller re-runs it
// whenever the database file changes.
//
// All dispatching for one LiveQuery is serialized, so the callbacks of a
// single registration are invoked sequentially, in detection order.
type LiveQuery struct {
	engine     *Engine
	definition querystream.Definition

	mu        sync.Mutex
	listeners map[querystream.ListenerToken]querystream.ChangeListener
	order     []querystream.ListenerToken
	sqlQuery  sqlQueryString
	sqlBuilt  bool

	// dispatchMu serializes query runs and their listener callbacks. It is
	// never held while mu is taken by listener registration, so listeners can
	// be added and removed while a dispatch is blocked on a slow consumer.
	dispatchMu sync.Mutex
}

// Definition returns the query definition this live query was created from.
func (lq *LiveQuery) Definition() querystream.Definition {
	return lq.definition
}

// Execute compiles and runs the query definition and dispatches the resulting
// change to the listeners registered at the time of the call.
func (lq *LiveQuery) Execute(ctx context.Context) error {
	if stateErr := lq.engine.requireStarted(); stateErr != nil {
		return stateErr
	}

	lq.dispatchMu.Lock()
	defer lq.dispatchMu.Unlock()

	tracing, runCtx := lq.engine.startExecuteTracing(ctx, lq.definition.Table())
	metrics := lq.engine.startExecuteMetrics(runCtx)

	return lq.runLocked(runCtx, operationExecute, logMsgInitialQueryCompleted, tracing, metrics, false)
}

// AddChangeListener registers a callback for change notifications and returns
// a token for later removal. The first listener registers the live query with
// the engine's poller.
func (lq *LiveQuery) AddChangeListener(listener querystream.ChangeListener) (querystream.ListenerToken, error) {
	if registerErr := lq.engine.registerLiveQuery(lq); registerErr != nil {
		return "", registerErr
	}

	lq.mu.Lock()
	defer lq.mu.Unlock()

	token := uuid.NewString()
	lq.listeners[token] = listener
	lq.order = append(lq.order, token)

	return token, nil
}

// RemoveChangeListener deregisters the listener identified by token. Removing
// an unknown token is a no-op. The last listener leaving deregisters the live
// query from the engine's poller.
func (lq *LiveQuery) RemoveChangeListener(token querystream.ListenerToken) error {
	lq.mu.Lock()

	if _, known := lq.listeners[token]; !known {
		lq.mu.Unlock()
		return nil
	}

	delete(lq.listeners, token)
	lq.order = slices.DeleteFunc(lq.order, func(t querystream.ListenerToken) bool { return t == token })
	remaining := len(lq.listeners)
	lq.mu.Unlock()

	if remaining == 0 {
		lq.engine.deregisterLiveQuery(lq)
	}

	return nil
}

// refresh re-runs the query for one detected change. A failed run is
// dispatched to the listeners as an error change, there is no caller to
// return it to.
func (lq *LiveQuery) refresh(ctx context.Context) {
	lq.dispatchMu.Lock()
	defer lq.dispatchMu.Unlock()

	tracing, runCtx := lq.engine.startRefreshTracing(ctx, lq.definition.Table())
	metrics := lq.engine.startRefreshMetrics(runCtx)

	_ = lq.runLocked(runCtx, operationRefresh, logMsgRefreshCompleted, tracing, metrics, true)
}

// runLocked runs the query and dispatches the result. Callers hold dispatchMu.
func (lq *LiveQuery) runLocked(
	ctx context.Context,
	action string,
	completionMsg string,
	tracing *runTracingObserver,
	metrics *runMetricsObserver,
	dispatchFailure bool,
) error {

	engine := lq.engine
	table := lq.definition.Table()

	sqlQuery, buildErr := lq.compiledSQL()
	if buildErr != nil {
		engine.logErrorContext(ctx, logMsgBuildSelectQueryFailed, buildErr, logAttrTable, table)
		metrics.recordError(errorTypeBuildQuery, 0)
		tracing.finishError(errorTypeBuildQuery, 0)

		if dispatchFailure {
			lq.dispatchError(buildErr)
		}

		return buildErr
	}

	rows, duration, queryErr := lq.queryRows(ctx, sqlQuery, action)
	if queryErr != nil {
		errorType := errorTypeDBQuery
		if errors.Is(queryErr, querystream.ErrScanningRowFailed) {
			errorType = errorTypeScanRow
		}

		metrics.recordError(errorType, duration)
		tracing.finishError(errorType, duration)

		if dispatchFailure {
			lq.dispatchError(queryErr)
		}

		return queryErr
	}

	listenerCount := lq.dispatchRows(rows)

	engine.logOperationContext(
		ctx,
		completionMsg,
		logAttrTable, table,
		logAttrRowCount, len(rows),
		logAttrListenerCount, listenerCount,
		logAttrDurationMS, engine.toMilliseconds(duration))

	metrics.recordSuccess(len(rows), duration)
	tracing.finishSuccess(len(rows), duration)

	return nil
}

// queryRows executes the SQL query and materializes the rows.
func (lq *LiveQuery) queryRows(ctx context.Context, sqlQuery sqlQueryString, action string) (
	querystream.Rows,
	time.Duration,
	error,
) {

	engine := lq.engine

	rows, duration, queryErr := engine.executeQuery(ctx, sqlQuery, action)
	if queryErr != nil {
		return nil, duration, queryErr
	}
	defer engine.closeRows(ctx, rows)

	scanned, scanErr := engine.scanRows(ctx, rows)
	if scanErr != nil {
		return nil, duration, scanErr
	}

	return scanned, duration, nil
}

// compiledSQL returns the SQL for the definition, compiling it on first use.
func (lq *LiveQuery) compiledSQL() (sqlQueryString, error) {
	lq.mu.Lock()
	defer lq.mu.Unlock()

	if lq.sqlBuilt {
		return lq.sqlQuery, nil
	}

	sqlQuery, buildErr := lq.engine.buildSelectQuery(lq.definition)
	if buildErr != nil {
		return "", buildErr
	}

	lq.sqlQuery = sqlQuery
	lq.sqlBuilt = true

	return sqlQuery, nil
}

// dispatchRows hands every listener its own view over the materialized rows,
// so that one consumer draining its result cannot starve another. Callers
// hold dispatchMu.
func (lq *LiveQuery) dispatchRows(rows querystream.Rows) int {
	listeners := lq.listenerSnapshot()

	for _, listener := range listeners {
		listener(querystream.BuildQueryChange(querystream.ResultSetOf(rows...)))
	}

	return len(listeners)
}

// dispatchError delivers a failed run to every listener. Callers hold dispatchMu.
func (lq *LiveQuery) dispatchError(err error) int {
	listeners := lq.listenerSnapshot()

	for _, listener := range listeners {
		listener(querystream.BuildQueryChangeWithError(err))
	}

	return len(listeners)
}

// dispatchEngineClosed delivers a terminal error change on engine shutdown.
func (lq *LiveQuery) dispatchEngineClosed() {
	lq.dispatchMu.Lock()
	defer lq.dispatchMu.Unlock()

	lq.dispatchError(querystream.ErrEngineClosed)
}

// listenerSnapshot returns the current listeners in registration order.
func (lq *LiveQuery) listenerSnapshot() []querystream.ChangeListener {
	lq.mu.Lock()
	defer lq.mu.Unlock()

	listeners := make([]querystream.ChangeListener, 0, len(lq.order))
	for _, token := range lq.order {
		if listener, ok := lq.listeners[token]; ok {
			listeners = append(listeners, listener)
		}
	}

	return listeners
}
