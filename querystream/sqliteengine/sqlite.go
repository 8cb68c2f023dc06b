package sqliteengine

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3" // driver import
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/querystream/query-change-streams-go/querystream"
)

const (
	defaultPollInterval = 250 * time.Millisecond

	logMsgBuildSelectQueryFailed = "failed to build select query"
	logMsgDBQueryFailed          = "database query execution failed"
	logMsgCloseRowsFailed        = "failed to close database rows"
	logMsgReadColumnsFailed      = "failed to read result columns"
	logMsgScanRowFailed          = "failed to scan database row"
	logMsgPollFailed             = "failed to poll data version"
	logMsgWatchSetupFailed       = "failed to set up change polling"
	logMsgEngineStarted          = "engine started"
	logMsgEngineStopped          = "engine stopped"
	logMsgInitialQueryCompleted  = "initial query completed"
	logMsgRefreshCompleted       = "refresh completed"
	logMsgSQLExecuted            = "executed sql for: "
	logMsgOperation              = "querystream operation: "
	logAttrError                 = "error"
	logAttrQuery                 = "query"
	logAttrTable                 = "table"
	logAttrPollInterval          = "poll_interval"
	logAttrRowCount              = "row_count"
	logAttrListenerCount         = "listener_count"
	logAttrDurationMS            = "duration_ms"
	dialectSQLite                = "sqlite3"
)

type sqlQueryString = string

const sqlReadDataVersion = `PRAGMA data_version`

// Engine runs live queries against SQLite. SQLite has no notification channel,
// so the engine polls PRAGMA data_version on a dedicated connection. The value
// changes whenever another connection modifies the database file, which makes
// it a cheap change signal without touching any user table. The pragma carries
// no table information, so every registered live query refreshes on a change.
type Engine struct {
	db               *sql.DB
	pollInterval     time.Duration
	logger           querystream.Logger
	contextualLogger querystream.ContextualLogger
	metricsCollector querystream.MetricsCollector
	tracingCollector querystream.TracingCollector

	mu      sync.Mutex
	started bool
	closed  bool
	queries map[*LiveQuery]struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewEngine creates a new Engine using a sql.DB with optional configuration.
// The database should be backed by a file, an in-memory database is only
// visible to a single connection and the poller would never see changes.
func NewEngine(db *sql.DB, options ...Option) (*Engine, error) {
	if db == nil {
		return nil, querystream.ErrNilDatabaseConnection
	}

	engine := &Engine{
		db:           db,
		pollInterval: defaultPollInterval,
		queries:      make(map[*LiveQuery]struct{}),
	}

	for _, option := range options {
		if err := option(engine); err != nil {
			return nil, err
		}
	}

	return engine, nil
}

// LiveQuery creates a live query for the given definition. The returned query
// implements querystream.Query and can be observed with querystream.ObserveChanges,
// ObserveResults or ObserveObjects. It registers with the engine when its first
// listener is added and deregisters when the last one is removed.
func (e *Engine) LiveQuery(definition querystream.Definition) *LiveQuery {
	return &LiveQuery{
		engine:     e,
		definition: definition,
		listeners:  make(map[querystream.ListenerToken]querystream.ChangeListener),
	}
}

// Start pins a polling connection and runs the poller until Close is called.
// The poller outlives the given context, which only scopes the startup work.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()
		return querystream.ErrEngineClosed
	}

	if e.started {
		e.mu.Unlock()
		return querystream.ErrEngineAlreadyStarted
	}

	conn, connErr := e.db.Conn(ctx)
	if connErr != nil {
		e.mu.Unlock()

		e.logErrorContext(ctx, logMsgWatchSetupFailed, connErr)

		return errors.Join(querystream.ErrListenFailed, connErr)
	}

	version, versionErr := readDataVersion(ctx, conn)
	if versionErr != nil {
		_ = conn.Close()
		e.mu.Unlock()

		e.logErrorContext(ctx, logMsgWatchSetupFailed, versionErr)

		return errors.Join(querystream.ErrListenFailed, versionErr)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	e.started = true
	e.mu.Unlock()

	go e.pollLoop(runCtx, conn, version)

	e.logOperationContext(ctx, logMsgEngineStarted, logAttrPollInterval, e.pollInterval.String())

	return nil
}

// Close stops the poller and releases its connection. Registered change
// listeners receive a terminal error change so that their streams end instead
// of waiting for refreshes that will never come. Close is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()
		return nil
	}

	e.closed = true
	wasStarted := e.started
	e.started = false
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	if wasStarted {
		cancel()
		<-done
	}

	for _, liveQuery := range e.liveQuerySnapshot() {
		liveQuery.dispatchEngineClosed()
	}

	e.logOperationContext(context.Background(), logMsgEngineStopped)

	return nil
}

// pollLoop polls the data version and refreshes all live queries when it
// changes. It is the only goroutine invoking refreshes, which keeps the
// callbacks of each registration sequential.
func (e *Engine) pollLoop(ctx context.Context, conn *sql.Conn, lastVersion int64) {
	defer close(e.done)
	defer func() { _ = conn.Close() }()

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			version, readErr := readDataVersion(ctx, conn)
			if readErr != nil {
				if ctx.Err() != nil {
					return
				}

				e.logWarnContext(ctx, logMsgPollFailed, readErr)

				continue
			}

			if version != lastVersion {
				lastVersion = version
				e.recordChangeDetectedMetricsContext(ctx)
				e.refreshAllLiveQueries(ctx)
			}
		}
	}
}

// readDataVersion reads PRAGMA data_version on the pinned connection. The
// value only moves when a different connection writes, so the poller must
// never share its connection with writers.
func readDataVersion(ctx context.Context, conn *sql.Conn) (int64, error) {
	var version int64
	if scanErr := conn.QueryRowContext(ctx, sqlReadDataVersion).Scan(&version); scanErr != nil {
		return 0, scanErr
	}

	return version, nil
}

func (e *Engine) refreshAllLiveQueries(ctx context.Context) {
	for _, liveQuery := range e.liveQuerySnapshot() {
		liveQuery.refresh(ctx)
	}
}

func (e *Engine) liveQuerySnapshot() []*LiveQuery {
	e.mu.Lock()
	defer e.mu.Unlock()

	snapshot := make([]*LiveQuery, 0, len(e.queries))
	for liveQuery := range e.queries {
		snapshot = append(snapshot, liveQuery)
	}

	return snapshot
}

func (e *Engine) registerLiveQuery(liveQuery *LiveQuery) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return querystream.ErrEngineClosed
	}

	e.queries[liveQuery] = struct{}{}

	return nil
}

func (e *Engine) deregisterLiveQuery(liveQuery *LiveQuery) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.queries, liveQuery)
}

func (e *Engine) requireStarted() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return querystream.ErrEngineClosed
	}

	if !e.started {
		return querystream.ErrEngineNotStarted
	}

	return nil
}

// executeQuery executes the SQL query and returns rows with timing information.
func (e *Engine) executeQuery(ctx context.Context, sqlQuery sqlQueryString, action string) (
	*sql.Rows,
	time.Duration,
	error,
) {

	start := time.Now()
	rows, queryErr := e.db.QueryContext(ctx, sqlQuery)
	duration := time.Since(start)

	e.logQueryWithDurationContext(ctx, sqlQuery, action, duration)

	if queryErr != nil {
		e.logErrorContext(ctx, logMsgDBQueryFailed, queryErr, logAttrQuery, sqlQuery)
		return nil, duration, errors.Join(querystream.ErrExecutingQueryFailed, queryErr)
	}

	return rows, duration, nil
}

func (e *Engine) closeRows(ctx context.Context, rows *sql.Rows) {
	if closeErr := rows.Close(); closeErr != nil {
		e.logWarnContext(ctx, logMsgCloseRowsFailed, closeErr)
	}
}

func (e *Engine) scanRows(ctx context.Context, rows *sql.Rows) (querystream.Rows, error) {
	columns, columnsErr := rows.Columns()
	if columnsErr != nil {
		e.logErrorContext(ctx, logMsgReadColumnsFailed, columnsErr)
		return nil, errors.Join(querystream.ErrScanningRowFailed, columnsErr)
	}

	result := make(querystream.Rows, 0)

	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}

		if scanErr := rows.Scan(pointers...); scanErr != nil {
			e.logErrorContext(ctx, logMsgScanRowFailed, scanErr)
			return nil, errors.Join(querystream.ErrScanningRowFailed, scanErr)
		}

		row := make(querystream.Row, len(columns))
		for i, column := range columns {
			row[column] = normalizeValue(values[i])
		}

		result = append(result, row)
	}

	if iterErr := rows.Err(); iterErr != nil {
		e.logErrorContext(ctx, logMsgScanRowFailed, iterErr)
		return nil, errors.Join(querystream.ErrScanningRowFailed, iterErr)
	}

	return result, nil
}

// normalizeValue converts driver byte slices to strings, so that rows can be
// compared and serialized without caring about the column's storage class.
func normalizeValue(value any) any {
	if bytes, ok := value.([]byte); ok {
		return string(bytes)
	}

	return value
}

func (e *Engine) buildSelectQuery(definition querystream.Definition) (sqlQueryString, error) {
	selectStmt := goqu.Dialect(dialectSQLite).From(definition.Table())

	if columns := definition.Columns(); len(columns) > 0 {
		selectColumns := make([]any, len(columns))
		for i, column := range columns {
			selectColumns[i] = column
		}

		selectStmt = selectStmt.Select(selectColumns...)
	}

	selectStmt = e.addWhereClause(definition, selectStmt)

	if orderings := definition.Orderings(); len(orderings) > 0 {
		orderedExpressions := make([]exp.OrderedExpression, len(orderings))
		for i, ordering := range orderings {
			if ordering.Direction() == querystream.Descending {
				orderedExpressions[i] = goqu.I(ordering.Column()).Desc()
			} else {
				orderedExpressions[i] = goqu.I(ordering.Column()).Asc()
			}
		}

		selectStmt = selectStmt.Order(orderedExpressions...)
	}

	if limit := definition.Limit(); limit > 0 {
		selectStmt = selectStmt.Limit(limit)
	}

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return "", errors.Join(querystream.ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}

func (e *Engine) addWhereClause(definition querystream.Definition, selectStmt *goqu.SelectDataset) *goqu.SelectDataset {
	predicates := definition.Predicates()
	if len(predicates) == 0 {
		return selectStmt
	}

	predicateExpressions := make([]goqu.Expression, 0)

	for _, predicate := range predicates {
		predicateExpressions = append(
			predicateExpressions,
			goqu.Ex{predicate.Column(): predicate.Val()},
		)
	}

	var predicatesExpressionList exp.ExpressionList

	if definition.AllPredicatesMustMatch() {
		predicatesExpressionList = goqu.And(predicateExpressions...)
	} else {
		predicatesExpressionList = goqu.Or(predicateExpressions...)
	}

	return selectStmt.Where(predicatesExpressionList)
}
