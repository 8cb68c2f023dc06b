package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // driver import
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"

	"github.com/querystream/query-change-streams-go/querystream"
	"github.com/querystream/query-change-streams-go/querystream/postgresengine/internal/adapters"
)

const (
	defaultNotifyChannel         = "querystream_changes"
	notifyFunctionName           = "querystream_notify"
	notifyTriggerPrefix          = "querystream_notify_"
	logMsgBuildSelectQueryFailed = "failed to build select query"
	logMsgDBQueryFailed          = "database query execution failed"
	logMsgCloseRowsFailed        = "failed to close database rows"
	logMsgReadColumnsFailed      = "failed to read result columns"
	logMsgScanRowFailed          = "failed to scan database row"
	logMsgDecodePayloadFailed    = "failed to decode notification payload"
	logMsgListenFailed           = "failed to listen for change notifications"
	logMsgInstallTriggerFailed   = "failed to install notify trigger"
	logMsgEngineStarted          = "engine started"
	logMsgEngineStopped          = "engine stopped"
	logMsgTriggerInstalled       = "notify trigger installed"
	logMsgInitialQueryCompleted  = "initial query completed"
	logMsgRefreshCompleted       = "refresh completed"
	logMsgNotifyStreamEnded      = "notification stream ended"
	logMsgSQLExecuted            = "executed sql for: "
	logMsgOperation              = "querystream operation: "
	logAttrError                 = "error"
	logAttrQuery                 = "query"
	logAttrTable                 = "table"
	logAttrChannel               = "channel"
	logAttrPayload               = "payload"
	logAttrRowCount              = "row_count"
	logAttrListenerCount         = "listener_count"
	logAttrDurationMS            = "duration_ms"
	dialectPostgres              = "postgres"
)

type sqlQueryString = string

var errPayloadWithoutTable = errors.New("notification payload has no table")

const sqlCreateNotifyFunction = `CREATE OR REPLACE FUNCTION %s() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('%s', json_build_object('table', TG_TABLE_NAME, 'op', TG_OP)::text);
	RETURN NULL;
END;
$$ LANGUAGE plpgsql`

const sqlDropNotifyTrigger = `DROP TRIGGER IF EXISTS %s ON %s`

const sqlCreateNotifyTrigger = `CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s FOR EACH STATEMENT EXECUTE FUNCTION %s()`

// notifyPayload is the JSON document sent by the installed notify trigger.
type notifyPayload struct {
	Table string `json:"table"`
	Op    string `json:"op"`
}

// Engine runs live queries against PostgreSQL. It listens for change
// notifications on one channel, re-executes the registered query definitions
// whenever one of their tables changes, and pushes fresh results to their
// change listeners. It leverages a database adapter and supports customizable
// logging and notify channel configuration.
type Engine struct {
	db               adapters.DBAdapter
	listenerFactory  func() adapters.NotificationListener
	listenerDSN      string
	needsListenerDSN bool
	notifyChannel    string
	logger           querystream.Logger
	contextualLogger querystream.ContextualLogger
	metricsCollector querystream.MetricsCollector
	tracingCollector querystream.TracingCollector

	mu       sync.Mutex
	started  bool
	closed   bool
	queries  map[querystream.DefinitionTableString]map[*LiveQuery]struct{}
	listener adapters.NotificationListener
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewEngineFromPGXPool creates a new Engine using a pgxpool.Pool with optional configuration.
// Change notifications are received on a dedicated connection acquired from the same pool.
func NewEngineFromPGXPool(pool *pgxpool.Pool, options ...Option) (*Engine, error) {
	if pool == nil {
		return nil, querystream.ErrNilDatabaseConnection
	}

	engine := newEngine(adapters.NewPGXAdapter(pool))
	engine.listenerFactory = func() adapters.NotificationListener {
		return adapters.NewPGXNotificationListener(pool)
	}

	for _, option := range options {
		if err := option(engine); err != nil {
			return nil, err
		}
	}

	return engine, nil
}

// NewEngineFromPGXPoolWithReplica creates a new Engine using a primary pool and a
// replica pool. Queries run on the replica when the consumer asked for eventual
// consistency, see querystream.WithEventualConsistency. Change notifications are
// always received from the primary.
func NewEngineFromPGXPoolWithReplica(pool *pgxpool.Pool, replica *pgxpool.Pool, options ...Option) (*Engine, error) {
	if pool == nil || replica == nil {
		return nil, querystream.ErrNilDatabaseConnection
	}

	engine := newEngine(adapters.NewPGXAdapterWithReplica(pool, replica))
	engine.listenerFactory = func() adapters.NotificationListener {
		return adapters.NewPGXNotificationListener(pool)
	}

	for _, option := range options {
		if err := option(engine); err != nil {
			return nil, err
		}
	}

	return engine, nil
}

// NewEngineFromSQLDB creates a new Engine using a sql.DB with optional configuration.
// The WithListenerDSN option is required, sql.DB cannot surface notifications and a
// dedicated lib/pq listener connection is opened instead.
func NewEngineFromSQLDB(db *sql.DB, options ...Option) (*Engine, error) {
	if db == nil {
		return nil, querystream.ErrNilDatabaseConnection
	}

	engine := newEngine(adapters.NewSQLAdapter(db))
	engine.needsListenerDSN = true
	engine.listenerFactory = func() adapters.NotificationListener {
		return adapters.NewPQNotificationListener(engine.listenerDSN)
	}

	for _, option := range options {
		if err := option(engine); err != nil {
			return nil, err
		}
	}

	return engine, nil
}

// NewEngineFromSQLX creates a new Engine using a sqlx.DB with optional configuration.
// The WithListenerDSN option is required, sqlx.DB cannot surface notifications and a
// dedicated lib/pq listener connection is opened instead.
func NewEngineFromSQLX(db *sqlx.DB, options ...Option) (*Engine, error) {
	if db == nil {
		return nil, querystream.ErrNilDatabaseConnection
	}

	engine := newEngine(adapters.NewSQLXAdapter(db))
	engine.needsListenerDSN = true
	engine.listenerFactory = func() adapters.NotificationListener {
		return adapters.NewPQNotificationListener(engine.listenerDSN)
	}

	for _, option := range options {
		if err := option(engine); err != nil {
			return nil, err
		}
	}

	return engine, nil
}

func newEngine(db adapters.DBAdapter) *Engine {
	return &Engine{
		db:            db,
		notifyChannel: defaultNotifyChannel,
		queries:       make(map[querystream.DefinitionTableString]map[*LiveQuery]struct{}),
	}
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

// Start opens the notification listener and runs the dispatcher until Close is
// called. The dispatcher outlives the given context, which only scopes the
// startup work, so that a request-scoped context can be used to start the engine.
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

	if e.listener == nil {
		if e.needsListenerDSN && e.listenerDSN == "" {
			e.mu.Unlock()
			return querystream.ErrEmptyListenerDSN
		}

		e.listener = e.listenerFactory()
	}

	runCtx, cancel := context.WithCancel(context.Background())

	notifications, listenErr := e.listener.Listen(runCtx, e.notifyChannel)
	if listenErr != nil {
		cancel()
		e.mu.Unlock()

		e.logErrorContext(ctx, logMsgListenFailed, listenErr, logAttrChannel, e.notifyChannel)

		return errors.Join(querystream.ErrListenFailed, listenErr)
	}

	e.cancel = cancel
	e.done = make(chan struct{})
	e.started = true
	e.mu.Unlock()

	go e.dispatchLoop(runCtx, notifications)

	e.logOperationContext(ctx, logMsgEngineStarted, logAttrChannel, e.notifyChannel)

	return nil
}

// Close stops the dispatcher and the notification listener. Registered change
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
	listener := e.listener
	e.mu.Unlock()

	if wasStarted {
		cancel()
		_ = listener.Close()
		<-done
	}

	for _, liveQuery := range e.liveQuerySnapshot() {
		liveQuery.dispatchEngineClosed()
	}

	e.logOperationContext(context.Background(), logMsgEngineStopped, logAttrChannel, e.notifyChannel)

	return nil
}

// InstallNotifyTrigger installs the notify function and a statement-level
// trigger on the given table, so that every INSERT, UPDATE or DELETE sends one
// notification on the engine's channel. Installing is idempotent and can run
// before or after Start.
func (e *Engine) InstallNotifyTrigger(ctx context.Context, table querystream.DefinitionTableString) error {
	if table == "" {
		return querystream.ErrEmptyTableName
	}

	tableIdentifier := quoteQualifiedTable(table)
	triggerIdentifier := pgx.Identifier{notifyTriggerPrefix + strings.ReplaceAll(table, ".", "_")}.Sanitize()
	channelLiteral := strings.ReplaceAll(e.notifyChannel, "'", "''")

	// pgx uses the extended protocol which does not allow multiple statements
	// in one Exec, so the installation runs as three sequential statements.
	statements := []sqlQueryString{
		fmt.Sprintf(sqlCreateNotifyFunction, notifyFunctionName, channelLiteral),
		fmt.Sprintf(sqlDropNotifyTrigger, triggerIdentifier, tableIdentifier),
		fmt.Sprintf(sqlCreateNotifyTrigger, triggerIdentifier, tableIdentifier, notifyFunctionName),
	}

	for _, statement := range statements {
		if _, execErr := e.db.Exec(ctx, statement); execErr != nil {
			e.logErrorContext(ctx, logMsgInstallTriggerFailed, execErr, logAttrTable, table)
			return errors.Join(querystream.ErrExecutingQueryFailed, execErr)
		}
	}

	e.logOperationContext(ctx, logMsgTriggerInstalled, logAttrTable, table, logAttrChannel, e.notifyChannel)

	return nil
}

// dispatchLoop receives change notifications and refreshes the affected live
// queries, one burst at a time. It is the only goroutine invoking refreshes,
// which keeps the callbacks of each registration sequential.
func (e *Engine) dispatchLoop(ctx context.Context, notifications <-chan adapters.Notification) {
	defer close(e.done)

	for {
		select {
		case <-ctx.Done():
			return
		case notification, open := <-notifications:
			if !open {
				e.logOperationContext(ctx, logMsgNotifyStreamEnded, logAttrChannel, e.notifyChannel)
				return
			}

			tables, refreshAll := e.collectDirtyTables(ctx, notification, notifications)
			e.refreshLiveQueries(ctx, tables, refreshAll)
		}
	}
}

// collectDirtyTables decodes the first notification and drains any burst that
// queued up behind it, coalescing the batch into one set of dirty tables.
// An empty payload marks a listener reconnect and dirties every table.
func (e *Engine) collectDirtyTables(
	ctx context.Context,
	first adapters.Notification,
	notifications <-chan adapters.Notification,
) (map[querystream.DefinitionTableString]struct{}, bool) {

	tables := make(map[querystream.DefinitionTableString]struct{})
	refreshAll := false
	notification := first

	for {
		e.recordNotificationMetricsContext(ctx)

		if notification.Payload == "" {
			refreshAll = true
		} else if payload, ok := e.decodeNotifyPayload(ctx, notification.Payload); ok {
			tables[bareTableName(payload.Table)] = struct{}{}
		}

		select {
		case next, open := <-notifications:
			if !open {
				return tables, refreshAll
			}

			notification = next
		default:
			return tables, refreshAll
		}
	}
}

func (e *Engine) decodeNotifyPayload(ctx context.Context, payload string) (notifyPayload, bool) {
	decoded := notifyPayload{}

	if unmarshalErr := jsoniter.ConfigFastest.Unmarshal([]byte(payload), &decoded); unmarshalErr != nil {
		e.logWarnContext(ctx, logMsgDecodePayloadFailed, unmarshalErr, logAttrPayload, payload)
		return notifyPayload{}, false
	}

	if decoded.Table == "" {
		e.logWarnContext(ctx, logMsgDecodePayloadFailed, errPayloadWithoutTable, logAttrPayload, payload)
		return notifyPayload{}, false
	}

	return decoded, true
}

func (e *Engine) refreshLiveQueries(
	ctx context.Context,
	tables map[querystream.DefinitionTableString]struct{},
	refreshAll bool,
) {
	for _, liveQuery := range e.affectedLiveQueries(tables, refreshAll) {
		liveQuery.refresh(ctx)
	}
}

func (e *Engine) affectedLiveQueries(
	tables map[querystream.DefinitionTableString]struct{},
	refreshAll bool,
) []*LiveQuery {

	e.mu.Lock()
	defer e.mu.Unlock()

	affected := make([]*LiveQuery, 0)

	if refreshAll {
		for _, registered := range e.queries {
			for liveQuery := range registered {
				affected = append(affected, liveQuery)
			}
		}

		return affected
	}

	for table := range tables {
		for liveQuery := range e.queries[table] {
			affected = append(affected, liveQuery)
		}
	}

	return affected
}

func (e *Engine) liveQuerySnapshot() []*LiveQuery {
	e.mu.Lock()
	defer e.mu.Unlock()

	snapshot := make([]*LiveQuery, 0)
	for _, registered := range e.queries {
		for liveQuery := range registered {
			snapshot = append(snapshot, liveQuery)
		}
	}

	return snapshot
}

func (e *Engine) registerLiveQuery(liveQuery *LiveQuery) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return querystream.ErrEngineClosed
	}

	table := bareTableName(liveQuery.definition.Table())
	if e.queries[table] == nil {
		e.queries[table] = make(map[*LiveQuery]struct{})
	}
	e.queries[table][liveQuery] = struct{}{}

	return nil
}

func (e *Engine) deregisterLiveQuery(liveQuery *LiveQuery) {
	e.mu.Lock()
	defer e.mu.Unlock()

	table := bareTableName(liveQuery.definition.Table())

	if registered, ok := e.queries[table]; ok {
		delete(registered, liveQuery)

		if len(registered) == 0 {
			delete(e.queries, table)
		}
	}
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
	adapters.DBRows,
	time.Duration,
	error,
) {

	start := time.Now()
	rows, queryErr := e.db.Query(ctx, sqlQuery)
	duration := time.Since(start)
	e.logQueryWithDurationContext(ctx, sqlQuery, action, duration)

	if queryErr != nil {
		e.logErrorContext(ctx, logMsgDBQueryFailed, queryErr, logAttrQuery, sqlQuery)

		return nil, duration, errors.Join(querystream.ErrExecutingQueryFailed, queryErr)
	}

	return rows, duration, nil
}

// closeRows safely closes database rows and logs any errors.
func (e *Engine) closeRows(ctx context.Context, rows adapters.DBRows) {
	if closeErr := rows.Close(); closeErr != nil {
		e.logWarnContext(ctx, logMsgCloseRowsFailed, closeErr)
	}
}

// scanRows materializes database rows into column-keyed result rows.
func (e *Engine) scanRows(ctx context.Context, rows adapters.DBRows) (querystream.Rows, error) {
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

// normalizeValue converts driver byte slices to strings, so that rows look the
// same regardless of the database adapter in use.
func normalizeValue(value any) any {
	if bytes, ok := value.([]byte); ok {
		return string(bytes)
	}

	return value
}

func (e *Engine) buildSelectQuery(definition querystream.Definition) (sqlQueryString, error) {
	selectStmt := goqu.Dialect(dialectPostgres).From(definition.Table())

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

func quoteQualifiedTable(table querystream.DefinitionTableString) string {
	return pgx.Identifier(strings.Split(table, ".")).Sanitize()
}

// bareTableName strips a schema qualifier, so that registrations match the
// TG_TABLE_NAME the notify trigger puts into its payload.
func bareTableName(table querystream.DefinitionTableString) querystream.DefinitionTableString {
	if idx := strings.LastIndex(table, "."); idx >= 0 {
		return table[idx+1:]
	}

	return table
}
