package sqliteengine_test

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/querystream/query-change-streams-go/querystream"
	"github.com/querystream/query-change-streams-go/querystream/sqliteengine"
	"github.com/querystream/query-change-streams-go/testutil/observability"
)

const waitTimeout = 5 * time.Second
const settleDelay = 300 * time.Millisecond
const testPollInterval = 20 * time.Millisecond

func Test_NewEngine_FailsForNilDB(t *testing.T) {
	// act
	engine, err := sqliteengine.NewEngine(nil)

	// assert
	require.ErrorIs(t, err, querystream.ErrNilDatabaseConnection)
	assert.Nil(t, engine)
}

func Test_NewEngine_RejectsNonPositivePollIntervals(t *testing.T) {
	// setup
	db := openTestDB(t)

	// act + assert
	_, zeroErr := sqliteengine.NewEngine(db, sqliteengine.WithPollInterval(0))
	require.ErrorIs(t, zeroErr, querystream.ErrInvalidPollInterval)

	_, negativeErr := sqliteengine.NewEngine(db, sqliteengine.WithPollInterval(-time.Second))
	require.ErrorIs(t, negativeErr, querystream.ErrInvalidPollInterval)
}

func Test_Engine_StartAndCloseLifecycle(t *testing.T) {
	// setup
	engine := newTestEngine(t, openTestDB(t))

	// act + assert
	require.NoError(t, engine.Start(context.Background()))
	require.ErrorIs(t, engine.Start(context.Background()), querystream.ErrEngineAlreadyStarted)

	require.NoError(t, engine.Close())
	require.NoError(t, engine.Close(), "close is idempotent")

	require.ErrorIs(t, engine.Start(context.Background()), querystream.ErrEngineClosed)
}

func Test_LiveQuery_Execute_RequiresStartedEngine(t *testing.T) {
	// setup
	engine := newTestEngine(t, openTestDB(t))
	liveQuery := engine.LiveQuery(watchSensorReadings())

	// act
	executeErr := liveQuery.Execute(context.Background())

	// assert
	require.ErrorIs(t, executeErr, querystream.ErrEngineNotStarted)
}

func Test_LiveQuery_Execute_DispatchesInitialResults(t *testing.T) {
	// setup
	db := openTestDB(t)
	insertReading(t, db, "s-1", 21.5)
	insertReading(t, db, "s-2", 22.5)

	engine := newStartedTestEngine(t, db)
	liveQuery := engine.LiveQuery(watchSensorReadings())

	deliver, changes := collectChanges(4)
	_, addErr := liveQuery.AddChangeListener(deliver)
	require.NoError(t, addErr)

	// act
	require.NoError(t, liveQuery.Execute(context.Background()))

	// assert
	change := receiveChange(t, changes)
	require.NoError(t, change.Err)

	rows, collectErr := querystream.CollectRows(change.Results)
	require.NoError(t, collectErr)
	assert.Equal(t, querystream.Rows{
		{"sensor_id": "s-1", "value": 21.5},
		{"sensor_id": "s-2", "value": 22.5},
	}, rows)
}

func Test_Engine_RefreshesAfterWriteFromAnotherConnection(t *testing.T) {
	// setup
	db := openTestDB(t)
	insertReading(t, db, "s-1", 21.5)

	engine := newStartedTestEngine(t, db)
	liveQuery := engine.LiveQuery(watchSensorReadings())

	deliver, changes := collectChanges(8)
	_, addErr := liveQuery.AddChangeListener(deliver)
	require.NoError(t, addErr)

	require.NoError(t, liveQuery.Execute(context.Background()))
	initialRows, initialErr := querystream.CollectRows(receiveChange(t, changes).Results)
	require.NoError(t, initialErr)
	require.Len(t, initialRows, 1)

	// act
	insertReading(t, db, "s-2", 22.5)

	// assert
	refreshed := receiveChange(t, changes)
	require.NoError(t, refreshed.Err)

	refreshedRows, refreshedErr := querystream.CollectRows(refreshed.Results)
	require.NoError(t, refreshedErr)
	assert.Equal(t, querystream.Rows{
		{"sensor_id": "s-1", "value": 21.5},
		{"sensor_id": "s-2", "value": 22.5},
	}, refreshedRows)
}

func Test_Engine_RefreshesAllLiveQueriesOnAnyChange(t *testing.T) {
	// setup: data_version carries no table information, every query refreshes
	db := openTestDB(t)
	_, execErr := db.Exec(`CREATE TABLE audit_log (entry TEXT NOT NULL)`)
	require.NoError(t, execErr)

	engine := newStartedTestEngine(t, db)

	readings := engine.LiveQuery(watchSensorReadings())
	auditEntries := engine.LiveQuery(
		querystream.BuildQueryDefinition().From("audit_log").SelectingAll().Finalize())

	deliverReadings, readingChanges := collectChanges(8)
	deliverAudit, auditChanges := collectChanges(8)

	_, readingsAddErr := readings.AddChangeListener(deliverReadings)
	require.NoError(t, readingsAddErr)
	_, auditAddErr := auditEntries.AddChangeListener(deliverAudit)
	require.NoError(t, auditAddErr)

	// act
	_, insertErr := db.Exec(`INSERT INTO audit_log (entry) VALUES ('reader registered')`)
	require.NoError(t, insertErr)

	// assert
	require.NoError(t, receiveChange(t, auditChanges).Err)
	require.NoError(t, receiveChange(t, readingChanges).Err)
}

func Test_LiveQuery_RemovedListenerReceivesNoFurtherChanges(t *testing.T) {
	// setup
	db := openTestDB(t)
	engine := newStartedTestEngine(t, db)
	liveQuery := engine.LiveQuery(watchSensorReadings())

	deliver, changes := collectChanges(8)
	token, addErr := liveQuery.AddChangeListener(deliver)
	require.NoError(t, addErr)

	require.NoError(t, liveQuery.RemoveChangeListener("unknown-token"), "removing an unknown token is a no-op")

	// act
	require.NoError(t, liveQuery.RemoveChangeListener(token))
	insertReading(t, db, "s-1", 21.5)

	// assert
	expectNoChange(t, changes)
}

func Test_Engine_Close_DispatchesTerminalErrorChange(t *testing.T) {
	// setup
	db := openTestDB(t)
	engine := newTestEngine(t, db)
	require.NoError(t, engine.Start(context.Background()))

	liveQuery := engine.LiveQuery(watchSensorReadings())
	deliver, changes := collectChanges(4)
	_, addErr := liveQuery.AddChangeListener(deliver)
	require.NoError(t, addErr)

	// act
	require.NoError(t, engine.Close())

	// assert
	change := receiveChange(t, changes)
	require.ErrorIs(t, change.Err, querystream.ErrEngineClosed)

	_, lateAddErr := liveQuery.AddChangeListener(deliver)
	require.ErrorIs(t, lateAddErr, querystream.ErrEngineClosed)
}

func Test_Observability_Execute_RecordsSuccessMetrics(t *testing.T) {
	// setup
	metricsSpy := observability.NewMetricsCollectorSpy(true)
	db := openTestDB(t)
	insertReading(t, db, "s-1", 21.5)

	engine, engineErr := sqliteengine.NewEngine(db,
		sqliteengine.WithPollInterval(testPollInterval),
		sqliteengine.WithMetrics(metricsSpy),
	)
	require.NoError(t, engineErr)
	require.NoError(t, engine.Start(context.Background()))
	t.Cleanup(func() { _ = engine.Close() })

	liveQuery := engine.LiveQuery(watchSensorReadings())
	deliver, changes := collectChanges(4)
	_, addErr := liveQuery.AddChangeListener(deliver)
	require.NoError(t, addErr)

	// act
	require.NoError(t, liveQuery.Execute(context.Background()))
	require.NoError(t, receiveChange(t, changes).Err)

	// assert
	assert.True(t, metricsSpy.HasDurationRecordForMetric("querystream_execute_duration_seconds").
		WithOperation("execute").
		WithStatus("success").
		Assert(), "expected a success duration record for the initial query")

	assert.True(t, metricsSpy.HasValueRecordForMetric("querystream_rows_streamed_total").
		WithOperation("execute").
		WithStatus("success").
		Assert(), "expected a streamed row count record for the initial query")
}

/***** test helpers *****/

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)",
		filepath.Join(t.TempDir(), "querystream.db"))

	db, openErr := sql.Open("sqlite", dsn)
	require.NoError(t, openErr)
	t.Cleanup(func() { _ = db.Close() })

	_, execErr := db.Exec(`CREATE TABLE sensor_readings (sensor_id TEXT NOT NULL, value REAL NOT NULL)`)
	require.NoError(t, execErr)

	return db
}

func insertReading(t *testing.T, db *sql.DB, sensorID string, value float64) {
	t.Helper()

	_, execErr := db.Exec(`INSERT INTO sensor_readings (sensor_id, value) VALUES (?, ?)`, sensorID, value)
	require.NoError(t, execErr)
}

func watchSensorReadings() querystream.Definition {
	return querystream.BuildQueryDefinition().
		From("sensor_readings").
		Selecting("sensor_id", "value").
		OrderedBy("sensor_id", querystream.Ascending).
		Finalize()
}

func newTestEngine(t *testing.T, db *sql.DB) *sqliteengine.Engine {
	t.Helper()

	engine, engineErr := sqliteengine.NewEngine(db, sqliteengine.WithPollInterval(testPollInterval))
	require.NoError(t, engineErr)

	return engine
}

func newStartedTestEngine(t *testing.T, db *sql.DB) *sqliteengine.Engine {
	t.Helper()

	engine := newTestEngine(t, db)

	require.NoError(t, engine.Start(context.Background()))
	t.Cleanup(func() { _ = engine.Close() })

	return engine
}

func collectChanges(capacity int) (querystream.ChangeListener, <-chan querystream.QueryChange) {
	changes := make(chan querystream.QueryChange, capacity)

	return func(change querystream.QueryChange) { changes <- change }, changes
}

func receiveChange(t *testing.T, changes <-chan querystream.QueryChange) querystream.QueryChange {
	t.Helper()

	select {
	case change := <-changes:
		return change
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a change")
		return querystream.QueryChange{}
	}
}

func expectNoChange(t *testing.T, changes <-chan querystream.QueryChange) {
	t.Helper()

	select {
	case change := <-changes:
		t.Fatalf("expected no change, but received one (err: %v)", change.Err)
	case <-time.After(settleDelay):
	}
}
