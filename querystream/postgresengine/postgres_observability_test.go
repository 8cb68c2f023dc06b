package postgresengine

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querystream/query-change-streams-go/querystream"
	"github.com/querystream/query-change-streams-go/testutil/observability"
)

func Test_Observability_Execute_RecordsSuccessMetrics(t *testing.T) {
	// setup
	metricsSpy := observability.NewMetricsCollectorSpy(true)
	db := newFakeDBAdapter([]string{"sensor_id"}, [][]any{{"s-1"}})
	engine := newTestEngine(db, newFakeNotificationListener())
	require.NoError(t, WithMetrics(metricsSpy)(engine))
	require.NoError(t, engine.Start(context.Background()))
	t.Cleanup(func() { _ = engine.Close() })

	liveQuery := engine.LiveQuery(watchAll("sensor_readings"))
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

	valueRecords := metricsSpy.GetValueRecords()
	require.Len(t, valueRecords, 1)
	assert.InDelta(t, 1.0, valueRecords[0].Value, 0)
}

func Test_Observability_Refresh_RecordsFailureMetrics(t *testing.T) {
	// setup
	metricsSpy := observability.NewMetricsCollectorSpy(true)
	db := newFakeDBAdapter([]string{"n"}, [][]any{{int64(1)}})
	listener := newFakeNotificationListener()
	engine := newTestEngine(db, listener)
	require.NoError(t, WithMetrics(metricsSpy)(engine))
	require.NoError(t, engine.Start(context.Background()))

	liveQuery := engine.LiveQuery(watchAll("sensor_readings"))
	deliver, changes := collectChanges(4)
	_, addErr := liveQuery.AddChangeListener(deliver)
	require.NoError(t, addErr)

	db.failQueriesWith(errors.New("connection reset"))

	// act
	listener.emit(`{"table":"sensor_readings","op":"INSERT"}`)
	require.ErrorIs(t, receiveChange(t, changes).Err, querystream.ErrExecutingQueryFailed)
	require.NoError(t, engine.Close())

	// assert
	assert.True(t, metricsSpy.HasDurationRecordForMetric("querystream_refresh_duration_seconds").
		WithOperation("refresh").
		WithStatus("error").
		Assert(), "expected an error duration record for the failed refresh")

	assert.True(t, metricsSpy.HasCounterRecordForMetric("querystream_database_errors_total").
		WithOperation("refresh").
		WithErrorType("database_query").
		Assert(), "expected a database error counter for the failed refresh")

	assert.True(t, metricsSpy.HasCounterRecordForMetric("querystream_notifications_received_total").
		WithOperation("dispatch").
		Assert(), "expected the received notification to be counted")
}

func Test_Observability_Execute_RecordsTracingSpan(t *testing.T) {
	// setup
	tracingSpy := observability.NewTracingCollectorSpy(true)
	db := newFakeDBAdapter([]string{"sensor_id"}, [][]any{{"s-1"}})
	engine := newTestEngine(db, newFakeNotificationListener())
	require.NoError(t, WithTracing(tracingSpy)(engine))
	require.NoError(t, engine.Start(context.Background()))
	t.Cleanup(func() { _ = engine.Close() })

	liveQuery := engine.LiveQuery(watchAll("sensor_readings"))
	deliver, changes := collectChanges(4)
	_, addErr := liveQuery.AddChangeListener(deliver)
	require.NoError(t, addErr)

	// act
	require.NoError(t, liveQuery.Execute(context.Background()))
	require.NoError(t, receiveChange(t, changes).Err)

	// assert
	assert.True(t, tracingSpy.HasSpanRecordForName("querystream.execute").
		WithStatus("success").
		WithStartAttribute("operation", "execute").
		WithStartAttribute("table", "sensor_readings").
		WithEndAttribute("row_count", "1").
		Assert(), "expected a success span for the initial query")
}

func Test_Observability_Refresh_RecordsTracingSpanWithErrorType(t *testing.T) {
	// setup
	tracingSpy := observability.NewTracingCollectorSpy(true)
	db := newFakeDBAdapter([]string{"n"}, [][]any{{int64(1)}})
	listener := newFakeNotificationListener()
	engine := newTestEngine(db, listener)
	require.NoError(t, WithTracing(tracingSpy)(engine))
	require.NoError(t, engine.Start(context.Background()))

	liveQuery := engine.LiveQuery(watchAll("sensor_readings"))
	deliver, changes := collectChanges(4)
	_, addErr := liveQuery.AddChangeListener(deliver)
	require.NoError(t, addErr)

	db.failQueriesWith(errors.New("connection reset"))

	// act
	listener.emit(`{"table":"sensor_readings","op":"INSERT"}`)
	require.ErrorIs(t, receiveChange(t, changes).Err, querystream.ErrExecutingQueryFailed)
	require.NoError(t, engine.Close())

	// assert
	assert.True(t, tracingSpy.HasSpanRecordForName("querystream.refresh").
		WithStatus("error").
		WithStartAttribute("operation", "refresh").
		WithStartAttribute("table", "sensor_readings").
		WithEndAttribute("error_type", "database_query").
		Assert(), "expected an error span for the failed refresh")
}

func Test_Observability_Logger_LogsEngineLifecycle(t *testing.T) {
	// setup
	logSpy := observability.NewLogHandlerSpy(false)
	db := newFakeDBAdapter([]string{"n"}, [][]any{{int64(1)}})
	listener := newFakeNotificationListener()
	engine := newTestEngine(db, listener)
	require.NoError(t, WithLogger(slog.New(logSpy))(engine))
	require.NoError(t, engine.Start(context.Background()))

	liveQuery := engine.LiveQuery(watchAll("sensor_readings"))
	deliver, changes := collectChanges(4)
	_, addErr := liveQuery.AddChangeListener(deliver)
	require.NoError(t, addErr)

	// act
	require.NoError(t, liveQuery.Execute(context.Background()))
	require.NoError(t, receiveChange(t, changes).Err)

	listener.emit(`{"table":"sensor_readings","op":"INSERT"}`)
	require.NoError(t, receiveChange(t, changes).Err)

	require.NoError(t, engine.Close())

	// assert
	assert.True(t, logSpy.HasInfoLogWithMessage("querystream operation: engine started").Assert())
	assert.True(t, logSpy.HasInfoLogWithMessage("querystream operation: initial query completed").Assert())
	assert.True(t, logSpy.HasInfoLogWithMessage("querystream operation: refresh completed").Assert())
	assert.True(t, logSpy.HasInfoLogWithMessage("querystream operation: engine stopped").Assert())
}

func Test_Observability_Logger_LogsSQLQueriesAtDebugLevel(t *testing.T) {
	// setup
	logSpy := observability.NewLogHandlerSpy(false)
	db := newFakeDBAdapter([]string{"sensor_id"}, [][]any{{"s-1"}})
	engine := newTestEngine(db, newFakeNotificationListener())
	require.NoError(t, WithLogger(slog.New(logSpy))(engine))
	require.NoError(t, engine.Start(context.Background()))
	t.Cleanup(func() { _ = engine.Close() })

	liveQuery := engine.LiveQuery(watchAll("sensor_readings"))
	deliver, changes := collectChanges(4)
	_, addErr := liveQuery.AddChangeListener(deliver)
	require.NoError(t, addErr)

	// act
	require.NoError(t, liveQuery.Execute(context.Background()))
	require.NoError(t, receiveChange(t, changes).Err)

	// assert
	assert.True(t, logSpy.HasDebugLogWithMessage("executed sql for: execute").Assert(),
		"expected the executed sql to be logged at debug level")
}

func Test_Observability_ContextualLogger_IsPreferredOverPlainLogger(t *testing.T) {
	// setup
	contextualSpy := observability.NewContextualLoggerSpy(true)
	logSpy := observability.NewLogHandlerSpy(false)
	db := newFakeDBAdapter([]string{"n"}, [][]any{{int64(1)}})
	engine := newTestEngine(db, newFakeNotificationListener())
	require.NoError(t, WithLogger(slog.New(logSpy))(engine))
	require.NoError(t, WithContextualLogger(contextualSpy)(engine))
	require.NoError(t, engine.Start(context.Background()))

	liveQuery := engine.LiveQuery(watchAll("sensor_readings"))
	deliver, changes := collectChanges(4)
	_, addErr := liveQuery.AddChangeListener(deliver)
	require.NoError(t, addErr)

	// act
	require.NoError(t, liveQuery.Execute(context.Background()))
	require.NoError(t, receiveChange(t, changes).Err)
	require.NoError(t, engine.Close())

	// assert
	assert.True(t, contextualSpy.HasInfoLog("querystream operation: engine started"))
	assert.True(t, contextualSpy.HasInfoLog("querystream operation: initial query completed"))
	assert.Zero(t, logSpy.GetRecordCount(), "the plain logger stays silent when a contextual logger is configured")
}
