package postgresengine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querystream/query-change-streams-go/querystream"
)

//nolint:funlen // table-driven test covering all definition shapes, length comes from the test cases
func Test_BuildSelectQuery_RendersDefinitionAsPostgresSQL(t *testing.T) {
	engine := newTestEngine(newFakeDBAdapter(nil, nil), newFakeNotificationListener())

	tests := []struct {
		name        string
		definition  querystream.Definition
		expectedSQL string
	}{
		{
			name: "all_columns_without_constraints",
			definition: querystream.BuildQueryDefinition().
				From("sensor_readings").
				SelectingAll().
				Finalize(),
			expectedSQL: `SELECT * FROM "sensor_readings"`,
		},
		{
			name: "selected_columns_are_projected",
			definition: querystream.BuildQueryDefinition().
				From("sensor_readings").
				Selecting("value", "sensor_id").
				Finalize(),
			expectedSQL: `SELECT "sensor_id", "value" FROM "sensor_readings"`,
		},
		{
			name: "schema_qualified_table_is_quoted",
			definition: querystream.BuildQueryDefinition().
				From("app.sensor_readings").
				SelectingAll().
				Finalize(),
			expectedSQL: `SELECT * FROM "app"."sensor_readings"`,
		},
		{
			name: "single_predicate_renders_bare_condition",
			definition: querystream.BuildQueryDefinition().
				From("sensor_readings").
				SelectingAll().
				WhereAnyOf(querystream.P("sensor_id", "s-1")).
				Finalize(),
			expectedSQL: `SELECT * FROM "sensor_readings" WHERE ("sensor_id" = 's-1')`,
		},
		{
			name: "any_of_predicates_render_as_or",
			definition: querystream.BuildQueryDefinition().
				From("sensor_readings").
				SelectingAll().
				WhereAnyOf(
					querystream.P("site", "berlin"),
					querystream.P("sensor_id", "s-1"),
				).
				Finalize(),
			expectedSQL: `SELECT * FROM "sensor_readings" WHERE (("sensor_id" = 's-1') OR ("site" = 'berlin'))`,
		},
		{
			name: "all_of_predicates_render_as_and",
			definition: querystream.BuildQueryDefinition().
				From("sensor_readings").
				SelectingAll().
				WhereAllOf(
					querystream.P("site", "berlin"),
					querystream.P("sensor_id", "s-1"),
				).
				Finalize(),
			expectedSQL: `SELECT * FROM "sensor_readings" WHERE (("sensor_id" = 's-1') AND ("site" = 'berlin'))`,
		},
		{
			name: "ordering_terms_keep_their_order",
			definition: querystream.BuildQueryDefinition().
				From("sensor_readings").
				SelectingAll().
				OrderedBy("recorded_at", querystream.Descending).
				OrderedBy("sensor_id", querystream.Ascending).
				Finalize(),
			expectedSQL: `SELECT * FROM "sensor_readings" ORDER BY "recorded_at" DESC, "sensor_id" ASC`,
		},
		{
			name: "row_limit_is_applied",
			definition: querystream.BuildQueryDefinition().
				From("sensor_readings").
				SelectingAll().
				LimitedTo(25).
				Finalize(),
			expectedSQL: `SELECT * FROM "sensor_readings" LIMIT 25`,
		},
		{
			name: "all_features_combine_in_statement_order",
			definition: querystream.BuildQueryDefinition().
				From("sensor_readings").
				Selecting("value", "sensor_id", "recorded_at").
				WhereAllOf(querystream.P("sensor_id", "s-1")).
				OrderedBy("recorded_at", querystream.Descending).
				LimitedTo(10).
				Finalize(),
			expectedSQL: `SELECT "recorded_at", "sensor_id", "value" FROM "sensor_readings"` +
				` WHERE ("sensor_id" = 's-1') ORDER BY "recorded_at" DESC LIMIT 10`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sqlQuery, buildErr := engine.buildSelectQuery(tc.definition)

			require.NoError(t, buildErr)
			assert.Equal(t, tc.expectedSQL, sqlQuery)
		})
	}
}

func Test_InstallNotifyTrigger_InstallsNotifyFunctionAndTrigger(t *testing.T) {
	// setup
	db := newFakeDBAdapter(nil, nil)
	engine := newTestEngine(db, newFakeNotificationListener())

	// act
	installErr := engine.InstallNotifyTrigger(context.Background(), "sensor_readings")

	// assert
	require.NoError(t, installErr)

	statements := db.recordedExecStatements()
	require.Len(t, statements, 3)

	assert.Contains(t, statements[0], "CREATE OR REPLACE FUNCTION querystream_notify()")
	assert.Contains(t, statements[0], "pg_notify('querystream_changes'")
	assert.Contains(t, statements[0], "json_build_object('table', TG_TABLE_NAME, 'op', TG_OP)")

	assert.Equal(t,
		`DROP TRIGGER IF EXISTS "querystream_notify_sensor_readings" ON "sensor_readings"`,
		statements[1])

	assert.Equal(t,
		`CREATE TRIGGER "querystream_notify_sensor_readings"`+
			` AFTER INSERT OR UPDATE OR DELETE ON "sensor_readings"`+
			` FOR EACH STATEMENT EXECUTE FUNCTION querystream_notify()`,
		statements[2])
}

func Test_InstallNotifyTrigger_QuotesSchemaQualifiedTables(t *testing.T) {
	// setup
	db := newFakeDBAdapter(nil, nil)
	engine := newTestEngine(db, newFakeNotificationListener())

	// act
	installErr := engine.InstallNotifyTrigger(context.Background(), "app.sensor_readings")

	// assert
	require.NoError(t, installErr)

	statements := db.recordedExecStatements()
	require.Len(t, statements, 3)
	assert.Contains(t, statements[1], `ON "app"."sensor_readings"`)
	assert.Contains(t, statements[2], `"querystream_notify_app_sensor_readings"`)
}

func Test_InstallNotifyTrigger_UsesConfiguredChannel(t *testing.T) {
	// setup
	db := newFakeDBAdapter(nil, nil)
	engine := newTestEngine(db, newFakeNotificationListener())
	require.NoError(t, WithNotifyChannel("telemetry_changes")(engine))

	// act
	installErr := engine.InstallNotifyTrigger(context.Background(), "sensor_readings")

	// assert
	require.NoError(t, installErr)

	statements := db.recordedExecStatements()
	require.Len(t, statements, 3)
	assert.Contains(t, statements[0], "pg_notify('telemetry_changes'")
}

func Test_InstallNotifyTrigger_FailsForEmptyTable(t *testing.T) {
	// setup
	engine := newTestEngine(newFakeDBAdapter(nil, nil), newFakeNotificationListener())

	// act
	installErr := engine.InstallNotifyTrigger(context.Background(), "")

	// assert
	require.ErrorIs(t, installErr, querystream.ErrEmptyTableName)
}

func Test_InstallNotifyTrigger_PropagatesExecFailure(t *testing.T) {
	// setup
	execFailure := errors.New("permission denied")
	db := newFakeDBAdapter(nil, nil)
	db.failExecsWith(execFailure)
	engine := newTestEngine(db, newFakeNotificationListener())

	// act
	installErr := engine.InstallNotifyTrigger(context.Background(), "sensor_readings")

	// assert
	require.ErrorIs(t, installErr, querystream.ErrExecutingQueryFailed)
	require.ErrorIs(t, installErr, execFailure)
}

func Test_DecodeNotifyPayload(t *testing.T) {
	engine := newTestEngine(newFakeDBAdapter(nil, nil), newFakeNotificationListener())

	tests := []struct {
		name          string
		payload       string
		expectDecoded bool
		expectedTable string
		expectedOp    string
	}{
		{
			name:          "insert_payload_decodes",
			payload:       `{"table":"sensor_readings","op":"INSERT"}`,
			expectDecoded: true,
			expectedTable: "sensor_readings",
			expectedOp:    "INSERT",
		},
		{
			name:          "unknown_fields_are_tolerated",
			payload:       `{"table":"audit_log","op":"DELETE","txid":41}`,
			expectDecoded: true,
			expectedTable: "audit_log",
			expectedOp:    "DELETE",
		},
		{
			name:          "garbage_is_rejected",
			payload:       `{{{not json`,
			expectDecoded: false,
		},
		{
			name:          "payload_without_table_is_rejected",
			payload:       `{"op":"UPDATE"}`,
			expectDecoded: false,
		},
		{
			name:          "empty_object_is_rejected",
			payload:       `{}`,
			expectDecoded: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			decoded, ok := engine.decodeNotifyPayload(context.Background(), tc.payload)

			require.Equal(t, tc.expectDecoded, ok)

			if tc.expectDecoded {
				assert.Equal(t, tc.expectedTable, decoded.Table)
				assert.Equal(t, tc.expectedOp, decoded.Op)
			}
		})
	}
}

func Test_ScanRows_PropagatesIterationError(t *testing.T) {
	// setup
	iterationFailure := errors.New("connection lost during iteration")
	engine := newTestEngine(newFakeDBAdapter(nil, nil), newFakeNotificationListener())
	rows := &fakeDBRows{columns: []string{"n"}, rows: [][]any{{int64(1)}}, iterErr: iterationFailure}

	// act
	_, scanErr := engine.scanRows(context.Background(), rows)

	// assert
	require.ErrorIs(t, scanErr, querystream.ErrScanningRowFailed)
	require.ErrorIs(t, scanErr, iterationFailure)
}

func Test_ScanRows_PropagatesScanError(t *testing.T) {
	// setup
	scanFailure := errors.New("type mismatch")
	engine := newTestEngine(newFakeDBAdapter(nil, nil), newFakeNotificationListener())
	rows := &fakeDBRows{columns: []string{"n"}, rows: [][]any{{int64(1)}}, scanErr: scanFailure}

	// act
	_, scanErr := engine.scanRows(context.Background(), rows)

	// assert
	require.ErrorIs(t, scanErr, querystream.ErrScanningRowFailed)
	require.ErrorIs(t, scanErr, scanFailure)
}
