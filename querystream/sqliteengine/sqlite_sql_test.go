package sqliteengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querystream/query-change-streams-go/querystream"
)

//nolint:funlen // table-driven test covering all definition shapes, length comes from the test cases
func Test_BuildSelectQuery_RendersDefinitionAsSQLiteSQL(t *testing.T) {
	engine := &Engine{}

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
			expectedSQL: "SELECT * FROM `sensor_readings`",
		},
		{
			name: "selected_columns_are_projected",
			definition: querystream.BuildQueryDefinition().
				From("sensor_readings").
				Selecting("value", "sensor_id").
				Finalize(),
			expectedSQL: "SELECT `sensor_id`, `value` FROM `sensor_readings`",
		},
		{
			name: "attached_database_qualifier_is_quoted",
			definition: querystream.BuildQueryDefinition().
				From("archive.sensor_readings").
				SelectingAll().
				Finalize(),
			expectedSQL: "SELECT * FROM `archive`.`sensor_readings`",
		},
		{
			name: "single_predicate_renders_bare_condition",
			definition: querystream.BuildQueryDefinition().
				From("sensor_readings").
				SelectingAll().
				WhereAnyOf(querystream.P("sensor_id", "s-1")).
				Finalize(),
			expectedSQL: "SELECT * FROM `sensor_readings` WHERE (`sensor_id` = 's-1')",
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
			expectedSQL: "SELECT * FROM `sensor_readings` WHERE ((`sensor_id` = 's-1') OR (`site` = 'berlin'))",
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
			expectedSQL: "SELECT * FROM `sensor_readings` WHERE ((`sensor_id` = 's-1') AND (`site` = 'berlin'))",
		},
		{
			name: "ordering_terms_keep_their_order",
			definition: querystream.BuildQueryDefinition().
				From("sensor_readings").
				SelectingAll().
				OrderedBy("recorded_at", querystream.Descending).
				OrderedBy("sensor_id", querystream.Ascending).
				Finalize(),
			expectedSQL: "SELECT * FROM `sensor_readings` ORDER BY `recorded_at` DESC, `sensor_id` ASC",
		},
		{
			name: "row_limit_is_applied",
			definition: querystream.BuildQueryDefinition().
				From("sensor_readings").
				SelectingAll().
				LimitedTo(25).
				Finalize(),
			expectedSQL: "SELECT * FROM `sensor_readings` LIMIT 25",
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
			expectedSQL: "SELECT `recorded_at`, `sensor_id`, `value` FROM `sensor_readings`" +
				" WHERE (`sensor_id` = 's-1') ORDER BY `recorded_at` DESC LIMIT 10",
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

func Test_WithPollInterval_AppliesPositiveIntervals(t *testing.T) {
	// setup
	engine := &Engine{}

	// act
	optionErr := WithPollInterval(50 * time.Millisecond)(engine)

	// assert
	require.NoError(t, optionErr)
	assert.Equal(t, 50*time.Millisecond, engine.pollInterval)
}

func Test_Options_RejectNonPositivePollIntervals(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
	}{
		{name: "zero_interval", interval: 0},
		{name: "negative_interval", interval: -time.Second},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// setup
			engine := &Engine{}

			// act
			optionErr := WithPollInterval(tc.interval)(engine)

			// assert
			require.ErrorIs(t, optionErr, querystream.ErrInvalidPollInterval)
			assert.Zero(t, engine.pollInterval)
		})
	}
}
