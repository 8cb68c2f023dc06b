package querystream_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/querystream/query-change-streams-go/querystream"
)

//nolint:funlen // table-driven test covering all builder combinations, length comes from the test cases
func Test_DefinitionBuilder_Combinations(t *testing.T) {
	tests := []struct {
		name     string
		build    func() querystream.Definition
		validate func(t *testing.T, definition querystream.Definition)
	}{
		{
			name: "watching_all_columns_creates_minimal_definition",
			build: func() querystream.Definition {
				return querystream.BuildQueryDefinition().
					From("sensor_readings").
					SelectingAll().
					Finalize()
			},
			validate: func(t *testing.T, definition querystream.Definition) {
				t.Helper()
				assert.Equal(t, "sensor_readings", definition.Table())
				assert.Empty(t, definition.Columns())
				assert.Empty(t, definition.Predicates())
				assert.False(t, definition.AllPredicatesMustMatch())
				assert.Empty(t, definition.Orderings())
				assert.Zero(t, definition.Limit())
			},
		},
		{
			name: "selected_columns_are_sorted_and_deduplicated",
			build: func() querystream.Definition {
				return querystream.BuildQueryDefinition().
					From("sensor_readings").
					Selecting("value", "sensor_id", "value", "").
					Finalize()
			},
			validate: func(t *testing.T, definition querystream.Definition) {
				t.Helper()
				assert.Equal(t, []string{"sensor_id", "value"}, definition.Columns())
			},
		},
		{
			name: "any_of_predicates_match_any",
			build: func() querystream.Definition {
				return querystream.BuildQueryDefinition().
					From("sensor_readings").
					SelectingAll().
					WhereAnyOf(
						querystream.P("site", "berlin"),
						querystream.P("sensor_id", "s-1"),
					).
					Finalize()
			},
			validate: func(t *testing.T, definition querystream.Definition) {
				t.Helper()
				assert.Equal(t, []querystream.DefinitionPredicate{
					querystream.P("sensor_id", "s-1"),
					querystream.P("site", "berlin"),
				}, definition.Predicates())
				assert.False(t, definition.AllPredicatesMustMatch())
			},
		},
		{
			name: "all_of_predicates_require_every_match",
			build: func() querystream.Definition {
				return querystream.BuildQueryDefinition().
					From("sensor_readings").
					SelectingAll().
					WhereAllOf(
						querystream.P("site", "berlin"),
						querystream.P("unit", "celsius"),
					).
					Finalize()
			},
			validate: func(t *testing.T, definition querystream.Definition) {
				t.Helper()
				assert.Len(t, definition.Predicates(), 2)
				assert.True(t, definition.AllPredicatesMustMatch())
			},
		},
		{
			name: "empty_and_partial_predicates_are_removed",
			build: func() querystream.Definition {
				return querystream.BuildQueryDefinition().
					From("sensor_readings").
					SelectingAll().
					WhereAnyOf(
						querystream.P("", ""),
						querystream.P("sensor_id", ""),
						querystream.P("", "s-1"),
						querystream.P("sensor_id", "s-1"),
					).
					Finalize()
			},
			validate: func(t *testing.T, definition querystream.Definition) {
				t.Helper()
				assert.Equal(t, []querystream.DefinitionPredicate{
					querystream.P("sensor_id", "s-1"),
				}, definition.Predicates())
			},
		},
		{
			name: "duplicate_predicates_are_removed",
			build: func() querystream.Definition {
				return querystream.BuildQueryDefinition().
					From("sensor_readings").
					SelectingAll().
					WhereAnyOf(
						querystream.P("sensor_id", "s-1"),
						querystream.P("sensor_id", "s-1"),
					).
					Finalize()
			},
			validate: func(t *testing.T, definition querystream.Definition) {
				t.Helper()
				assert.Len(t, definition.Predicates(), 1)
			},
		},
		{
			name: "ordering_terms_accumulate_in_call_order",
			build: func() querystream.Definition {
				return querystream.BuildQueryDefinition().
					From("sensor_readings").
					SelectingAll().
					OrderedBy("site", querystream.Ascending).
					OrderedBy("value", querystream.Descending).
					Finalize()
			},
			validate: func(t *testing.T, definition querystream.Definition) {
				t.Helper()
				orderings := definition.Orderings()
				assert.Len(t, orderings, 2)
				assert.Equal(t, "site", orderings[0].Column())
				assert.Equal(t, querystream.Ascending, orderings[0].Direction())
				assert.Equal(t, "value", orderings[1].Column())
				assert.Equal(t, querystream.Descending, orderings[1].Direction())
			},
		},
		{
			name: "ordering_with_empty_column_is_ignored",
			build: func() querystream.Definition {
				return querystream.BuildQueryDefinition().
					From("sensor_readings").
					SelectingAll().
					OrderedBy("", querystream.Ascending).
					Finalize()
			},
			validate: func(t *testing.T, definition querystream.Definition) {
				t.Helper()
				assert.Empty(t, definition.Orderings())
			},
		},
		{
			name: "row_limit_is_captured",
			build: func() querystream.Definition {
				return querystream.BuildQueryDefinition().
					From("sensor_readings").
					SelectingAll().
					LimitedTo(25).
					Finalize()
			},
			validate: func(t *testing.T, definition querystream.Definition) {
				t.Helper()
				assert.Equal(t, uint(25), definition.Limit())
			},
		},
		{
			name: "full_definition_with_all_constraints",
			build: func() querystream.Definition {
				return querystream.BuildQueryDefinition().
					From("sensor_readings").
					Selecting("sensor_id", "value", "recorded_at").
					WhereAllOf(
						querystream.P("site", "berlin"),
						querystream.P("unit", "celsius"),
					).
					OrderedBy("recorded_at", querystream.Descending).
					LimitedTo(100).
					Finalize()
			},
			validate: func(t *testing.T, definition querystream.Definition) {
				t.Helper()
				assert.Equal(t, "sensor_readings", definition.Table())
				assert.Equal(t, []string{"recorded_at", "sensor_id", "value"}, definition.Columns())
				assert.Len(t, definition.Predicates(), 2)
				assert.True(t, definition.AllPredicatesMustMatch())
				assert.Len(t, definition.Orderings(), 1)
				assert.Equal(t, uint(100), definition.Limit())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			definition := tt.build()
			tt.validate(t, definition)
		})
	}
}

func Test_SortDirection_String(t *testing.T) {
	assert.Equal(t, "asc", querystream.Ascending.String())
	assert.Equal(t, "desc", querystream.Descending.String())
	assert.Equal(t, "unknown", querystream.SortDirection(99).String())
}
