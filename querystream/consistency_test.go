package querystream_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/querystream/query-change-streams-go/querystream"
)

func Test_GetConsistencyLevel_DefaultsToStrong(t *testing.T) {
	level := querystream.GetConsistencyLevel(context.Background())

	assert.Equal(t, querystream.StrongConsistency, level)
}

func Test_GetConsistencyLevel_ReadsContextPreference(t *testing.T) {
	strongCtx := querystream.WithStrongConsistency(context.Background())
	eventualCtx := querystream.WithEventualConsistency(context.Background())

	assert.Equal(t, querystream.StrongConsistency, querystream.GetConsistencyLevel(strongCtx))
	assert.Equal(t, querystream.EventualConsistency, querystream.GetConsistencyLevel(eventualCtx))
}

func Test_ConsistencyLevel_String(t *testing.T) {
	assert.Equal(t, "strong", querystream.StrongConsistency.String())
	assert.Equal(t, "eventual", querystream.EventualConsistency.String())
	assert.Equal(t, "unknown", querystream.ConsistencyLevel(99).String())
}
