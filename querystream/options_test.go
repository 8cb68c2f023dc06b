package querystream_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/querystream/query-change-streams-go/querystream"
)

func Test_DeliveryMode_String(t *testing.T) {
	assert.Equal(t, "blocking", querystream.DeliverBlocking.String())
	assert.Equal(t, "drop_newest", querystream.DeliverDropNewest.String())
	assert.Equal(t, "unknown", querystream.DeliveryMode(99).String())
}
