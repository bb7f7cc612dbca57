package queue

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	ctx := context.Background()

	assert.Error(t, (&Trigger{Stream: "orders"}).Validate(ctx))
	assert.Error(t, (&Trigger{WorkflowID: "wf-1"}).Validate(ctx))
	assert.NoError(t, (&Trigger{WorkflowID: "wf-1", Stream: "orders"}).Validate(ctx))
}

func TestMessageDataUnwrapsJSONPayload(t *testing.T) {
	message := redis.XMessage{
		ID:     "1718000000000-0",
		Values: map[string]any{"payload": `{"order_id": "o-1", "total": 12.5}`},
	}

	data := messageData(message, "orders", "start")

	assert.Equal(t, "orders", data["stream"])
	assert.Equal(t, "1718000000000-0", data["message_id"])

	payload, ok := data["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "o-1", payload["order_id"])
	assert.Equal(t, 12.5, payload["total"])
}

func TestMessageDataKeepsRawPayloadAndFields(t *testing.T) {
	raw := messageData(redis.XMessage{
		ID:     "1-0",
		Values: map[string]any{"payload": "not json"},
	}, "orders", "start")
	assert.Equal(t, "not json", raw["payload"])

	fields := messageData(redis.XMessage{
		ID:     "2-0",
		Values: map[string]any{"order_id": "o-2", "status": "new"},
	}, "orders", "start")

	payload, ok := fields["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "o-2", payload["order_id"])
	assert.Equal(t, "new", payload["status"])
}
