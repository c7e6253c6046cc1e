package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	event, err := NewEvent(EventVersionPromoted, "catalog", "002", map[string]any{"fallbacks": []string{"books"}})
	require.NoError(t, err)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, EventVersionPromoted, event.Type)
	assert.JSONEq(t, `{"fallbacks":["books"]}`, string(event.Payload))

	empty, err := NewEvent(EventVersionCreated, "catalog", "003", nil)
	require.NoError(t, err)
	assert.Nil(t, empty.Payload)
	assert.NotEqual(t, event.ID, empty.ID)
}

func TestMemoryQueue(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.TODO()

	for _, eventType := range []EventType{EventVersionCreated, EventIndexPushed, EventIndexPushed} {
		event, err := NewEvent(eventType, "catalog", "001", nil)
		require.NoError(t, err)
		require.NoError(t, q.Publish(ctx, event))
	}

	assert.Len(t, q.Events(""), 3)
	assert.Len(t, q.Events(EventIndexPushed), 2)
	assert.Empty(t, q.Events(EventAliasSwapped))
}
