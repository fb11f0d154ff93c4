package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyptra/flume/event"
	"github.com/calyptra/flume/message"
)

func ec(requestID string) event.ExecutionContext {
	return event.ExecutionContext{
		ConversationID: "conv-1",
		ExecutionID:    "exec-1",
		RequestID:      requestID,
		UserID:         "user-1",
	}
}

func publishEvent(id, requestID, topic string, offset int64, content string) *event.PublishToTopicEvent {
	return &event.PublishToTopicEvent{
		Base: event.Base{
			EventID:          id,
			EventType:        event.TypePublishToTopic,
			Timestamp:        time.Now().UTC(),
			ExecutionContext: ec(requestID),
		},
		TopicName:     topic,
		Offset:        offset,
		PublisherName: "node",
		PublisherType: "generate",
		Data:          []message.Message{{Role: message.RoleUser, Content: content}},
	}
}

func TestMemoryStore_RecordAndFetch(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ev := publishEvent("ev-1", "req-1", "workflow_input", 0, "hello")
	require.NoError(t, s.RecordEvent(ctx, ev))

	got, err := s.Event(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, "ev-1", got.ID())

	_, err = s.Event(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_UpsertKeepsLogPosition(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.RecordEvent(ctx, publishEvent("ev-1", "req-1", "t", 0, "first")))
	require.NoError(t, s.RecordEvent(ctx, publishEvent("ev-2", "req-1", "t", 1, "second")))

	// Re-record ev-1 with merged data: it replaces in place, not at the end.
	require.NoError(t, s.RecordEvent(ctx, publishEvent("ev-1", "req-1", "t", 0, "first+merged")))

	events, err := s.RequestEvents(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "ev-1", events[0].ID())
	assert.Equal(t, "first+merged", events[0].(*event.PublishToTopicEvent).Data[0].Content)
	assert.Equal(t, "ev-2", events[1].ID())
}

func TestMemoryStore_RequestEventsFiltersAndOrders(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordEvent(ctx, publishEvent(fmt.Sprintf("a-%d", i), "req-a", "t", int64(i), "x")))
	}
	require.NoError(t, s.RecordEvent(ctx, publishEvent("b-0", "req-b", "t", 0, "y")))

	events, err := s.RequestEvents(ctx, "req-a")
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, fmt.Sprintf("a-%d", i), ev.ID())
	}

	events, err = s.RequestEvents(ctx, "req-none")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemoryStore_ConversationEventsSpanRequests(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.RecordEvent(ctx, publishEvent("a-0", "req-a", "t", 0, "x")))
	require.NoError(t, s.RecordEvent(ctx, publishEvent("b-0", "req-b", "t", 0, "y")))

	events, err := s.ConversationEvents(ctx, "conv-1")
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestMemoryStore_RecordEventsBatch(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	batch := []event.Event{
		publishEvent("ev-1", "req-1", "t", 0, "one"),
		publishEvent("ev-2", "req-1", "t", 1, "two"),
	}
	require.NoError(t, s.RecordEvents(ctx, batch))
	assert.Equal(t, 2, s.Len())
}
