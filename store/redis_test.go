package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyptra/flume/event"
)

// openTestRedis connects to the Redis instance named by FLUME_REDIS_ADDR,
// or skips. The store's key prefixes keep test data identifiable.
func openTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("FLUME_REDIS_ADDR")
	if addr == "" {
		t.Skip("FLUME_REDIS_ADDR not set")
	}
	s, err := NewRedisStore(addr)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRedisStore_RecordAndFetch(t *testing.T) {
	s := openTestRedis(t)
	ctx := context.Background()

	ev := publishEvent("redis-ev-1", "redis-req-1", "workflow_input", 0, "hello")
	require.NoError(t, s.RecordEvent(ctx, ev))

	got, err := s.Event(ctx, "redis-ev-1")
	require.NoError(t, err)
	pub, ok := got.(*event.PublishToTopicEvent)
	require.True(t, ok)
	assert.Equal(t, "hello", pub.Data[0].Content)

	_, err = s.Event(ctx, "redis-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_UpsertKeepsIndexPosition(t *testing.T) {
	s := openTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.RecordEvent(ctx, publishEvent("redis-ev-a", "redis-req-2", "t", 0, "first")))
	require.NoError(t, s.RecordEvent(ctx, publishEvent("redis-ev-b", "redis-req-2", "t", 1, "second")))
	require.NoError(t, s.RecordEvent(ctx, publishEvent("redis-ev-a", "redis-req-2", "t", 0, "merged")))

	events, err := s.RequestEvents(ctx, "redis-req-2")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "redis-ev-a", events[0].ID())
	assert.Equal(t, "merged", events[0].(*event.PublishToTopicEvent).Data[0].Content)
}
