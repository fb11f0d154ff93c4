package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/calyptra/flume/event"
)

const (
	eventKeyPrefix        = "flume:event:"
	requestKeyPrefix      = "flume:request:"
	conversationKeyPrefix = "flume:conversation:"
)

// RedisStore is an event store backed by Redis: one hash-free string key
// per event envelope plus request and conversation index lists that
// preserve recorded order.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the given address and verifies the
// connection.
func NewRedisStore(addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient creates a store using an existing client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Close releases the underlying client.
func (s *RedisStore) Close() error { return s.client.Close() }

func eventKey(id string) string        { return eventKeyPrefix + id }
func requestKey(id string) string      { return requestKeyPrefix + id }
func conversationKey(id string) string { return conversationKeyPrefix + id }

func (s *RedisStore) writeEvent(ctx context.Context, pipe redis.Pipeliner, ev event.Event, known bool) error {
	env, err := ev.Envelope()
	if err != nil {
		return fmt.Errorf("write event %s: %w", ev.ID(), err)
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("write event %s: %w", ev.ID(), err)
	}

	pipe.Set(ctx, eventKey(env.EventID), payload, 0)
	if !known {
		// First time this id is seen: register it in the order-preserving
		// indexes. An upsert of a known id keeps its original position.
		pipe.RPush(ctx, requestKey(env.ExecutionContext.RequestID), env.EventID)
		pipe.RPush(ctx, conversationKey(env.ExecutionContext.ConversationID), env.EventID)
	}
	return nil
}

// RecordEvent upserts a single event by id.
func (s *RedisStore) RecordEvent(ctx context.Context, ev event.Event) error {
	return s.RecordEvents(ctx, []event.Event{ev})
}

// RecordEvents writes the batch in one transactional pipeline.
func (s *RedisStore) RecordEvents(ctx context.Context, evs []event.Event) error {
	if len(evs) == 0 {
		return nil
	}

	known := make([]bool, len(evs))
	for i, ev := range evs {
		n, err := s.client.Exists(ctx, eventKey(ev.ID())).Result()
		if err != nil {
			return fmt.Errorf("record events: check exists: %w", err)
		}
		known[i] = n > 0
	}

	pipe := s.client.TxPipeline()
	for i, ev := range evs {
		if err := s.writeEvent(ctx, pipe, ev, known[i]); err != nil {
			return fmt.Errorf("record events: %w", err)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record events: %w", err)
	}
	return nil
}

func (s *RedisStore) eventsByIndex(ctx context.Context, key string) ([]event.Event, error) {
	ids, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	out := make([]event.Event, 0, len(ids))
	for _, id := range ids {
		ev, err := s.Event(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("query events: event %s: %w", id, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// RequestEvents returns all events for the request id in recorded order.
func (s *RedisStore) RequestEvents(ctx context.Context, requestID string) ([]event.Event, error) {
	return s.eventsByIndex(ctx, requestKey(requestID))
}

// ConversationEvents returns all events for the conversation id in
// recorded order.
func (s *RedisStore) ConversationEvents(ctx context.Context, conversationID string) ([]event.Event, error) {
	return s.eventsByIndex(ctx, conversationKey(conversationID))
}

// Event returns the event with the given id, or ErrNotFound.
func (s *RedisStore) Event(ctx context.Context, eventID string) (event.Event, error) {
	payload, err := s.client.Get(ctx, eventKey(eventID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event %s: %w", eventID, err)
	}
	var env event.Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, fmt.Errorf("unmarshal event %s: %w", eventID, err)
	}
	return env.Decode()
}
