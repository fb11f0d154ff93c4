package store

import (
	"context"
	"sync"

	"github.com/calyptra/flume/event"
)

// MemoryStore keeps the event log in process memory. It is the default
// for tests and for workflows that do not need crash recovery across
// restarts.
type MemoryStore struct {
	mu     sync.Mutex
	events []event.Event
	index  map[string]int // event id -> position in events
}

// NewMemoryStore creates an empty in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{index: make(map[string]int)}
}

// RecordEvent appends the event, or replaces it in place when the id was
// recorded before.
func (s *MemoryStore) RecordEvent(_ context.Context, ev event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(ev)
	return nil
}

// RecordEvents records the batch. The mutex makes the batch atomic with
// respect to readers.
func (s *MemoryStore) RecordEvents(_ context.Context, evs []event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range evs {
		s.record(ev)
	}
	return nil
}

func (s *MemoryStore) record(ev event.Event) {
	if pos, ok := s.index[ev.ID()]; ok {
		s.events[pos] = ev
		return
	}
	s.index[ev.ID()] = len(s.events)
	s.events = append(s.events, ev)
}

// RequestEvents returns all events for the request id in recorded order.
func (s *MemoryStore) RequestEvents(_ context.Context, requestID string) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.Event
	for _, ev := range s.events {
		if ev.Context().RequestID == requestID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// ConversationEvents returns all events for the conversation id in
// recorded order.
func (s *MemoryStore) ConversationEvents(_ context.Context, conversationID string) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.Event
	for _, ev := range s.events {
		if ev.Context().ConversationID == conversationID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Event returns the event with the given id, or ErrNotFound.
func (s *MemoryStore) Event(_ context.Context, eventID string) (event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.index[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.events[pos], nil
}

// Len returns the number of recorded events. Useful in tests.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
