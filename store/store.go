// Package store provides durable, append-oriented storage for workflow
// event logs, with implementations backed by memory, SQLite, and Redis.
//
// The log is keyed two ways: by request id (one workflow invocation) and
// by conversation id (all invocations in a conversation). Both queries
// return events in recorded order, which is the order replay needs.
package store

import (
	"context"
	"errors"

	"github.com/calyptra/flume/event"
)

// ErrNotFound is returned by Event when no event has the given id.
var ErrNotFound = errors.New("event not found")

// EventStore is the engine's persistence contract.
//
// RecordEvent upserts by event id: re-recording an existing id replaces
// that event's payload in place. This is used only by the human-input
// merge path; everything else is append-only, and no call ever mutates an
// event other than the one being recorded.
type EventStore interface {
	RecordEvent(ctx context.Context, ev event.Event) error

	// RecordEvents records a batch atomically: after a crash either all
	// of the batch is visible or none of it is.
	RecordEvents(ctx context.Context, evs []event.Event) error

	// RequestEvents returns every event recorded for one request id, in
	// recorded order.
	RequestEvents(ctx context.Context, requestID string) ([]event.Event, error)

	// ConversationEvents returns every event recorded for one
	// conversation id, in recorded order.
	ConversationEvents(ctx context.Context, conversationID string) ([]event.Event, error)

	// Event returns the event with the given id, or ErrNotFound.
	Event(ctx context.Context, eventID string) (event.Event, error)
}
