package workflow

import (
	"sync"

	"github.com/google/uuid"

	"github.com/calyptra/flume/event"
)

// IDGenerator produces unique event and context ids.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type IDGenerator interface {
	NewID() string
}

// UUIDv7Generator generates time-sortable UUIDv7 ids. The embedded
// timestamp makes ids sortable by creation time, which helps when reading
// raw event logs.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// NewID creates a new UUIDv7 as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined ids for testing. This enables
// deterministic test execution and golden trace comparison.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// NewID returns the next predetermined id.
//
// Panics if all ids have been consumed. Fail-fast catches test
// misconfiguration (the test produced more events than expected).
func (g *FixedGenerator) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// NewRequestContext builds the execution context for a fresh external
// request within a conversation.
func NewRequestContext(gen IDGenerator, conversationID, userID string) event.ExecutionContext {
	return event.ExecutionContext{
		ConversationID: conversationID,
		ExecutionID:    gen.NewID(),
		RequestID:      gen.NewID(),
		UserID:         userID,
	}
}
