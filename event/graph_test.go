package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEC = ExecutionContext{
	ConversationID: "conv-1",
	ExecutionID:    "exec-1",
	RequestID:      "req-1",
	UserID:         "user-1",
}

func pub(id, topic string, offset int64, consumedIDs ...string) *PublishToTopicEvent {
	return &PublishToTopicEvent{
		Base: Base{
			EventID:          id,
			EventType:        TypePublishToTopic,
			Timestamp:        time.Now().UTC(),
			ExecutionContext: testEC,
		},
		TopicName:        topic,
		Offset:           offset,
		PublisherName:    "node",
		PublisherType:    "generate",
		ConsumedEventIDs: consumedIDs,
	}
}

func con(id, topic string, offset int64, consumer string) *ConsumeFromTopicEvent {
	return &ConsumeFromTopicEvent{
		Base: Base{
			EventID:          id,
			EventType:        TypeConsumeFromTopic,
			Timestamp:        time.Now().UTC(),
			ExecutionContext: testEC,
		},
		TopicName:    topic,
		Offset:       offset,
		ConsumerName: consumer,
		ConsumerType: "generate",
	}
}

func poolOf(events ...Event) map[string]Event {
	pool := make(map[string]Event, len(events))
	for _, ev := range events {
		pool[ev.ID()] = ev
	}
	return pool
}

func ids(events []*ConsumeFromTopicEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.EventID
	}
	return out
}

// A chain input -> a -> b: the consume of b's output must order after the
// consume of a's output that causally produced it.
func TestGraph_ChainOrdersAncestorsFirst(t *testing.T) {
	pubEntry := pub("p-entry", "workflow_input", 0)
	conEntry := con("c-entry", "workflow_input", 0, "node-a")
	pubA := pub("p-a", "topic-a", 0, "c-entry")
	conA := con("c-a", "topic-a", 0, "node-b")
	pubB := pub("p-b", "topic-b", 0, "c-a")
	conB := con("c-b", "topic-b", 0, "node-c")

	pool := poolOf(pubEntry, conEntry, pubA, conA, pubB, conB)
	g := BuildGraph([]*ConsumeFromTopicEvent{conB}, pool)

	ordered := g.SortedEvents()
	assert.Equal(t, []string{"c-entry", "c-a", "c-b"}, ids(ordered))
}

// A join node consuming from two branches sees both branches, each
// preceded by its own ancestry, with the shared root first.
func TestGraph_DiamondClosure(t *testing.T) {
	pubEntry := pub("p-entry", "workflow_input", 0)
	conLeft := con("c-left-in", "workflow_input", 0, "left")
	conRight := con("c-right-in", "workflow_input", 0, "right")
	pubLeft := pub("p-left", "topic-left", 0, "c-left-in")
	pubRight := pub("p-right", "topic-right", 0, "c-right-in")
	conJoinL := con("c-join-l", "topic-left", 0, "join")
	conJoinR := con("c-join-r", "topic-right", 0, "join")

	pool := poolOf(pubEntry, conLeft, conRight, pubLeft, pubRight, conJoinL, conJoinR)
	g := BuildGraph([]*ConsumeFromTopicEvent{conJoinL, conJoinR}, pool)

	ordered := ids(g.SortedEvents())
	require.Len(t, ordered, 4)

	pos := make(map[string]int, len(ordered))
	for i, id := range ordered {
		pos[id] = i
	}
	assert.Less(t, pos["c-left-in"], pos["c-join-l"])
	assert.Less(t, pos["c-right-in"], pos["c-join-r"])
}

// Unconstrained events tie-break by offset, then id, so the order is
// fully deterministic regardless of map iteration.
func TestGraph_TieBreakByOffsetThenID(t *testing.T) {
	c0 := con("c-z", "topic-x", 0, "node")
	c1 := con("c-a", "topic-x", 1, "node")
	c2 := con("c-b", "topic-x", 1, "node")

	// No publishes in the pool: all three are roots.
	g := BuildGraph([]*ConsumeFromTopicEvent{c2, c1, c0}, poolOf())

	ordered := ids(g.SortedEvents())
	assert.Equal(t, []string{"c-z", "c-a", "c-b"}, ordered)
}

// A backlink naming an event absent from the pool truncates history
// instead of failing.
func TestGraph_UnresolvableBacklinkSkipped(t *testing.T) {
	pubA := pub("p-a", "topic-a", 0, "c-gone")
	conA := con("c-a", "topic-a", 0, "node-b")

	g := BuildGraph([]*ConsumeFromTopicEvent{conA}, poolOf(pubA, conA))

	ordered := ids(g.SortedEvents())
	assert.Equal(t, []string{"c-a"}, ordered)
}

// The same consume event reachable through two paths appears exactly once.
func TestGraph_SharedAncestorNotDuplicated(t *testing.T) {
	conRoot := con("c-root", "workflow_input", 0, "fan")
	pubL := pub("p-l", "topic-l", 0, "c-root")
	pubR := pub("p-r", "topic-r", 0, "c-root")
	conL := con("c-l", "topic-l", 0, "join")
	conR := con("c-r", "topic-r", 0, "join")

	pool := poolOf(conRoot, pubL, pubR, conL, conR)
	g := BuildGraph([]*ConsumeFromTopicEvent{conL, conR}, pool)

	ordered := ids(g.SortedEvents())
	require.Len(t, ordered, 3)
	assert.Equal(t, "c-root", ordered[0])
}
