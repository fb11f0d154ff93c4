// Package topic implements the named, durable pub/sub channels that
// workflow nodes communicate through: ordered offset-indexed publish
// events, per-consumer read cursors, and publish gating.
//
// A topic is owned exclusively by one workflow instance. It is created at
// build time, reset at the start of each top-level invocation, and
// repopulated either by fresh publishes or by replaying stored events.
package topic

import (
	"fmt"
	"time"

	"github.com/calyptra/flume/event"
	"github.com/calyptra/flume/message"
)

// Reserved topic names. Every workflow must contain the entry topic or
// the output topic (usually both).
const (
	// Entry is the workflow's designated input source.
	Entry = "workflow_input"
	// Output is the workflow's designated output sink.
	Output = "workflow_output"
)

// Kind distinguishes the closed set of topic specializations.
type Kind int

const (
	// KindDefault is an ordinary pub/sub topic.
	KindDefault Kind = iota
	// KindEntry accepts only the first publish of a run.
	KindEntry
	// KindOutput is a sink: its publishes never re-trigger readiness.
	KindOutput
	// KindHumanInput allows an external actor to merge new input into a
	// pending, not-yet-consumed publish event.
	KindHumanInput
)

func (k Kind) String() string {
	switch k {
	case KindEntry:
		return "entry"
	case KindOutput:
		return "output"
	case KindHumanInput:
		return "human_input"
	default:
		return "topic"
	}
}

// Condition decides whether a publish goes through. The default condition
// declines empty data, so optional branches that produce nothing publish
// nothing.
type Condition func([]message.Message) bool

// PublishHandler is invoked after a fresh publish is appended. The
// workflow installs its readiness dispatcher here; replayed events never
// fire it.
type PublishHandler func(*event.PublishToTopicEvent)

// Topic is a named channel with an ordered event sequence and
// per-consumer cursors. Not safe for concurrent use: a topic belongs to
// exactly one workflow instance, which serializes all access.
type Topic struct {
	name      string
	kind      Kind
	condition Condition
	handler   PublishHandler

	events  []*event.PublishToTopicEvent
	cursors map[string]int64 // consumer name -> next offset to read
}

// Option configures a topic at construction.
type Option func(*Topic)

// WithCondition replaces the default non-empty-data publish condition.
func WithCondition(cond Condition) Option {
	return func(t *Topic) { t.condition = cond }
}

// New creates an ordinary topic.
func New(name string, opts ...Option) *Topic {
	t := &Topic{
		name:      name,
		kind:      KindDefault,
		condition: func(data []message.Message) bool { return len(data) > 0 },
		cursors:   make(map[string]int64),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewEntry creates the workflow entry topic.
func NewEntry(opts ...Option) *Topic {
	t := New(Entry, opts...)
	t.kind = KindEntry
	return t
}

// NewOutput creates the workflow output topic.
func NewOutput(opts ...Option) *Topic {
	t := New(Output, opts...)
	t.kind = KindOutput
	return t
}

// NewHumanInput creates a human-input topic with the given name.
func NewHumanInput(name string, opts ...Option) *Topic {
	t := New(name, opts...)
	t.kind = KindHumanInput
	return t
}

// Name returns the topic name.
func (t *Topic) Name() string { return t.name }

// Kind returns the topic specialization.
func (t *Topic) Kind() Kind { return t.kind }

// SetPublishHandler installs the post-publish callback. Called once by
// the workflow during the build phase.
func (t *Topic) SetPublishHandler(h PublishHandler) { t.handler = h }

// Events returns the published sequence. The returned slice is shared;
// callers must not mutate it.
func (t *Topic) Events() []*event.PublishToTopicEvent { return t.events }

// PublishData appends a new publish event at the next offset, with causal
// backlinks to the consume events that produced the data, then fires the
// publish handler. Returns nil when the publish policy declines: empty
// data under the default condition, or any publish after the first on an
// entry topic.
func (t *Topic) PublishData(
	ec event.ExecutionContext,
	publisherName, publisherType string,
	data []message.Message,
	consumedEvents []*event.ConsumeFromTopicEvent,
	newID func() string,
) *event.PublishToTopicEvent {
	if !t.condition(data) {
		return nil
	}
	if t.kind == KindEntry && len(t.events) > 0 {
		return nil
	}

	consumedIDs := make([]string, 0, len(consumedEvents))
	for _, c := range consumedEvents {
		consumedIDs = append(consumedIDs, c.ID())
	}

	ev := &event.PublishToTopicEvent{
		Base: event.Base{
			EventID:          newID(),
			EventType:        event.TypePublishToTopic,
			Timestamp:        time.Now().UTC(),
			ExecutionContext: ec,
		},
		TopicName:        t.name,
		Offset:           int64(len(t.events)),
		PublisherName:    publisherName,
		PublisherType:    publisherType,
		ConsumedEventIDs: consumedIDs,
		Data:             data,
	}
	t.events = append(t.events, ev)

	if t.handler != nil {
		t.handler(ev)
	}
	return ev
}

// CanConsume reports whether the consumer has at least one event past its
// cursor.
func (t *Topic) CanConsume(consumer string) bool {
	return t.cursors[consumer] < int64(len(t.events))
}

// Consume returns every unconsumed event for the consumer and advances
// its cursor to the latest offset. A second call without an intervening
// publish returns nothing: exactly-once delivery is the cursor's job.
func (t *Topic) Consume(consumer string) []*event.PublishToTopicEvent {
	cursor := t.cursors[consumer]
	if cursor >= int64(len(t.events)) {
		return nil
	}
	out := make([]*event.PublishToTopicEvent, len(t.events)-int(cursor))
	copy(out, t.events[cursor:])
	t.cursors[consumer] = int64(len(t.events))
	return out
}

// Reset clears published events and all cursors so the topic object can
// be reused across runs.
func (t *Topic) Reset() {
	t.events = nil
	t.cursors = make(map[string]int64)
}

// Restore re-inserts a previously stored event during log replay without
// firing handlers. Publish events rebuild the sequence; consume events
// rebuild cursors. A consume event referencing an offset the topic never
// produced means the replay state is corrupted, which is fatal.
func (t *Topic) Restore(ev event.Event) error {
	switch e := ev.(type) {
	case *event.PublishToTopicEvent:
		if e.TopicName != t.name {
			return fmt.Errorf("restore: event for topic %q replayed into %q", e.TopicName, t.name)
		}
		if e.Offset < int64(len(t.events)) {
			// Same offset seen again: the stored event was updated in
			// place (human-input merge). The later record wins.
			t.events[e.Offset] = e
			return nil
		}
		if e.Offset != int64(len(t.events)) {
			return fmt.Errorf("restore: topic %q expected offset %d, got %d", t.name, len(t.events), e.Offset)
		}
		t.events = append(t.events, e)
		return nil

	case *event.ConsumeFromTopicEvent:
		if e.TopicName != t.name {
			return fmt.Errorf("restore: event for topic %q replayed into %q", e.TopicName, t.name)
		}
		if e.Offset >= int64(len(t.events)) {
			return fmt.Errorf("restore: topic %q consume at offset %d but only %d events published", t.name, e.Offset, len(t.events))
		}
		if next := e.Offset + 1; next > t.cursors[e.ConsumerName] {
			t.cursors[e.ConsumerName] = next
		}
		return nil

	default:
		return fmt.Errorf("restore: topic %q cannot restore %s event", t.name, ev.Type())
	}
}

// CanAppendUserInput reports whether new external input may be merged
// into the given pending publish event: only on a human-input topic, and
// only while the consumer has not yet consumed it.
func (t *Topic) CanAppendUserInput(consumer string, ev *event.PublishToTopicEvent) bool {
	if t.kind != KindHumanInput {
		return false
	}
	if ev.Offset >= int64(len(t.events)) {
		return false
	}
	return t.cursors[consumer] <= ev.Offset
}

// AppendUserInput merges new messages into an existing, not-yet-consumed
// publish event rather than creating a new one. The stored event keeps
// its id and offset; the returned event carries the merged data and must
// be re-recorded so the log reflects the update in place.
func (t *Topic) AppendUserInput(ev *event.PublishToTopicEvent, data []message.Message) (*event.PublishToTopicEvent, error) {
	if t.kind != KindHumanInput {
		return nil, fmt.Errorf("topic %q: append user input on %s topic", t.name, t.kind)
	}
	if ev.Offset >= int64(len(t.events)) {
		return nil, fmt.Errorf("topic %q: append user input at offset %d but only %d events published", t.name, ev.Offset, len(t.events))
	}
	stored := t.events[ev.Offset]
	stored.Data = append(stored.Data, data...)
	return stored, nil
}
