// Package event defines the event taxonomy of the workflow engine, the
// self-describing envelope used to persist events across process
// restarts, and the causal-order graph used to order a node's transitive
// inputs.
package event

import (
	"time"

	"github.com/calyptra/flume/message"
)

// EventType classifies events in the workflow execution lifecycle.
type EventType string

const (
	TypePublishToTopic   EventType = "publish_to_topic"
	TypeConsumeFromTopic EventType = "consume_from_topic"
	TypeNodeRespond      EventType = "node_respond"
	TypeWorkflowRespond  EventType = "workflow_respond"
)

// Event is the common surface of all recorded events.
type Event interface {
	ID() string
	Type() EventType
	Time() time.Time
	Context() ExecutionContext

	// Envelope returns the persisted, self-describing form of the event.
	Envelope() (*Envelope, error)
}

// Base carries the fields shared by every event variant.
type Base struct {
	EventID          string
	EventType        EventType
	Timestamp        time.Time
	ExecutionContext ExecutionContext
}

func (b *Base) ID() string                { return b.EventID }
func (b *Base) Type() EventType           { return b.EventType }
func (b *Base) Time() time.Time           { return b.Timestamp }
func (b *Base) Context() ExecutionContext { return b.ExecutionContext }

// PublishToTopicEvent records an append to a topic at a specific offset.
// ConsumedEventIDs are the ids of the consume events that causally
// produced this publish (the causal backlinks).
type PublishToTopicEvent struct {
	Base
	TopicName        string
	Offset           int64
	PublisherName    string
	PublisherType    string
	ConsumedEventIDs []string
	Data             []message.Message
}

// ConsumeFromTopicEvent records a node reading one published event.
// It is created by the engine at the moment a node actually reads, never
// by the topic itself. The (TopicName, Offset) pair always references a
// prior PublishToTopicEvent.
type ConsumeFromTopicEvent struct {
	Base
	TopicName    string
	Offset       int64
	ConsumerName string
	ConsumerType string
	Data         []message.Message
}

// NodeRespondEvent records the full input and output of one node
// invocation for audit and replay.
type NodeRespondEvent struct {
	Base
	NodeName string
	NodeType string
	Input    []*ConsumeFromTopicEvent
	Output   []message.Message
}

// WorkflowRespondEvent records the input and output of one whole workflow
// invocation. Prior respond events within a conversation seed the
// conversational context of the next fresh run.
type WorkflowRespondEvent struct {
	Base
	WorkflowName string
	WorkflowType string
	Input        []message.Message
	Output       []message.Message
}
