package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/calyptra/flume/message"
)

// Envelope is the persisted, self-describing shape of an event: the
// common fields, a type-specific context block, and the data payload
// serialized independently of the in-memory representation. Envelopes are
// what the store writes and what log replay reads back.
type Envelope struct {
	EventID          string           `json:"event_id"`
	EventType        EventType        `json:"event_type"`
	Timestamp        time.Time        `json:"timestamp"`
	ExecutionContext ExecutionContext `json:"execution_context"`
	Context          json.RawMessage  `json:"context"`
	Data             string           `json:"data"`
}

// Type-specific context blocks. Offsets and name fields live here rather
// than in the data payload so queries never need to parse message bodies.
type publishContext struct {
	TopicName        string   `json:"topic_name"`
	Offset           int64    `json:"offset"`
	PublisherName    string   `json:"publisher_name"`
	PublisherType    string   `json:"publisher_type"`
	ConsumedEventIDs []string `json:"consumed_event_ids"`
}

type consumeContext struct {
	TopicName    string `json:"topic_name"`
	Offset       int64  `json:"offset"`
	ConsumerName string `json:"consumer_name"`
	ConsumerType string `json:"consumer_type"`
}

type nodeContext struct {
	NodeName string `json:"node_name"`
	NodeType string `json:"node_type"`
}

type workflowContext struct {
	WorkflowName string `json:"workflow_name"`
	WorkflowType string `json:"workflow_type"`
}

type nodeRespondData struct {
	Input  []*Envelope `json:"input"`
	Output string      `json:"output"`
}

type workflowRespondData struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

func (b *Base) envelope(context any, data string) (*Envelope, error) {
	ctxJSON, err := json.Marshal(context)
	if err != nil {
		return nil, fmt.Errorf("envelope context: %w", err)
	}
	return &Envelope{
		EventID:          b.EventID,
		EventType:        b.EventType,
		Timestamp:        b.Timestamp,
		ExecutionContext: b.ExecutionContext,
		Context:          ctxJSON,
		Data:             data,
	}, nil
}

func marshalMessages(msgs []message.Message) (string, error) {
	if msgs == nil {
		msgs = []message.Message{}
	}
	data, err := MarshalCanonical(msgs)
	if err != nil {
		return "", fmt.Errorf("envelope data: %w", err)
	}
	return string(data), nil
}

func unmarshalMessages(data string) ([]message.Message, error) {
	if data == "" {
		return nil, nil
	}
	var msgs []message.Message
	if err := json.Unmarshal([]byte(data), &msgs); err != nil {
		return nil, fmt.Errorf("envelope data: %w", err)
	}
	return msgs, nil
}

// Envelope implements Event for PublishToTopicEvent.
func (e *PublishToTopicEvent) Envelope() (*Envelope, error) {
	data, err := marshalMessages(e.Data)
	if err != nil {
		return nil, err
	}
	ids := e.ConsumedEventIDs
	if ids == nil {
		ids = []string{}
	}
	return e.envelope(publishContext{
		TopicName:        e.TopicName,
		Offset:           e.Offset,
		PublisherName:    e.PublisherName,
		PublisherType:    e.PublisherType,
		ConsumedEventIDs: ids,
	}, data)
}

// Envelope implements Event for ConsumeFromTopicEvent.
func (e *ConsumeFromTopicEvent) Envelope() (*Envelope, error) {
	data, err := marshalMessages(e.Data)
	if err != nil {
		return nil, err
	}
	return e.envelope(consumeContext{
		TopicName:    e.TopicName,
		Offset:       e.Offset,
		ConsumerName: e.ConsumerName,
		ConsumerType: e.ConsumerType,
	}, data)
}

// Envelope implements Event for NodeRespondEvent.
func (e *NodeRespondEvent) Envelope() (*Envelope, error) {
	output, err := marshalMessages(e.Output)
	if err != nil {
		return nil, err
	}
	input := make([]*Envelope, 0, len(e.Input))
	for _, consumed := range e.Input {
		env, err := consumed.Envelope()
		if err != nil {
			return nil, err
		}
		input = append(input, env)
	}
	data, err := json.Marshal(nodeRespondData{Input: input, Output: output})
	if err != nil {
		return nil, fmt.Errorf("envelope data: %w", err)
	}
	return e.envelope(nodeContext{NodeName: e.NodeName, NodeType: e.NodeType}, string(data))
}

// Envelope implements Event for WorkflowRespondEvent.
func (e *WorkflowRespondEvent) Envelope() (*Envelope, error) {
	input, err := marshalMessages(e.Input)
	if err != nil {
		return nil, err
	}
	output, err := marshalMessages(e.Output)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(workflowRespondData{Input: input, Output: output})
	if err != nil {
		return nil, fmt.Errorf("envelope data: %w", err)
	}
	return e.envelope(workflowContext{WorkflowName: e.WorkflowName, WorkflowType: e.WorkflowType}, string(data))
}

// Decode restores the concrete event variant from its persisted form.
// An unknown event_type is an error: the log cannot be replayed through
// an engine that does not understand all of it.
func (env *Envelope) Decode() (Event, error) {
	base := Base{
		EventID:          env.EventID,
		EventType:        env.EventType,
		Timestamp:        env.Timestamp,
		ExecutionContext: env.ExecutionContext,
	}

	switch env.EventType {
	case TypePublishToTopic:
		var ctx publishContext
		if err := json.Unmarshal(env.Context, &ctx); err != nil {
			return nil, fmt.Errorf("decode %s context: %w", env.EventType, err)
		}
		data, err := unmarshalMessages(env.Data)
		if err != nil {
			return nil, err
		}
		return &PublishToTopicEvent{
			Base:             base,
			TopicName:        ctx.TopicName,
			Offset:           ctx.Offset,
			PublisherName:    ctx.PublisherName,
			PublisherType:    ctx.PublisherType,
			ConsumedEventIDs: ctx.ConsumedEventIDs,
			Data:             data,
		}, nil

	case TypeConsumeFromTopic:
		var ctx consumeContext
		if err := json.Unmarshal(env.Context, &ctx); err != nil {
			return nil, fmt.Errorf("decode %s context: %w", env.EventType, err)
		}
		data, err := unmarshalMessages(env.Data)
		if err != nil {
			return nil, err
		}
		return &ConsumeFromTopicEvent{
			Base:         base,
			TopicName:    ctx.TopicName,
			Offset:       ctx.Offset,
			ConsumerName: ctx.ConsumerName,
			ConsumerType: ctx.ConsumerType,
			Data:         data,
		}, nil

	case TypeNodeRespond:
		var ctx nodeContext
		if err := json.Unmarshal(env.Context, &ctx); err != nil {
			return nil, fmt.Errorf("decode %s context: %w", env.EventType, err)
		}
		var payload nodeRespondData
		if err := json.Unmarshal([]byte(env.Data), &payload); err != nil {
			return nil, fmt.Errorf("decode %s data: %w", env.EventType, err)
		}
		output, err := unmarshalMessages(payload.Output)
		if err != nil {
			return nil, err
		}
		input := make([]*ConsumeFromTopicEvent, 0, len(payload.Input))
		for _, inner := range payload.Input {
			ev, err := inner.Decode()
			if err != nil {
				return nil, err
			}
			consumed, ok := ev.(*ConsumeFromTopicEvent)
			if !ok {
				return nil, fmt.Errorf("decode %s: input event %s is %s, want %s",
					env.EventType, inner.EventID, inner.EventType, TypeConsumeFromTopic)
			}
			input = append(input, consumed)
		}
		return &NodeRespondEvent{
			Base:     base,
			NodeName: ctx.NodeName,
			NodeType: ctx.NodeType,
			Input:    input,
			Output:   output,
		}, nil

	case TypeWorkflowRespond:
		var ctx workflowContext
		if err := json.Unmarshal(env.Context, &ctx); err != nil {
			return nil, fmt.Errorf("decode %s context: %w", env.EventType, err)
		}
		var payload workflowRespondData
		if err := json.Unmarshal([]byte(env.Data), &payload); err != nil {
			return nil, fmt.Errorf("decode %s data: %w", env.EventType, err)
		}
		input, err := unmarshalMessages(payload.Input)
		if err != nil {
			return nil, err
		}
		output, err := unmarshalMessages(payload.Output)
		if err != nil {
			return nil, err
		}
		return &WorkflowRespondEvent{
			Base:         base,
			WorkflowName: ctx.WorkflowName,
			WorkflowType: ctx.WorkflowType,
			Input:        input,
			Output:       output,
		}, nil

	default:
		return nil, fmt.Errorf("decode: unknown event type %q", env.EventType)
	}
}
