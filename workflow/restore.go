package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/calyptra/flume/event"
	"github.com/calyptra/flume/message"
	"github.com/calyptra/flume/metrics"
	"github.com/calyptra/flume/topic"
)

// initialize prepares the run for a request: with no recorded publish or
// consume events the request is fresh and the input is seeded onto the
// entry topic; otherwise the recorded log is replayed into the topics and
// the nodes left ready by the interruption are re-enqueued.
func (w *Workflow) initialize(ctx context.Context, ec event.ExecutionContext, input []message.Message) error {
	w.queue.reset()
	for _, t := range w.topics {
		t.Reset()
	}

	stored, err := w.store.RequestEvents(ctx, ec.RequestID)
	if err != nil {
		return fmt.Errorf("workflow %q: load request events: %w", w.name, err)
	}

	var log []event.Event
	for _, ev := range stored {
		switch ev.Type() {
		case event.TypePublishToTopic, event.TypeConsumeFromTopic:
			log = append(log, ev)
		}
	}

	if len(log) == 0 {
		return w.startFresh(ctx, ec, input)
	}
	return w.resume(ctx, ec, log, input)
}

// startFresh seeds a new request: the conversation's prior exchanges are
// prepended to the caller's input and the whole sequence is published to
// the entry topic.
func (w *Workflow) startFresh(ctx context.Context, ec event.ExecutionContext, input []message.Message) error {
	entry, ok := w.topics[topic.Entry]
	if !ok {
		return fmt.Errorf("workflow %q: %w", w.name, ErrNoEntryTopic)
	}

	history, err := w.conversationHistory(ctx, ec)
	if err != nil {
		return err
	}
	seed := make([]message.Message, 0, len(history)+len(input))
	seed = append(seed, history...)
	seed = append(seed, input...)

	ev := entry.PublishData(ec, w.name, WorkflowType, seed, nil, w.ids.NewID)
	if ev == nil {
		return nil
	}
	metrics.EventsPublishedTotal.WithLabelValues(w.name, entry.Name()).Inc()
	if err := w.store.RecordEvent(ctx, ev); err != nil {
		return fmt.Errorf("workflow %q: record entry event: %w", w.name, err)
	}
	return nil
}

// conversationHistory flattens the conversation's prior workflow respond
// events into a timestamp-ordered message sequence.
func (w *Workflow) conversationHistory(ctx context.Context, ec event.ExecutionContext) ([]message.Message, error) {
	if ec.ConversationID == "" {
		return nil, nil
	}
	stored, err := w.store.ConversationEvents(ctx, ec.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("workflow %q: load conversation events: %w", w.name, err)
	}

	var msgs []message.Message
	for _, ev := range stored {
		wr, ok := ev.(*event.WorkflowRespondEvent)
		if !ok || wr.ExecutionContext.RequestID == ec.RequestID {
			continue
		}
		msgs = append(msgs, wr.Input...)
		msgs = append(msgs, wr.Output...)
	}
	message.SortByTimestamp(msgs)
	return msgs, nil
}

// resume replays the recorded log into the topics, restoring offsets and
// consumer cursors exactly as they stood when the run was interrupted,
// then re-enqueues every node left ready. Replay restores state without
// re-recording or re-dispatching: the publish handlers stay quiet and
// readiness is recomputed from the restored cursors.
//
// When a restored publish sits on a human input topic whose consumer has
// not yet read it, the caller's input is merged into the stored event in
// place and the merge persisted, upserting the original event.
func (w *Workflow) resume(ctx context.Context, ec event.ExecutionContext, log []event.Event, input []message.Message) error {
	for _, ev := range log {
		name := topicNameOf(ev)
		t, ok := w.topics[name]
		if !ok {
			return &CorruptLogError{
				RequestID: ec.RequestID,
				Reason:    fmt.Sprintf("event %s references unknown topic %q", ev.ID(), name),
			}
		}
		if err := t.Restore(ev); err != nil {
			return &CorruptLogError{
				RequestID: ec.RequestID,
				Reason:    fmt.Sprintf("restore event %s into topic %q: %v", ev.ID(), name, err),
			}
		}
	}

	enqueued := make(map[string]bool, len(w.nodes))
	for _, ev := range log {
		pub, ok := ev.(*event.PublishToTopicEvent)
		if !ok {
			continue
		}
		t := w.topics[pub.TopicName]
		for _, nodeName := range w.topicNodes[pub.TopicName] {
			if enqueued[nodeName] {
				continue
			}
			node := w.nodes[nodeName]
			if !t.CanConsume(nodeName) || !node.CanExecute() {
				continue
			}
			if t.CanAppendUserInput(nodeName, pub) {
				// The run is paused on this event. Without new input it
				// stays paused; with input, merge and proceed.
				if len(input) == 0 {
					continue
				}
				merged, err := t.AppendUserInput(pub, input)
				if err != nil {
					return fmt.Errorf("workflow %q: merge user input: %w", w.name, err)
				}
				merged.Timestamp = time.Now().UTC()
				if err := w.store.RecordEvent(ctx, merged); err != nil {
					return fmt.Errorf("workflow %q: record merged input: %w", w.name, err)
				}
			}
			enqueued[nodeName] = true
			w.queue.push(node)
			w.logger.Debug("node re-enqueued on resume",
				"workflow", w.name,
				"node", nodeName,
				"topic", pub.TopicName,
				"request_id", ec.RequestID,
			)
		}
	}
	return nil
}

func topicNameOf(ev event.Event) string {
	switch e := ev.(type) {
	case *event.PublishToTopicEvent:
		return e.TopicName
	case *event.ConsumeFromTopicEvent:
		return e.TopicName
	}
	return ""
}
