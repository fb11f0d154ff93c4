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

// Execute runs the workflow for one external request: publish the input
// (or resume from the recorded log), drain the execution queue, and
// return the messages that reached the output topic.
//
// The whole invocation is serialized on the instance mutex.
func (w *Workflow) Execute(ctx context.Context, ec event.ExecutionContext, input []message.Message) ([]message.Message, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	start := time.Now()
	out, err := w.run(ctx, ec, input, nil)
	status := "succeeded"
	if err != nil {
		status = "failed"
	}
	metrics.RunsTotal.WithLabelValues(w.name, status).Inc()
	metrics.RunDuration.WithLabelValues(w.name, status).Observe(time.Since(start).Seconds())
	return out, err
}

// ExecuteStream runs the workflow in asynchronous mode. Interior nodes
// with stream bodies are drained and their chunks aggregated into the
// published message set; when the terminal streaming node (a KindStream
// node publishing to the output topic) executes, its live stream is
// returned to the caller, who must consume it to completion. If no
// terminal streaming node runs, the returned stream carries the output
// topic's messages and is already closed.
func (w *Workflow) ExecuteStream(ctx context.Context, ec event.ExecutionContext, input []message.Message) (*message.Stream, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	start := time.Now()
	terminal := &terminalStream{}
	out, err := w.run(ctx, ec, input, terminal)
	status := "succeeded"
	if err != nil {
		status = "failed"
	}
	metrics.RunsTotal.WithLabelValues(w.name, status).Inc()
	metrics.RunDuration.WithLabelValues(w.name, status).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if terminal.stream != nil {
		return terminal.stream, nil
	}

	s := message.NewStreamBuffered(len(out) + 1)
	for _, m := range out {
		if err := s.Send(ctx, m); err != nil {
			return nil, err
		}
	}
	s.Close()
	return s, nil
}

// terminalStream carries the live stream of the terminal streaming node
// out of the run loop. nil stream means no terminal stream node executed.
type terminalStream struct {
	stream *message.Stream
}

// run is the invocation state machine: initialize (reset topics, fresh or
// resumed seeding), drain the queue, then record the workflow-level
// respond event and return the output topic's messages.
func (w *Workflow) run(ctx context.Context, ec event.ExecutionContext, input []message.Message, terminal *terminalStream) ([]message.Message, error) {
	w.ec = ec
	if err := w.initialize(ctx, ec, input); err != nil {
		return nil, err
	}

	steps := 0
	for {
		node, ok := w.queue.pop()
		if !ok {
			break
		}
		steps++
		if steps > w.maxSteps {
			w.queue.reset()
			return nil, fmt.Errorf("workflow %q: %w (%d)", w.name, ErrMaxStepsExceeded, w.maxSteps)
		}

		done, err := w.step(ctx, ec, node, terminal)
		if err != nil {
			w.queue.reset()
			return nil, err
		}
		if done {
			// Terminal streaming node: the caller owns the live stream;
			// nothing further may be queued behind the output topic.
			w.queue.reset()
			return nil, nil
		}
	}

	output := w.collectOutput()

	respond := &event.WorkflowRespondEvent{
		Base: event.Base{
			EventID:          w.ids.NewID(),
			EventType:        event.TypeWorkflowRespond,
			Timestamp:        time.Now().UTC(),
			ExecutionContext: ec,
		},
		WorkflowName: w.name,
		WorkflowType: WorkflowType,
		Input:        input,
		Output:       output,
	}
	if err := w.store.RecordEvent(ctx, respond); err != nil {
		return nil, fmt.Errorf("workflow %q: record respond event: %w", w.name, err)
	}

	w.logger.Info("workflow drained",
		"workflow", w.name,
		"request_id", ec.RequestID,
		"steps", steps,
		"output_messages", len(output),
	)
	return output, nil
}

// step executes one queued node: gather its due input, invoke the body,
// publish the result, and persist the consumed and published events plus
// the node respond event as one atomic batch. Returns done=true when the
// node was the terminal streaming node.
func (w *Workflow) step(ctx context.Context, ec event.ExecutionContext, node *Node, terminal *terminalStream) (done bool, err error) {
	consumed := w.gatherConsumed(ec, node)
	if len(consumed) == 0 {
		// A duplicate queue entry, or another node drained the shared
		// topic first. Not an error.
		return false, nil
	}

	in, err := w.orderedInput(ctx, ec, node, consumed)
	if err != nil {
		return false, err
	}

	if terminal != nil {
		if sh, ok := node.streamHandler(); ok {
			if node.kind == KindStream && publishesToOutput(node) {
				return true, w.stepTerminalStream(ctx, ec, node, sh, in, terminal)
			}
			return false, w.stepDrainStream(ctx, ec, node, sh, in)
		}
	}

	output, err := node.handler.Execute(ctx, ec, in)
	if err != nil {
		metrics.NodeExecutionsTotal.WithLabelValues(w.name, node.name, "failed").Inc()
		return false, fmt.Errorf("node %q: %w", node.name, err)
	}
	metrics.NodeExecutionsTotal.WithLabelValues(w.name, node.name, "succeeded").Inc()

	return false, w.publishAndPersist(ctx, ec, node, in.Consumed, output)
}

// stepDrainStream fully drains an interior stream node, aggregating the
// chunks into the published message set.
func (w *Workflow) stepDrainStream(ctx context.Context, ec event.ExecutionContext, node *Node, sh StreamHandler, in NodeInput) error {
	s, err := sh.ExecuteStream(ctx, ec, in)
	if err != nil {
		metrics.NodeExecutionsTotal.WithLabelValues(w.name, node.name, "failed").Inc()
		return fmt.Errorf("node %q: %w", node.name, err)
	}
	output, err := s.Drain()
	if err != nil {
		metrics.NodeExecutionsTotal.WithLabelValues(w.name, node.name, "failed").Inc()
		return fmt.Errorf("node %q: %w", node.name, err)
	}
	metrics.NodeExecutionsTotal.WithLabelValues(w.name, node.name, "succeeded").Inc()
	return w.publishAndPersist(ctx, ec, node, in.Consumed, output)
}

// stepTerminalStream records the consumed events and hands the live
// stream to the caller. The stream's content is not published to topics:
// the caller is its only consumer, and the output is not known until the
// caller drains it.
func (w *Workflow) stepTerminalStream(ctx context.Context, ec event.ExecutionContext, node *Node, sh StreamHandler, in NodeInput, terminal *terminalStream) error {
	s, err := sh.ExecuteStream(ctx, ec, in)
	if err != nil {
		metrics.NodeExecutionsTotal.WithLabelValues(w.name, node.name, "failed").Inc()
		return fmt.Errorf("node %q: %w", node.name, err)
	}
	metrics.NodeExecutionsTotal.WithLabelValues(w.name, node.name, "succeeded").Inc()

	batch := make([]event.Event, 0, len(in.Consumed))
	for _, c := range in.Consumed {
		batch = append(batch, c)
	}
	if err := w.store.RecordEvents(ctx, batch); err != nil {
		return fmt.Errorf("node %q: record events: %w", node.name, err)
	}
	terminal.stream = s
	return nil
}

func publishesToOutput(node *Node) bool {
	for _, t := range node.publishTo {
		if t.Kind() == topic.KindOutput {
			return true
		}
	}
	return false
}

// gatherConsumed drains every subscribed topic with unconsumed data and
// wraps each drained publish event as a consume event. The consume
// events are created here, by the engine, at the moment the node actually
// reads.
func (w *Workflow) gatherConsumed(ec event.ExecutionContext, node *Node) []*event.ConsumeFromTopicEvent {
	var consumed []*event.ConsumeFromTopicEvent
	for _, t := range node.subscribed {
		if !t.CanConsume(node.name) {
			continue
		}
		for _, pub := range t.Consume(node.name) {
			consumed = append(consumed, &event.ConsumeFromTopicEvent{
				Base: event.Base{
					EventID:          w.ids.NewID(),
					EventType:        event.TypeConsumeFromTopic,
					Timestamp:        time.Now().UTC(),
					ExecutionContext: pub.ExecutionContext,
				},
				TopicName:    pub.TopicName,
				Offset:       pub.Offset,
				ConsumerName: node.name,
				ConsumerType: node.kind.String(),
				Data:         pub.Data,
			})
			metrics.EventsConsumedTotal.WithLabelValues(w.name, t.Name()).Inc()
		}
	}

	// Map iteration order is random; order the batch by topic then
	// offset so identical runs record identical logs.
	sortConsumed(consumed)
	return consumed
}

func sortConsumed(consumed []*event.ConsumeFromTopicEvent) {
	for i := 1; i < len(consumed); i++ {
		j := i
		for j > 0 && consumeLess(consumed[j], consumed[j-1]) {
			consumed[j], consumed[j-1] = consumed[j-1], consumed[j]
			j--
		}
	}
}

func consumeLess(a, b *event.ConsumeFromTopicEvent) bool {
	if a.TopicName != b.TopicName {
		return a.TopicName < b.TopicName
	}
	return a.Offset < b.Offset
}

// orderedInput builds the node's full invocation input: the directly
// consumed events plus their causally ordered transitive history from
// the request's recorded events, flattened to messages, tool calls
// reconciled, and (for a generate node) linked tool specs attached to
// the last message.
func (w *Workflow) orderedInput(ctx context.Context, ec event.ExecutionContext, node *Node, consumed []*event.ConsumeFromTopicEvent) (NodeInput, error) {
	stored, err := w.store.RequestEvents(ctx, ec.RequestID)
	if err != nil {
		return NodeInput{}, fmt.Errorf("node %q: load request events: %w", node.name, err)
	}
	pool := make(map[string]event.Event, len(stored))
	for _, ev := range stored {
		switch ev.Type() {
		case event.TypePublishToTopic, event.TypeConsumeFromTopic:
			pool[ev.ID()] = ev
		}
	}

	graph := event.BuildGraph(consumed, pool)
	var msgs []message.Message
	for _, ev := range graph.SortedEvents() {
		msgs = append(msgs, ev.Data...)
	}
	msgs = message.ReconcileToolCalls(msgs, w.logger)

	if node.kind == KindGenerate && len(node.tools) > 0 && len(msgs) > 0 {
		msgs[len(msgs)-1].Tools = node.tools
	}

	return NodeInput{Consumed: consumed, Messages: msgs}, nil
}

// publishAndPersist publishes the node's output to every target topic
// and records the consumed events, publish events, and node respond
// event as one batch. Publishing is synchronous and recursively triggers
// readiness dispatch before the batch is persisted.
func (w *Workflow) publishAndPersist(ctx context.Context, ec event.ExecutionContext, node *Node, consumed []*event.ConsumeFromTopicEvent, output []message.Message) error {
	batch := make([]event.Event, 0, len(consumed)+len(node.publishTo)+1)
	for _, c := range consumed {
		batch = append(batch, c)
	}

	for _, t := range node.publishTo {
		ev := t.PublishData(ec, node.name, node.kind.String(), output, consumed, w.ids.NewID)
		if ev == nil {
			continue
		}
		metrics.EventsPublishedTotal.WithLabelValues(w.name, t.Name()).Inc()
		batch = append(batch, ev)
	}

	batch = append(batch, &event.NodeRespondEvent{
		Base: event.Base{
			EventID:          w.ids.NewID(),
			EventType:        event.TypeNodeRespond,
			Timestamp:        time.Now().UTC(),
			ExecutionContext: ec,
		},
		NodeName: node.name,
		NodeType: node.kind.String(),
		Input:    consumed,
		Output:   output,
	})

	if err := w.store.RecordEvents(ctx, batch); err != nil {
		return fmt.Errorf("node %q: record events: %w", node.name, err)
	}
	return nil
}

// collectOutput drains the output topic on behalf of the caller. The
// workflow itself is the output topic's consumer, so a resumed run still
// returns the output published before the interruption.
func (w *Workflow) collectOutput() []message.Message {
	out, ok := w.topics[topic.Output]
	if !ok {
		return nil
	}
	var msgs []message.Message
	for _, ev := range out.Consume(w.name) {
		msgs = append(msgs, ev.Data...)
	}
	return msgs
}
