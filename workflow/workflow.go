// Package workflow implements the event-driven orchestration engine: it
// wires nodes and topics into a graph at build time, then drives
// execution by reacting to publish events, persisting every consumed and
// published event so an interrupted run can be reconstructed purely from
// the log.
package workflow

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/calyptra/flume/event"
	"github.com/calyptra/flume/store"
	"github.com/calyptra/flume/topic"
)

// WorkflowType identifies this engine in recorded events.
const WorkflowType = "event_driven_workflow"

// DefaultMaxSteps bounds node invocations per run so a publish/consume
// cycle between nodes cannot spin forever.
const DefaultMaxSteps = 1000

// Config declares a workflow. Validation and wiring happen once, in New.
type Config struct {
	// Name identifies the workflow in recorded events and logs.
	Name string

	// Store receives every event. Owned by whoever composes the
	// workflow; the engine never opens or closes it.
	Store store.EventStore

	// Nodes in declaration order.
	Nodes []NodeConfig

	// IDs generates event ids. Defaults to UUIDv7Generator.
	IDs IDGenerator

	// MaxSteps overrides DefaultMaxSteps when positive.
	MaxSteps int

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Workflow is the orchestration engine for one workflow graph.
//
// A workflow instance owns its topics and is driven repeatedly by
// Execute/ExecuteStream for successive requests within a conversation.
// Invocations are serialized: the instance mutex is held for the whole
// run, so a workflow instance is invoked at most once concurrently.
type Workflow struct {
	name     string
	store    store.EventStore
	ids      IDGenerator
	logger   *slog.Logger
	maxSteps int

	nodes      map[string]*Node
	nodeOrder  []string
	topics     map[string]*topic.Topic
	topicNodes map[string][]string // topic name -> subscriber node names

	mu    sync.Mutex
	queue *nodeQueue

	// ec is the context of the invocation in flight; only valid while mu
	// is held.
	ec event.ExecutionContext
}

// New validates the configuration and wires the topic/node graph.
//
// The build runs in two phases: first every topic referenced by any
// subscription or publish target is registered (with the workflow's
// readiness dispatcher as its publish handler), then nodes are linked,
// so topics always exist before node linking. Duplicate node names,
// missing handlers, and a graph without entry or output topic are fatal
// configuration errors.
func New(cfg Config) (*Workflow, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("workflow name is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("workflow %q: event store is required", cfg.Name)
	}
	if cfg.IDs == nil {
		cfg.IDs = UUIDv7Generator{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}

	w := &Workflow{
		name:       cfg.Name,
		store:      cfg.Store,
		ids:        cfg.IDs,
		logger:     cfg.Logger,
		maxSteps:   cfg.MaxSteps,
		nodes:      make(map[string]*Node),
		topics:     make(map[string]*topic.Topic),
		topicNodes: make(map[string][]string),
		queue:      newNodeQueue(),
	}

	// Phase 1: register nodes and collect every referenced topic.
	for _, nc := range cfg.Nodes {
		if nc.Name == "" {
			return nil, fmt.Errorf("workflow %q: node with empty name", cfg.Name)
		}
		if _, exists := w.nodes[nc.Name]; exists {
			return nil, &DuplicateNodeError{Name: nc.Name}
		}
		if nc.Handler == nil {
			return nil, fmt.Errorf("workflow %q: node %q has no handler", cfg.Name, nc.Name)
		}
		if nc.Kind == KindStream {
			if _, ok := nc.Handler.(StreamHandler); !ok {
				return nil, fmt.Errorf("workflow %q: stream node %q handler does not implement StreamHandler", cfg.Name, nc.Name)
			}
		}

		n := &Node{
			name:          nc.Name,
			kind:          nc.Kind,
			subscriptions: nc.Subscribes,
			subscribed:    make(map[string]*topic.Topic),
			publishTo:     nc.PublishTo,
			handler:       nc.Handler,
			tools:         nc.Tools,
		}

		for _, expr := range nc.Subscribes {
			if len(expr.Topics()) == 0 {
				return nil, fmt.Errorf("workflow %q: node %q has an empty subscription expression", cfg.Name, nc.Name)
			}
			for _, t := range expr.Topics() {
				if err := w.registerTopic(t); err != nil {
					return nil, fmt.Errorf("workflow %q: node %q: %w", cfg.Name, nc.Name, err)
				}
				if n.subscribed[t.Name()] == nil {
					n.subscribed[t.Name()] = t
					w.topicNodes[t.Name()] = append(w.topicNodes[t.Name()], nc.Name)
				}
			}
		}
		for _, t := range nc.PublishTo {
			if err := w.registerTopic(t); err != nil {
				return nil, fmt.Errorf("workflow %q: node %q: %w", cfg.Name, nc.Name, err)
			}
		}

		w.nodes[nc.Name] = n
		w.nodeOrder = append(w.nodeOrder, nc.Name)
	}

	if _, hasEntry := w.topics[topic.Entry]; !hasEntry {
		if _, hasOutput := w.topics[topic.Output]; !hasOutput {
			return nil, fmt.Errorf("workflow %q: %w", cfg.Name, ErrNoEntryOrOutput)
		}
	}

	// Phase 2: link function-call nodes to the generate nodes that feed
	// them, so a generate node can attach the downstream callable specs
	// to its own input.
	w.linkToolSpecs()

	return w, nil
}

func (w *Workflow) registerTopic(t *topic.Topic) error {
	existing, ok := w.topics[t.Name()]
	if ok {
		if existing != t {
			return fmt.Errorf("topic %q declared twice with different instances", t.Name())
		}
		return nil
	}
	t.SetPublishHandler(w.onPublish)
	w.topics[t.Name()] = t
	return nil
}

// linkToolSpecs copies each function-call node's tool specs onto every
// generate node that publishes to a topic the function-call node
// subscribes to.
func (w *Workflow) linkToolSpecs() {
	// Topic name -> generate nodes publishing to it.
	publishers := make(map[string][]*Node)
	for _, name := range w.nodeOrder {
		n := w.nodes[name]
		if n.kind != KindGenerate {
			continue
		}
		for _, t := range n.publishTo {
			publishers[t.Name()] = append(publishers[t.Name()], n)
		}
	}

	for _, name := range w.nodeOrder {
		fn := w.nodes[name]
		if fn.kind != KindFunctionCall || len(fn.tools) == 0 {
			continue
		}
		for topicName := range fn.subscribed {
			for _, gen := range publishers[topicName] {
				gen.tools = append(gen.tools, fn.tools...)
			}
		}
	}
}

// onPublish is the default publish handler for every topic: it runs
// readiness checks on the topic's subscribers and appends newly-ready
// nodes to the tail of the execution queue (breadth-first propagation).
//
// The output topic is a sink and never re-triggers readiness. A
// human-input topic does not dispatch either: its publish waits for the
// external actor, and the subscriber is enqueued on the next invocation
// once the actor's input has been merged in.
func (w *Workflow) onPublish(ev *event.PublishToTopicEvent) {
	t, ok := w.topics[ev.TopicName]
	if !ok || t.Kind() == topic.KindOutput || t.Kind() == topic.KindHumanInput {
		return
	}
	for _, name := range w.topicNodes[ev.TopicName] {
		n := w.nodes[name]
		if n.CanExecute() {
			w.logger.Debug("node ready",
				"workflow", w.name,
				"node", name,
				"topic", ev.TopicName,
				"offset", ev.Offset,
			)
			w.queue.push(n)
		}
	}
}

// Name returns the workflow name.
func (w *Workflow) Name() string { return w.name }

// Node returns a registered node by name, or nil.
func (w *Workflow) Node(name string) *Node { return w.nodes[name] }

// Topic returns a registered topic by name, or nil.
func (w *Workflow) Topic(name string) *topic.Topic { return w.topics[name] }

// QueueLen returns the number of queued ready nodes. Zero between
// invocations; useful for tests and diagnostics.
func (w *Workflow) QueueLen() int { return w.queue.len() }
