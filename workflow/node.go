package workflow

import (
	"context"

	"github.com/calyptra/flume/event"
	"github.com/calyptra/flume/message"
	"github.com/calyptra/flume/topic"
)

// NodeKind is the closed set of node variants.
type NodeKind int

const (
	// KindGenerate produces new messages (e.g. a model call).
	KindGenerate NodeKind = iota
	// KindFunctionCall resolves tool calls and publishes their results.
	// Its ToolSpecs are linked at build time onto the generate nodes that
	// feed it.
	KindFunctionCall
	// KindStream produces messages incrementally. When it publishes to
	// the output topic, its live stream is handed to the caller instead
	// of being drained by the engine.
	KindStream
)

func (k NodeKind) String() string {
	switch k {
	case KindFunctionCall:
		return "function_call"
	case KindStream:
		return "stream"
	default:
		return "generate"
	}
}

// NodeInput is everything a node body receives for one invocation.
type NodeInput struct {
	// Consumed are the events drained from the node's subscribed topics
	// in this pass.
	Consumed []*event.ConsumeFromTopicEvent

	// Messages is the node's full transitive input in deterministic
	// causal order, with tool calls and tool results paired and, for a
	// generate node, linked tool specs attached to the last message.
	Messages []message.Message
}

// Handler is the external node body. Execute must be deterministic given
// identical input so replay reproduces the run. A returned error is fatal
// to the invocation; the engine performs no implicit retry, and because
// nothing was recorded for the failed step, re-invoking the workflow
// resumes correctly.
type Handler interface {
	Execute(ctx context.Context, ec event.ExecutionContext, in NodeInput) ([]message.Message, error)
}

// StreamHandler is the asynchronous node body: a finite, lazily-produced
// message sequence. A fresh call produces a fresh sequence; a stream is
// never restartable.
type StreamHandler interface {
	Handler
	ExecuteStream(ctx context.Context, ec event.ExecutionContext, in NodeInput) (*message.Stream, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, ec event.ExecutionContext, in NodeInput) ([]message.Message, error)

func (f HandlerFunc) Execute(ctx context.Context, ec event.ExecutionContext, in NodeInput) ([]message.Message, error) {
	return f(ctx, ec, in)
}

// NodeConfig declares one node of the workflow graph.
type NodeConfig struct {
	Name string
	Kind NodeKind

	// Subscribes gates readiness: the node becomes ready when any one of
	// the expressions is satisfied.
	Subscribes []topic.Expression

	// PublishTo receives the node's output after each invocation.
	PublishTo []*topic.Topic

	// Handler is the node body. For KindStream it must also implement
	// StreamHandler.
	Handler Handler

	// Tools declares the callables a KindFunctionCall node can resolve.
	Tools []message.ToolSpec
}

// Node is the engine-owned wrapper around a declared node. Nodes are
// stateless across invocations: their subscription cursors live in the
// topics they read, not in the node itself.
type Node struct {
	name          string
	kind          NodeKind
	subscriptions []topic.Expression
	subscribed    map[string]*topic.Topic
	publishTo     []*topic.Topic
	handler       Handler
	tools         []message.ToolSpec
}

// Name returns the node name, unique within the workflow.
func (n *Node) Name() string { return n.name }

// Kind returns the node variant.
func (n *Node) Kind() NodeKind { return n.kind }

// Tools returns the tool specs linked to this node at build time.
func (n *Node) Tools() []message.ToolSpec { return n.tools }

// CanExecute reports readiness: at least one subscription expression is
// satisfied, where a topic satisfies its leaf iff it has unconsumed data
// for this node. A node joining two topics with And only becomes ready
// once both hold unconsumed data.
func (n *Node) CanExecute() bool {
	for _, expr := range n.subscriptions {
		if expr.Eval(func(t *topic.Topic) bool { return t.CanConsume(n.name) }) {
			return true
		}
	}
	return false
}

func (n *Node) streamHandler() (StreamHandler, bool) {
	sh, ok := n.handler.(StreamHandler)
	return sh, ok
}
