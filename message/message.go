// Package message defines the value type exchanged between workflow nodes.
//
// Messages are opaque to the engine except for two fields: ToolCalls and
// ToolCallID, which create cross-message ordering constraints (a message
// carrying tool calls must be immediately followed by the matching tool
// results). See ReconcileToolCalls.
package message

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a request embedded in a message to invoke a named callable.
// Arguments is the raw argument payload, typically JSON text.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// ToolSpec describes a callable that a function-call node exposes.
// Parameters is a JSON-schema-shaped description of the arguments.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Message is the unit of data published to and consumed from topics.
//
// Ordering within a node's output is the order produced. ToolCallID links
// a tool-result message back to the ToolCall that requested it.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	Tools      []ToolSpec `json:"tools,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// NewSystemMessage creates a system message stamped with the current time.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content, Timestamp: time.Now().UTC()}
}

// NewUserMessage creates a user message stamped with the current time.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, Timestamp: time.Now().UTC()}
}

// NewAssistantMessage creates an assistant message stamped with the current time.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content, Timestamp: time.Now().UTC()}
}

// NewToolMessage creates a tool-result message for the given call id.
func NewToolMessage(toolCallID, content string) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: toolCallID,
		Timestamp:  time.Now().UTC(),
	}
}

// SortByTimestamp orders messages by their timestamps, oldest first.
// The sort is stable so messages with equal timestamps keep their
// original relative order.
func SortByTimestamp(msgs []Message) {
	// Insertion sort keeps this dependency-free; message batches are small.
	for i := 1; i < len(msgs); i++ {
		j := i
		for j > 0 && msgs[j].Timestamp.Before(msgs[j-1].Timestamp) {
			msgs[j], msgs[j-1] = msgs[j-1], msgs[j]
			j--
		}
	}
}
