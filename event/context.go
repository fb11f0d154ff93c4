package event

// ExecutionContext identifies a conversation, a single run, and a single
// external request. It is immutable for the duration of a run and carried
// by every event so replay queries can scope by request or conversation.
type ExecutionContext struct {
	ConversationID string `json:"conversation_id"`
	ExecutionID    string `json:"execution_id"`
	RequestID      string `json:"request_id"`
	UserID         string `json:"user_id,omitempty"`
}
