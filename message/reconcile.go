package message

import "log/slog"

// ReconcileToolCalls re-interleaves tool-call and tool-result messages so
// that every message carrying ToolCalls is immediately followed by the
// matching tool-result message for each call id, in call order.
//
// Tool-result messages are first lifted out of the sequence, then inserted
// back directly after their requesting message. A call with no recorded
// result is a soft failure: an empty tool-result message is synthesized in
// its place and a warning is logged, so a replayed or truncated log never
// aborts execution.
//
// The input slice is not modified.
func ReconcileToolCalls(msgs []Message, logger *slog.Logger) []Message {
	if logger == nil {
		logger = slog.Default()
	}

	results := make(map[string]Message)
	ordered := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ToolCallID != "" {
			results[m.ToolCallID] = m
			continue
		}
		ordered = append(ordered, m)
	}

	i := 0
	for i < len(ordered) {
		calls := ordered[i].ToolCalls
		if len(calls) == 0 {
			i++
			continue
		}
		for _, call := range calls {
			i++
			if res, ok := results[call.ID]; ok {
				ordered = insertAt(ordered, i, res)
				continue
			}
			logger.Warn("tool result missing, substituting empty message",
				"tool_call_id", call.ID,
				"tool", call.Name,
			)
			ordered = insertAt(ordered, i, Message{
				Role:       RoleTool,
				ToolCallID: call.ID,
			})
		}
		i++
	}

	return ordered
}

func insertAt(msgs []Message, i int, m Message) []Message {
	msgs = append(msgs, Message{})
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = m
	return msgs
}
