package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/calyptra/flume/event"
	"github.com/calyptra/flume/message"
	"github.com/calyptra/flume/workflow"
)

// builtinHandler maps a definition's handler name to a node body. The
// built-ins are deterministic text transforms, which keeps runs and
// replays reproducible without any external service.
func builtinHandler(nd NodeDef) (workflow.Handler, error) {
	switch nd.Handler {
	case "echo":
		prefix := nd.Prefix
		return workflow.HandlerFunc(func(_ context.Context, _ event.ExecutionContext, in workflow.NodeInput) ([]message.Message, error) {
			return []message.Message{message.NewAssistantMessage(prefix + lastContent(in))}, nil
		}), nil

	case "static":
		if nd.Reply == "" {
			return nil, fmt.Errorf("node %q: static handler requires reply", nd.Name)
		}
		reply := nd.Reply
		return workflow.HandlerFunc(func(_ context.Context, _ event.ExecutionContext, _ workflow.NodeInput) ([]message.Message, error) {
			return []message.Message{message.NewAssistantMessage(reply)}, nil
		}), nil

	case "uppercase":
		return workflow.HandlerFunc(func(_ context.Context, _ event.ExecutionContext, in workflow.NodeInput) ([]message.Message, error) {
			return []message.Message{message.NewAssistantMessage(strings.ToUpper(lastContent(in)))}, nil
		}), nil

	case "join":
		sep := nd.Prefix
		if sep == "" {
			sep = " "
		}
		return workflow.HandlerFunc(func(_ context.Context, _ event.ExecutionContext, in workflow.NodeInput) ([]message.Message, error) {
			parts := make([]string, 0, len(in.Messages))
			for _, m := range in.Messages {
				if m.Content != "" {
					parts = append(parts, m.Content)
				}
			}
			return []message.Message{message.NewAssistantMessage(strings.Join(parts, sep))}, nil
		}), nil

	default:
		return nil, fmt.Errorf("node %q: unknown handler %q", nd.Name, nd.Handler)
	}
}

func lastContent(in workflow.NodeInput) string {
	if len(in.Messages) == 0 {
		return ""
	}
	return in.Messages[len(in.Messages)-1].Content
}
