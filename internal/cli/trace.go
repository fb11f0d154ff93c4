package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/calyptra/flume/event"
	"github.com/calyptra/flume/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Request  string
	List     bool
}

// TraceEvent is one line of the trace timeline.
type TraceEvent struct {
	Seq      int    `json:"seq"`
	Type     string `json:"type"`
	Topic    string `json:"topic,omitempty"`
	Offset   *int64 `json:"offset,omitempty"`
	Actor    string `json:"actor,omitempty"`
	Messages int    `json:"messages"`
	Links    int    `json:"links,omitempty"`
}

// TraceResult is the trace command's JSON payload.
type TraceResult struct {
	RequestID string       `json:"request_id"`
	Timeline  []TraceEvent `json:"timeline"`
	Stats     TraceStats   `json:"stats"`
}

// TraceStats summarizes a request's log.
type TraceStats struct {
	TotalEvents int  `json:"total_events"`
	Publishes   int  `json:"publishes"`
	Consumes    int  `json:"consumes"`
	Responded   bool `json:"responded"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Print the event timeline of a recorded request",
		Long: `Print the recorded event log of one request in recorded order.

Each line shows the event type, the topic and offset it touched, the
publishing or consuming actor, and how many messages it carried. A
request whose log ends without a workflow respond event was interrupted
or is paused waiting for human input.

Examples:
  flume trace --db ./flume.db --list
  flume trace --db ./flume.db --request req-1
  flume trace --db ./flume.db --request req-1 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Request, "request", "", "request id to trace")
	cmd.Flags().BoolVar(&opts.List, "list", false, "list recorded request ids instead of tracing")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := store.OpenSQLite(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if opts.List {
		ids, err := st.ListRequestIDs(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list requests", err)
		}
		if opts.Format == "json" {
			return formatter.Success(ids)
		}
		for _, id := range ids {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	}

	if opts.Request == "" {
		return NewExitError(ExitCommandError, "either --request or --list is required")
	}

	events, err := st.RequestEvents(ctx, opts.Request)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load request events", err)
	}
	if len(events) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("no events recorded for request %s", opts.Request))
	}

	result := buildTrace(opts.Request, events)
	if opts.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprint(cmd.OutOrStdout(), FormatTraceText(result))
	return nil
}

func buildTrace(requestID string, events []event.Event) TraceResult {
	result := TraceResult{RequestID: requestID, Timeline: make([]TraceEvent, 0, len(events))}
	for i, ev := range events {
		te := TraceEvent{Seq: i + 1, Type: string(ev.Type())}
		switch e := ev.(type) {
		case *event.PublishToTopicEvent:
			offset := e.Offset
			te.Topic = e.TopicName
			te.Offset = &offset
			te.Actor = e.PublisherName
			te.Messages = len(e.Data)
			te.Links = len(e.ConsumedEventIDs)
			result.Stats.Publishes++
		case *event.ConsumeFromTopicEvent:
			offset := e.Offset
			te.Topic = e.TopicName
			te.Offset = &offset
			te.Actor = e.ConsumerName
			te.Messages = len(e.Data)
			result.Stats.Consumes++
		case *event.NodeRespondEvent:
			te.Actor = e.NodeName
			te.Messages = len(e.Output)
			te.Links = len(e.Input)
		case *event.WorkflowRespondEvent:
			te.Actor = e.WorkflowName
			te.Messages = len(e.Output)
			result.Stats.Responded = true
		}
		result.Timeline = append(result.Timeline, te)
	}
	result.Stats.TotalEvents = len(events)
	return result
}

// FormatTraceText renders a trace as the stable text timeline. The
// rendering contains no ids or timestamps, so two runs of the same
// workflow over the same input produce identical traces.
func FormatTraceText(result TraceResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request %s\n", result.RequestID)
	for _, te := range result.Timeline {
		fmt.Fprintf(&b, "%3d  %-20s", te.Seq, te.Type)
		if te.Topic != "" && te.Offset != nil {
			fmt.Fprintf(&b, " %s@%d", te.Topic, *te.Offset)
		}
		if te.Actor != "" {
			fmt.Fprintf(&b, " by %s", te.Actor)
		}
		fmt.Fprintf(&b, " (%d message(s)", te.Messages)
		if te.Links > 0 {
			fmt.Fprintf(&b, ", %d link(s)", te.Links)
		}
		b.WriteString(")\n")
	}
	fmt.Fprintf(&b, "Events: %d total, %d published, %d consumed\n",
		result.Stats.TotalEvents, result.Stats.Publishes, result.Stats.Consumes)
	if result.Stats.Responded {
		b.WriteString("Status: responded\n")
	} else {
		b.WriteString("Status: incomplete (interrupted or awaiting input)\n")
	}
	return b.String()
}
