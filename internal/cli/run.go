package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/calyptra/flume/event"
	"github.com/calyptra/flume/message"
	"github.com/calyptra/flume/store"
	"github.com/calyptra/flume/workflow"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database     string
	Conversation string
	Request      string
	User         string
	Input        string
}

// RunResult is the run command's JSON payload.
type RunResult struct {
	Workflow  string       `json:"workflow"`
	RequestID string       `json:"request_id"`
	Output    []RunMessage `json:"output"`
}

// RunMessage is one output message in a RunResult.
type RunMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <definition.yaml>",
		Short: "Run a workflow for one request",
		Long: `Run a workflow definition for a single request and print the output.

Every event of the run is recorded to the database, so an interrupted or
paused request can be resumed by running the same request id again: the
engine replays the recorded log instead of restarting from the input.

Examples:
  flume run wf.yaml --input "hello"
  flume run wf.yaml --db ./flume.db --conversation c1 --input "hello"
  flume run wf.yaml --db ./flume.db --request req-1 --input "approved"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (in-memory when omitted)")
	cmd.Flags().StringVar(&opts.Conversation, "conversation", "", "conversation id (generated when omitted)")
	cmd.Flags().StringVar(&opts.Request, "request", "", "request id, reuse to resume a recorded request (generated when omitted)")
	cmd.Flags().StringVar(&opts.User, "user", "", "user id recorded on events")
	cmd.Flags().StringVar(&opts.Input, "input", "", "input message content")

	return cmd
}

func runRun(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	def, defErrs := LoadDefinition(path)
	if len(defErrs) > 0 {
		return outputValidationErrors(formatter, defErrs)
	}

	cfg := newBuildConfig(opts.RootOptions)
	if opts.Database != "" {
		st, err := store.OpenSQLite(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer st.Close()
		cfg.Store = st
	}

	w, err := def.Build(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build workflow", err)
	}

	ids := workflow.UUIDv7Generator{}
	ec := event.ExecutionContext{
		ConversationID: opts.Conversation,
		ExecutionID:    ids.NewID(),
		RequestID:      opts.Request,
		UserID:         opts.User,
	}
	if ec.ConversationID == "" {
		ec.ConversationID = ids.NewID()
	}
	if ec.RequestID == "" {
		ec.RequestID = ids.NewID()
	}
	formatter.VerboseLog("Running %q request %s", def.Name, ec.RequestID)

	var input []message.Message
	if opts.Input != "" {
		input = append(input, message.NewUserMessage(opts.Input))
	}

	output, err := w.Execute(context.Background(), ec, input)
	if err != nil {
		return WrapExitError(ExitFailure, "workflow run failed", err)
	}

	if opts.Format == "json" {
		result := RunResult{Workflow: def.Name, RequestID: ec.RequestID, Output: make([]RunMessage, 0, len(output))}
		for _, m := range output {
			result.Output = append(result.Output, RunMessage{Role: string(m.Role), Content: m.Content})
		}
		return formatter.Success(result)
	}
	for _, m := range output {
		if err := formatter.Success(m.Content); err != nil {
			return err
		}
	}
	formatter.VerboseLog("Request %s produced %d message(s)", ec.RequestID, len(output))
	return nil
}

// newBuildConfig is the base workflow configuration for CLI commands:
// in-memory store and a logger that stays quiet unless --verbose.
func newBuildConfig(opts *RootOptions) workflow.Config {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return workflow.Config{
		Store:  store.NewMemoryStore(),
		Logger: logger,
	}
}
