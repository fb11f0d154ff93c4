package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/calyptra/flume/event"
	"github.com/calyptra/flume/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Request  string
}

// ReplayResult is the replay command's JSON payload.
type ReplayResult struct {
	RequestID     string   `json:"request_id"`
	Deterministic bool     `json:"deterministic"`
	Output        []string `json:"output,omitempty"`
	Recorded      []string `json:"recorded,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <definition.yaml>",
		Short: "Re-execute a recorded request and check determinism",
		Long: `Re-execute a recorded request from its event log and compare the result
against the recorded workflow output.

The request's log is replayed into the workflow's topics and any step the
original run never completed is executed by the built-in handlers. A
divergence between the replayed output and the recorded output means the
workflow behaved non-deterministically, and the command exits non-zero.

Examples:
  flume replay wf.yaml --db ./flume.db --request req-1`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Request, "request", "", "request id to replay (required)")
	_ = cmd.MarkFlagRequired("request")

	return cmd
}

func runReplay(opts *ReplayOptions, path string, cmd *cobra.Command) error {
	ctx := context.Background()

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

	st, err := store.OpenSQLite(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	events, err := st.RequestEvents(ctx, opts.Request)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load request events", err)
	}
	if len(events) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("no events recorded for request %s", opts.Request))
	}

	// The recorded output, when the original run completed. The last
	// respond event wins: a paused run responds once per resumption.
	var recorded []string
	var ec event.ExecutionContext
	for _, ev := range events {
		ec = ev.Context()
		if wr, ok := ev.(*event.WorkflowRespondEvent); ok {
			recorded = recorded[:0]
			for _, m := range wr.Output {
				recorded = append(recorded, m.Content)
			}
		}
	}

	cfg := newBuildConfig(opts.RootOptions)
	cfg.Store = st
	w, err := def.Build(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build workflow", err)
	}

	formatter.VerboseLog("Replaying request %s (%d recorded event(s))", opts.Request, len(events))
	output, err := w.Execute(ctx, ec, nil)
	if err != nil {
		return WrapExitError(ExitFailure, "replay failed", err)
	}

	replayed := make([]string, 0, len(output))
	for _, m := range output {
		replayed = append(replayed, m.Content)
	}

	result := ReplayResult{
		RequestID:     opts.Request,
		Deterministic: equalStrings(recorded, replayed),
		Output:        replayed,
		Recorded:      recorded,
	}

	if opts.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else if result.Deterministic {
		if err := formatter.Success(fmt.Sprintf("Request %s replayed deterministically (%d message(s))", opts.Request, len(replayed))); err != nil {
			return err
		}
	} else {
		if err := formatter.Error(ErrCodeRunFailed, fmt.Sprintf("replay of %s diverged from recorded output", opts.Request),
			map[string]any{"recorded": recorded, "replayed": replayed}); err != nil {
			return err
		}
	}

	if !result.Deterministic {
		return NewExitError(ExitFailure, "replay diverged")
	}
	return nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
