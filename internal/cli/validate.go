package cli

import (
	"github.com/spf13/cobra"
)

// ValidationResult is the validate command's output payload.
type ValidationResult struct {
	Valid  bool       `json:"valid"`
	Errors []DefError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <definition.yaml>",
		Short: "Validate a workflow definition",
		Long: `Validate a workflow definition file against the schema without running it.

Checks YAML syntax, the definition schema, and that the node graph can be
built (topic wiring, duplicate names, entry/output presence).`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
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
	formatter.VerboseLog("Definition %q: %d node(s), %d declared topic(s)", def.Name, len(def.Nodes), len(def.Topics))

	// A schema-valid definition can still fail graph wiring.
	if _, err := def.Build(newBuildConfig(opts)); err != nil {
		return outputValidationErrors(formatter, []DefError{{Message: err.Error()}})
	}

	if opts.Format == "json" {
		if err := formatter.Success(ValidationResult{Valid: true}); err != nil {
			return err
		}
		return nil
	}
	return formatter.Success("Definition is valid")
}

func outputValidationErrors(formatter *OutputFormatter, defErrs []DefError) error {
	if formatter.Format == "json" {
		if err := formatter.Error(ErrCodeBadDef, "definition is invalid", ValidationResult{Valid: false, Errors: defErrs}); err != nil {
			return err
		}
	} else {
		for _, e := range defErrs {
			if err := formatter.Error(ErrCodeBadDef, e.Error(), nil); err != nil {
				return err
			}
		}
	}
	return NewExitError(ExitFailure, "definition is invalid")
}
