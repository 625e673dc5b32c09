package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alchemlab/abfe/internal/config"
)

// ValidationIssue is one campaign violation in command output.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Issues []ValidationIssue `json:"issues,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the campaign file without planning",
		Long: `Validate the campaign file against the schema and its cross-field rules.

Reports every violation at once rather than stopping at the first, so a
campaign can be fixed in a single pass.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd)
		},
	}
}

func runValidate(opts *RootOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	data, err := os.ReadFile(opts.Config)
	if err != nil {
		ferr := formatter.Error(config.ErrCodeNotFound, err.Error(), nil)
		if ferr != nil {
			return ferr
		}
		return NewExitError(ExitCommandError, fmt.Sprintf("campaign file %s not found", opts.Config))
	}

	violations := config.ValidateBytes(opts.Config, data)
	if len(violations) == 0 {
		// Schema passed; Load surfaces the cross-field checks.
		if _, lerr := config.Load(opts.Config); lerr != nil {
			violations = append(violations, lerr)
		}
	}
	if len(violations) == 0 {
		if opts.Format == "json" {
			return formatter.Success(ValidationResult{Valid: true})
		}
		fmt.Fprintf(formatter.Writer, "%s: valid\n", opts.Config)
		return nil
	}

	issues := make([]ValidationIssue, 0, len(violations))
	for _, v := range violations {
		issue := ValidationIssue{Code: config.ErrCodeGeneric, Message: v.Error()}
		var serr *config.SchemaError
		if errors.As(v, &serr) {
			issue.Code = serr.Code
			issue.Message = serr.Message
			if serr.Pos.IsValid() {
				issue.Line = serr.Pos.Line()
			}
		}
		issues = append(issues, issue)
	}

	if opts.Format == "json" {
		if err := formatter.Success(ValidationResult{Valid: false, Issues: issues}); err != nil {
			return err
		}
	} else {
		for _, v := range violations {
			fmt.Fprintln(formatter.Writer, v.Error())
		}
		fmt.Fprintf(formatter.Writer, "%d violation(s)\n", len(issues))
	}
	return NewExitError(ExitFailure, fmt.Sprintf("campaign has %d violation(s)", len(issues)))
}
