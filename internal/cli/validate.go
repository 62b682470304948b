package cli

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/roach88/hatdata/internal/schema"
)

// ValidationIssue is one schema file that failed to load.
type ValidationIssue struct {
	File    string `json:"file"`
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool              `json:"valid"`
	Schemas []string          `json:"schemas,omitempty"`
	Errors  []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <schema.yaml>...",
		Short: "Validate schema files",
		Long: `Load each YAML schema, compile its CUE validator and check the
configuration: required id/display properties, known property types, tree
settings, sorters and dependencies.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	result := ValidationResult{Valid: true}
	seen := map[string]string{}
	for _, path := range paths {
		formatter.VerboseLog("Validating %s", path)
		s, err := schema.LoadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("schema file not found: %s", path), nil)
		}
		if err != nil {
			result.Errors = append(result.Errors, issueFor(path, err))
			continue
		}
		if prev, dup := seen[s.Name]; dup {
			result.Errors = append(result.Errors, ValidationIssue{
				File:    path,
				Field:   "name",
				Code:    ErrCodeInvalidSchema,
				Message: fmt.Sprintf("schema %q already defined in %s", s.Name, prev),
			})
			continue
		}
		seen[s.Name] = path
		result.Schemas = append(result.Schemas, s.Name)
	}

	if len(result.Errors) > 0 {
		result.Valid = false
		return outputValidationErrors(formatter, result)
	}
	if formatter.IsJSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ %d schema(s) valid\n", len(result.Schemas))
	return nil
}

func issueFor(path string, err error) ValidationIssue {
	issue := ValidationIssue{File: path, Code: ErrCodeInvalidSchema, Message: err.Error()}
	var ce *schema.ConfigError
	if errors.As(err, &ce) {
		issue.Field = ce.Field
		issue.Message = ce.Message
	}
	return issue
}

// outputValidationErrors reports every failed file.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	failed := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))

	if formatter.IsJSON() {
		first := result.Errors[0]
		resp := CLIResponse{
			Status: "error",
			Data:   result,
			Error:  &CLIError{Code: first.Code, Message: first.Message},
		}
		if err := encodeResponse(formatter.Writer, resp); err != nil {
			return err
		}
		return failed
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, issue := range result.Errors {
		fmt.Fprintln(formatter.Writer, issue.File)
		if issue.Field != "" {
			fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", issue.Code, issue.Field, issue.Message)
		} else {
			fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
		}
	}
	return failed
}
