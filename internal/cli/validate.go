package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/relq/internal/schema"
)

// CatalogIssue is one catalog error in command output.
type CatalogIssue struct {
	Code    string `json:"code"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool           `json:"valid"`
	Entities []string       `json:"entities,omitempty"`
	Queries  []string       `json:"queries,omitempty"`
	Errors   []CatalogIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <catalog-dir>",
		Short: "Validate a CUE catalog",
		Long: `Load a CUE catalog and check every entity type and query.

Reports every broken declaration with its CUE path and line. Queries are
checked against the algebra rules (scoping, grouping, aggregate kinds)
without touching any backend.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	loaded, errs, err := loadCatalog(formatter, dir, schema.LoadModeCollectAll)
	if err != nil {
		return err
	}

	if issues := catalogIssues(errs); len(issues) > 0 {
		return outputValidationErrors(formatter, issues)
	}

	result := ValidationResult{Valid: true}
	for _, t := range loaded.Catalog.Types {
		result.Entities = append(result.Entities, t.Name())
	}
	for _, q := range loaded.Catalog.Queries {
		result.Queries = append(result.Queries, q.Name)
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Catalog valid: %d entity type(s), %d query(ies)\n", len(result.Entities), len(result.Queries))
	return nil
}

// loadCatalog loads dir. Directory-level failures are reported and
// returned as an ExitError; declaration errors are returned for the caller
// to report.
func loadCatalog(formatter *OutputFormatter, dir string, mode schema.LoadMode) (*schema.LoadResult, []error, error) {
	loaded, errs := schema.Load(dir, mode)
	if loaded == nil {
		code, message := schema.ErrCodeGeneric, "failed to load catalog"
		if len(errs) > 0 {
			message = errs[0].Error()
			var se *schema.Error
			if errors.As(errs[0], &se) {
				code, message = se.Code, se.Message
			}
		}
		_ = formatter.Error(code, message, nil)
		return nil, nil, NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", loaded.FileCount, dir)
	return loaded, errs, nil
}

// catalogIssues converts load errors into output records.
func catalogIssues(errs []error) []CatalogIssue {
	issues := make([]CatalogIssue, 0, len(errs))
	for _, e := range errs {
		var se *schema.Error
		if errors.As(e, &se) {
			issues = append(issues, CatalogIssue{Code: se.Code, Path: se.Path, Message: se.Message, Line: se.Line()})
			continue
		}
		issues = append(issues, CatalogIssue{Code: schema.ErrCodeGeneric, Message: e.Error()})
	}
	return issues
}

// outputValidationErrors outputs catalog errors.
func outputValidationErrors(formatter *OutputFormatter, issues []CatalogIssue) error {
	// Validation failures = exit code 1 (test/validation failure)
	exitErr := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))

	if formatter.Format == "json" {
		if err := formatter.Encode(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: issues},
			Error: &CLIError{
				Code:    issues[0].Code,
				Message: issues[0].Message,
			},
		}); err != nil {
			return err
		}
		return exitErr
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, issue := range issues {
		if issue.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", issue.Line)
		}
		if issue.Path != "" {
			fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", issue.Code, issue.Path, issue.Message)
			continue
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
	}
	return exitErr
}
