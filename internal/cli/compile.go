package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/relq/internal/querydoc"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/querysql"
	"github.com/roach88/relq/internal/schema"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Target string // sqlite | postgres | mongo
	Output string // output file path
}

// ValidTargets lists the --target values.
var ValidTargets = []string{BackendSQLite, BackendPostgres, BackendMongo}

// CompiledQuery is the backend request of one catalog query.
type CompiledQuery struct {
	Name      string    `json:"name"`
	Target    string    `json:"target"`
	Statement string    `json:"statement,omitempty"`
	Args      []any     `json:"args,omitempty"`
	Columns   []string  `json:"columns,omitempty"`
	Error     *CLIError `json:"error,omitempty"`
}

// CompilationResult holds every compiled query.
type CompilationResult struct {
	Queries []CompiledQuery `json:"queries"`
	Failed  int             `json:"failed"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <catalog-dir> [query...]",
		Short: "Compile catalog queries for a backend",
		Long: `Compile catalog queries to SQL or an aggregation pipeline.

Without query names every catalog query is compiled. Queries whose shape
the target cannot express are reported with UNSUPPORTED_OPERATION.

Examples:
  relq compile ./catalog
  relq compile ./catalog cheap_foo --target postgres
  relq compile ./catalog --target mongo --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], args[1:], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Target, "target", "t", BackendSQLite, "compile target (sqlite|postgres|mongo)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, dir string, names []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	compile, err := targetCompiler(opts.Target)
	if err != nil {
		_ = formatter.Error(schema.ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid target", err)
	}

	loaded, errs, err := loadCatalog(formatter, dir, schema.LoadModeCollectAll)
	if err != nil {
		return err
	}
	if issues := catalogIssues(errs); len(issues) > 0 {
		return outputValidationErrors(formatter, issues)
	}

	selected, err := selectQueries(loaded.Catalog, names)
	if err != nil {
		_ = formatter.Error(schema.ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "unknown query", err)
	}

	result := CompilationResult{Queries: make([]CompiledQuery, 0, len(selected))}
	for _, nq := range selected {
		formatter.VerboseLog("Compiling query: %s", nq.Name)
		cq := compile(nq.Query)
		cq.Name, cq.Target = nq.Name, opts.Target
		if cq.Error != nil {
			result.Failed++
		}
		result.Queries = append(result.Queries, cq)
	}

	if opts.Output != "" {
		if err := writeCompiled(opts.Output, opts.Format, result); err != nil {
			_ = formatter.Error(schema.ErrCodeGeneric, fmt.Sprintf("writing output file: %v", err), nil)
			return WrapExitError(ExitCommandError, "failed to write output", err)
		}
		if opts.Format != "json" {
			fmt.Fprintf(formatter.Writer, "✓ Wrote %d compiled query(ies) to %s\n", len(result.Queries), opts.Output)
		}
	}

	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result}
		if result.Failed > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{Code: string(queryir.CodeUnsupported), Message: fmt.Sprintf("%d query(ies) failed to compile", result.Failed)}
		}
		if err := formatter.Encode(resp); err != nil {
			return err
		}
	} else if opts.Output == "" {
		renderCompiled(formatter.Writer, result)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d query(ies) failed to compile", result.Failed))
	}
	return nil
}

// targetCompiler returns the compile function for a target.
func targetCompiler(target string) (func(queryir.Query) CompiledQuery, error) {
	switch target {
	case BackendSQLite, BackendPostgres:
		dialect, err := querysql.DialectByName(target)
		if err != nil {
			return nil, err
		}
		c := querysql.NewCompiler(dialect)
		return func(q queryir.Query) CompiledQuery {
			compiled, err := c.Compile(q)
			if err != nil {
				return CompiledQuery{Error: queryError(err)}
			}
			cq := CompiledQuery{Statement: compiled.Text, Args: compiled.Args}
			for _, col := range compiled.Columns {
				cq.Columns = append(cq.Columns, col.Name)
			}
			return cq
		}, nil

	case BackendMongo:
		c := querydoc.NewCompiler()
		return func(q queryir.Query) CompiledQuery {
			p, err := c.Compile(q)
			if err != nil {
				return CompiledQuery{Error: queryError(err)}
			}
			return CompiledQuery{
				Statement: fmt.Sprintf("db.%s.aggregate\n%s", p.Collection, p.String()),
				Columns:   p.OutputFields(),
			}
		}, nil

	default:
		return nil, fmt.Errorf("unknown target %q: must be one of %v", target, ValidTargets)
	}
}

func queryError(err error) *CLIError {
	var qerr *queryir.Error
	if errors.As(err, &qerr) {
		return &CLIError{Code: string(qerr.Code), Message: qerr.Message}
	}
	return &CLIError{Code: schema.ErrCodeGeneric, Message: err.Error()}
}

// selectQueries returns the named queries, or all of them.
func selectQueries(c *schema.Catalog, names []string) ([]schema.NamedQuery, error) {
	if len(names) == 0 {
		return c.Queries, nil
	}
	out := make([]schema.NamedQuery, 0, len(names))
	for _, name := range names {
		q, ok := c.Query(name)
		if !ok {
			return nil, fmt.Errorf("query %q is not declared in the catalog", name)
		}
		out = append(out, schema.NamedQuery{Name: name, Query: q})
	}
	return out, nil
}

// renderCompiled writes the text form of a compilation.
func renderCompiled(w io.Writer, result CompilationResult) {
	for i, cq := range result.Queries {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "-- %s (%s)\n", cq.Name, cq.Target)
		if cq.Error != nil {
			fmt.Fprintf(w, "-- error [%s]: %s\n", cq.Error.Code, cq.Error.Message)
			continue
		}
		fmt.Fprintln(w, cq.Statement)
		if len(cq.Args) > 0 {
			args, _ := json.Marshal(cq.Args)
			fmt.Fprintf(w, "-- args: %s\n", args)
		}
	}
}

// writeCompiled writes the compilation to a file in the given format.
func writeCompiled(path, format string, result CompilationResult) error {
	var buf bytes.Buffer
	if format == "json" {
		encoder := json.NewEncoder(&buf)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(result); err != nil {
			return fmt.Errorf("failed to marshal compiled queries: %w", err)
		}
	} else {
		renderCompiled(&buf, result)
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}
