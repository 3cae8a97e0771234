package harness

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/relq/internal/value"
)

// AssertionError is returned when an outcome does not match its expectation.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Query    string
	Backend  string
	Expected string
	Actual   string
	Rows     []value.Row // Actual rows for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "query %s failed on %s\n", e.Query, e.Backend)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Rows) > 0 {
		fmt.Fprintf(&buf, "\nActual rows:\n")
		for i, row := range e.Rows {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, formatRow(row))
		}
	}

	return buf.String()
}

// checkOutcome compares an outcome with its expectation.
func checkOutcome(o QueryOutcome, backend string, exp Expect) error {
	fail := func(expected, actual string) error {
		return &AssertionError{Query: o.Query, Backend: backend, Expected: expected, Actual: actual, Rows: o.Rows}
	}

	if exp.Error != "" {
		if o.ErrorCode == exp.Error {
			return nil
		}
		if o.Error == "" {
			return fail("error "+exp.Error, fmt.Sprintf("%d rows", len(o.Rows)))
		}
		return fail("error "+exp.Error, o.Error)
	}
	if o.Error != "" {
		return fail("success", o.Error)
	}

	if exp.Count != nil {
		if len(o.Rows) != *exp.Count {
			return fail(fmt.Sprintf("%d rows", *exp.Count), fmt.Sprintf("%d rows", len(o.Rows)))
		}
		return nil
	}

	want, err := expectedRows(exp.Rows)
	if err != nil {
		return fail("valid expected rows", err.Error())
	}
	got := o.Rows
	if !o.Ordered {
		want, got = sortedRows(want), sortedRows(got)
	}
	if !rowsEqual(want, got) {
		return fail(formatRows(want), formatRows(got))
	}
	return nil
}

// expectedRows converts YAML values to rows.
func expectedRows(raw [][]any) ([]value.Row, error) {
	rows := make([]value.Row, len(raw))
	for i, r := range raw {
		row := make(value.Row, len(r))
		for j, x := range r {
			v, err := value.FromNative(x)
			if err != nil {
				return nil, fmt.Errorf("rows[%d][%d]: %w", i, j, err)
			}
			row[j] = v
		}
		rows[i] = row
	}
	return rows, nil
}

func rowsEqual(a, b []value.Row) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if compareRows(a[i], b[i]) != 0 || len(a[i]) != len(b[i]) {
			return false
		}
	}
	return true
}

// compareRows orders rows column by column, then by width.
func compareRows(a, b value.Row) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := value.Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

// sortedRows returns a sorted copy.
func sortedRows(rows []value.Row) []value.Row {
	out := append([]value.Row(nil), rows...)
	sort.SliceStable(out, func(i, j int) bool {
		return compareRows(out[i], out[j]) < 0
	})
	return out
}

func formatRow(r value.Row) string {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf("%v", r.Natives())
	}
	return string(b)
}

func formatRows(rows []value.Row) string {
	parts := make([]string, len(rows))
	for i, r := range rows {
		parts[i] = formatRow(r)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
