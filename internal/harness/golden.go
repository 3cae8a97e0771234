package harness

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot renders a result as stable text for golden comparison.
// Unordered results are sorted; error outcomes render their code only, so
// backend-specific messages do not leak into the snapshot.
func Snapshot(result *Result) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# %s\n", result.Scenario)
	for _, o := range result.Outcomes {
		fmt.Fprintf(&buf, "\nquery: %s\n", o.Query)
		if o.Error != "" {
			code := o.ErrorCode
			if code == "" {
				code = "unknown"
			}
			fmt.Fprintf(&buf, "error: %s\n", code)
			continue
		}
		fmt.Fprintf(&buf, "columns: %s\n", strings.Join(o.Columns, ", "))

		rows := o.Rows
		if !o.Ordered {
			rows = sortedRows(rows)
		}
		for i, row := range rows {
			b, err := row.MarshalJSON()
			if err != nil {
				return nil, fmt.Errorf("query %s row %d: %w", o.Query, i, err)
			}
			buf.Write(b)
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares the outcomes against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can also check Pass.
func RunWithGolden(t *testing.T, h *Harness, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := h.Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an already computed result with its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	snapshot, err := Snapshot(result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, snapshot)
	return nil
}
