package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/value"
)

func intPtr(n int) *int { return &n }

func TestCheckOutcome(t *testing.T) {
	rows := []value.Row{
		{value.String("B"), value.Int(3)},
		{value.String("A"), value.Null{}},
	}

	tests := []struct {
		name    string
		outcome QueryOutcome
		expect  Expect
		wantErr string
	}{
		{
			name:    "unordered rows match in any order",
			outcome: QueryOutcome{Query: "q", Rows: rows},
			expect:  Expect{Rows: [][]any{{"A", nil}, {"B", 3}}},
		},
		{
			name:    "ordered rows must match in order",
			outcome: QueryOutcome{Query: "q", Rows: rows, Ordered: true},
			expect:  Expect{Rows: [][]any{{"A", nil}, {"B", 3}}},
			wantErr: `Expected: [["A",null] ["B",3]]`,
		},
		{
			name:    "ordered rows in order",
			outcome: QueryOutcome{Query: "q", Rows: rows, Ordered: true},
			expect:  Expect{Rows: [][]any{{"B", 3}, {"A", nil}}},
		},
		{
			name:    "integer average compares with a float",
			outcome: QueryOutcome{Query: "q", Rows: []value.Row{{value.Float(42)}}},
			expect:  Expect{Rows: [][]any{{42}}},
		},
		{
			name:    "row width matters",
			outcome: QueryOutcome{Query: "q", Rows: []value.Row{{value.String("A")}}},
			expect:  Expect{Rows: [][]any{{"A", nil}}},
			wantErr: "Actual: [[\"A\"]]",
		},
		{
			name:    "count",
			outcome: QueryOutcome{Query: "q", Rows: rows},
			expect:  Expect{Count: intPtr(2)},
		},
		{
			name:    "count mismatch",
			outcome: QueryOutcome{Query: "q", Rows: rows},
			expect:  Expect{Count: intPtr(0)},
			wantErr: "Expected: 0 rows",
		},
		{
			name:    "expected error",
			outcome: QueryOutcome{Query: "q", ErrorCode: "UNSUPPORTED_OPERATION", Error: "UNSUPPORTED_OPERATION: like on foo_str"},
			expect:  Expect{Error: "UNSUPPORTED_OPERATION"},
		},
		{
			name:    "wrong error",
			outcome: QueryOutcome{Query: "q", ErrorCode: "QUERY_EXECUTION", Error: "QUERY_EXECUTION: boom"},
			expect:  Expect{Error: "UNSUPPORTED_OPERATION"},
			wantErr: "Actual: QUERY_EXECUTION: boom",
		},
		{
			name:    "missing error",
			outcome: QueryOutcome{Query: "q", Rows: rows},
			expect:  Expect{Error: "VALIDATION"},
			wantErr: "Actual: 2 rows",
		},
		{
			name:    "unexpected error",
			outcome: QueryOutcome{Query: "q", ErrorCode: "WRITE", Error: "WRITE: nope"},
			expect:  Expect{Count: intPtr(0)},
			wantErr: "Expected: success",
		},
		{
			name:    "unsupported expected value",
			outcome: QueryOutcome{Query: "q", Rows: rows},
			expect:  Expect{Rows: [][]any{{true}}},
			wantErr: "rows[0][0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkOutcome(tt.outcome, "memory", tt.expect)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Contains(t, err.Error(), "query q failed on memory")
		})
	}
}

func TestSortedRows_NullsFirstAndStable(t *testing.T) {
	in := []value.Row{
		{value.String("b")},
		{value.Null{}},
		{value.Int(1)},
		{value.String("a")},
	}
	out := sortedRows(in)

	assert.Equal(t, []value.Row{
		{value.Null{}},
		{value.Int(1)},
		{value.String("a")},
		{value.String("b")},
	}, out)
	assert.Equal(t, value.String("b"), in[0][0], "input is not modified")
}
