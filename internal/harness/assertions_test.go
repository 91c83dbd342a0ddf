package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// traceOf builds a result whose trace holds rows per backend and step.
func traceOf(steps map[string][][]string) *Result {
	r := NewResult()
	var seq sequence
	for _, backend := range []string{BackendMemory, BackendSQLite} {
		for i, rows := range steps[backend] {
			r.Trace = append(r.Trace, TraceEvent{Seq: seq.next(), Type: EventOpen, Backend: backend, Step: i})
			if rows == nil {
				r.Trace = append(r.Trace, TraceEvent{Seq: seq.next(), Type: EventError, Backend: backend, Step: i, Error: "boom"})
				continue
			}
			for _, row := range rows {
				r.Trace = append(r.Trace, TraceEvent{Seq: seq.next(), Type: EventRow, Backend: backend, Step: i, Row: row})
			}
			r.Trace = append(r.Trace, TraceEvent{Seq: seq.next(), Type: EventDone, Backend: backend, Step: i, Count: len(rows)})
		}
	}
	return r
}

func TestEvaluateAssertions(t *testing.T) {
	both := []string{BackendMemory, BackendSQLite}
	agreeing := traceOf(map[string][][]string{
		BackendMemory: {{"a", "b", "c"}, {}},
		BackendSQLite: {{"c", "a", "b"}, {}},
	})

	testCases := []struct {
		name      string
		result    *Result
		assertion Assertion
		backends  []string
		wantErr   string
	}{
		{
			name:      "row count",
			result:    agreeing,
			assertion: Assertion{Type: AssertRowCount, Count: 3},
			backends:  both,
		},
		{
			name:      "row count of empty step",
			result:    agreeing,
			assertion: Assertion{Type: AssertRowCount, Step: 1, Count: 0},
			backends:  both,
		},
		{
			name:      "row count mismatch",
			result:    agreeing,
			assertion: Assertion{Type: AssertRowCount, Count: 2, Backend: BackendSQLite},
			backends:  both,
			wantErr:   "Assertion failed: row_count (sqlite)\n  Expected: 2 rows in step 0\n  Actual: 3 rows\n",
		},
		{
			name:      "contains row",
			result:    agreeing,
			assertion: Assertion{Type: AssertContainsRow, Row: "b"},
			backends:  both,
		},
		{
			name:      "missing row",
			result:    agreeing,
			assertion: Assertion{Type: AssertContainsRow, Row: "z", Backend: BackendMemory},
			backends:  both,
			wantErr:   `Expected: row "z" in step 0`,
		},
		{
			name:      "row order with gaps",
			result:    agreeing,
			assertion: Assertion{Type: AssertRowOrder, Rows: []string{"a", "c"}, Backend: BackendMemory},
			backends:  both,
		},
		{
			name:      "row order violated",
			result:    agreeing,
			assertion: Assertion{Type: AssertRowOrder, Rows: []string{"a", "c"}, Backend: BackendSQLite},
			backends:  both,
			wantErr:   `Actual: "c" is not after "a"`,
		},
		{
			name:      "row order missing row",
			result:    agreeing,
			assertion: Assertion{Type: AssertRowOrder, Rows: []string{"a", "z"}, Backend: BackendMemory},
			backends:  both,
			wantErr:   `Actual: missing row "z"`,
		},
		{
			name:      "backends agree in any order",
			result:    agreeing,
			assertion: Assertion{Type: AssertBackendsAgree},
			backends:  both,
		},
		{
			name: "backends disagree on rows",
			result: traceOf(map[string][][]string{
				BackendMemory: {{"a"}},
				BackendSQLite: {{"a", "a"}},
			}),
			assertion: Assertion{Type: AssertBackendsAgree},
			backends:  both,
			wantErr:   "Assertion failed: backends_agree (sqlite)",
		},
		{
			name: "backends disagree on failure",
			result: traceOf(map[string][][]string{
				BackendMemory: {{}},
				BackendSQLite: {nil},
			}),
			assertion: Assertion{Type: AssertBackendsAgree},
			backends:  both,
			wantErr:   "(failed: false)",
		},
		{
			name: "both failing agree",
			result: traceOf(map[string][][]string{
				BackendMemory: {nil},
				BackendSQLite: {nil},
			}),
			assertion: Assertion{Type: AssertBackendsAgree},
			backends:  both,
		},
		{
			name:      "single backend always agrees",
			result:    traceOf(map[string][][]string{BackendMemory: {{"a"}}}),
			assertion: Assertion{Type: AssertBackendsAgree},
			backends:  []string{BackendMemory},
		},
		{
			name:      "unknown type",
			result:    agreeing,
			assertion: Assertion{Type: "final_state"},
			backends:  []string{BackendMemory},
			wantErr:   `unknown assertion type "final_state"`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			errs := EvaluateAssertions(tc.result, []Assertion{tc.assertion}, tc.backends)
			if tc.wantErr == "" {
				assert.Empty(t, errs)
				return
			}
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0], tc.wantErr)
		})
	}
}

func TestEvaluateAssertions_EachBackend(t *testing.T) {
	result := traceOf(map[string][][]string{
		BackendMemory: {{"a"}},
		BackendSQLite: {{"b"}},
	})
	errs := EvaluateAssertions(result, []Assertion{{Type: AssertContainsRow, Row: "c"}}, []string{BackendMemory, BackendSQLite})
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "(memory)")
	assert.Contains(t, errs[1], "(sqlite)")
}

func TestAssertionError_ListsRows(t *testing.T) {
	err := &AssertionError{Type: AssertRowCount, Expected: "1 rows", Actual: "2 rows", Rows: []string{"a", "b"}}
	assert.Equal(t, "Assertion failed: row_count\n  Expected: 1 rows\n  Actual: 2 rows\n\nRows:\n  [0] a\n  [1] b\n", err.Error())
}
