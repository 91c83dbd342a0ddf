package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is a failed assertion with enough context to debug it.
type AssertionError struct {
	Type     string
	Backend  string
	Expected string
	Actual   string
	Rows     []string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Backend != "" {
		fmt.Fprintf(&buf, " (%s)", e.Backend)
	}
	fmt.Fprintf(&buf, "\n  Expected: %s\n  Actual: %s\n", e.Expected, e.Actual)
	if len(e.Rows) > 0 {
		fmt.Fprintf(&buf, "\nRows:\n")
		for i, row := range e.Rows {
			fmt.Fprintf(&buf, "  [%d] %s\n", i, row)
		}
	}
	return buf.String()
}

func assertRowCount(result *Result, backend string, a Assertion) error {
	rows := result.Rows(backend, a.Step)
	if len(rows) != a.Count {
		return &AssertionError{
			Type:     AssertRowCount,
			Backend:  backend,
			Expected: fmt.Sprintf("%d rows in step %d", a.Count, a.Step),
			Actual:   fmt.Sprintf("%d rows", len(rows)),
			Rows:     rows,
		}
	}
	return nil
}

func assertContainsRow(result *Result, backend string, a Assertion) error {
	rows := result.Rows(backend, a.Step)
	if !slices.Contains(rows, a.Row) {
		return &AssertionError{
			Type:     AssertContainsRow,
			Backend:  backend,
			Expected: fmt.Sprintf("row %q in step %d", a.Row, a.Step),
			Actual:   "not found",
			Rows:     rows,
		}
	}
	return nil
}

// assertRowOrder checks that the rows appear in the given order. Other rows
// may come in between.
func assertRowOrder(result *Result, backend string, a Assertion) error {
	rows := result.Rows(backend, a.Step)
	next := 0
	for _, row := range rows {
		if next < len(a.Rows) && row == a.Rows[next] {
			next++
		}
	}
	if next == len(a.Rows) {
		return nil
	}
	actual := fmt.Sprintf("missing row %q", a.Rows[next])
	if slices.Contains(rows, a.Rows[next]) {
		actual = fmt.Sprintf("%q is not after %q", a.Rows[next], a.Rows[next-1])
	}
	return &AssertionError{
		Type:     AssertRowOrder,
		Backend:  backend,
		Expected: fmt.Sprintf("rows in order: %v", a.Rows),
		Actual:   actual,
		Rows:     rows,
	}
}

// assertBackendsAgree checks that every step produced the same rows, in any
// order, or failed, on every backend.
func assertBackendsAgree(result *Result, backends []string) error {
	if len(backends) < 2 {
		return nil
	}
	first := backends[0]
	for step := 0; ; step++ {
		if !hasStep(result, first, step) {
			return nil
		}
		want := result.Rows(first, step)
		_, wantErr := result.StepError(first, step)
		for _, other := range backends[1:] {
			got := result.Rows(other, step)
			_, gotErr := result.StepError(other, step)
			if wantErr != gotErr || !sameRows(want, got) {
				return &AssertionError{
					Type:     AssertBackendsAgree,
					Backend:  other,
					Expected: fmt.Sprintf("step %d rows of %s: %v (failed: %t)", step, first, want, wantErr),
					Actual:   fmt.Sprintf("%v (failed: %t)", got, gotErr),
				}
			}
		}
	}
}

func hasStep(result *Result, backend string, step int) bool {
	for _, e := range result.Trace {
		if e.Type == EventOpen && e.Backend == backend && e.Step == step {
			return true
		}
	}
	return false
}

// EvaluateAssertions checks assertions against result and returns the
// failure messages. Assertions without a backend apply to each of backends.
func EvaluateAssertions(result *Result, assertions []Assertion, backends []string) []string {
	var errors []string
	for i, a := range assertions {
		if a.Type == AssertBackendsAgree {
			if err := assertBackendsAgree(result, backends); err != nil {
				errors = append(errors, err.Error())
			}
			continue
		}

		targets := backends
		if a.Backend != "" {
			targets = []string{a.Backend}
		}
		for _, backend := range targets {
			var err error
			switch a.Type {
			case AssertRowCount:
				err = assertRowCount(result, backend, a)
			case AssertContainsRow:
				err = assertContainsRow(result, backend, a)
			case AssertRowOrder:
				err = assertRowOrder(result, backend, a)
			default:
				err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
			}
			if err != nil {
				errors = append(errors, err.Error())
			}
		}
	}
	return errors
}
