package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/go-logr/logr"

	"github.com/roach88/tuplex/internal/exec"
	"github.com/roach88/tuplex/internal/plan"
	"github.com/roach88/tuplex/internal/tuple"
)

// Option configures Run.
type Option func(*runner)

// WithLogger sets the logger for the run and its backends.
func WithLogger(log logr.Logger) Option {
	return func(r *runner) { r.log = log }
}

// WithBackendConfig sets the configuration backends are opened with.
// Database is ignored: every run gets fresh in-memory databases.
func WithBackendConfig(cfg BackendConfig) Option {
	return func(r *runner) { r.cfg = cfg }
}

type runner struct {
	log logr.Logger
	cfg BackendConfig
	seq sequence

	golden bool
	update bool
}

// Run executes a scenario. Each backend gets its own in-memory indexes, so
// backends cannot observe each other's state. Expectation and assertion
// failures are reported in the result; the error is for scenarios that
// could not be run at all, such as a plan that fails to build.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	r := &runner{log: logr.Discard()}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.WithValues("scenario", scenario.Name)

	doc, err := plan.Load(scenario.Plan)
	if err != nil {
		return nil, err
	}
	p, err := plan.Build(doc)
	if err != nil {
		return nil, fmt.Errorf("build plan %s: %w", doc.Name, err)
	}

	result := NewResult()
	for _, name := range scenario.backends() {
		if err := r.runBackend(ctx, name, p, scenario.Steps, result); err != nil {
			return nil, err
		}
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions, scenario.backends()) {
		result.AddError(msg)
	}
	return result, nil
}

func (r *runner) runBackend(ctx context.Context, name string, p *plan.Plan, steps []Step, result *Result) error {
	cfg := r.cfg
	cfg.Database = ""
	cfg.Log = r.log
	backend, err := OpenBackend(ctx, name, p, cfg)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", name, err)
	}
	defer backend.Close()

	compiled, compileErr := backend.Compiler.Compile(p.Root)
	for i, step := range steps {
		result.Trace = append(result.Trace, TraceEvent{
			Seq: r.seq.next(), Type: EventOpen, Backend: name, Step: i, Params: step.Params,
		})

		var rows []string
		err := compileErr
		if err == nil {
			rows, err = r.execute(ctx, p, compiled, step, name, i, result)
		}
		if err != nil {
			result.Trace = append(result.Trace, TraceEvent{
				Seq: r.seq.next(), Type: EventError, Backend: name, Step: i, Error: err.Error(),
			})
		} else {
			result.Trace = append(result.Trace, TraceEvent{
				Seq: r.seq.next(), Type: EventDone, Backend: name, Step: i, Count: len(rows),
			})
		}

		for _, msg := range checkExpect(step.Expect, rows, err) {
			result.AddError(fmt.Sprintf("%s step %d: %s", name, i, msg))
		}
		r.log.V(1).Info("step completed", "backend", name, "step", i, "rows", len(rows), "error", err != nil)
	}
	return nil
}

func (r *runner) execute(ctx context.Context, p *plan.Plan, compiled exec.Executable, step Step, backend string, index int, result *Result) ([]string, error) {
	params, err := p.Bind(step.Params)
	if err != nil {
		return nil, err
	}
	tuples, err := exec.Collect(exec.NewContext(ctx, params), compiled)
	if err != nil {
		return nil, err
	}
	rows := make([]string, len(tuples))
	for j, t := range tuples {
		rows[j] = tuple.Format(t)
		result.Trace = append(result.Trace, TraceEvent{
			Seq: r.seq.next(), Type: EventRow, Backend: backend, Step: index, Row: rows[j],
		})
	}
	return rows, nil
}

// checkExpect compares the outcome of a step with its expectation.
func checkExpect(e *Expect, rows []string, err error) []string {
	if e == nil {
		if err != nil {
			return []string{fmt.Sprintf("unexpected error: %v", err)}
		}
		return nil
	}
	if e.Error != "" {
		switch {
		case err == nil:
			return []string{fmt.Sprintf("expected error containing %q, got %d rows", e.Error, len(rows))}
		case !strings.Contains(err.Error(), e.Error):
			return []string{fmt.Sprintf("expected error containing %q, got %q", e.Error, err.Error())}
		}
		return nil
	}
	if err != nil {
		return []string{fmt.Sprintf("unexpected error: %v", err)}
	}

	if e.Empty {
		if len(rows) > 0 {
			return []string{fmt.Sprintf("expected no rows, got %v", rows)}
		}
		return nil
	}
	if e.Rows == nil {
		return nil
	}
	if e.Ordered {
		if !slices.Equal(rows, e.Rows) {
			return []string{fmt.Sprintf("expected rows %v in order, got %v", e.Rows, rows)}
		}
		return nil
	}
	if !sameRows(rows, e.Rows) {
		return []string{fmt.Sprintf("expected rows %v in any order, got %v", e.Rows, rows)}
	}
	return nil
}

// sameRows reports whether a and b hold the same rows with the same
// multiplicities.
func sameRows(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}
