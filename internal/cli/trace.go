package cli

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tuplex/internal/harness"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Backend string // optional - filter to one backend
	Step    int    // optional - filter to one step, -1 for all
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Scenario string               `json:"scenario"`
	Pass     bool                 `json:"pass"`
	Errors   []string             `json:"errors,omitempty"`
	Trace    []harness.TraceEvent `json:"trace"`
	Stats    TraceStats           `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalEvents int `json:"total_events"`
	Steps       int `json:"steps"`
	Rows        int `json:"rows"`
	Errors      int `json:"errors"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace <scenario>",
		Short: "Show the execution trace of a scenario",
		Long: `Run one scenario and print the events it recorded: each step's
opening, the rows it produced and how it ended.

This is the trace that golden files store. Expectation and assertion
failures are listed after the timeline but do not change the exit code.

Examples:
  tuplex trace ./scenarios/big_spenders.yaml
  tuplex trace ./scenarios/big_spenders.yaml --backend sqlite --step 2
  tuplex trace ./scenarios/big_spenders.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Backend, "backend", "", "filter to one backend")
	cmd.Flags().IntVar(&opts.Step, "step", -1, "filter to one step")

	return cmd
}

func runTrace(opts *TraceOptions, path string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeLoad, "failed to load scenario", err)
	}
	result, err := harness.Run(cmd.Context(), scenario,
		harness.WithLogger(opts.Log),
		harness.WithBackendConfig(backendConfig(opts.Config, opts.Log)),
	)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeExec, "scenario execution failed", err)
	}

	trace := filterTrace(result.Trace, opts.Backend, opts.Step)
	traceResult := TraceResult{
		Scenario: scenario.Name,
		Pass:     result.Pass,
		Errors:   result.Errors,
		Trace:    trace,
		Stats:    traceStats(trace),
	}

	if out.JSON() {
		return out.Success(traceResult)
	}
	outputTraceText(cmd, traceResult)
	return nil
}

// filterTrace keeps the events of backend and step. An empty backend or a
// negative step keeps all.
func filterTrace(events []harness.TraceEvent, backend string, step int) []harness.TraceEvent {
	out := []harness.TraceEvent{}
	for _, e := range events {
		if backend != "" && e.Backend != backend {
			continue
		}
		if step >= 0 && e.Step != step {
			continue
		}
		out = append(out, e)
	}
	return out
}

func traceStats(events []harness.TraceEvent) TraceStats {
	stats := TraceStats{TotalEvents: len(events)}
	for _, e := range events {
		switch e.Type {
		case harness.EventOpen:
			stats.Steps++
		case harness.EventRow:
			stats.Rows++
		case harness.EventError:
			stats.Errors++
		}
	}
	return stats
}

// outputTraceText outputs the trace as a timeline table.
func outputTraceText(cmd *cobra.Command, result TraceResult) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Scenario: %s\n\n", result.Scenario)

	if len(result.Trace) == 0 {
		fmt.Fprintln(w, "No events recorded.")
	} else {
		rows := make([][]string, len(result.Trace))
		for i, e := range result.Trace {
			rows[i] = []string{
				strconv.FormatInt(e.Seq, 10),
				e.Backend,
				strconv.Itoa(e.Step),
				e.Type,
				eventDetail(e),
			}
		}
		fmt.Fprintln(w, renderTable([]string{"seq", "backend", "step", "event", "detail"}, rows))
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Stats: %d events, %d steps, %d rows, %d errors\n",
		result.Stats.TotalEvents, result.Stats.Steps, result.Stats.Rows, result.Stats.Errors)
	if result.Pass {
		fmt.Fprintf(w, "%s All expectations met\n", passMark())
		return
	}
	fmt.Fprintf(w, "%s %d failure(s)\n", failMark(), len(result.Errors))
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

func eventDetail(e harness.TraceEvent) string {
	switch e.Type {
	case harness.EventOpen:
		parts := make([]string, 0, len(e.Params))
		for _, name := range slices.Sorted(maps.Keys(e.Params)) {
			parts = append(parts, fmt.Sprintf("$%s=%s", name, e.Params[name]))
		}
		return strings.Join(parts, " ")
	case harness.EventRow:
		return e.Row
	case harness.EventDone:
		return rowCount(e.Count)
	case harness.EventError:
		return e.Error
	}
	return ""
}
