package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/tuplex/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run conformance scenarios",
		Long: `Run scenario files against the backends they name.

Each scenario executes a plan once per step and backend, checks the
rows of every step and evaluates its assertions. When a golden file
exists next to a scenario (golden/<name>.golden) the recorded trace
must match it.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  tuplex test ./scenarios
  tuplex test ./scenarios --filter "big-*"
  tuplex test ./scenarios --update
  tuplex test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runTests(opts *TestOptions, dir string, cmd *cobra.Command) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir))
	}

	paths, err := harness.FindScenarios(dir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	out := opts.formatter(cmd)
	if len(paths) == 0 {
		if out.JSON() {
			return out.Success(&harness.SuiteResult{Scenarios: []harness.Outcome{}})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	suite := harness.RunAll(cmd.Context(), paths,
		harness.WithLogger(opts.Log),
		harness.WithBackendConfig(backendConfig(opts.Config, opts.Log)),
		harness.WithGolden(opts.Update),
	)

	if out.JSON() {
		if err := outputTestJSON(out, suite); err != nil {
			return err
		}
	} else {
		outputTestText(cmd, suite)
	}

	if suite.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", suite.Failed))
	}
	return nil
}

// outputTestJSON outputs the suite result as JSON.
func outputTestJSON(out *OutputFormatter, suite *harness.SuiteResult) error {
	if suite.Failed > 0 {
		return out.encode(CLIResponse{
			Status: "error",
			Data:   suite,
			Error: &CLIError{
				Code:    ErrCodeTestFailed,
				Message: fmt.Sprintf("%d scenario(s) failed", suite.Failed),
			},
		})
	}
	return out.Success(suite)
}

// outputTestText outputs the suite result as human-readable text.
func outputTestText(cmd *cobra.Command, suite *harness.SuiteResult) {
	w := cmd.OutOrStdout()
	for _, o := range suite.Scenarios {
		name := o.Name
		if name == "" {
			name = filepath.Base(o.Path)
		}
		if !o.Pass {
			fmt.Fprintf(w, "%s %s\n", failMark(), name)
			for _, e := range o.Errors {
				fmt.Fprintf(w, "  %s\n", e)
			}
			continue
		}
		switch o.Golden {
		case "updated":
			fmt.Fprintf(w, "%s %s (golden updated)\n", passMark(), name)
		case "matched":
			fmt.Fprintf(w, "%s %s (golden matched)\n", passMark(), name)
		default:
			fmt.Fprintf(w, "%s %s\n", passMark(), name)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", suite.Passed, suite.Failed, suite.Total)
	if suite.Failed == 0 {
		fmt.Fprintf(w, "%s All scenarios passed\n", passMark())
	}
}
