package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tuplex/internal/provider"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	Portable bool // fail on non-portable plans
}

// CheckResult is the JSON payload of the check command.
type CheckResult struct {
	Name     string   `json:"name"`
	Valid    bool     `json:"valid"`
	Portable bool     `json:"portable"`
	Problems []string `json:"problems,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check <plan>",
		Short: "Validate a plan and report its portability",
		Long: `Build a plan document, verify the invariants of its provider tree and
report the features that only the memory backend can execute.

Exit codes:
  0 - Plan is valid
  1 - Plan has problems (or is not portable, with --portable)
  2 - Plan could not be loaded or built

Examples:
  tuplex check ./plans/shop.yaml
  tuplex check ./plans/shop.yaml --portable`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Portable, "portable", false, "fail unless every backend can run the plan")

	return cmd
}

func runCheck(opts *CheckOptions, path string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	p, err := loadPlan(out, path)
	if err != nil {
		return err
	}

	check := provider.Check(p.Root)
	result := CheckResult{
		Name:     p.Name,
		Valid:    check.Valid(),
		Portable: check.Portable,
		Problems: check.Problems,
		Warnings: check.Warnings,
	}
	failed := !result.Valid || (opts.Portable && !result.Portable)

	if out.JSON() {
		if failed {
			if err := out.Error(ErrCodeCheck, fmt.Sprintf("plan %s failed checks", p.Name), result); err != nil {
				return err
			}
		} else if err := out.Success(result); err != nil {
			return err
		}
	} else {
		outputCheckText(cmd, result)
	}

	if failed {
		return NewExitError(ExitFailure, fmt.Sprintf("plan %s failed checks", p.Name))
	}
	return nil
}

func outputCheckText(cmd *cobra.Command, result CheckResult) {
	w := cmd.OutOrStdout()
	if result.Valid {
		fmt.Fprintf(w, "%s %s is valid\n", passMark(), result.Name)
	} else {
		fmt.Fprintf(w, "%s %s has %d problem(s)\n", failMark(), result.Name, len(result.Problems))
		for _, p := range result.Problems {
			fmt.Fprintf(w, "  %s\n", p)
		}
	}
	if result.Portable {
		fmt.Fprintln(w, "  portable: runs on every backend")
		return
	}
	fmt.Fprintln(w, "  not portable: memory backend only")
	for _, warn := range result.Warnings {
		fmt.Fprintf(w, "  %s\n", mutedStyle.Render(warn))
	}
}
