package cli

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tuplex/internal/plan"
	"github.com/roach88/tuplex/internal/provider"
	"github.com/roach88/tuplex/internal/tuple"
)

// ExplainResult is the JSON payload of the explain command.
type ExplainResult struct {
	Name    string            `json:"name"`
	Tree    []string          `json:"tree"`
	Indexes []string          `json:"indexes"`
	Params  map[string]string `json:"params"`
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "explain <plan>",
		Short: "Print the provider tree of a plan",
		Long: `Build a plan document and print its provider tree, one node per line
with the header each node produces. Nothing is executed.

Examples:
  tuplex explain ./plans/shop.yaml
  tuplex explain ./plans/shop.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(rootOpts, args[0], cmd)
		},
	}
}

func runExplain(opts *RootOptions, path string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	p, err := loadPlan(out, path)
	if err != nil {
		return err
	}

	tree := strings.TrimSuffix(provider.Explain(p.Root), "\n")
	if out.JSON() {
		return out.Success(ExplainResult{
			Name:    p.Name,
			Tree:    strings.Split(tree, "\n"),
			Indexes: indexNames(p),
			Params:  paramTypes(p),
		})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Plan %s\n", p.Name)
	for _, name := range slices.Sorted(maps.Keys(p.Params)) {
		fmt.Fprintf(w, "  $%s %s\n", name, tuple.TypeName(p.Params[name]))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, tree)
	return nil
}

// loadPlan loads and builds the plan document at path, reporting failures
// through out.
func loadPlan(out *OutputFormatter, path string) (*plan.Plan, error) {
	doc, err := plan.Load(path)
	if err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeLoad, "failed to load plan", err)
	}
	p, err := plan.Build(doc)
	if err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeBuild, fmt.Sprintf("failed to build plan %s", doc.Name), err)
	}
	return p, nil
}

func indexNames(p *plan.Plan) []string {
	names := make([]string, len(p.Indexes))
	for i, ix := range p.Indexes {
		names[i] = ix.Info.Name
	}
	return names
}

func paramTypes(p *plan.Plan) map[string]string {
	out := make(map[string]string, len(p.Params))
	for name, typ := range p.Params {
		out[name] = tuple.TypeName(typ)
	}
	return out
}
