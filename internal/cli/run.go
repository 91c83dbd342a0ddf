package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/tuplex/internal/config"
	"github.com/roach88/tuplex/internal/exec"
	"github.com/roach88/tuplex/internal/harness"
	"github.com/roach88/tuplex/internal/header"
	"github.com/roach88/tuplex/internal/tuple"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Backend  string
	Database string
	Params   []string // name=value pairs
}

// RunResult is the JSON payload of the run command. Cells are in field text
// format; null cells are JSON null.
type RunResult struct {
	Plan    string   `json:"plan"`
	Backend string   `json:"backend"`
	RunID   string   `json:"run_id"`
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
	Count   int      `json:"count"`
}

const nullCell = "null"

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <plan>",
		Short: "Execute a plan and print its rows",
		Long: `Build a plan document, execute it on a backend and print the rows.

Parameters are given in field text format, one --param per declared
parameter. The sqlite backend creates the plan's indexes in the
database first; existing tables are reused.

Examples:
  tuplex run ./plans/shop.yaml -p city=Oslo -p limit=5
  tuplex run ./plans/shop.yaml --backend sqlite --db ./shop.db -p city=Rome -p limit=1
  tuplex run ./plans/shop.yaml -p city=Oslo -p limit=5 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Backend, "backend", "", "backend to execute on (memory|sqlite, default from config)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "parameter value as name=value (repeatable)")

	return cmd
}

func runPlan(opts *RunOptions, path string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	out := opts.formatter(cmd)

	cfg := opts.Config
	if opts.Backend != "" {
		cfg.Backend = opts.Backend
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid options", err)
	}
	values, err := parseParams(opts.Params)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid parameters", err)
	}

	p, err := loadPlan(out, path)
	if err != nil {
		return err
	}
	params, err := p.Bind(values)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeExec, "failed to bind parameters", err)
	}

	runID := uuid.NewString()
	log := opts.Log.WithValues("plan", p.Name, "run", runID)
	backend, err := harness.OpenBackend(ctx, cfg.Backend, p, backendConfig(cfg, log))
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeExec, "failed to open backend", err)
	}
	defer backend.Close()

	start := time.Now()
	rows, err := exec.Run(ctx, backend.Compiler, p.Root, params)
	if err != nil {
		return out.Fail(ExitFailure, ErrCodeExec, fmt.Sprintf("failed to run plan %s", p.Name), err)
	}
	log.V(1).Info("plan executed", "rows", len(rows), "elapsed", time.Since(start))

	h := p.Root.Header()
	if out.JSON() {
		return out.Success(RunResult{
			Plan:    p.Name,
			Backend: cfg.Backend,
			RunID:   runID,
			Columns: columnNames(h),
			Rows:    jsonRows(h, rows),
			Count:   len(rows),
		})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, renderTable(columnNames(h), textRows(h, rows)))
	fmt.Fprintln(w, rowCount(len(rows)))
	return nil
}

// backendConfig derives the harness configuration of cfg.
func backendConfig(cfg config.Config, log logr.Logger) harness.BackendConfig {
	// Validated configs always have a parseable collation.
	collator, _ := cfg.Collator()
	return harness.BackendConfig{
		Database:  cfg.Database,
		Collator:  collator,
		CacheSize: cfg.CacheSize,
		Log:       log,
	}
}

// parseParams splits name=value pairs. A leading $ on the name is
// accepted.
func parseParams(pairs []string) (map[string]string, error) {
	values := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimPrefix(strings.TrimSpace(name), "$")
		if !ok || name == "" {
			return nil, fmt.Errorf("parameter %q is not name=value", pair)
		}
		if _, dup := values[name]; dup {
			return nil, fmt.Errorf("parameter %q given twice", name)
		}
		values[name] = value
	}
	return values, nil
}

func columnNames(h *header.Header) []string {
	names := make([]string, h.Len())
	for i := range names {
		names[i] = h.Column(i).Name()
	}
	return names
}

// cell returns the text of field i and whether it holds a value.
func cell(h *header.Header, t tuple.Tuple, i int) (string, bool) {
	v, state := t.Value(i)
	if !state.HasValue() {
		return nullCell, false
	}
	return tuple.FormatField(h.Column(i).Type(), v), true
}

func textRows(h *header.Header, rows []tuple.Tuple) [][]string {
	out := make([][]string, len(rows))
	for r, t := range rows {
		out[r] = make([]string, h.Len())
		for i := range out[r] {
			out[r][i], _ = cell(h, t, i)
		}
	}
	return out
}

func jsonRows(h *header.Header, rows []tuple.Tuple) [][]any {
	out := make([][]any, len(rows))
	for r, t := range rows {
		out[r] = make([]any, h.Len())
		for i := range out[r] {
			if text, ok := cell(h, t, i); ok {
				out[r][i] = text
			}
		}
	}
	return out
}

func rowCount(n int) string {
	if n == 1 {
		return "1 row"
	}
	return humanize.Comma(int64(n)) + " rows"
}
