package cli

import (
	"fmt"
	"slices"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/roach88/tuplex/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    int
	Format     string // "json" | "text"
	ConfigPath string

	// Config is the loaded configuration with flags applied. It is set
	// before any subcommand runs.
	Config config.Config
	Log    logr.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = config.Formats

// NewRootCommand creates the root command for the tuplex CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{Log: logr.Discard()}

	cmd := &cobra.Command{
		Use:   "tuplex",
		Short: "tuplex - relational query plans over typed tuples",
		Long: `Build, inspect and execute relational query plans over typed tuples.

Plans are YAML or CUE documents naming a tree of providers and the
indexes they read. They run on an in-memory backend or are translated
to SQL and run on SQLite.

Settings are read from tuplex.toml in the working directory, or the
file named by --config. Flags override the file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
	}

	// Global flags
	cmd.PersistentFlags().CountVarP(&opts.Verbose, "verbose", "v", "verbose output (repeat for more)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to config file (default ./"+config.DefaultFile+" if present)")

	// Add subcommands
	cmd.AddCommand(NewExplainCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewTraceCommand(opts))
	cmd.AddCommand(NewTupleCommand(opts))

	return cmd
}

func (o *RootOptions) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if cmd.Flags().Changed("format") {
		cfg.Format = o.Format
	}
	if !isValidFormat(cfg.Format) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", cfg.Format, ValidFormats))
	}
	if o.Verbose > cfg.Verbosity {
		cfg.Verbosity = o.Verbose
	}
	o.Format = cfg.Format
	o.Config = cfg
	o.Log = newLogger(cmd.ErrOrStderr(), cfg.Verbosity)
	return nil
}

// formatter returns an OutputFormatter for cmd's writers.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose > 0,
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
