package cli

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tuplex/internal/tuple"
)

// TupleOptions holds flags for the tuple commands.
type TupleOptions struct {
	*RootOptions
	Types string // comma-separated field type names
}

// FieldInfo describes one parsed field.
type FieldInfo struct {
	Index int     `json:"index"`
	Type  string  `json:"type"`
	State string  `json:"state"`
	Value *string `json:"value,omitempty"`
}

// NewTupleCommand creates the tuple command and its subcommands.
func NewTupleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TupleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tuple",
		Short: "Parse and format tuple text",
		Long: `Read tuples in the text format used by plan rows and scenario
expectations: fields joined by commas, an empty field is unavailable,
null is null, and quoted text is always a value.

Examples:
  tuplex tuple format --types int64,string '1,"ann"'
  tuplex tuple parse --types int64,string,string '1,null,'`,
	}
	cmd.PersistentFlags().StringVar(&opts.Types, "types", "", "comma-separated field types (required)")
	_ = cmd.MarkPersistentFlagRequired("types")

	cmd.AddCommand(&cobra.Command{
		Use:           "format <text>",
		Short:         "Print the canonical form of a tuple",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTupleFormat(opts, args[0], cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "parse <text>",
		Short:         "List the fields of a tuple",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTupleParse(opts, args[0], cmd)
		},
	})

	return cmd
}

func (o *TupleOptions) parse(out *OutputFormatter, text string) (*tuple.PackedTuple, error) {
	types, err := parseTypes(o.Types)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid --types", err)
	}
	t, err := tuple.Parse(tuple.Create(types...), text)
	if err != nil {
		return nil, out.Fail(ExitFailure, ErrCodeTuple, "failed to parse tuple", err)
	}
	return t, nil
}

func runTupleFormat(opts *TupleOptions, text string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	t, err := opts.parse(out, text)
	if err != nil {
		return err
	}
	return out.Success(tuple.Format(t))
}

func runTupleParse(opts *TupleOptions, text string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	t, err := opts.parse(out, text)
	if err != nil {
		return err
	}

	d := t.Descriptor()
	fields := make([]FieldInfo, d.Count())
	for i := range fields {
		v, state := t.Value(i)
		fields[i] = FieldInfo{Index: i, Type: tuple.TypeName(d.Type(i)), State: state.String()}
		if state.HasValue() {
			s := tuple.FormatField(d.Type(i), v)
			fields[i].Value = &s
		}
	}

	if out.JSON() {
		return out.Success(fields)
	}
	rows := make([][]string, len(fields))
	for i, f := range fields {
		value := ""
		if f.Value != nil {
			value = *f.Value
		}
		rows[i] = []string{strconv.Itoa(f.Index), f.Type, f.State, value}
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"#", "type", "state", "value"}, rows))
	return nil
}

func parseTypes(list string) ([]reflect.Type, error) {
	if strings.TrimSpace(list) == "" {
		return nil, fmt.Errorf("no field types given")
	}
	names := strings.Split(list, ",")
	types := make([]reflect.Type, len(names))
	for i, name := range names {
		typ, ok := tuple.TypeByName(name)
		if !ok {
			return nil, fmt.Errorf("unknown field type %q", strings.TrimSpace(name))
		}
		types[i] = typ
	}
	return types, nil
}
