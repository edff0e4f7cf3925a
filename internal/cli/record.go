package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/exar/internal/archive"
	"github.com/roach88/exar/internal/model"
	"github.com/roach88/exar/internal/render"
)

type assignment struct {
	name  string
	value model.Value
}

// parseAssignments splits repeated name=value flags, keeping flag order.
// Values stay text; the archive checks them against the declared types.
func parseAssignments(flag string, pairs []string) ([]assignment, error) {
	out := make([]assignment, 0, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid --%s %q (want name=value)", flag, p))
		}
		out = append(out, assignment{name: strings.TrimSpace(name), value: model.TextValue(value)})
	}
	return out, nil
}

func assignmentMap(as []assignment) map[string]model.Value {
	m := make(map[string]model.Value, len(as))
	for _, a := range as {
		m[a.name] = a.value
	}
	return m
}

// NewRecordCommand creates the record command.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		inputs       []string
		values       []string
		allowPartial bool
	)

	cmd := &cobra.Command{
		Use:   "record <version-id>",
		Short: "Record one run of an experiment version",
		Long: `Record one run of an experiment version.

The --input values select the instance, which is created on first use.
The --value flags are the measurements of the run. Every output variable
must be measured unless --allow-partial is given.

Examples:
  exar record 4fJ2kq9ZpX0aB7cD --input threads=8 --value time=1.25 --value ok=true
  exar record 4fJ2kq9ZpX0aB7cD --input threads=8 --value time=1.31 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := parseAssignments("input", inputs)
			if err != nil {
				return err
			}
			out, err := parseAssignments("value", values)
			if err != nil {
				return err
			}

			return rootOpts.withSession(cmd, func(ctx context.Context, s *session) error {
				opts := s.opts
				if allowPartial {
					opts = append(opts[:len(opts):len(opts)], archive.AllowPartialRuns())
				}
				w := archive.NewWriter(s.store, opts...)

				inst, err := w.EnsureInstance(ctx, args[0], assignmentMap(in))
				if err != nil {
					return err
				}
				summary, err := w.Record(ctx, inst.ID, func(ctx context.Context, rc *archive.RunContext) error {
					for _, a := range out {
						if err := rc.AddValueByName(ctx, a.name, a.value); err != nil {
							return err
						}
					}
					return nil
				})
				if err != nil {
					return err
				}
				return rootOpts.write(cmd, render.Runs{summary})
			})
		},
	}

	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "input variable binding name=value (repeatable)")
	cmd.Flags().StringArrayVarP(&values, "value", "m", nil, "measurement name=value (repeatable)")
	cmd.Flags().BoolVar(&allowPartial, "allow-partial", false, "commit even if some outputs are not measured")
	return cmd
}
