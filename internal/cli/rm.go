package cli

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/exar/internal/archive"
	"github.com/roach88/exar/internal/render"
)

// deletedRows renders the per-table row counts of a removal.
type deletedRows archive.Deleted

func (d deletedRows) Table() render.Table {
	t := render.Table{Header: []string{"Table", "Rows"}}
	for _, name := range archive.Deleted(d).Tables() {
		t.Rows = append(t.Rows, []string{name, strconv.FormatInt(d[name], 10)})
	}
	return t
}

// NewRemoveCommand creates the rm command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm",
		Short: "Remove archived entities",
		Long: `Remove an entity together with everything recorded below it.

Variables are shared between versions and survive the removal of the
versions that declare them. Use "rm unused-variables" to clean them up.

Examples:
  exar rm run 7hQ1mZ0cLkP3sV9w
  exar rm experiment Perf1
  exar rm unused-variables`,
	}

	cmd.AddCommand(newRemoveEntityCommand(rootOpts, "experiment", "<name>",
		"Remove an experiment with all its versions, instances and runs",
		(*archive.Editor).DeleteExperiment))
	cmd.AddCommand(newRemoveEntityCommand(rootOpts, "version", "<version-id>",
		"Remove a version with its instances and runs",
		(*archive.Editor).DeleteVersion))
	cmd.AddCommand(newRemoveEntityCommand(rootOpts, "instance", "<instance-id>",
		"Remove an instance with its runs",
		(*archive.Editor).DeleteInstance))
	cmd.AddCommand(newRemoveEntityCommand(rootOpts, "run", "<run-id>",
		"Remove a run and its measurements",
		(*archive.Editor).DeleteRun))
	cmd.AddCommand(newRemoveVariableCommand(rootOpts))
	cmd.AddCommand(newRemoveUnusedVariablesCommand(rootOpts))

	return cmd
}

type deleteFunc func(e *archive.Editor, ctx context.Context, key string) (archive.Deleted, error)

func newRemoveEntityCommand(rootOpts *RootOptions, entity, arg, short string, del deleteFunc) *cobra.Command {
	return &cobra.Command{
		Use:   entity + " " + arg,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(ctx context.Context, s *session) error {
				deleted, err := del(s.editor(), ctx, args[0])
				if err != nil {
					return err
				}
				return rootOpts.write(cmd, deletedRows(deleted))
			})
		},
	}
}

func newRemoveVariableCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "variable <name>",
		Short: "Remove a variable no version declares",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(ctx context.Context, s *session) error {
				if err := s.editor().DeleteVariable(ctx, args[0]); err != nil {
					return err
				}
				return rootOpts.write(cmd, deletedRows{"variables": 1})
			})
		},
	}
}

func newRemoveUnusedVariablesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unused-variables",
		Short: "Remove every variable nothing references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(ctx context.Context, s *session) error {
				n, err := s.editor().PruneVariables(ctx)
				if err != nil {
					return err
				}
				return rootOpts.write(cmd, deletedRows{"variables": n})
			})
		},
	}
}
