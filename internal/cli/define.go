package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/roach88/exar/internal/definition"
	"github.com/roach88/exar/internal/render"
)

// NewDefineCommand creates the define command.
func NewDefineCommand(rootOpts *RootOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "define <file>",
		Short: "Register an experiment version from a definition file",
		Long: `Register an experiment version from a YAML, CUE or JSON definition.

Defining a version that already exists with the same variables returns the
stored version. Redefining it with different variables is an error.

Examples:
  exar define perf1.yaml
  exar define perf1.cue --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := definition.Load(args[0])
			if err != nil {
				var defErr *definition.Error
				if errors.As(err, &defErr) {
					return NewExitError(ExitCommandError, defErr.Error())
				}
				return WrapExitError(ExitCommandError, "failed to read definition", err)
			}
			if dryRun {
				rootOpts.printf(cmd, "%s %s is valid (%d inputs, %d outputs)",
					def.Name, def.Version, len(def.InputVariables), len(def.OutputVariables))
				return nil
			}

			return rootOpts.withSession(cmd, func(ctx context.Context, s *session) error {
				v, err := s.writer().EnsureVersion(ctx, def.VersionSpec())
				if err != nil {
					return err
				}
				return rootOpts.write(cmd, render.Versions{v})
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the definition without touching the archive")
	return cmd
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <version-id>",
		Short: "Print the definition of a stored version",
		Long: `Print the definition of a stored version. The table format prints
YAML that define accepts.

Examples:
  exar show 4fJ2kq9ZpX0aB7cD > perf1.yaml
  exar show 4fJ2kq9ZpX0aB7cD --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(ctx context.Context, s *session) error {
				r := s.reader()
				v, err := r.GetVersion(ctx, args[0])
				if err != nil {
					return err
				}
				decls, err := r.Variables(ctx, v.ID)
				if err != nil {
					return err
				}
				format := rootOpts.format
				if format == render.FormatTable || format == render.FormatCSV {
					format = render.FormatYAML
				}
				if err := render.Write(cmd.OutOrStdout(), format, definition.FromVersion(v, decls)); err != nil {
					return WrapExitError(ExitCommandError, "failed to write output", err)
				}
				return nil
			})
		},
	}
}
