package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the archive tables",
		Long: `Create the archive tables in the database of the selected profile.

Safe to run against an existing archive.

Examples:
  exar init
  exar --profile lab init`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Opening the store applies the schema
			return rootOpts.withSession(cmd, func(ctx context.Context, s *session) error {
				rootOpts.printf(cmd, "Archive ready (%s)", s.store.Dialect())
				return nil
			})
		},
	}
}
