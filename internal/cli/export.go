package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/exar/internal/export"
)

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var dest string

	cmd := &cobra.Command{
		Use:   "export <instance-id>",
		Short: "Export the runs of an instance as CSV",
		Long: `Export every run of an instance as CSV, one column per output variable.

The destination is a local path, a file:// URL or an s3://bucket/key URL.
S3 uses the standard AWS credential chain; EXAR_S3_REGION, EXAR_S3_ENDPOINT
and EXAR_S3_PATH_STYLE override the client settings.

Examples:
  exar export 4fJ2kq9ZpX0aB7cD --to runs.csv
  exar export 4fJ2kq9ZpX0aB7cD --to s3://lab-results/perf1/threads8.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dest == "" {
				return NewExitError(ExitCommandError, "--to is required")
			}
			return rootOpts.withSession(cmd, func(ctx context.Context, s *session) error {
				sink, err := export.Open(ctx, dest)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid export target", err)
				}
				n, err := export.Instance(ctx, s.reader(), args[0], sink)
				if err != nil {
					return err
				}
				rootOpts.printf(cmd, "Exported %d runs to %s", n, sink)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&dest, "to", "", "destination path or URL")
	return cmd
}
