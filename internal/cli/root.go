package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/exar/internal/render"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // table | csv | json | yaml
	Profile    string
	ConfigPath string

	format render.Format
	logger *slog.Logger
}

// NewRootCommand creates the root command for the exar CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "exar",
		Short: "exar - experiment run archive",
		Long: `Record and query the runs of computational experiments.

Experiments have versions that declare input and output variables.
An instance binds the inputs; each run of an instance records the outputs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			format, err := render.ParseFormat(opts.Format)
			if err != nil {
				return NewExitError(ExitCommandError, err.Error())
			}
			opts.format = format
			opts.logger = newLogger(cmd.ErrOrStderr(), opts.Verbose)
			slog.SetDefault(opts.logger)
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "table", "output format (table|csv|json|yaml)")
	cmd.PersistentFlags().StringVarP(&opts.Profile, "profile", "p", "", "connection profile (default: the configured default)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default: $XDG_CONFIG_HOME/exar/config.yaml)")

	// Add subcommands
	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewConfigureCommand(opts))
	cmd.AddCommand(NewListExperimentsCommand(opts))
	cmd.AddCommand(NewListVersionsCommand(opts))
	cmd.AddCommand(NewListVariablesCommand(opts))
	cmd.AddCommand(NewListInstancesCommand(opts))
	cmd.AddCommand(NewListRunsCommand(opts))
	cmd.AddCommand(NewListMeasurementsCommand(opts))
	cmd.AddCommand(NewDefineCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewRecordCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))

	return cmd
}

// newLogger logs text to w at Warn, or Debug when verbose.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Execute runs the CLI with args and returns the process exit code.
// Errors are printed to stderr in the selected format.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	format, ferr := render.ParseFormat(formatFlag(cmd))
	if ferr != nil {
		format = render.FormatTable
	}
	PrintError(stderr, format, err)
	return GetExitCode(err)
}

func formatFlag(cmd *cobra.Command) string {
	f := cmd.PersistentFlags().Lookup("format")
	if f == nil {
		return ""
	}
	return f.Value.String()
}

// write renders v to the command's stdout in the selected format.
func (o *RootOptions) write(cmd *cobra.Command, v any) error {
	if err := render.Write(cmd.OutOrStdout(), o.format, v); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}
	return nil
}

// printf writes a status line for table output; structured formats stay
// machine readable, so the line goes to the log instead.
func (o *RootOptions) printf(cmd *cobra.Command, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if o.format == render.FormatTable {
		fmt.Fprintln(cmd.OutOrStdout(), msg)
		return
	}
	o.logger.Info(msg)
}
