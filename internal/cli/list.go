package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/exar/internal/archive"
	"github.com/roach88/exar/internal/model"
	"github.com/roach88/exar/internal/render"
	"github.com/roach88/exar/internal/stats"
)

// filterFlags are the list filters shared by the ls commands.
type filterFlags struct {
	name  string
	exact bool
	from  string
	to    string
	limit int
}

func (f *filterFlags) addName(cmd *cobra.Command, what string) {
	cmd.Flags().StringVar(&f.name, "name", "", "only "+what+" containing this text (case-insensitive)")
	cmd.Flags().BoolVar(&f.exact, "exact", false, "match --name exactly")
}

func (f *filterFlags) addDates(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.from, "from", "", "earliest date, inclusive (2006-01-02 or RFC 3339)")
	cmd.Flags().StringVar(&f.to, "to", "", "latest date, exclusive (2006-01-02 or RFC 3339)")
}

func (f *filterFlags) addLimit(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.limit, "limit", 0, "maximum number of rows (0 = all)")
}

func (f *filterFlags) filter() (archive.Filter, error) {
	from, err := parseDate(f.from)
	if err != nil {
		return archive.Filter{}, NewExitError(ExitCommandError, "invalid --from: "+err.Error())
	}
	to, err := parseDate(f.to)
	if err != nil {
		return archive.Filter{}, NewExitError(ExitCommandError, "invalid --to: "+err.Error())
	}
	if f.limit < 0 {
		return archive.Filter{}, NewExitError(ExitCommandError, "--limit must not be negative")
	}
	return archive.Filter{Name: f.name, ExactName: f.exact, From: from, To: to, Limit: f.limit}, nil
}

// parseDate accepts a calendar date (UTC midnight) or an RFC 3339 time.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither YYYY-MM-DD nor RFC 3339", s)
	}
	return t, nil
}

// NewListExperimentsCommand creates the lse command.
func NewListExperimentsCommand(rootOpts *RootOptions) *cobra.Command {
	var ff filterFlags
	cmd := &cobra.Command{
		Use:   "lse",
		Short: "List experiments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := ff.filter()
			if err != nil {
				return err
			}
			return rootOpts.withSession(cmd, func(ctx context.Context, s *session) error {
				exps, err := s.reader().ListExperiments(ctx, f)
				if err != nil {
					return err
				}
				return rootOpts.write(cmd, render.Experiments(exps))
			})
		},
	}
	ff.addName(cmd, "experiments")
	ff.addLimit(cmd)
	return cmd
}

// NewListVersionsCommand creates the lsv command.
func NewListVersionsCommand(rootOpts *RootOptions) *cobra.Command {
	var ff filterFlags
	var latest bool
	cmd := &cobra.Command{
		Use:   "lsv <experiment>",
		Short: "List the versions of an experiment",
		Long: `List the versions of an experiment, oldest first.

Examples:
  exar lsv Perf1
  exar lsv Perf1 --latest
  exar lsv Perf1 --from 2024-01-01 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := ff.filter()
			if err != nil {
				return err
			}
			return rootOpts.withSession(cmd, func(ctx context.Context, s *session) error {
				if latest {
					v, err := s.reader().LatestVersion(ctx, args[0])
					if err != nil {
						return err
					}
					return rootOpts.write(cmd, render.Versions{v})
				}
				versions, err := s.reader().ListVersions(ctx, args[0], f)
				if err != nil {
					return err
				}
				return rootOpts.write(cmd, render.Versions(versions))
			})
		},
	}
	ff.addName(cmd, "version labels")
	ff.addDates(cmd)
	ff.addLimit(cmd)
	cmd.Flags().BoolVar(&latest, "latest", false, "show only the most recent version")
	return cmd
}

// NewListVariablesCommand creates the vars command.
func NewListVariablesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "vars <version-id>",
		Short: "List the variables a version declares",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(ctx context.Context, s *session) error {
				decls, err := s.reader().Variables(ctx, args[0])
				if err != nil {
					return err
				}
				return rootOpts.write(cmd, render.Variables(decls))
			})
		},
	}
}

// NewListInstancesCommand creates the lsi command.
func NewListInstancesCommand(rootOpts *RootOptions) *cobra.Command {
	var ff filterFlags
	var withStats bool
	cmd := &cobra.Command{
		Use:   "lsi <version-id>",
		Short: "List the instances of a version",
		Long: `List the instances of a version with their input values.

With --stats, each instance is shown with the aggregate of its runs:
mean, median and standard deviation for numbers, a histogram for labels
and text, and the fraction of true values for booleans.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := ff.filter()
			if err != nil {
				return err
			}
			return rootOpts.withSession(cmd, func(ctx context.Context, s *session) error {
				r := s.reader()
				insts, err := r.ListInstances(ctx, args[0], f)
				if err != nil {
					return err
				}
				listing, err := withInputs(ctx, r, insts)
				if err != nil {
					return err
				}
				if !withStats {
					return rootOpts.write(cmd, listing)
				}

				decls, err := r.Variables(ctx, args[0])
				if err != nil {
					return err
				}
				out := render.Statistics{}
				for _, inst := range listing {
					runs, err := r.Runs(ctx, inst.ID, archive.Filter{})
					if err != nil {
						return err
					}
					out = append(out, render.Statistic{
						InstanceID: inst.ID,
						Inputs:     inst.Inputs,
						Summary:    stats.Summarize(decls, runs),
					})
				}
				return rootOpts.write(cmd, out)
			})
		},
	}
	ff.addDates(cmd)
	ff.addLimit(cmd)
	cmd.Flags().BoolVar(&withStats, "stats", false, "aggregate the runs of each instance")
	return cmd
}

func withInputs(ctx context.Context, r *archive.Reader, insts []model.Instance) (render.Instances, error) {
	out := make(render.Instances, 0, len(insts))
	for _, inst := range insts {
		vals, err := r.ListInValues(ctx, inst.ID)
		if err != nil {
			return nil, err
		}
		inputs := make(map[string]string, len(vals))
		for _, v := range vals {
			inputs[v.VarName] = v.Value
		}
		out = append(out, render.Instance{Instance: inst, Inputs: inputs})
	}
	return out, nil
}

// NewListRunsCommand creates the lsr command.
func NewListRunsCommand(rootOpts *RootOptions) *cobra.Command {
	var ff filterFlags
	var withStats bool
	cmd := &cobra.Command{
		Use:   "lsr <instance-id>",
		Short: "List the runs of an instance",
		Long: `List the runs of an instance with their measurements, oldest first.

Examples:
  exar lsr 4fJ2kq9ZpX0aB7cD
  exar lsr 4fJ2kq9ZpX0aB7cD --from 2024-03-01 --to 2024-04-01
  exar lsr 4fJ2kq9ZpX0aB7cD --stats`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := ff.filter()
			if err != nil {
				return err
			}
			return rootOpts.withSession(cmd, func(ctx context.Context, s *session) error {
				r := s.reader()
				runs, err := r.Runs(ctx, args[0], f)
				if err != nil {
					return err
				}
				if !withStats {
					return rootOpts.write(cmd, render.Runs(runs))
				}

				inst, err := r.GetInstance(ctx, args[0])
				if err != nil {
					return err
				}
				decls, err := r.Variables(ctx, inst.VersionID)
				if err != nil {
					return err
				}
				return rootOpts.write(cmd, render.Statistics{{
					InstanceID: inst.ID,
					Summary:    stats.Summarize(decls, runs),
				}})
			})
		},
	}
	ff.addDates(cmd)
	ff.addLimit(cmd)
	cmd.Flags().BoolVar(&withStats, "stats", false, "aggregate the selected runs")
	return cmd
}

// NewListMeasurementsCommand creates the lsm command.
func NewListMeasurementsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lsm <run-id>",
		Short: "List the measurements of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(ctx context.Context, s *session) error {
				ms, err := s.reader().ListMeasurements(ctx, args[0])
				if err != nil {
					return err
				}
				return rootOpts.write(cmd, render.Measurements(ms))
			})
		},
	}
}
