package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/exar/internal/config"
	"github.com/roach88/exar/internal/render"
)

// ProfileRow is one line of `configure list`.
type ProfileRow struct {
	Name    string `json:"name"`
	Default bool   `json:"default"`
	config.Profile
}

// ProfileRows lists profiles with passwords masked.
type ProfileRows []ProfileRow

func (l ProfileRows) Table() render.Table {
	t := render.Table{Header: []string{"Name", "Default", "Driver", "Location"}}
	for _, p := range l {
		def := ""
		if p.Default {
			def = "*"
		}
		location := p.Path
		if p.Host != "" {
			location = p.User + "@" + p.Host
			if p.Port != "" {
				location += ":" + p.Port
			}
			location += "/" + p.Database
		}
		t.Rows = append(t.Rows, []string{p.Name, def, p.Driver, location})
	}
	return t
}

// NewConfigureCommand creates the configure command and its subcommands.
func NewConfigureCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Manage connection profiles",
	}
	cmd.AddCommand(newConfigureAddCommand(rootOpts))
	cmd.AddCommand(newConfigureListCommand(rootOpts))
	cmd.AddCommand(newConfigureUseCommand(rootOpts))
	cmd.AddCommand(newConfigureRemoveCommand(rootOpts))
	return cmd
}

func newConfigureAddCommand(rootOpts *RootOptions) *cobra.Command {
	var p config.Profile
	var makeDefault bool

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a connection profile",
		Long: `Add a named connection profile. The first profile becomes the default.

Examples:
  exar configure add local --driver sqlite --path ~/exar.db
  exar configure add lab --driver postgres --host db.lab --user ada --database exar --default`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := rootOpts.updateConfig(func(f *config.File) error {
				return f.Add(args[0], p, makeDefault)
			})
			if err != nil {
				return err
			}
			rootOpts.printf(cmd, "Added profile %s", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&p.Driver, "driver", "sqlite", "database driver (sqlite|postgres)")
	cmd.Flags().StringVar(&p.Path, "path", "", "SQLite archive file")
	cmd.Flags().StringVar(&p.Host, "host", "", "PostgreSQL host")
	cmd.Flags().StringVar(&p.Port, "port", "", "PostgreSQL port (default 5432)")
	cmd.Flags().StringVar(&p.User, "user", "", "PostgreSQL user")
	cmd.Flags().StringVar(&p.Password, "password", "", "PostgreSQL password")
	cmd.Flags().StringVar(&p.Database, "database", "", "PostgreSQL database name")
	cmd.Flags().BoolVar(&makeDefault, "default", false, "make this the default profile")

	return cmd
}

func newConfigureListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List connection profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, _, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			rows := ProfileRows{}
			for _, name := range f.Names() {
				rows = append(rows, ProfileRow{
					Name:    name,
					Default: name == f.Default,
					Profile: f.Profiles[name].Redacted(),
				})
			}
			return rootOpts.write(cmd, rows)
		},
	}
}

func newConfigureUseCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "use <name>",
		Short: "Make a profile the default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := rootOpts.updateConfig(func(f *config.File) error {
				return f.Use(args[0])
			})
			if err != nil {
				return err
			}
			rootOpts.printf(cmd, "Default profile is now %s", args[0])
			return nil
		},
	}
}

func newConfigureRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := rootOpts.updateConfig(func(f *config.File) error {
				return f.Remove(args[0])
			})
			if err != nil {
				return err
			}
			rootOpts.printf(cmd, "Removed profile %s", args[0])
			return nil
		},
	}
}

// updateConfig loads the profile file, applies fn and saves the result.
func (o *RootOptions) updateConfig(fn func(f *config.File) error) error {
	f, path, err := o.loadConfig()
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		return NewExitError(ExitCommandError, err.Error())
	}
	if err := f.Save(path); err != nil {
		return WrapExitError(ExitCommandError, "failed to save config", err)
	}
	return nil
}
