// Package config manages named archive connection profiles.
//
// Profiles live in a YAML file at $XDG_CONFIG_HOME/exar/config.yaml (or the
// platform config directory). Environment variables override the selected
// profile field by field, so a shell can point the CLI at another database
// without editing the file.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/roach88/exar/internal/store"
)

// ErrNoProfile is returned when no profile is selected and none is marked default.
var ErrNoProfile = errors.New("no connection profile configured (run `exar configure add`)")

// Profile describes one archive database.
type Profile struct {
	Driver   string `yaml:"driver" json:"driver,omitempty"`
	Path     string `yaml:"path,omitempty" json:"path,omitempty"`
	Host     string `yaml:"host,omitempty" json:"host,omitempty"`
	Port     string `yaml:"port,omitempty" json:"port,omitempty"`
	User     string `yaml:"user,omitempty" json:"user,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	Database string `yaml:"database,omitempty" json:"database,omitempty"`
}

// File is the on-disk configuration.
type File struct {
	Default  string             `yaml:"default,omitempty"`
	Profiles map[string]Profile `yaml:"profiles"`
}

// Env holds the environment overrides.
type Env struct {
	Driver     string `envconfig:"EXAR_DRIVER"`
	SQLitePath string `envconfig:"EXAR_SQLITE_PATH"`
	Host       string `envconfig:"PSQL_HOST"`
	Port       string `envconfig:"PSQL_PORT"`
	User       string `envconfig:"PSQL_USER"`
	Password   string `envconfig:"PSQL_PWD"`
	Database   string `envconfig:"PSQL_DBNAME"`
}

// LoadEnv reads the overrides from the environment.
func LoadEnv() (Env, error) {
	var env Env
	if err := envconfig.Process("", &env); err != nil {
		return Env{}, fmt.Errorf("read environment: %w", err)
	}
	return env, nil
}

// empty reports whether no override is set.
func (e Env) empty() bool {
	return e == Env{}
}

// Apply returns p with every non-empty override applied. A PostgreSQL
// override without EXAR_DRIVER switches the driver to postgres.
func (e Env) Apply(p Profile) Profile {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&p.Driver, e.Driver)
	set(&p.Path, e.SQLitePath)
	set(&p.Host, e.Host)
	set(&p.Port, e.Port)
	set(&p.User, e.User)
	set(&p.Password, e.Password)
	set(&p.Database, e.Database)
	if e.Driver == "" && e.Host != "" {
		p.Driver = string(store.Postgres)
	}
	return p
}

// DefaultPath is the configuration file location.
func DefaultPath() (string, error) {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		var err error
		if dir, err = os.UserConfigDir(); err != nil {
			return "", fmt.Errorf("config dir: %w", err)
		}
	}
	return filepath.Join(dir, "exar", "config.yaml"), nil
}

// DefaultSQLitePath is where a SQLite profile without a path keeps its archive.
func DefaultSQLitePath() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "exar.db"
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "exar", "archive.db")
}

// Load reads the configuration at path. A missing file yields an empty File.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &File{Profiles: map[string]Profile{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("load config: parse %s: %w", path, err)
	}
	if f.Profiles == nil {
		f.Profiles = map[string]Profile{}
	}
	if f.Default != "" {
		if _, ok := f.Profiles[f.Default]; !ok {
			return nil, fmt.Errorf("load config: default profile %q is not defined", f.Default)
		}
	}
	return &f, nil
}

// Save writes f to path, creating the directory. The file may hold
// passwords and is written owner-only.
func (f *File) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("save config: encode: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

// Add registers a new profile. The first profile becomes the default, as
// does any profile added with makeDefault.
func (f *File) Add(name string, p Profile, makeDefault bool) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("profile name is required")
	}
	if _, ok := f.Profiles[name]; ok {
		return fmt.Errorf("profile %q already exists", name)
	}
	if _, err := store.ParseDialect(p.Driver); err != nil {
		return fmt.Errorf("profile %q: %w", name, err)
	}
	if f.Profiles == nil {
		f.Profiles = map[string]Profile{}
	}
	f.Profiles[name] = p
	if makeDefault || f.Default == "" {
		f.Default = name
	}
	return nil
}

// Remove deletes a profile. Removing the default leaves no default.
func (f *File) Remove(name string) error {
	if _, ok := f.Profiles[name]; !ok {
		return fmt.Errorf("profile %q not found", name)
	}
	delete(f.Profiles, name)
	if f.Default == name {
		f.Default = ""
	}
	return nil
}

// Use makes name the default profile.
func (f *File) Use(name string) error {
	if _, ok := f.Profiles[name]; !ok {
		return fmt.Errorf("profile %q not found", name)
	}
	f.Default = name
	return nil
}

// Names returns the profile names, sorted.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Profiles))
	for name := range f.Profiles {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Resolve picks the named profile (or the default when name is empty) and
// applies env. With no profile at all, overrides alone may describe the
// database; otherwise ErrNoProfile is returned.
func (f *File) Resolve(name string, env Env) (Profile, error) {
	if name == "" {
		name = f.Default
	}
	if name == "" {
		if env.empty() {
			return Profile{}, ErrNoProfile
		}
		return env.Apply(Profile{}), nil
	}
	p, ok := f.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("profile %q not found", name)
	}
	return env.Apply(p), nil
}

// StoreConfig converts p into a store configuration.
func (p Profile) StoreConfig() (store.Config, error) {
	dialect, err := store.ParseDialect(p.Driver)
	if err != nil {
		return store.Config{}, err
	}
	if dialect == store.SQLite {
		path := p.Path
		if path == "" {
			path = DefaultSQLitePath()
		}
		return store.Config{Dialect: dialect, DSN: path}, nil
	}

	if p.Host == "" || p.Database == "" {
		return store.Config{}, errors.New("postgres profile needs host and database")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(p.Host, port),
		Path:   "/" + p.Database,
	}
	if p.User != "" {
		if p.Password != "" {
			u.User = url.UserPassword(p.User, p.Password)
		} else {
			u.User = url.User(p.User)
		}
	}
	return store.Config{Dialect: dialect, DSN: u.String(), MaxOpenConns: 8}, nil
}

// Redacted returns p with the password masked, for display.
func (p Profile) Redacted() Profile {
	if p.Password != "" {
		p.Password = "****"
	}
	return p
}
