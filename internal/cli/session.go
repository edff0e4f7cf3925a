package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/roach88/exar/internal/archive"
	"github.com/roach88/exar/internal/config"
	"github.com/roach88/exar/internal/store"
	"github.com/roach88/exar/internal/telemetry"
)

// session is an open archive with its telemetry recorder.
type session struct {
	store    *store.Store
	recorder telemetry.Recorder
	opts     []archive.Option
}

func (o *RootOptions) configPath() (string, error) {
	if o.ConfigPath != "" {
		return o.ConfigPath, nil
	}
	return config.DefaultPath()
}

// loadConfig reads the profile file.
func (o *RootOptions) loadConfig() (*config.File, string, error) {
	path, err := o.configPath()
	if err != nil {
		return nil, "", WrapExitError(ExitCommandError, "failed to locate config", err)
	}
	f, err := config.Load(path)
	if err != nil {
		return nil, "", WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return f, path, nil
}

// open resolves the profile and opens the archive it names.
func (o *RootOptions) open(ctx context.Context) (*session, error) {
	f, _, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	env, err := config.LoadEnv()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read environment", err)
	}
	profile, err := f.Resolve(o.Profile, env)
	if errors.Is(err, config.ErrNoProfile) {
		return nil, NewExitError(ExitCommandError, err.Error())
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to select profile", err)
	}
	cfg, err := profile.StoreConfig()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid profile", err)
	}
	cfg.Logger = o.logger

	st, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open archive", err)
	}

	telCfg, err := telemetry.LoadConfig()
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to read telemetry environment", err)
	}
	rec, err := telemetry.New(ctx, telCfg)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to start telemetry", err)
	}

	return &session{
		store:    st,
		recorder: rec,
		opts:     []archive.Option{archive.WithRecorder(rec), archive.WithLogger(o.logger)},
	}, nil
}

// withSession opens the archive, runs fn and closes everything.
func (o *RootOptions) withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.recorder.Close(ctx); err != nil {
			o.logger.Warn("telemetry shutdown failed", "error", err)
		}
		s.store.Close()
	}()
	return fn(ctx, s)
}

func (s *session) writer() *archive.Writer { return archive.NewWriter(s.store, s.opts...) }
func (s *session) reader() *archive.Reader { return archive.NewReader(s.store) }
func (s *session) editor() *archive.Editor { return archive.NewEditor(s.store, s.opts...) }
