package archive

import (
	"log/slog"
	"time"

	"github.com/roach88/exar/internal/ids"
	"github.com/roach88/exar/internal/store"
	"github.com/roach88/exar/internal/telemetry"
)

// Clock supplies the dates stamped on versions, instances and runs.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type options struct {
	source           ids.Source
	maxAttempts      int
	clock            Clock
	recorder         telemetry.Recorder
	logger           *slog.Logger
	allowPartialRuns bool
}

// Option configures a Writer or Editor.
type Option func(*options)

// WithIDSource draws identifiers from src instead of crypto/rand.
func WithIDSource(src ids.Source) Option {
	return func(o *options) { o.source = src }
}

// WithMaxAttempts sets the identifier collision budget.
func WithMaxAttempts(n int) Option {
	return func(o *options) { o.maxAttempts = n }
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithRecorder sends archive events to r.
func WithRecorder(r telemetry.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// AllowPartialRuns lets CommitRun persist runs that lack some declared
// Output values. By default every declared Output must be set.
func AllowPartialRuns() Option {
	return func(o *options) { o.allowPartialRuns = true }
}

func newOptions(opts []Option) options {
	o := options{
		source:      ids.RandomSource{},
		maxAttempts: ids.DefaultMaxAttempts,
		clock:       systemClock{},
		recorder:    telemetry.Noop{},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) generator() *ids.Generator {
	return ids.New(
		ids.WithSource(o.source),
		ids.WithMaxAttempts(o.maxAttempts),
		ids.WithConflict(store.IsUniqueViolation),
		ids.WithRetryHook(o.recorder.IDRetry),
		ids.WithLogger(o.logger),
	)
}

func (o options) now() time.Time {
	return store.Timestamp(o.clock.Now())
}
