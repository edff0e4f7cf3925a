package ids

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/exar/internal/model"
)

// DefaultMaxAttempts bounds how many candidates Claim draws before giving up.
const DefaultMaxAttempts = 5

// Checker reports whether key is already taken in table.
type Checker interface {
	Exists(ctx context.Context, table, key string) (bool, error)
}

// Generator claims identifiers that are unique within a table.
type Generator struct {
	source      Source
	maxAttempts int
	conflict    func(error) bool
	onRetry     func(ctx context.Context, table string)
	logger      *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithSource replaces the default crypto/rand source.
func WithSource(src Source) Option {
	return func(g *Generator) { g.source = src }
}

// WithMaxAttempts sets the attempt budget. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(g *Generator) {
		if n >= 1 {
			g.maxAttempts = n
		}
	}
}

// WithConflict sets the classifier for insert errors that mean "id taken".
func WithConflict(fn func(error) bool) Option {
	return func(g *Generator) { g.conflict = fn }
}

// WithRetryHook registers fn to be called after every collision.
func WithRetryHook(fn func(ctx context.Context, table string)) Option {
	return func(g *Generator) { g.onRetry = fn }
}

// WithLogger sets the logger for collision diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) { g.logger = logger }
}

// New creates a Generator. Without options it draws from RandomSource with
// DefaultMaxAttempts and treats no insert error as a collision.
func New(opts ...Option) *Generator {
	g := &Generator{
		source:      RandomSource{},
		maxAttempts: DefaultMaxAttempts,
		conflict:    func(error) bool { return false },
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Draw returns a candidate without checking it against storage.
func (g *Generator) Draw() string {
	return g.source.Draw()
}

// Claim draws candidates until one is free in table and insert(id) succeeds.
//
// For each attempt Claim asks checker whether the candidate exists; if not,
// it calls insert. An insert error classified as a conflict counts as a
// collision and the next candidate is drawn. Any other error is returned
// unchanged. After MaxAttempts collisions Claim fails with
// IDENTIFIER_EXHAUSTED.
//
// insert must leave the enclosing transaction usable when it fails; callers
// on PostgreSQL wrap it in a savepoint.
func (g *Generator) Claim(ctx context.Context, checker Checker, table string, insert func(id string) error) (string, error) {
	return g.claim(ctx, checker, table, "", insert)
}

// Reclaim is Claim with candidate tried first. Identifiers handed out
// before the row is written (a run id shown while the run is still open)
// are kept when still free and replaced only on collision.
func (g *Generator) Reclaim(ctx context.Context, checker Checker, table, candidate string, insert func(id string) error) (string, error) {
	return g.claim(ctx, checker, table, candidate, insert)
}

func (g *Generator) claim(ctx context.Context, checker Checker, table, first string, insert func(id string) error) (string, error) {
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		id := first
		if attempt > 1 || id == "" {
			id = g.source.Draw()
		}
		taken, err := checker.Exists(ctx, table, id)
		if err != nil {
			return "", model.StorageFailure("claim id", err)
		}
		if !taken {
			err = insert(id)
			if err == nil {
				return id, nil
			}
			if !g.conflict(err) {
				return "", err
			}
		}

		g.logger.Debug("identifier collision",
			"table", table,
			"attempt", attempt,
			"max_attempts", g.maxAttempts,
		)
		if g.onRetry != nil {
			g.onRetry(ctx, table)
		}
	}

	return "", &model.Error{
		Code:    model.ErrCodeIdentifierExhausted,
		Message: fmt.Sprintf("no free identifier in %s after %d attempts", table, g.maxAttempts),
	}
}

// Allocate returns an id that is free in table at the time of the check.
// Prefer Claim when inserting, which also covers races with concurrent writers.
func (g *Generator) Allocate(ctx context.Context, checker Checker, table string) (string, error) {
	return g.Claim(ctx, checker, table, func(string) error { return nil })
}
