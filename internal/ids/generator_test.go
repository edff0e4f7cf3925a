package ids

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/exar/internal/model"
)

// memChecker is an in-memory Checker keyed by table then id.
type memChecker struct {
	taken map[string]map[string]bool
	calls int
}

func newMemChecker() *memChecker {
	return &memChecker{taken: make(map[string]map[string]bool)}
}

func (m *memChecker) Exists(_ context.Context, table, key string) (bool, error) {
	m.calls++
	return m.taken[table][key], nil
}

func (m *memChecker) take(table, key string) {
	if m.taken[table] == nil {
		m.taken[table] = make(map[string]bool)
	}
	m.taken[table][key] = true
}

const (
	idA = "AAAAAAAAAAAAAAAA"
	idB = "BBBBBBBBBBBBBBBB"
	idC = "CCCCCCCCCCCCCCCC"
)

func TestClaim_FirstCandidateFree(t *testing.T) {
	g := New(WithSource(NewFixedSource(idA)))
	checker := newMemChecker()

	var inserted []string
	id, err := g.Claim(context.Background(), checker, "runs", func(id string) error {
		inserted = append(inserted, id)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, idA, id)
	assert.Equal(t, []string{idA}, inserted)
}

func TestClaim_RedrawsOnExistingRow(t *testing.T) {
	checker := newMemChecker()
	checker.take("runs", idA)

	retries := 0
	g := New(
		WithSource(NewFixedSource(idA, idB)),
		WithRetryHook(func(context.Context, string) { retries++ }),
	)

	id, err := g.Claim(context.Background(), checker, "runs", func(string) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, idB, id)
	assert.Equal(t, 1, retries)
}

func TestClaim_TablesAreIndependent(t *testing.T) {
	checker := newMemChecker()
	checker.take("runs", idA)

	g := New(WithSource(NewFixedSource(idA)))
	id, err := g.Claim(context.Background(), checker, "experiment_instances", func(string) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, idA, id)
}

func TestClaim_InsertConflictCountsAsCollision(t *testing.T) {
	errTaken := errors.New("taken")
	g := New(
		WithSource(NewFixedSource(idA, idB)),
		WithConflict(func(err error) bool { return errors.Is(err, errTaken) }),
	)

	id, err := g.Claim(context.Background(), newMemChecker(), "runs", func(id string) error {
		if id == idA {
			return errTaken
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, idB, id)
}

func TestClaim_OtherInsertErrorsPropagate(t *testing.T) {
	boom := errors.New("disk full")
	g := New(WithSource(NewFixedSource(idA, idB)))

	_, err := g.Claim(context.Background(), newMemChecker(), "runs", func(string) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestClaim_ExhaustsAfterMaxAttempts(t *testing.T) {
	checker := newMemChecker()
	checker.take("runs", idA)
	checker.take("runs", idB)
	checker.take("runs", idC)

	g := New(
		WithSource(NewFixedSource(idA, idB, idC)),
		WithMaxAttempts(3),
	)

	_, err := g.Claim(context.Background(), checker, "runs", func(string) error {
		t.Fatal("insert must not run for taken ids")
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrIdentifierExhausted)
	assert.Equal(t, 3, checker.calls)
}

func TestClaim_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := New(WithSource(NewFixedSource(idA)))
	_, err := g.Claim(ctx, newMemChecker(), "runs", func(string) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_IgnoresInvalidMaxAttempts(t *testing.T) {
	g := New(WithMaxAttempts(0))
	assert.Equal(t, DefaultMaxAttempts, g.maxAttempts)
}

func TestAllocate_SkipsTakenIDs(t *testing.T) {
	checker := newMemChecker()
	checker.take("experiment_versions", idA)

	g := New(WithSource(NewFixedSource(idA, idB)))
	id, err := g.Allocate(context.Background(), checker, "experiment_versions")
	require.NoError(t, err)
	assert.Equal(t, idB, id)
}

// A seeded property check: many allocations against a growing table never
// hand out the same id twice.
func TestAllocate_SeededNeverRepeats(t *testing.T) {
	checker := newMemChecker()
	g := New(WithSource(NewSeededSource(2024)))

	for i := 0; i < 2000; i++ {
		id, err := g.Claim(context.Background(), checker, "runs", func(id string) error {
			checker.take("runs", id)
			return nil
		})
		require.NoError(t, err)
		require.True(t, Valid(id))
	}
	assert.Len(t, checker.taken["runs"], 2000)
}

func TestReclaim_KeepsFreeCandidate(t *testing.T) {
	g := New(WithSource(NewFixedSource()))
	id, err := g.Reclaim(context.Background(), newMemChecker(), "runs", idC, func(string) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, idC, id)
}

func TestReclaim_ReplacesTakenCandidate(t *testing.T) {
	checker := newMemChecker()
	checker.take("runs", idC)

	g := New(WithSource(NewFixedSource(idA)))
	id, err := g.Reclaim(context.Background(), checker, "runs", idC, func(string) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, idA, id)
}
