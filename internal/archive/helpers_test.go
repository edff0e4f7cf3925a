package archive

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/exar/internal/model"
	"github.com/roach88/exar/internal/store"
	"github.com/roach88/exar/internal/testutil"
)

// createTestStore creates a new SQLite archive in a temp directory.
func createTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// testOptions gives deterministic ids and dates.
func testOptions(extra ...Option) []Option {
	return append([]Option{
		WithIDSource(testutil.NewSequentialIDs("ID")),
		WithClock(testutil.NewDeterministicClock()),
	}, extra...)
}

var (
	runtimeDecl = model.Decl{
		Variable: model.Variable{Name: "Runtime", Description: "wall time", Type: model.UnitOf("ms")},
		Kind:     model.Output,
	}
	datasetDecl = model.Decl{
		Variable: model.Variable{Name: "Dataset", Type: model.ParseDataType("none")},
		Kind:     model.Input,
	}
)

func perf1Spec() VersionSpec {
	return VersionSpec{
		Experiment:  "Perf1",
		Label:       "v1",
		Description: "runtime benchmark",
		Researchers: []string{"Ada", "Grace"},
		Variables:   []model.Decl{runtimeDecl, datasetDecl},
	}
}

// perf1Instance creates the Perf1/v1 version and an instance with Dataset="A".
func perf1Instance(t *testing.T, w *Writer) (model.Version, model.Instance) {
	t.Helper()
	ctx := context.Background()
	v, err := w.EnsureVersion(ctx, perf1Spec())
	require.NoError(t, err)
	inst, err := w.CreateInstance(ctx, v.ID, map[string]model.Value{"Dataset": model.TextValue("A")})
	require.NoError(t, err)
	return v, inst
}

// commitRuntime records one run with the given Runtime value.
func commitRuntime(t *testing.T, w *Writer, instanceID, runtime string) model.RunSummary {
	t.Helper()
	ctx := context.Background()
	rc, err := w.BeginRun(ctx, instanceID)
	require.NoError(t, err)
	require.NoError(t, rc.AddValueByName(ctx, "Runtime", model.TextValue(runtime)))
	sum, err := w.CommitRun(ctx, rc)
	require.NoError(t, err)
	return sum
}

func countRows(t *testing.T, s *store.Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}
