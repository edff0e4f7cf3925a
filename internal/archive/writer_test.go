package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/exar/internal/catalog"
	"github.com/roach88/exar/internal/ids"
	"github.com/roach88/exar/internal/model"
)

func TestScenario_Perf1(t *testing.T) {
	s := createTestStore(t)
	w := NewWriter(s, testOptions()...)
	ctx := context.Background()

	_, inst := perf1Instance(t, w)

	rc, err := w.BeginRun(ctx, inst.ID)
	require.NoError(t, err)
	require.NoError(t, rc.AddValueByName(ctx, "Runtime", model.TextValue("123")))

	sum, err := w.CommitRun(ctx, rc)
	require.NoError(t, err)
	assert.Equal(t, RunCommitted, rc.State())

	got, err := NewReader(s).ListMeasurements(ctx, sum.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Runtime", got[0].VarName)
	assert.Equal(t, "123", got[0].Value)
}

func TestEnsureExperiment_Idempotent(t *testing.T) {
	s := createTestStore(t)
	w := NewWriter(s, testOptions()...)
	ctx := context.Background()

	name, err := w.EnsureExperiment(ctx, "  Perf1 ")
	require.NoError(t, err)
	assert.Equal(t, "Perf1", name)

	_, err = w.EnsureExperiment(ctx, "Perf1")
	require.NoError(t, err)
	assert.Equal(t, 1, countRows(t, s, "experiments"))
}

func TestEnsureExperiment_EmptyName(t *testing.T) {
	w := NewWriter(createTestStore(t), testOptions()...)
	_, err := w.EnsureExperiment(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrSchemaConflict)
}

func TestEnsureVersion_ResolveRoundTrip(t *testing.T) {
	s := createTestStore(t)
	w := NewWriter(s, testOptions()...)
	ctx := context.Background()

	v, err := w.EnsureVersion(ctx, perf1Spec())
	require.NoError(t, err)
	assert.Equal(t, "Perf1", v.Experiment)
	assert.Equal(t, "v1", v.Label)
	assert.Equal(t, []string{"Ada", "Grace"}, v.Researchers)
	assert.True(t, ids.Valid(v.ID))

	cat := catalog.New(s)
	for _, want := range perf1Spec().Variables {
		got, err := cat.Resolve(ctx, v.ID, want.Name)
		require.NoError(t, err)
		assert.Equal(t, want.Kind, got.Kind, want.Name)
		assert.Equal(t, want.Type, got.Type, want.Name)
	}
}

func TestEnsureVersion_SameSpecReturnsExisting(t *testing.T) {
	s := createTestStore(t)
	w := NewWriter(s, testOptions()...)
	ctx := context.Background()

	first, err := w.EnsureVersion(ctx, perf1Spec())
	require.NoError(t, err)

	// Reordered variables and a new description still match
	spec := perf1Spec()
	spec.Variables = []model.Decl{datasetDecl, runtimeDecl}
	spec.Description = "edited"
	second, err := w.EnsureVersion(ctx, spec)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, countRows(t, s, "experiment_versions"))
	assert.Equal(t, 2, countRows(t, s, "experiment_variables"))
}

func TestEnsureVersion_DifferentVariablesConflict(t *testing.T) {
	s := createTestStore(t)
	w := NewWriter(s, testOptions()...)
	ctx := context.Background()

	_, err := w.EnsureVersion(ctx, perf1Spec())
	require.NoError(t, err)

	spec := perf1Spec()
	spec.Variables = []model.Decl{runtimeDecl}
	_, err = w.EnsureVersion(ctx, spec)
	assert.ErrorIs(t, err, ErrSchemaConflict)
}

func TestEnsureVersion_ResearcherWithSeparator(t *testing.T) {
	s := createTestStore(t)
	w := NewWriter(s, testOptions()...)

	spec := perf1Spec()
	spec.Researchers = []string{"Doe; J.", "Roe"}
	_, err := w.EnsureVersion(context.Background(), spec)
	require.ErrorIs(t, err, ErrSchemaConflict)

	var aerr *Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, []string{"Doe; J."}, aerr.Names)
	assert.Equal(t, 0, countRows(t, s, "experiments"))

	spec.Researchers = []string{"Doe, J.", "Roe"}
	v, err := w.EnsureVersion(context.Background(), spec)
	require.NoError(t, err)
	got, err := NewReader(s).GetVersion(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Doe, J.", "Roe"}, got.Researchers)
}

func TestEnsureVersion_InvalidKindWritesNothing(t *testing.T) {
	s := createTestStore(t)
	w := NewWriter(s, testOptions()...)

	spec := perf1Spec()
	spec.Variables = append(spec.Variables, model.Decl{
		Variable: model.Variable{Name: "Weird", Type: model.Number},
		Kind:     model.Kind("Both"),
	})
	_, err := w.EnsureVersion(context.Background(), spec)
	assert.ErrorIs(t, err, ErrSchemaConflict)
	assert.Equal(t, 0, countRows(t, s, "experiments"))
}

func TestEnsureVersion_DuplicateVariableInSpec(t *testing.T) {
	w := NewWriter(createTestStore(t), testOptions()...)

	spec := perf1Spec()
	spec.Variables = append(spec.Variables, runtimeDecl)
	_, err := w.EnsureVersion(context.Background(), spec)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateAssociation)

	var aerr *Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, []string{"Runtime"}, aerr.Names)
}

func TestEnsureVersion_TypeConflictRollsBack(t *testing.T) {
	s := createTestStore(t)
	w := NewWriter(s, testOptions()...)
	ctx := context.Background()

	_, err := w.EnsureVersion(ctx, perf1Spec())
	require.NoError(t, err)

	// Runtime already exists as Unit(ms)
	_, err = w.EnsureVersion(ctx, VersionSpec{
		Experiment: "Perf2",
		Label:      "v1",
		Variables: []model.Decl{{
			Variable: model.Variable{Name: "Runtime", Type: model.Label},
			Kind:     model.Output,
		}},
	})
	assert.ErrorIs(t, err, ErrSchemaConflict)
	assert.Equal(t, 1, countRows(t, s, "experiments"))
	assert.Equal(t, 1, countRows(t, s, "experiment_versions"))
}

func TestCreateInstance_RejectsUndeclaredAndOutputKeys(t *testing.T) {
	s := createTestStore(t)
	w := NewWriter(s, testOptions()...)
	ctx := context.Background()

	v, err := w.EnsureVersion(ctx, perf1Spec())
	require.NoError(t, err)

	_, err = w.CreateInstance(ctx, v.ID, map[string]model.Value{
		"Dataset": model.TextValue("A"),
		"Runtime": model.Numeric(1),
		"Bogus":   model.TextValue("x"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)

	var aerr *Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, []string{"Bogus", "Runtime"}, aerr.Names)
	assert.Equal(t, 0, countRows(t, s, "experiment_instances"))
}

func TestCreateInstance_RejectsMissingInputs(t *testing.T) {
	s := createTestStore(t)
	w := NewWriter(s, testOptions()...)
	ctx := context.Background()

	v, err := w.EnsureVersion(ctx, perf1Spec())
	require.NoError(t, err)

	_, err = w.CreateInstance(ctx, v.ID, map[string]model.Value{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingInput)

	var aerr *Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, []string{"Dataset"}, aerr.Names)
	assert.Equal(t, 0, countRows(t, s, "experiment_instances"))
}

func TestCreateInstance_TypeChecksValues(t *testing.T) {
	s := createTestStore(t)
	w := NewWriter(s, testOptions()...)
	ctx := context.Background()

	v, err := w.EnsureVersion(ctx, VersionSpec{
		Experiment: "Sweep",
		Label:      "v1",
		Variables: []model.Decl{
			{Variable: model.Variable{Name: "Threads", Type: model.Number}, Kind: model.Input},
		},
	})
	require.NoError(t, err)

	_, err = w.CreateInstance(ctx, v.ID, map[string]model.Value{"Threads": model.TextValue("many")})
	assert.ErrorIs(t, err, ErrInvalidInput)

	inst, err := w.CreateInstance(ctx, v.ID, map[string]model.Value{"Threads": model.TextValue("8")})
	require.NoError(t, err)

	vals, err := NewReader(s).ListInValues(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, vals, 1)
	assert.Equal(t, "8", vals[0].Value)
}

func TestCreateInstance_UnknownVersion(t *testing.T) {
	w := NewWriter(createTestStore(t), testOptions()...)
	_, err := w.CreateInstance(context.Background(), "NOPE000000000000", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnsureInstance_ReusesMatchingInputs(t *testing.T) {
	s := createTestStore(t)
	w := NewWriter(s, testOptions()...)
	ctx := context.Background()

	v, inst := perf1Instance(t, w)

	again, err := w.EnsureInstance(ctx, v.ID, map[string]model.Value{"Dataset": model.TextValue("A")})
	require.NoError(t, err)
	assert.Equal(t, inst.ID, again.ID)

	other, err := w.EnsureInstance(ctx, v.ID, map[string]model.Value{"Dataset": model.TextValue("B")})
	require.NoError(t, err)
	assert.NotEqual(t, inst.ID, other.ID)
	assert.Equal(t, 2, countRows(t, s, "experiment_instances"))
}

func TestEnsureInstance_ConcurrentCallersShareInstance(t *testing.T) {
	s := createTestStore(t)
	w := NewWriter(s, testOptions()...)
	ctx := context.Background()

	v, err := w.EnsureVersion(ctx, perf1Spec())
	require.NoError(t, err)

	const callers = 8
	got := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inst, err := w.EnsureInstance(ctx, v.ID, map[string]model.Value{"Dataset": model.TextValue("C")})
			got[i], errs[i] = inst.ID, err
		}(i)
	}
	wg.Wait()

	for i := range errs {
		require.NoError(t, errs[i])
		assert.Equal(t, got[0], got[i])
	}
	assert.Equal(t, 1, countRows(t, s, "experiment_instances"))
}

func TestEnsureInstance_UnknownVersion(t *testing.T) {
	s := createTestStore(t)
	w := NewWriter(s, testOptions()...)

	_, err := w.EnsureInstance(context.Background(), "NOPE000000000000", nil)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, countRows(t, s, "experiment_instances"))
}

func TestFindInstance_NoMatchForInvalidInputs(t *testing.T) {
	w := NewWriter(createTestStore(t), testOptions()...)
	v, _ := perf1Instance(t, w)

	_, ok, err := w.FindInstance(context.Background(), v.ID, map[string]model.Value{"Nope": model.TextValue("A")})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCommitRun_AtomicOnMeasurementFailure(t *testing.T) {
	s := createTestStore(t)
	w := NewWriter(s, testOptions()...)
	ctx := context.Background()

	v, err := w.EnsureVersion(ctx, VersionSpec{
		Experiment: "Perf1",
		Label:      "v2",
		Variables: []model.Decl{
			{Variable: model.Variable{Name: "A", Type: model.Number}, Kind: model.Output},
			{Variable: model.Variable{Name: "B", Type: model.Number}, Kind: model.Output},
			{Variable: model.Variable{Name: "C", Type: model.Number}, Kind: model.Output},
		},
	})
	require.NoError(t, err)
	inst, err := w.CreateInstance(ctx, v.ID, nil)
	require.NoError(t, err)

	// Fail on the last measurement, after the run row and the first two measurements
	_, err = s.ExecContext(ctx, `
		CREATE TRIGGER fail_last_measurement BEFORE INSERT ON measurements
		WHEN NEW.var_name = 'C'
		BEGIN SELECT RAISE(ABORT, 'injected failure'); END
	`)
	require.NoError(t, err)

	rc, err := w.BeginRun(ctx, inst.ID)
	require.NoError(t, err)
	require.NoError(t, rc.AddValueByName(ctx, "A", model.Numeric(1)))
	require.NoError(t, rc.AddValueByName(ctx, "B", model.Numeric(2)))
	require.NoError(t, rc.AddValueByName(ctx, "C", model.Numeric(3)))

	_, err = w.CommitRun(ctx, rc)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorageFailure)
	assert.Contains(t, err.Error(), "injected failure")
	assert.Equal(t, RunAborted, rc.State())

	assert.Equal(t, 0, countRows(t, s, "runs"))
	assert.Equal(t, 0, countRows(t, s, "measurements"))

	_, err = NewReader(s).GetRun(ctx, rc.RunID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCommitRun_Twice(t *testing.T) {
	w := NewWriter(createTestStore(t), testOptions()...)
	ctx := context.Background()
	_, inst := perf1Instance(t, w)

	rc, err := w.BeginRun(ctx, inst.ID)
	require.NoError(t, err)
	require.NoError(t, rc.AddValueByName(ctx, "Runtime", model.Numeric(5)))
	_, err = w.CommitRun(ctx, rc)
	require.NoError(t, err)

	_, err = w.CommitRun(ctx, rc)
	assert.ErrorIs(t, err, ErrAlreadyFinalized)

	err = rc.AddValueByName(ctx, "Runtime", model.Numeric(6))
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
}

func TestCommitRun_RequiresAllOutputs(t *testing.T) {
	s := createTestStore(t)
	w := NewWriter(s, testOptions()...)
	ctx := context.Background()
	_, inst := perf1Instance(t, w)

	rc, err := w.BeginRun(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Runtime"}, rc.Missing())

	_, err = w.CommitRun(ctx, rc)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidMeasurement)
	assert.Equal(t, RunAborted, rc.State())
	assert.Equal(t, 0, countRows(t, s, "runs"))
}

func TestCommitRun_AllowPartialRuns(t *testing.T) {
	s := createTestStore(t)
	w := NewWriter(s, testOptions(AllowPartialRuns())...)
	ctx := context.Background()
	_, inst := perf1Instance(t, w)

	rc, err := w.BeginRun(ctx, inst.ID)
	require.NoError(t, err)

	sum, err := w.CommitRun(ctx, rc)
	require.NoError(t, err)
	assert.Empty(t, sum.Measurements)
	assert.Equal(t, 1, countRows(t, s, "runs"))
}

func TestCommitRun_KeepsRunIDAndInsertionOrder(t *testing.T) {
	s := createTestStore(t)
	w := NewWriter(s, testOptions()...)
	ctx := context.Background()

	v, err := w.EnsureVersion(ctx, VersionSpec{
		Experiment: "Order",
		Label:      "v1",
		Variables: []model.Decl{
			{Variable: model.Variable{Name: "z", Type: model.Number}, Kind: model.Output},
			{Variable: model.Variable{Name: "a", Type: model.Bool}, Kind: model.Output},
			{Variable: model.Variable{Name: "m", Type: model.Label}, Kind: model.Output},
		},
	})
	require.NoError(t, err)
	inst, err := w.CreateInstance(ctx, v.ID, nil)
	require.NoError(t, err)

	rc, err := w.BeginRun(ctx, inst.ID)
	require.NoError(t, err)
	runID := rc.RunID()

	require.NoError(t, rc.AddValueByName(ctx, "z", model.Numeric(1.5)))
	require.NoError(t, rc.AddValueByName(ctx, "a", model.BoolValue(true)))
	require.NoError(t, rc.AddValueByName(ctx, "m", model.TextValue("fast")))
	require.NoError(t, rc.AddValueByName(ctx, "z", model.Numeric(2.5)))

	sum, err := w.CommitRun(ctx, rc)
	require.NoError(t, err)
	assert.Equal(t, runID, sum.ID)

	got, err := NewReader(s).ListMeasurements(ctx, sum.ID)
	require.NoError(t, err)
	assert.Equal(t, []model.Measurement{
		{RunID: runID, VarName: "z", Value: "2.5"},
		{RunID: runID, VarName: "a", Value: "true"},
		{RunID: runID, VarName: "m", Value: "fast"},
	}, got)
}

func TestCommitRun_RedrawsRunIDOnCollision(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	setup := NewWriter(s, testOptions()...)
	_, inst := perf1Instance(t, setup)

	// Both writers draw the same first run id
	wA := NewWriter(s, WithIDSource(ids.NewFixedSource("RUNAAAAAAAAAAAAA")))
	wB := NewWriter(s, WithIDSource(ids.NewFixedSource("RUNAAAAAAAAAAAAA", "RUNBBBBBBBBBBBBB")))

	rcA, err := wA.BeginRun(ctx, inst.ID)
	require.NoError(t, err)
	rcB, err := wB.BeginRun(ctx, inst.ID)
	require.NoError(t, err)
	require.Equal(t, rcA.RunID(), rcB.RunID())

	require.NoError(t, rcA.AddValueByName(ctx, "Runtime", model.Numeric(1)))
	require.NoError(t, rcB.AddValueByName(ctx, "Runtime", model.Numeric(2)))

	sumA, err := wA.CommitRun(ctx, rcA)
	require.NoError(t, err)
	sumB, err := wB.CommitRun(ctx, rcB)
	require.NoError(t, err)

	assert.Equal(t, "RUNAAAAAAAAAAAAA", sumA.ID)
	assert.Equal(t, "RUNBBBBBBBBBBBBB", sumB.ID)
	assert.Equal(t, "RUNBBBBBBBBBBBBB", rcB.RunID())
}

func TestCreateInstance_IdentifierExhausted(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	w := NewWriter(s, testOptions()...)
	v, inst := perf1Instance(t, w)

	// Every draw returns the id that is already taken
	same := make([]string, ids.DefaultMaxAttempts)
	for i := range same {
		same[i] = inst.ID
	}
	stuck := NewWriter(s, WithIDSource(ids.NewFixedSource(same...)))

	_, err := stuck.CreateInstance(ctx, v.ID, map[string]model.Value{"Dataset": model.TextValue("B")})
	assert.ErrorIs(t, err, ErrIdentifierExhausted)
	assert.Equal(t, 1, countRows(t, s, "experiment_instances"))
}

func TestAbortRun(t *testing.T) {
	s := createTestStore(t)
	w := NewWriter(s, testOptions()...)
	ctx := context.Background()
	_, inst := perf1Instance(t, w)

	rc, err := w.BeginRun(ctx, inst.ID)
	require.NoError(t, err)
	require.NoError(t, rc.AddValueByName(ctx, "Runtime", model.Numeric(1)))

	require.NoError(t, w.AbortRun(ctx, rc))
	assert.Equal(t, RunAborted, rc.State())
	assert.ErrorIs(t, w.AbortRun(ctx, rc), ErrAlreadyFinalized)

	_, err = w.CommitRun(ctx, rc)
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
	assert.Equal(t, 0, countRows(t, s, "runs"))
}

func TestRecord(t *testing.T) {
	s := createTestStore(t)
	w := NewWriter(s, testOptions()...)
	ctx := context.Background()
	_, inst := perf1Instance(t, w)

	sum, err := w.Record(ctx, inst.ID, func(ctx context.Context, rc *RunContext) error {
		return rc.AddValueByName(ctx, "Runtime", model.Numeric(42))
	})
	require.NoError(t, err)
	assert.Len(t, sum.Measurements, 1)

	_, err = w.Record(ctx, inst.ID, func(ctx context.Context, rc *RunContext) error {
		return rc.AddValueByName(ctx, "Dataset", model.TextValue("B"))
	})
	assert.ErrorIs(t, err, ErrInvalidMeasurement)
	assert.Equal(t, 1, countRows(t, s, "runs"))
}

func TestBeginRun_UnknownInstance(t *testing.T) {
	w := NewWriter(createTestStore(t), testOptions()...)
	_, err := w.BeginRun(context.Background(), "NOPE000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCommitRun_LogsRunAsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	s := createTestStore(t)
	w := NewWriter(s, testOptions(WithLogger(logger))...)
	_, inst := perf1Instance(t, w)
	buf.Reset()

	sum := commitRuntime(t, w, inst.ID, "123")

	var entry struct {
		Msg string           `json:"msg"`
		Run model.RunSummary `json:"run"`
	}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry.Msg == "run committed" {
			break
		}
	}
	assert.Equal(t, "run committed", entry.Msg)
	assert.Equal(t, sum.ID, entry.Run.ID)
	assert.Equal(t, "Perf1", entry.Run.Experiment)
	assert.Equal(t, []model.Measurement{{RunID: sum.ID, VarName: "Runtime", Value: "123"}}, entry.Run.Measurements)
}

// recordingRecorder captures telemetry events.
type recordingRecorder struct {
	mu        sync.Mutex
	committed int
	aborted   []string
	deleted   map[string]int64
	retries   int
}

func (r *recordingRecorder) RunCommitted(context.Context, string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed++
}

func (r *recordingRecorder) RunAborted(_ context.Context, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aborted = append(r.aborted, reason)
}

func (r *recordingRecorder) Deleted(_ context.Context, entity string, rows int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleted == nil {
		r.deleted = make(map[string]int64)
	}
	r.deleted[entity] += rows
}

func (r *recordingRecorder) IDRetry(context.Context, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
}

func (r *recordingRecorder) Close(context.Context) error { return nil }

func TestWriter_ReportsTelemetry(t *testing.T) {
	rec := &recordingRecorder{}
	s := createTestStore(t)
	w := NewWriter(s, testOptions(WithRecorder(rec))...)
	ctx := context.Background()
	_, inst := perf1Instance(t, w)

	commitRuntime(t, w, inst.ID, "1")

	rc, err := w.BeginRun(ctx, inst.ID)
	require.NoError(t, err)
	_, err = w.CommitRun(ctx, rc)
	require.Error(t, err)

	assert.Equal(t, 1, rec.committed)
	assert.Equal(t, []string{"INVALID_MEASUREMENT"}, rec.aborted)
}
