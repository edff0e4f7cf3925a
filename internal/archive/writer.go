package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/exar/internal/catalog"
	"github.com/roach88/exar/internal/ids"
	"github.com/roach88/exar/internal/model"
	"github.com/roach88/exar/internal/store"
)

// Writer creates archive entities and commits runs.
type Writer struct {
	store *store.Store
	opts  options
	ids   *ids.Generator
}

// NewWriter returns a Writer over s.
func NewWriter(s *store.Store, opts ...Option) *Writer {
	o := newOptions(opts)
	return &Writer{store: s, opts: o, ids: o.generator()}
}

// EnsureExperiment creates the experiment if it does not exist and returns
// its normalized name. Calling it again with the same name is a no-op.
func (w *Writer) EnsureExperiment(ctx context.Context, name string) (string, error) {
	var out string
	err := w.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		out, err = ensureExperiment(ctx, tx, name)
		return err
	})
	if err != nil {
		return "", model.StorageFailure("ensure experiment", err)
	}
	return out, nil
}

func ensureExperiment(ctx context.Context, q store.Queryer, name string) (string, error) {
	name = model.NormalizeName(name)
	if name == "" {
		return "", model.NewError(model.ErrCodeSchemaConflict, "experiment name must not be empty")
	}
	_, err := q.ExecContext(ctx,
		"INSERT INTO experiments (name) VALUES (?) ON CONFLICT (name) DO NOTHING", name)
	if err != nil {
		return "", model.StorageFailure("ensure experiment: insert", err)
	}
	return name, nil
}

// VersionSpec describes an experiment version and its variable contract.
type VersionSpec struct {
	Experiment  string
	Label       string
	Description string
	Researchers []string
	Variables   []model.Decl
}

// EnsureVersion creates the version described by spec, together with its
// experiment, variables and associations, in one transaction.
//
// If the experiment already has a version with the same label, that
// version is returned when its declarations match spec.Variables (same
// names, kinds and types) and SCHEMA_CONFLICT is returned otherwise.
func (w *Writer) EnsureVersion(ctx context.Context, spec VersionSpec) (model.Version, error) {
	decls, err := normalizeDecls(spec.Variables)
	if err != nil {
		return model.Version{}, err
	}
	if spec.Label == "" {
		return model.Version{}, model.NewError(model.ErrCodeSchemaConflict, "version label must not be empty")
	}
	if err := checkResearchers(spec.Researchers); err != nil {
		return model.Version{}, err
	}

	var version model.Version
	created := false
	err = w.store.WithTx(ctx, func(tx *store.Tx) error {
		experiment, err := ensureExperiment(ctx, tx, spec.Experiment)
		if err != nil {
			return err
		}
		cat := catalog.New(tx)

		existing, err := findVersion(ctx, tx, experiment, spec.Label)
		if err != nil {
			return err
		}
		if existing != nil {
			declared, err := cat.Declarations(ctx, existing.ID)
			if err != nil {
				return err
			}
			if !model.SameDecls(declared, decls) {
				return model.NewError(model.ErrCodeSchemaConflict,
					"version %q of %q exists with different variables", spec.Label, experiment)
			}
			version = *existing
			return nil
		}

		version = model.Version{
			Experiment:  experiment,
			Label:       spec.Label,
			Date:        w.opts.now(),
			Description: spec.Description,
			Researchers: append([]string{}, spec.Researchers...),
		}
		version.ID, err = w.ids.Claim(ctx, tx, "experiment_versions", func(id string) error {
			return tx.Savepoint(ctx, func() error {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO experiment_versions (id, name, version, date, description, researchers)
					VALUES (?, ?, ?, ?, ?, ?)
				`, id, experiment, version.Label, version.Date, version.Description,
					model.JoinResearchers(version.Researchers))
				return err
			})
		})
		if err != nil {
			return model.StorageFailure("ensure version: insert", err)
		}

		for _, d := range decls {
			if err := cat.Declare(ctx, version.ID, d.Variable, d.Kind); err != nil {
				return err
			}
		}
		created = true
		return nil
	})
	if err != nil {
		return model.Version{}, model.StorageFailure("ensure version", err)
	}

	if created {
		w.opts.logger.Info("version created",
			"experiment", version.Experiment,
			"version", version.Label,
			"version_id", version.ID,
			"variables", len(decls),
		)
	}
	return version, nil
}

// normalizeDecls validates a declaration list and returns it normalized and sorted.
func normalizeDecls(in []model.Decl) ([]model.Decl, error) {
	out := make([]model.Decl, 0, len(in))
	seen := make(map[string]bool, len(in))
	var dups []string
	for _, d := range in {
		d.Name = model.NormalizeName(d.Name)
		if d.Name == "" {
			return nil, model.NewError(model.ErrCodeSchemaConflict, "variable name must not be empty")
		}
		if !d.Kind.Valid() {
			return nil, model.NewNamesError(model.ErrCodeSchemaConflict,
				fmt.Sprintf("invalid kind %q: must be Input or Output", string(d.Kind)), []string{d.Name})
		}
		if seen[d.Name] {
			dups = append(dups, d.Name)
			continue
		}
		seen[d.Name] = true
		out = append(out, d)
	}
	if len(dups) > 0 {
		return nil, model.NewNamesError(model.ErrCodeDuplicateAssociation,
			"variable declared more than once", dups)
	}
	model.SortDecls(out)
	return out, nil
}

// checkResearchers rejects names that would not survive the stored
// ResearcherSeparator-joined form.
func checkResearchers(researchers []string) error {
	var bad []string
	for _, r := range researchers {
		if strings.Contains(r, model.ResearcherSeparator) {
			bad = append(bad, r)
		}
	}
	if len(bad) > 0 {
		return model.NewNamesError(model.ErrCodeSchemaConflict,
			fmt.Sprintf("researcher names must not contain %q", model.ResearcherSeparator), bad)
	}
	return nil
}

func findVersion(ctx context.Context, q store.Queryer, experiment, label string) (*model.Version, error) {
	v, err := scanVersion(q.QueryRowContext(ctx,
		"SELECT "+versionColumns+" FROM experiment_versions WHERE name = ? AND version = ? ORDER BY date ASC, id ASC",
		experiment, label))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, model.StorageFailure("find version", err)
	}
	return &v, nil
}

// checkInputs validates an input map against a version's declarations and
// returns the values in stored text form keyed by normalized name.
func checkInputs(decls []model.Decl, inputs map[string]model.Value) (map[string]string, error) {
	byName := make(map[string]model.Decl, len(decls))
	for _, d := range decls {
		byName[d.Name] = d
	}

	normalized := make(map[string]model.Value, len(inputs))
	var invalid []string
	for raw, v := range inputs {
		name := model.NormalizeName(raw)
		if _, dup := normalized[name]; dup {
			invalid = append(invalid, name)
			continue
		}
		normalized[name] = v
		if d, ok := byName[name]; !ok || d.Kind != model.Input {
			invalid = append(invalid, name)
		}
	}
	if len(invalid) > 0 {
		slices.Sort(invalid)
		return nil, model.NewNamesError(model.ErrCodeInvalidInput,
			"not declared as input variables", slices.Compact(invalid))
	}

	var missing []string
	for _, d := range decls {
		if d.Kind != model.Input {
			continue
		}
		if _, ok := normalized[d.Name]; !ok {
			missing = append(missing, d.Name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, model.NewNamesError(model.ErrCodeMissingInput,
			"input variables without a value", missing)
	}

	out := make(map[string]string, len(normalized))
	var mistyped []string
	var reasons []string
	for _, name := range slices.Sorted(maps.Keys(normalized)) {
		v, err := model.Coerce(byName[name].Type, normalized[name])
		if err != nil {
			mistyped = append(mistyped, name)
			reasons = append(reasons, err.Error())
			continue
		}
		out[name] = v.String()
	}
	if len(mistyped) > 0 {
		return nil, model.NewNamesError(model.ErrCodeInvalidInput,
			"input values do not match declared types: "+fmt.Sprint(reasons), mistyped)
	}
	return out, nil
}

// CreateInstance binds inputs to a new instance of versionID.
//
// Every key must be declared Input for the version (INVALID_INPUT lists the
// offenders) and every declared Input must be bound (MISSING_INPUT lists
// the unbound ones). Values are checked against the declared types. The
// instance and its input values are written in one transaction.
func (w *Writer) CreateInstance(ctx context.Context, versionID string, inputs map[string]model.Value) (model.Instance, error) {
	var inst model.Instance
	err := w.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		inst, err = w.createInstance(ctx, tx, versionID, inputs)
		return err
	})
	if err != nil {
		return model.Instance{}, model.StorageFailure("create instance", err)
	}

	w.logInstance(inst, len(inputs))
	return inst, nil
}

func (w *Writer) createInstance(ctx context.Context, tx *store.Tx, versionID string, inputs map[string]model.Value) (model.Instance, error) {
	version, err := getVersion(ctx, tx, versionID)
	if err != nil {
		return model.Instance{}, err
	}
	decls, err := catalog.New(tx).Declarations(ctx, versionID)
	if err != nil {
		return model.Instance{}, err
	}
	values, err := checkInputs(decls, inputs)
	if err != nil {
		return model.Instance{}, err
	}

	inst := model.Instance{
		Experiment: version.Experiment,
		VersionID:  version.ID,
		Created:    w.opts.now(),
	}
	inst.ID, err = w.ids.Claim(ctx, tx, "experiment_instances", func(id string) error {
		return tx.Savepoint(ctx, func() error {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO experiment_instances (id, name, version_id, created_at)
				VALUES (?, ?, ?, ?)
			`, id, inst.Experiment, inst.VersionID, inst.Created)
			return err
		})
	})
	if err != nil {
		return model.Instance{}, model.StorageFailure("create instance: insert", err)
	}

	for _, name := range slices.Sorted(maps.Keys(values)) {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO in_values (ex_instance_id, var_name, value) VALUES (?, ?, ?)",
			inst.ID, name, values[name])
		if err != nil {
			return model.Instance{}, model.StorageFailure("create instance: insert input value", err)
		}
	}
	return inst, nil
}

func (w *Writer) logInstance(inst model.Instance, inputs int) {
	w.opts.logger.Info("instance created",
		"instance_id", inst.ID,
		"version_id", inst.VersionID,
		"inputs", inputs,
	)
}

// FindInstance returns the oldest instance of versionID whose input values
// equal inputs exactly. ok is false when there is none.
func (w *Writer) FindInstance(ctx context.Context, versionID string, inputs map[string]model.Value) (inst model.Instance, ok bool, err error) {
	return findInstance(ctx, w.store, versionID, inputs)
}

func findInstance(ctx context.Context, q store.Queryer, versionID string, inputs map[string]model.Value) (model.Instance, bool, error) {
	if _, err := getVersion(ctx, q, versionID); err != nil {
		return model.Instance{}, false, err
	}
	decls, err := catalog.New(q).Declarations(ctx, versionID)
	if err != nil {
		return model.Instance{}, false, err
	}
	want, err := checkInputs(decls, inputs)
	if err != nil {
		// Inputs that could never be stored match nothing
		return model.Instance{}, false, nil
	}

	rows, err := q.QueryContext(ctx,
		"SELECT "+instanceColumns+" FROM experiment_instances WHERE version_id = ? ORDER BY created_at ASC, id ASC",
		versionID)
	if err != nil {
		return model.Instance{}, false, model.StorageFailure("find instance", err)
	}
	var candidates []model.Instance
	for rows.Next() {
		i, err := scanInstance(rows)
		if err != nil {
			rows.Close()
			return model.Instance{}, false, model.StorageFailure("find instance: scan", err)
		}
		candidates = append(candidates, i)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return model.Instance{}, false, model.StorageFailure("find instance: iterate", err)
	}
	rows.Close()

	for _, c := range candidates {
		got, err := inValues(ctx, q, c.ID)
		if err != nil {
			return model.Instance{}, false, err
		}
		if maps.Equal(got, want) {
			return c, true, nil
		}
	}
	return model.Instance{}, false, nil
}

// EnsureInstance returns the instance of versionID bound to exactly inputs,
// creating it if none exists yet. The lookup and the insert share one
// transaction holding a lock on the version row, so concurrent callers with
// the same inputs end up with the same instance.
func (w *Writer) EnsureInstance(ctx context.Context, versionID string, inputs map[string]model.Value) (model.Instance, error) {
	var (
		inst    model.Instance
		created bool
	)
	err := w.store.WithTx(ctx, func(tx *store.Tx) error {
		ok, err := tx.LockRow(ctx, "experiment_versions", versionID)
		if err != nil {
			return model.StorageFailure("ensure instance: lock version", err)
		}
		if !ok {
			return notFound("version", versionID)
		}
		found, ok, err := findInstance(ctx, tx, versionID, inputs)
		if err != nil {
			return err
		}
		if ok {
			inst = found
			return nil
		}
		inst, err = w.createInstance(ctx, tx, versionID, inputs)
		created = err == nil
		return err
	})
	if err != nil {
		return model.Instance{}, model.StorageFailure("ensure instance", err)
	}

	if created {
		w.logInstance(inst, len(inputs))
	}
	return inst, nil
}

// BeginRun opens a RunContext for instanceID. The run's declarations are
// loaded once here; the run id is drawn now and confirmed at commit.
func (w *Writer) BeginRun(ctx context.Context, instanceID string) (*RunContext, error) {
	inst, err := getInstance(ctx, w.store, instanceID)
	if err != nil {
		return nil, err
	}
	decls, err := catalog.New(w.store).Declarations(ctx, inst.VersionID)
	if err != nil {
		return nil, err
	}
	runID, err := w.ids.Allocate(ctx, w.store, "runs")
	if err != nil {
		return nil, err
	}

	rc := newRunContext(runID, inst, w.opts.now(), decls)
	w.opts.logger.Debug("run started", "run_id", runID, "instance_id", instanceID)
	return rc, nil
}

// CommitRun validates rc and writes the run and its measurements in one
// transaction.
//
// Unless AllowPartialRuns is set, every declared Output must have a value;
// otherwise INVALID_MEASUREMENT lists the missing names. Any failure aborts
// the run and leaves no rows behind. Committing a finalized run fails with
// ALREADY_FINALIZED.
func (w *Writer) CommitRun(ctx context.Context, rc *RunContext) (model.RunSummary, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.state != RunOpen {
		return model.RunSummary{}, model.NewError(model.ErrCodeAlreadyFinalized,
			"run %s is %s", rc.runID, rc.state)
	}

	if missing := rc.missingLocked(); len(missing) > 0 && !w.opts.allowPartialRuns {
		err := model.NewNamesError(model.ErrCodeInvalidMeasurement,
			"output variables without a value", missing)
		w.abortLocked(ctx, rc, err)
		return model.RunSummary{}, err
	}

	measurements := rc.measurementsLocked()
	runID := rc.runID
	err := w.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		runID, err = w.ids.Reclaim(ctx, tx, "runs", rc.runID, func(id string) error {
			return tx.Savepoint(ctx, func() error {
				_, err := tx.ExecContext(ctx,
					"INSERT INTO runs (id, ex_instance_id, date) VALUES (?, ?, ?)",
					id, rc.instanceID, rc.date)
				return err
			})
		})
		if err != nil {
			return model.StorageFailure("commit run: insert run", err)
		}

		for i, m := range measurements {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO measurements (run_id, var_name, value, seq) VALUES (?, ?, ?, ?)",
				runID, m.VarName, m.Value, i)
			if err != nil {
				return model.StorageFailure(fmt.Sprintf("commit run: insert measurement %s", m.VarName), err)
			}
		}
		return nil
	})
	if err != nil {
		err = model.StorageFailure("commit run", err)
		w.abortLocked(ctx, rc, err)
		return model.RunSummary{}, err
	}

	rc.runID = runID
	rc.state = RunCommitted
	for i := range measurements {
		measurements[i].RunID = runID
	}

	summary := model.RunSummary{
		Run:          model.Run{ID: runID, InstanceID: rc.instanceID, Date: rc.date},
		Experiment:   rc.experiment,
		VersionID:    rc.versionID,
		Measurements: measurements,
	}
	w.opts.recorder.RunCommitted(ctx, rc.experiment, len(measurements))
	w.logRun(summary)
	return summary, nil
}

// logRun writes the committed run as a JSON document at Info level.
func (w *Writer) logRun(summary model.RunSummary) {
	doc, err := json.Marshal(summary)
	if err != nil {
		w.opts.logger.Warn("run committed", "run_id", summary.ID, "error", err)
		return
	}
	w.opts.logger.Info("run committed",
		"run_id", summary.ID,
		"measurements", len(summary.Measurements),
		"run", json.RawMessage(doc),
	)
}

// AbortRun finalizes rc without writing anything.
func (w *Writer) AbortRun(ctx context.Context, rc *RunContext) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.state != RunOpen {
		return model.NewError(model.ErrCodeAlreadyFinalized, "run %s is %s", rc.runID, rc.state)
	}
	w.abortLocked(ctx, rc, nil)
	return nil
}

func (w *Writer) abortLocked(ctx context.Context, rc *RunContext, cause error) {
	rc.state = RunAborted
	reason := "aborted"
	if code := model.CodeOf(cause); code != "" {
		reason = string(code)
	}
	w.opts.recorder.RunAborted(ctx, reason)
	if cause != nil {
		w.opts.logger.Warn("run aborted", "run_id", rc.runID, "reason", reason, "error", cause)
	} else {
		w.opts.logger.Info("run aborted", "run_id", rc.runID)
	}
}

// Record begins a run of instanceID, lets fn add values, and commits. If fn
// fails the run is aborted and fn's error returned.
func (w *Writer) Record(ctx context.Context, instanceID string, fn func(ctx context.Context, rc *RunContext) error) (model.RunSummary, error) {
	rc, err := w.BeginRun(ctx, instanceID)
	if err != nil {
		return model.RunSummary{}, err
	}
	if err := fn(ctx, rc); err != nil {
		if abortErr := w.AbortRun(ctx, rc); abortErr != nil {
			return model.RunSummary{}, errors.Join(err, abortErr)
		}
		return model.RunSummary{}, err
	}
	return w.CommitRun(ctx, rc)
}
