package archive

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/roach88/exar/internal/catalog"
	"github.com/roach88/exar/internal/model"
	"github.com/roach88/exar/internal/query"
	"github.com/roach88/exar/internal/store"
)

// Filter narrows list results. Zero values mean "no constraint".
type Filter struct {
	// Name matches experiment names (ListExperiments) or version labels
	// (ListVersions) as a case-insensitive substring, or exactly when
	// ExactName is set.
	Name      string
	ExactName bool

	// From and To bound the entity date to [From, To).
	From time.Time
	To   time.Time

	Limit int
}

func (f Filter) name(field string) query.Predicate {
	if f.Name == "" {
		return nil
	}
	if f.ExactName {
		return query.Equals{Field: field, Value: model.NormalizeName(f.Name)}
	}
	return query.Contains{Field: field, Substring: f.Name}
}

func (f Filter) dates(field string) query.Predicate {
	if f.From.IsZero() && f.To.IsZero() {
		return nil
	}
	return query.Range{Field: field, From: f.From, To: f.To}
}

// Reader lists and looks up archive entities.
type Reader struct {
	q store.Queryer
}

// NewReader returns a Reader over q (a Store, or a Tx for consistent reads).
func NewReader(q store.Queryer) *Reader {
	return &Reader{q: q}
}

func (r *Reader) run(ctx context.Context, sel query.Select) (*sql.Rows, error) {
	stmt, args, err := query.Compile(sel)
	if err != nil {
		return nil, model.StorageFailure("compile "+sel.From+" query", err)
	}
	rows, err := r.q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, model.StorageFailure("list "+sel.From, err)
	}
	return rows, nil
}

func (r *Reader) requireExists(ctx context.Context, table, entity, key string) error {
	var one int
	column := "id"
	if table == "experiments" {
		column = "name"
	}
	err := r.q.QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE "+column+" = ?", key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(entity, key)
	}
	if err != nil {
		return model.StorageFailure("lookup "+entity, err)
	}
	return nil
}

// ListExperiments returns experiments ordered by name. Date bounds are ignored.
func (r *Reader) ListExperiments(ctx context.Context, f Filter) ([]model.Experiment, error) {
	rows, err := r.run(ctx, query.Select{
		From:    "experiments",
		Columns: []string{"name"},
		Filter:  f.name("name"),
		OrderBy: []string{"name"},
		Limit:   f.Limit,
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Experiment{}
	for rows.Next() {
		var e model.Experiment
		if err := rows.Scan(&e.Name); err != nil {
			return nil, model.StorageFailure("list experiments: scan", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, model.StorageFailure("list experiments: iterate", err)
	}
	return out, nil
}

// ListVersions returns the versions of experiment ordered by date, then id.
// f.Name filters on the version label.
func (r *Reader) ListVersions(ctx context.Context, experiment string, f Filter) ([]model.Version, error) {
	experiment = model.NormalizeName(experiment)
	if err := r.requireExists(ctx, "experiments", "experiment", experiment); err != nil {
		return nil, err
	}

	rows, err := r.run(ctx, query.Select{
		From:    "experiment_versions",
		Columns: []string{"id", "name", "version", "date", "description", "researchers"},
		Filter: query.Where(
			query.Equals{Field: "name", Value: experiment},
			f.name("version"),
			f.dates("date"),
		),
		OrderBy: []string{"date", "id"},
		Limit:   f.Limit,
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Version{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, model.StorageFailure("list versions: scan", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, model.StorageFailure("list versions: iterate", err)
	}
	return out, nil
}

// ListInstances returns the instances of versionID in creation order.
func (r *Reader) ListInstances(ctx context.Context, versionID string, f Filter) ([]model.Instance, error) {
	if err := r.requireExists(ctx, "experiment_versions", "version", versionID); err != nil {
		return nil, err
	}

	rows, err := r.run(ctx, query.Select{
		From:    "experiment_instances",
		Columns: []string{"id", "name", "version_id", "created_at"},
		Filter: query.Where(
			query.Equals{Field: "version_id", Value: versionID},
			f.dates("created_at"),
		),
		OrderBy: []string{"created_at", "id"},
		Limit:   f.Limit,
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Instance{}
	for rows.Next() {
		i, err := scanInstance(rows)
		if err != nil {
			return nil, model.StorageFailure("list instances: scan", err)
		}
		out = append(out, i)
	}
	if err := rows.Err(); err != nil {
		return nil, model.StorageFailure("list instances: iterate", err)
	}
	return out, nil
}

// ListRuns returns the runs of instanceID ordered by date, then id.
func (r *Reader) ListRuns(ctx context.Context, instanceID string, f Filter) ([]model.Run, error) {
	if err := r.requireExists(ctx, "experiment_instances", "instance", instanceID); err != nil {
		return nil, err
	}

	rows, err := r.run(ctx, query.Select{
		From:    "runs",
		Columns: []string{"id", "ex_instance_id", "date"},
		Filter: query.Where(
			query.Equals{Field: "ex_instance_id", Value: instanceID},
			f.dates("date"),
		),
		OrderBy: []string{"date", "id"},
		Limit:   f.Limit,
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, model.StorageFailure("list runs: scan", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, model.StorageFailure("list runs: iterate", err)
	}
	return out, nil
}

// ListMeasurements returns the measurements of runID in the order they were added.
func (r *Reader) ListMeasurements(ctx context.Context, runID string) ([]model.Measurement, error) {
	if err := r.requireExists(ctx, "runs", "run", runID); err != nil {
		return nil, err
	}

	rows, err := r.run(ctx, query.Select{
		From:    "measurements",
		Columns: []string{"run_id", "var_name", "value"},
		Filter:  query.Equals{Field: "run_id", Value: runID},
		OrderBy: []string{"seq", "var_name"},
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Measurement{}
	for rows.Next() {
		var m model.Measurement
		if err := rows.Scan(&m.RunID, &m.VarName, &m.Value); err != nil {
			return nil, model.StorageFailure("list measurements: scan", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, model.StorageFailure("list measurements: iterate", err)
	}
	return out, nil
}

// ListInValues returns the bound inputs of instanceID ordered by name.
func (r *Reader) ListInValues(ctx context.Context, instanceID string) ([]model.InValue, error) {
	if err := r.requireExists(ctx, "experiment_instances", "instance", instanceID); err != nil {
		return nil, err
	}

	rows, err := r.run(ctx, query.Select{
		From:    "in_values",
		Columns: []string{"ex_instance_id", "var_name", "value"},
		Filter:  query.Equals{Field: "ex_instance_id", Value: instanceID},
		OrderBy: []string{"var_name"},
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.InValue{}
	for rows.Next() {
		var v model.InValue
		if err := rows.Scan(&v.InstanceID, &v.VarName, &v.Value); err != nil {
			return nil, model.StorageFailure("list input values: scan", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, model.StorageFailure("list input values: iterate", err)
	}
	return out, nil
}

// Runs returns the runs of instanceID with their measurements attached,
// ordered like ListRuns.
func (r *Reader) Runs(ctx context.Context, instanceID string, f Filter) ([]model.RunSummary, error) {
	inst, err := r.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	runs, err := r.ListRuns(ctx, instanceID, f)
	if err != nil {
		return nil, err
	}

	out := make([]model.RunSummary, 0, len(runs))
	for _, run := range runs {
		ms, err := r.ListMeasurements(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, model.RunSummary{
			Run:          run,
			Experiment:   inst.Experiment,
			VersionID:    inst.VersionID,
			Measurements: ms,
		})
	}
	return out, nil
}

// GetVersion returns the version with id, or NOT_FOUND.
func (r *Reader) GetVersion(ctx context.Context, id string) (model.Version, error) {
	return getVersion(ctx, r.q, id)
}

// GetInstance returns the instance with id, or NOT_FOUND.
func (r *Reader) GetInstance(ctx context.Context, id string) (model.Instance, error) {
	return getInstance(ctx, r.q, id)
}

// GetRun returns the run with id, or NOT_FOUND.
func (r *Reader) GetRun(ctx context.Context, id string) (model.Run, error) {
	return getRun(ctx, r.q, id)
}

// LatestVersion returns the most recent version of experiment by date.
// Ties on date go to the greater id.
func (r *Reader) LatestVersion(ctx context.Context, experiment string) (model.Version, error) {
	experiment = model.NormalizeName(experiment)
	v, err := scanVersion(r.q.QueryRowContext(ctx,
		"SELECT "+versionColumns+" FROM experiment_versions WHERE name = ? ORDER BY date DESC, id DESC LIMIT 1",
		experiment))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Version{}, model.NewError(model.ErrCodeNotFound, "experiment %q has no versions", experiment)
	}
	if err != nil {
		return model.Version{}, model.StorageFailure("latest version", err)
	}
	return v, nil
}

// Variables returns the declarations of versionID ordered by name.
func (r *Reader) Variables(ctx context.Context, versionID string) ([]model.Decl, error) {
	if err := r.requireExists(ctx, "experiment_versions", "version", versionID); err != nil {
		return nil, err
	}
	return catalog.New(r.q).Declarations(ctx, versionID)
}

// FindInstance returns the oldest instance of versionID bound to exactly inputs.
func (r *Reader) FindInstance(ctx context.Context, versionID string, inputs map[string]model.Value) (model.Instance, bool, error) {
	return findInstance(ctx, r.q, versionID, inputs)
}
