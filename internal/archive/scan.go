package archive

import (
	"context"
	"database/sql"
	"errors"

	"github.com/roach88/exar/internal/model"
	"github.com/roach88/exar/internal/store"
)

type rowScanner interface {
	Scan(dest ...any) error
}

const versionColumns = "id, name, version, date, description, researchers"

func scanVersion(row rowScanner) (model.Version, error) {
	var v model.Version
	var researchers string
	if err := row.Scan(&v.ID, &v.Experiment, &v.Label, &v.Date, &v.Description, &researchers); err != nil {
		return model.Version{}, err
	}
	v.Date = v.Date.UTC()
	v.Researchers = model.SplitResearchers(researchers)
	return v, nil
}

const instanceColumns = "id, name, version_id, created_at"

func scanInstance(row rowScanner) (model.Instance, error) {
	var i model.Instance
	var created sql.NullTime
	if err := row.Scan(&i.ID, &i.Experiment, &i.VersionID, &created); err != nil {
		return model.Instance{}, err
	}
	if created.Valid {
		i.Created = created.Time.UTC()
	}
	return i, nil
}

const runColumns = "id, ex_instance_id, date"

func scanRun(row rowScanner) (model.Run, error) {
	var r model.Run
	if err := row.Scan(&r.ID, &r.InstanceID, &r.Date); err != nil {
		return model.Run{}, err
	}
	r.Date = r.Date.UTC()
	return r, nil
}

func getVersion(ctx context.Context, q store.Queryer, id string) (model.Version, error) {
	v, err := scanVersion(q.QueryRowContext(ctx,
		"SELECT "+versionColumns+" FROM experiment_versions WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Version{}, notFound("version", id)
	}
	if err != nil {
		return model.Version{}, model.StorageFailure("get version", err)
	}
	return v, nil
}

func getInstance(ctx context.Context, q store.Queryer, id string) (model.Instance, error) {
	i, err := scanInstance(q.QueryRowContext(ctx,
		"SELECT "+instanceColumns+" FROM experiment_instances WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Instance{}, notFound("instance", id)
	}
	if err != nil {
		return model.Instance{}, model.StorageFailure("get instance", err)
	}
	return i, nil
}

func getRun(ctx context.Context, q store.Queryer, id string) (model.Run, error) {
	r, err := scanRun(q.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM runs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Run{}, notFound("run", id)
	}
	if err != nil {
		return model.Run{}, model.StorageFailure("get run", err)
	}
	return r, nil
}

// inValues returns the bound inputs of an instance keyed by variable name.
func inValues(ctx context.Context, q store.Queryer, instanceID string) (map[string]string, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT var_name, value FROM in_values WHERE ex_instance_id = ? ORDER BY var_name ASC",
		instanceID)
	if err != nil {
		return nil, model.StorageFailure("list input values", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, model.StorageFailure("list input values: scan", err)
		}
		out[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, model.StorageFailure("list input values: iterate", err)
	}
	return out, nil
}
