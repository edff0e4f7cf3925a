package archive

import (
	"context"
	"maps"
	"slices"

	"github.com/roach88/exar/internal/catalog"
	"github.com/roach88/exar/internal/model"
	"github.com/roach88/exar/internal/store"
)

// Deleted counts the rows removed per table by one Editor call.
type Deleted map[string]int64

// Total is the number of rows removed across all tables.
func (d Deleted) Total() int64 {
	var n int64
	for _, c := range d {
		n += c
	}
	return n
}

// Tables returns the tables with removed rows, sorted.
func (d Deleted) Tables() []string {
	return slices.Sorted(maps.Keys(d))
}

// Editor removes entities together with everything that depends on them.
type Editor struct {
	store *store.Store
	opts  options
}

// NewEditor returns an Editor over s.
func NewEditor(s *store.Store, opts ...Option) *Editor {
	return &Editor{store: s, opts: newOptions(opts)}
}

// step is one DELETE in a cascade. Every statement takes the key as its only argument.
type step struct {
	table string
	stmt  string
}

func runSteps(where string) []step {
	return []step{
		{"measurements", "DELETE FROM measurements WHERE run_id IN (SELECT id FROM runs WHERE " + where + ")"},
		{"runs", "DELETE FROM runs WHERE " + where},
	}
}

func instanceSteps(where string) []step {
	instances := "SELECT id FROM experiment_instances WHERE " + where
	return append(runSteps("ex_instance_id IN ("+instances+")"),
		step{"in_values", "DELETE FROM in_values WHERE ex_instance_id IN (" + instances + ")"},
		step{"experiment_instances", "DELETE FROM experiment_instances WHERE " + where},
	)
}

func versionSteps(where string) []step {
	versions := "SELECT id FROM experiment_versions WHERE " + where
	return append(instanceSteps("version_id IN ("+versions+")"),
		step{"experiment_variables", "DELETE FROM experiment_variables WHERE ex_version_id IN (" + versions + ")"},
		step{"experiment_versions", "DELETE FROM experiment_versions WHERE " + where},
	)
}

func experimentSteps() []step {
	return append(versionSteps("name = ?"),
		step{"experiments", "DELETE FROM experiments WHERE name = ?"},
	)
}

// cascade checks that key exists in table and runs steps bottom-up in one transaction.
func (e *Editor) cascade(ctx context.Context, entity, table, key string, steps []step) (Deleted, error) {
	deleted := Deleted{}
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		ok, err := tx.Exists(ctx, table, key)
		if err != nil {
			return model.StorageFailure("delete "+entity+": lookup", err)
		}
		if !ok {
			return notFound(entity, key)
		}

		for _, s := range steps {
			res, err := tx.ExecContext(ctx, s.stmt, key)
			if err != nil {
				return model.StorageFailure("delete "+entity+": "+s.table, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return model.StorageFailure("delete "+entity+": rows affected", err)
			}
			if n > 0 {
				deleted[s.table] += n
			}
		}
		return nil
	})
	if err != nil {
		return nil, model.StorageFailure("delete "+entity, err)
	}

	e.opts.recorder.Deleted(ctx, entity, deleted.Total())
	e.opts.logger.Info("deleted",
		"entity", entity,
		"key", key,
		"rows", deleted.Total(),
	)
	return deleted, nil
}

// DeleteRun removes a run and its measurements.
func (e *Editor) DeleteRun(ctx context.Context, runID string) (Deleted, error) {
	return e.cascade(ctx, "run", "runs", runID, runSteps("id = ?"))
}

// DeleteInstance removes an instance, its input values, runs and measurements.
func (e *Editor) DeleteInstance(ctx context.Context, instanceID string) (Deleted, error) {
	return e.cascade(ctx, "instance", "experiment_instances", instanceID, instanceSteps("id = ?"))
}

// DeleteVersion removes a version, its variable associations and every
// instance below it. Variables themselves are shared and kept.
func (e *Editor) DeleteVersion(ctx context.Context, versionID string) (Deleted, error) {
	return e.cascade(ctx, "version", "experiment_versions", versionID, versionSteps("id = ?"))
}

// DeleteExperiment removes an experiment and its whole subtree.
func (e *Editor) DeleteExperiment(ctx context.Context, name string) (Deleted, error) {
	return e.cascade(ctx, "experiment", "experiments", model.NormalizeName(name), experimentSteps())
}

// DeleteVariable removes a variable no version references (VARIABLE_IN_USE otherwise).
func (e *Editor) DeleteVariable(ctx context.Context, name string) error {
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		return catalog.New(tx).DeleteVariable(ctx, name)
	})
	if err != nil {
		return model.StorageFailure("delete variable", err)
	}
	e.opts.recorder.Deleted(ctx, "variable", 1)
	e.opts.logger.Info("deleted", "entity", "variable", "key", model.NormalizeName(name), "rows", 1)
	return nil
}

// PruneVariables removes every variable that no version, input value or
// measurement references and returns how many were removed.
func (e *Editor) PruneVariables(ctx context.Context) (int64, error) {
	var n int64
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM variables
			WHERE NOT EXISTS (SELECT 1 FROM experiment_variables ev WHERE ev.var_name = variables.name)
			  AND NOT EXISTS (SELECT 1 FROM in_values iv WHERE iv.var_name = variables.name)
			  AND NOT EXISTS (SELECT 1 FROM measurements m WHERE m.var_name = variables.name)
		`)
		if err != nil {
			return model.StorageFailure("prune variables", err)
		}
		n, err = res.RowsAffected()
		if err != nil {
			return model.StorageFailure("prune variables: rows affected", err)
		}
		return nil
	})
	if err != nil {
		return 0, model.StorageFailure("prune variables", err)
	}
	if n > 0 {
		e.opts.recorder.Deleted(ctx, "variable", n)
		e.opts.logger.Info("variables pruned", "rows", n)
	}
	return n, nil
}
