// Package catalog resolves and declares the variables attached to experiment
// versions. It holds no state of its own: every call reads or writes the
// variables and experiment_variables tables through the Queryer it was
// built with, so a Catalog over a store.Tx takes part in that transaction.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/exar/internal/model"
	"github.com/roach88/exar/internal/store"
)

// Catalog is the variable catalog over one Queryer.
type Catalog struct {
	q store.Queryer
}

// New returns a Catalog reading and writing through q.
func New(q store.Queryer) *Catalog {
	return &Catalog{q: q}
}

// Resolve returns the declaration of name in versionID, or UNKNOWN_VARIABLE.
func (c *Catalog) Resolve(ctx context.Context, versionID, name string) (model.Decl, error) {
	name = model.NormalizeName(name)

	row := c.q.QueryRowContext(ctx, `
		SELECT v.name, v.description, v.type, ev.kind
		FROM experiment_variables ev
		JOIN variables v ON v.name = ev.var_name
		WHERE ev.ex_version_id = ? AND ev.var_name = ?
	`, versionID, name)

	decl, err := scanDecl(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Decl{}, model.NewNamesError(model.ErrCodeUnknownVariable,
			fmt.Sprintf("variable not declared for version %s", versionID), []string{name})
	}
	if err != nil {
		return model.Decl{}, model.StorageFailure("resolve variable", err)
	}
	return decl, nil
}

// Declarations returns every declaration of versionID ordered by name.
// A version without variables yields an empty slice.
func (c *Catalog) Declarations(ctx context.Context, versionID string) ([]model.Decl, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT v.name, v.description, v.type, ev.kind
		FROM experiment_variables ev
		JOIN variables v ON v.name = ev.var_name
		WHERE ev.ex_version_id = ?
		ORDER BY v.name ASC
	`, versionID)
	if err != nil {
		return nil, model.StorageFailure("list declarations", err)
	}
	defer rows.Close()

	decls := []model.Decl{}
	for rows.Next() {
		d, err := scanDecl(rows)
		if err != nil {
			return nil, model.StorageFailure("list declarations: scan", err)
		}
		decls = append(decls, d)
	}
	if err := rows.Err(); err != nil {
		return nil, model.StorageFailure("list declarations: iterate", err)
	}
	return decls, nil
}

// Declare attaches v to versionID with the given kind.
//
// The variable row is created if absent. An existing variable of the same
// name must have the same DataType (SCHEMA_CONFLICT otherwise); its
// description is left unchanged. Attaching a variable twice to one version
// fails with DUPLICATE_ASSOCIATION.
func (c *Catalog) Declare(ctx context.Context, versionID string, v model.Variable, kind model.Kind) error {
	v.Name = model.NormalizeName(v.Name)
	if v.Name == "" {
		return model.NewError(model.ErrCodeSchemaConflict, "variable name must not be empty")
	}
	if !kind.Valid() {
		return model.NewNamesError(model.ErrCodeSchemaConflict,
			fmt.Sprintf("invalid kind %q", string(kind)), []string{v.Name})
	}

	var experiment string
	err := c.q.QueryRowContext(ctx,
		"SELECT name FROM experiment_versions WHERE id = ?", versionID,
	).Scan(&experiment)
	if errors.Is(err, sql.ErrNoRows) {
		return model.NewError(model.ErrCodeNotFound, "version %s not found", versionID)
	}
	if err != nil {
		return model.StorageFailure("declare variable: lookup version", err)
	}

	if err := c.ensureVariable(ctx, v); err != nil {
		return err
	}

	var one int
	err = c.q.QueryRowContext(ctx,
		"SELECT 1 FROM experiment_variables WHERE var_name = ? AND ex_version_id = ?",
		v.Name, versionID,
	).Scan(&one)
	if err == nil {
		return model.NewNamesError(model.ErrCodeDuplicateAssociation,
			fmt.Sprintf("variable already declared for version %s", versionID), []string{v.Name})
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.StorageFailure("declare variable: check association", err)
	}

	kindJSON, err := json.Marshal(kind)
	if err != nil {
		return model.StorageFailure("declare variable: encode kind", err)
	}
	_, err = c.q.ExecContext(ctx, `
		INSERT INTO experiment_variables (var_name, ex_name, ex_version_id, kind)
		VALUES (?, ?, ?, ?)
	`, v.Name, experiment, versionID, string(kindJSON))
	if store.IsUniqueViolation(err) {
		return model.NewNamesError(model.ErrCodeDuplicateAssociation,
			fmt.Sprintf("variable already declared for version %s", versionID), []string{v.Name})
	}
	if err != nil {
		return model.StorageFailure("declare variable: insert association", err)
	}
	return nil
}

func (c *Catalog) ensureVariable(ctx context.Context, v model.Variable) error {
	existing, err := c.Variable(ctx, v.Name)
	if err == nil {
		if existing.Type != v.Type {
			return model.NewNamesError(model.ErrCodeSchemaConflict,
				fmt.Sprintf("variable exists with type %s, declared as %s", existing.Type, v.Type),
				[]string{v.Name})
		}
		return nil
	}
	if !model.IsNotFound(err) {
		return err
	}

	typeJSON, err := json.Marshal(v.Type)
	if err != nil {
		return model.NewNamesError(model.ErrCodeSchemaConflict, err.Error(), []string{v.Name})
	}
	_, err = c.q.ExecContext(ctx,
		"INSERT INTO variables (name, description, type) VALUES (?, ?, ?)",
		v.Name, v.Description, string(typeJSON),
	)
	if err != nil {
		return model.StorageFailure("declare variable: insert variable", err)
	}
	return nil
}

// Variable returns the variable named name, or NOT_FOUND.
func (c *Catalog) Variable(ctx context.Context, name string) (model.Variable, error) {
	name = model.NormalizeName(name)

	var v model.Variable
	var typeJSON string
	err := c.q.QueryRowContext(ctx,
		"SELECT name, description, type FROM variables WHERE name = ?", name,
	).Scan(&v.Name, &v.Description, &typeJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Variable{}, model.NewError(model.ErrCodeNotFound, "variable %q not found", name)
	}
	if err != nil {
		return model.Variable{}, model.StorageFailure("get variable", err)
	}
	if err := json.Unmarshal([]byte(typeJSON), &v.Type); err != nil {
		return model.Variable{}, model.StorageFailure("get variable: decode type", err)
	}
	return v, nil
}

// Variables lists every variable in the archive ordered by name.
func (c *Catalog) Variables(ctx context.Context) ([]model.Variable, error) {
	rows, err := c.q.QueryContext(ctx,
		"SELECT name, description, type FROM variables ORDER BY name ASC")
	if err != nil {
		return nil, model.StorageFailure("list variables", err)
	}
	defer rows.Close()

	vars := []model.Variable{}
	for rows.Next() {
		var v model.Variable
		var typeJSON string
		if err := rows.Scan(&v.Name, &v.Description, &typeJSON); err != nil {
			return nil, model.StorageFailure("list variables: scan", err)
		}
		if err := json.Unmarshal([]byte(typeJSON), &v.Type); err != nil {
			return nil, model.StorageFailure("list variables: decode type", err)
		}
		vars = append(vars, v)
	}
	if err := rows.Err(); err != nil {
		return nil, model.StorageFailure("list variables: iterate", err)
	}
	return vars, nil
}

// DeleteVariable removes a variable that no version references.
// Fails with VARIABLE_IN_USE while any association remains, NOT_FOUND if absent.
func (c *Catalog) DeleteVariable(ctx context.Context, name string) error {
	name = model.NormalizeName(name)

	var refs int
	err := c.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM experiment_variables WHERE var_name = ?", name,
	).Scan(&refs)
	if err != nil {
		return model.StorageFailure("delete variable: count references", err)
	}
	if refs > 0 {
		return model.NewNamesError(model.ErrCodeVariableInUse,
			fmt.Sprintf("variable referenced by %d version(s)", refs), []string{name})
	}

	res, err := c.q.ExecContext(ctx, "DELETE FROM variables WHERE name = ?", name)
	if err != nil {
		return model.StorageFailure("delete variable", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.StorageFailure("delete variable: rows affected", err)
	}
	if n == 0 {
		return model.NewError(model.ErrCodeNotFound, "variable %q not found", name)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecl(row rowScanner) (model.Decl, error) {
	var d model.Decl
	var typeJSON, kindJSON string
	if err := row.Scan(&d.Name, &d.Description, &typeJSON, &kindJSON); err != nil {
		return model.Decl{}, err
	}
	if err := json.Unmarshal([]byte(typeJSON), &d.Type); err != nil {
		return model.Decl{}, fmt.Errorf("decode type of %s: %w", d.Name, err)
	}
	if err := json.Unmarshal([]byte(kindJSON), &d.Kind); err != nil {
		return model.Decl{}, fmt.Errorf("decode kind of %s: %w", d.Name, err)
	}
	return d, nil
}
