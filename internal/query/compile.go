package query

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/exar/internal/store"
)

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*(\.[a-z_][a-z0-9_]*)?$`)

// Compile converts q to parameterized SQL. Returns (sql, params, error).
//
// Identifiers (table, columns, fields, order keys) must be lower-case SQL
// identifiers, optionally table-qualified; they are checked rather than
// quoted because they come from code, not users.
func Compile(q Select) (string, []any, error) {
	if err := checkIdent(q.From); err != nil {
		return "", nil, fmt.Errorf("compile select: from: %w", err)
	}
	if len(q.Columns) == 0 {
		return "", nil, fmt.Errorf("compile select: no columns")
	}
	for _, c := range q.Columns {
		if err := checkIdent(c); err != nil {
			return "", nil, fmt.Errorf("compile select: column: %w", err)
		}
	}
	if len(q.OrderBy) == 0 {
		return "", nil, fmt.Errorf("compile select: ORDER BY is required")
	}
	for _, k := range q.OrderBy {
		if err := checkIdent(k); err != nil {
			return "", nil, fmt.Errorf("compile select: order by: %w", err)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(q.Columns, ", "), q.From)

	var params []any
	if q.Filter != nil {
		where, p, err := compilePredicate(q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		b.WriteString(" WHERE ")
		b.WriteString(where)
		params = p
	}

	keys := make([]string, len(q.OrderBy))
	for i, k := range q.OrderBy {
		keys[i] = k + " ASC"
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(strings.Join(keys, ", "))

	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}

	return b.String(), params, nil
}

func compilePredicate(p Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case Equals:
		if err := checkIdent(pred.Field); err != nil {
			return "", nil, err
		}
		return pred.Field + " = ?", []any{pred.Value}, nil

	case Contains:
		if err := checkIdent(pred.Field); err != nil {
			return "", nil, err
		}
		pattern := "%" + escapeLike(strings.ToLower(pred.Substring)) + "%"
		return fmt.Sprintf(`LOWER(%s) LIKE ? ESCAPE '\'`, pred.Field), []any{pattern}, nil

	case Range:
		if err := checkIdent(pred.Field); err != nil {
			return "", nil, err
		}
		var parts []string
		var params []any
		if !pred.From.IsZero() {
			parts = append(parts, pred.Field+" >= ?")
			params = append(params, store.Timestamp(pred.From))
		}
		if !pred.To.IsZero() {
			parts = append(parts, pred.Field+" < ?")
			params = append(params, store.Timestamp(pred.To))
		}
		if len(parts) == 0 {
			return "1 = 1", nil, nil
		}
		return strings.Join(parts, " AND "), params, nil

	case And:
		if len(pred.Predicates) == 0 {
			return "1 = 1", nil, nil // Vacuous truth
		}
		var parts []string
		var params []any
		for _, sub := range pred.Predicates {
			sql, p, err := compilePredicate(sub)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, sql)
			params = append(params, p...)
		}
		return strings.Join(parts, " AND "), params, nil

	case nil:
		return "1 = 1", nil, nil
	}
	return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
}

func checkIdent(s string) error {
	if !identPattern.MatchString(s) {
		return fmt.Errorf("invalid identifier %q", s)
	}
	return nil
}

// escapeLike escapes LIKE wildcards with backslash.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
