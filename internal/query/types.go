package query

import "time"

// Predicate is a filter condition. Only types in this package implement it.
type Predicate interface {
	predicateNode() // Sealed
}

// Equals matches rows whose Field equals Value.
type Equals struct {
	Field string
	Value any
}

func (Equals) predicateNode() {}

// Contains matches rows whose Field contains Substring, ignoring case.
// LIKE wildcards in Substring are matched literally.
type Contains struct {
	Field     string
	Substring string
}

func (Contains) predicateNode() {}

// Range matches rows with From <= Field < To. A zero bound is open.
type Range struct {
	Field string
	From  time.Time
	To    time.Time
}

func (Range) predicateNode() {}

// And matches rows satisfying every predicate. An empty And matches all rows.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Select is a single-table list query.
//
//	SELECT <columns> FROM <from> WHERE <filter> ORDER BY <order_by> [LIMIT n]
type Select struct {
	From    string
	Columns []string
	Filter  Predicate // nil = no filter
	OrderBy []string  // required; the last key should be unique
	Limit   int       // 0 = no limit
}

// Where appends p to a conjunction, dropping nil predicates.
func Where(preds ...Predicate) Predicate {
	var out []Predicate
	for _, p := range preds {
		if p != nil {
			out = append(out, p)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return And{Predicates: out}
}
