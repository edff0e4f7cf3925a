// Package query builds the filtered list queries used by the archive reader.
//
// A Select names a table, the columns to return, an optional Predicate and
// the ORDER BY keys. Compile turns it into SQL with ? placeholders; values
// are never interpolated. Every compiled query carries an ORDER BY so list
// results are deterministic on both SQLite and PostgreSQL.
//
// Predicates are a sealed set:
//   - Equals: field = value
//   - Contains: case-insensitive substring match
//   - Range: half-open time interval [From, To), either bound optional
//   - And: conjunction
package query
