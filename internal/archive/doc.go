// Package archive records experiment runs and keeps the
// experiment → version → instance → run → measurement hierarchy consistent.
//
// # Writing
//
// Writer creates experiments and versions (EnsureExperiment, EnsureVersion),
// binds input values into instances (CreateInstance, FindInstance,
// EnsureInstance) and persists runs. A run is staged in a RunContext
// obtained from BeginRun; values are added by variable name and validated
// against the version's declarations; CommitRun then writes the run and
// all its measurements in one transaction. Either every row becomes
// visible or none does.
//
// # Run States
//
//	Open → Committed
//	Open → Aborted
//
// A RunContext transitions exactly once. Validation and storage failures
// during CommitRun abort the run; the run id is never reused.
//
// # Reading and Deleting
//
// Reader lists each level of the hierarchy in creation order (date, then
// id). Editor deletes an entity together with everything below it, walking
// the hierarchy bottom-up inside one transaction; the schema has no
// ON DELETE CASCADE.
//
// # Errors
//
// Every error returned is an *Error carrying one of the codes below, so
// callers can match with errors.Is against the Err* sentinels.
package archive
