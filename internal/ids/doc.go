// Package ids allocates the 16-character alphanumeric identifiers used for
// versions, instances and runs.
//
// A Source draws candidate identifiers; a Generator claims one against the
// archive, redrawing on collision up to MaxAttempts times. Claim both checks
// for an existing row and treats a unique violation raised by the insert
// itself as a collision, so two writers racing for the same id cannot both
// succeed.
package ids
