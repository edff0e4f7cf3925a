// Package model defines the entities of the experiment archive and the
// tagged values recorded against them.
//
// The hierarchy is strict containment:
//
//	Experiment → Version → Instance → Run → Measurement
//
// Variables are shared between versions and are attached to a version through
// a Decl carrying its Kind (Input or Output). Inputs are bound once per
// Instance (InValue); Outputs are observed once per Run (Measurement).
//
// # Values
//
// Every recorded value is a Value (Numeric, TextValue or BoolValue). Values are stored
// as text and parsed back against the declared DataType on read, so the
// textual form produced by Value.String is part of the storage format.
//
// # Names
//
// Experiment and variable names are compared after NormalizeName (Unicode NFC,
// surrounding whitespace trimmed). Two names that render identically therefore
// address the same row.
package model
