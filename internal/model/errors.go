package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode categorizes archive errors.
type ErrorCode string

const (
	// ErrCodeUnknownVariable indicates a name with no association to the version.
	ErrCodeUnknownVariable ErrorCode = "UNKNOWN_VARIABLE"

	// ErrCodeInvalidInput indicates input values for names that are not declared Input.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// ErrCodeMissingInput indicates declared Input variables without a bound value.
	ErrCodeMissingInput ErrorCode = "MISSING_INPUT"

	// ErrCodeDuplicateAssociation indicates the variable is already attached to the version.
	ErrCodeDuplicateAssociation ErrorCode = "DUPLICATE_ASSOCIATION"

	// ErrCodeSchemaConflict indicates a version label or variable reused with a different definition.
	ErrCodeSchemaConflict ErrorCode = "SCHEMA_CONFLICT"

	// ErrCodeInvalidMeasurement indicates a value that cannot be recorded for a run.
	ErrCodeInvalidMeasurement ErrorCode = "INVALID_MEASUREMENT"

	// ErrCodeIdentifierExhausted indicates every allocation attempt collided.
	ErrCodeIdentifierExhausted ErrorCode = "IDENTIFIER_EXHAUSTED"

	// ErrCodeAlreadyFinalized indicates a run context that was already committed or aborted.
	ErrCodeAlreadyFinalized ErrorCode = "ALREADY_FINALIZED"

	// ErrCodeVariableInUse indicates a variable still referenced by a version.
	ErrCodeVariableInUse ErrorCode = "VARIABLE_IN_USE"

	// ErrCodeNotFound indicates the addressed entity does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeStorageFailure wraps any lower-level database error.
	ErrCodeStorageFailure ErrorCode = "STORAGE_FAILURE"
)

// Error is the error type returned by the archive.
//
// Names lists the offending variable names where the code concerns variables
// (InvalidInput, MissingInput, UnknownVariable). Err holds the underlying
// cause for StorageFailure.
type Error struct {
	Code    ErrorCode
	Message string
	Names   []string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if len(e.Names) > 0 {
		msg += " [" + strings.Join(e.Names, ", ") + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Code so sentinel values work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is. Only the code is compared.
var (
	ErrUnknownVariable      = &Error{Code: ErrCodeUnknownVariable}
	ErrInvalidInput         = &Error{Code: ErrCodeInvalidInput}
	ErrMissingInput         = &Error{Code: ErrCodeMissingInput}
	ErrDuplicateAssociation = &Error{Code: ErrCodeDuplicateAssociation}
	ErrSchemaConflict       = &Error{Code: ErrCodeSchemaConflict}
	ErrInvalidMeasurement   = &Error{Code: ErrCodeInvalidMeasurement}
	ErrIdentifierExhausted  = &Error{Code: ErrCodeIdentifierExhausted}
	ErrAlreadyFinalized     = &Error{Code: ErrCodeAlreadyFinalized}
	ErrVariableInUse        = &Error{Code: ErrCodeVariableInUse}
	ErrNotFound             = &Error{Code: ErrCodeNotFound}
	ErrStorageFailure       = &Error{Code: ErrCodeStorageFailure}
)

// NewError creates an Error with a formatted message.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewNamesError creates an Error listing the offending names.
func NewNamesError(code ErrorCode, message string, names []string) *Error {
	return &Error{Code: code, Message: message, Names: names}
}

// StorageFailure wraps err unless it already is an *Error, in which case
// it is returned unchanged so validation codes survive transaction rollback.
func StorageFailure(message string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Code: ErrCodeStorageFailure, Message: message, Err: err}
}

// CodeOf extracts the error code, or "" when err is not an *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNotFound reports whether err carries ErrCodeNotFound.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}
