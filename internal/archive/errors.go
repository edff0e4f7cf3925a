package archive

import "github.com/roach88/exar/internal/model"

// Error is the archive error type. See model.Error.
type Error = model.Error

// ErrorCode categorizes archive errors.
type ErrorCode = model.ErrorCode

// Sentinels for errors.Is.
var (
	ErrUnknownVariable      = model.ErrUnknownVariable
	ErrInvalidInput         = model.ErrInvalidInput
	ErrMissingInput         = model.ErrMissingInput
	ErrDuplicateAssociation = model.ErrDuplicateAssociation
	ErrSchemaConflict       = model.ErrSchemaConflict
	ErrInvalidMeasurement   = model.ErrInvalidMeasurement
	ErrIdentifierExhausted  = model.ErrIdentifierExhausted
	ErrAlreadyFinalized     = model.ErrAlreadyFinalized
	ErrVariableInUse        = model.ErrVariableInUse
	ErrNotFound             = model.ErrNotFound
	ErrStorageFailure       = model.ErrStorageFailure
)

func notFound(entity, key string) *Error {
	return model.NewError(model.ErrCodeNotFound, "%s %q not found", entity, key)
}
