package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the error taxonomy consumed by callers and the retry layer.
type Kind string

const (
	ValidationError Kind = "VALIDATION_ERROR"
	StorageError    Kind = "STORAGE_ERROR"
	UnknownError    Kind = "UNKNOWN_ERROR"
)

// Machine codes carried alongside validation errors.
const (
	CodeNameRequired          = "NAME_REQUIRED"
	CodeNameTooLong           = "NAME_TOO_LONG"
	CodeAmountRequired        = "AMOUNT_REQUIRED"
	CodeAmountInvalid         = "AMOUNT_INVALID"
	CodeAmountTooLarge        = "AMOUNT_TOO_LARGE"
	CodeDateInvalid           = "DATE_INVALID"
	CodeTypeInvalid           = "TYPE_INVALID"
	CodeNotFound              = "NOT_FOUND"
	CodeIDConflict            = "ID_CONFLICT"
	CodeParentInvalid         = "PARENT_INVALID"
	CodePartialAmountInvalid  = "PARTIAL_AMOUNT_INVALID"
	CodePartialAmountTooLarge = "PARTIAL_AMOUNT_TOO_LARGE"
	CodeAmountWarningPartials = "AMOUNT_WARNING_PARTIALS"
)

// Error is the typed application error: a kind, a human-readable message, an
// optional machine code, and a retryability flag.
type Error struct {
	Kind      Kind
	Message   string
	Code      string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation builds a caller-fixable error. Never retried.
func Validation(code, message string) *Error {
	return &Error{Kind: ValidationError, Code: code, Message: message}
}

// Validationf builds a validation error with a formatted message.
func Validationf(code, format string, args ...any) *Error {
	return Validation(code, fmt.Sprintf(format, args...))
}

// NotFound builds the absent-record error shared by all id-addressed operations.
func NotFound(id string) *Error {
	return Validationf(CodeNotFound, "transaction %s not found", id)
}

// Storage wraps an I/O failure. Retryable up to the adapter's bounded count.
func Storage(message string, err error) *Error {
	return &Error{Kind: StorageError, Message: message, Retryable: true, Err: err}
}

// Unknown wraps a failure nothing else claims.
func Unknown(message string, err error) *Error {
	return &Error{Kind: UnknownError, Message: message, Err: err}
}

// As extracts the typed error from an error chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	if e, ok := As(err); ok {
		return e.Kind == kind
	}
	return false
}

// IsCode reports whether err carries the given machine code.
func IsCode(err error, code string) bool {
	if e, ok := As(err); ok {
		return e.Code == code
	}
	return false
}

// Classify maps a raw failure into the taxonomy. Already-typed errors pass
// through unchanged; everything else is inspected by message.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "storage"),
		strings.Contains(msg, "i/o"),
		strings.Contains(msg, "connection"),
		strings.Contains(msg, "no such file"),
		strings.Contains(msg, "permission denied"):
		return Storage(err.Error(), err)
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "required"):
		return &Error{Kind: ValidationError, Message: err.Error(), Err: err}
	}
	return Unknown(err.Error(), err)
}
