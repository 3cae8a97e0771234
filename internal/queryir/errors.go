package queryir

import (
	"errors"
	"fmt"
)

// Error is the single error type of the query layer.
//
// Errors include:
//   - Validation: malformed algebra (unresolved attribute, ungrouped term)
//   - Unsupported: a shape with no lowering for the target backend
//   - Schema, Write, QueryExecution: backend failures during init, insert
//     and execute, carrying the generated artifact for diagnosis
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Backend names the backend that reported the error ("sqlite", "mongo", ...).
	Backend string

	// Statement is the compiled artifact (SQL text or rendered pipeline).
	Statement string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes errors.
type ErrorCode string

const (
	// CodeValidation indicates the query violates an algebra invariant.
	CodeValidation ErrorCode = "VALIDATION"

	// CodeUnsupported indicates the backend cannot lower the query shape.
	CodeUnsupported ErrorCode = "UNSUPPORTED_OPERATION"

	// CodeSchema indicates storage initialization failed.
	CodeSchema ErrorCode = "SCHEMA"

	// CodeWrite indicates an entity could not be persisted.
	CodeWrite ErrorCode = "WRITE"

	// CodeQueryExecution indicates the backend failed to run a compiled query.
	CodeQueryExecution ErrorCode = "QUERY_EXECUTION"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Backend != "" {
		msg = fmt.Sprintf("%s (backend=%s)", msg, e.Backend)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError creates a validation error.
func NewValidationError(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// NewUnsupportedError creates an unsupported-operation error for a backend.
func NewUnsupportedError(backend, format string, args ...any) *Error {
	return &Error{Code: CodeUnsupported, Backend: backend, Message: fmt.Sprintf(format, args...)}
}

// NewSchemaError wraps a backend failure while initializing storage.
func NewSchemaError(backend, statement string, err error) *Error {
	return &Error{Code: CodeSchema, Backend: backend, Message: "initialize schema", Statement: statement, Err: err}
}

// NewWriteError wraps a backend failure while inserting an entity.
func NewWriteError(backend, statement string, err error) *Error {
	return &Error{Code: CodeWrite, Backend: backend, Message: "insert entity", Statement: statement, Err: err}
}

// NewQueryExecutionError wraps a backend failure while executing a query.
func NewQueryExecutionError(backend, statement string, err error) *Error {
	return &Error{Code: CodeQueryExecution, Backend: backend, Message: "execute query", Statement: statement, Err: err}
}

// HasCode reports whether err is an *Error with the given code.
// Uses errors.As to handle wrapped errors.
func HasCode(err error, code ErrorCode) bool {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Code == code
	}
	return false
}

// IsValidationError returns true if err is a validation error.
func IsValidationError(err error) bool { return HasCode(err, CodeValidation) }

// IsUnsupportedError returns true if err is an unsupported-operation error.
func IsUnsupportedError(err error) bool { return HasCode(err, CodeUnsupported) }

// IsSchemaError returns true if err is a schema error.
func IsSchemaError(err error) bool { return HasCode(err, CodeSchema) }

// IsWriteError returns true if err is a write error.
func IsWriteError(err error) bool { return HasCode(err, CodeWrite) }

// IsQueryExecutionError returns true if err is a query execution error.
func IsQueryExecutionError(err error) bool { return HasCode(err, CodeQueryExecution) }

func unknownNode(kind string, node any) error {
	return NewValidationError("unknown %s type: %T", kind, node)
}
