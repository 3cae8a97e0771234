package schema

import (
	"fmt"

	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Error codes shared by the loader and the CLI.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeEmpty       = "E007" // Catalog declares nothing

	// Entity declaration errors
	ErrCodeInvalidEntity = "E101" // Entity type cannot be constructed
	ErrCodeInvalidKind   = "E102" // Unknown attribute kind

	// Query declaration errors
	ErrCodeInvalidQuery     = "E111" // Malformed query structure
	ErrCodeUnknownEntity    = "E112" // Query references an undeclared entity
	ErrCodeUnknownAttribute = "E113" // Query references an undeclared attribute
	ErrCodeQueryValidation  = "E114" // Query violates an algebra rule
)

// Error is a catalog error with its CUE path and source position.
type Error struct {
	Code    string
	Path    string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg = e.Path + ": " + msg
	}
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Line returns the source line, or 0 without position.
func (e *Error) Line() int {
	if e.Pos.IsValid() {
		return e.Pos.Line()
	}
	return 0
}

func newError(code, path string, pos token.Pos, format string, args ...any) *Error {
	return &Error{Code: code, Path: path, Message: fmt.Sprintf(format, args...), Pos: pos}
}

// fromCUE converts a CUE evaluation error, keeping the first position.
func fromCUE(code, path string, err error) *Error {
	out := &Error{Code: code, Path: path, Message: err.Error()}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return out
	}
	out.Message = errs[0].Error()
	if positions := errors.Positions(errs[0]); len(positions) > 0 {
		out.Pos = positions[0]
	}
	return out
}
