package kernel

import (
	"errors"
	"fmt"
)

// Code is the canonical name of a task-level failure.
type Code string

const (
	CodeGenerationFailed Code = "GenerationFailed"
	CodeContextNotFound  Code = "ContextNotFound"
	CodeUnknownTaskType  Code = "UnknownTaskType"
	CodeMalformedRequest Code = "MalformedRequest"
)

// Error is a structured task error with a canonical code. It travels to the
// client as a response payload and never closes the connection.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// Is matches any *Error with the same code, so callers can write
// errors.Is(err, kernel.ErrContextNotFound).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrGenerationFailed = &Error{Code: CodeGenerationFailed, Message: "generation failed"}
	ErrContextNotFound  = &Error{Code: CodeContextNotFound, Message: "context not found"}
	ErrUnknownTaskType  = &Error{Code: CodeUnknownTaskType, Message: "unknown task type"}
	ErrMalformedRequest = &Error{Code: CodeMalformedRequest, Message: "malformed request"}
)

// Errorf builds an *Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// asError maps any error onto the wire taxonomy. Errors that are not already
// typed are reported as GenerationFailed, the only task that can fail for
// reasons outside the protocol.
func asError(err error) *Error {
	var ke *Error
	if errors.As(err, &ke) {
		return ke
	}
	return &Error{Code: CodeGenerationFailed, Message: err.Error()}
}
