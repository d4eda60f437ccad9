// Package engine holds the domain types shared across the DAG, task, and
// router layers: the error taxonomy, role/kind enums, and the few value
// objects that don't belong to any single component.
package engine

import (
	"errors"
	"fmt"
)

// ErrorKind identifies one of the well-known failure categories a node
// invocation, routing decision, or queue operation can surface.
type ErrorKind string

const (
	ErrValidation      ErrorKind = "validation"
	ErrRouting         ErrorKind = "routing"
	ErrTool            ErrorKind = "tool"
	ErrAgent           ErrorKind = "agent"
	ErrJSON            ErrorKind = "json"
	ErrSecurity        ErrorKind = "security"
	ErrTimeout         ErrorKind = "timeout"
	ErrQueueFull       ErrorKind = "queue_full"
	ErrContextDegraded ErrorKind = "context_degraded"
	ErrMergeTimeout    ErrorKind = "merge_timeout"
	ErrBranchEmpty     ErrorKind = "branch_empty"
	ErrMergeUnreach    ErrorKind = "merge_unreachable"
	ErrInternal        ErrorKind = "internal"
)

// Error is the engine's typed error. It carries enough context to let
// callers branch on Kind without parsing the message.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
	Context map[string]interface{}
}

func New(kind ErrorKind, message string, cause error, context map[string]interface{}) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause, Context: context}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is allows errors.Is comparisons against errors of the same Kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// WithContext returns a copy of e with additional contextual fields merged in.
func (e *Error) WithContext(ctx map[string]interface{}) *Error {
	if e == nil {
		return nil
	}
	merged := make(map[string]interface{}, len(e.Context)+len(ctx))
	for k, v := range e.Context {
		merged[k] = v
	}
	for k, v := range ctx {
		merged[k] = v
	}
	return &Error{Kind: e.Kind, Message: e.Message, Cause: e.Cause, Context: merged}
}

// KindOf extracts the ErrorKind from err if it (or something it wraps) is an
// *Error; otherwise it returns ErrInternal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrInternal
}

func Validationf(format string, args ...interface{}) *Error {
	return New(ErrValidation, fmt.Sprintf(format, args...), nil, nil)
}

func Routingf(format string, args ...interface{}) *Error {
	return New(ErrRouting, fmt.Sprintf(format, args...), nil, nil)
}

func Timeoutf(format string, args ...interface{}) *Error {
	return New(ErrTimeout, fmt.Sprintf(format, args...), nil, nil)
}
