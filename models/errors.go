package models

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError means the input was rejected before anything was written.
type ValidationError struct {
	Field   string
	Message string
	// Missing lists required labels that were absent (PreBuild specs).
	Missing []string
}

func (e *ValidationError) Error() string {
	msg := e.Message
	if len(e.Missing) > 0 {
		msg = fmt.Sprintf("%s: missing %s", msg, strings.Join(e.Missing, ", "))
	}
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, msg)
	}
	return msg
}

func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

type NotFoundError struct {
	Resource string
	Id       any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Resource, e.Id)
}

// ConflictError is returned when the current state forbids the operation,
// including losing a compare-and-set race.
type ConflictError struct {
	Resource string
	Id       any
	Message  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %v: %s", e.Resource, e.Id, e.Message)
}

// SideEffectError wraps a failure that happened after the primary write
// committed. It is logged, not surfaced to the caller.
type SideEffectError struct {
	Step string
	Err  error
}

func (e *SideEffectError) Error() string {
	return fmt.Sprintf("side effect %s failed: %v", e.Step, e.Err)
}

func (e *SideEffectError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}
