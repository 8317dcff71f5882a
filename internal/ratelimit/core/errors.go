// Package core defines typed errors.
package core

import (
	"errors"
	"fmt"
)

// ErrorCode represents a typed error code.
type ErrorCode string

const (
	CodeValidation ErrorCode = "VALIDATION_ERROR"
	CodeConflict   ErrorCode = "CONFLICT"
	CodeNotFound   ErrorCode = "NOT_FOUND"
	CodeStore      ErrorCode = "STORE_ERROR"
)

// AppError is a typed application error.
type AppError struct {
	Code    ErrorCode
	Message string
	Field   string
	Err     error
}

// Error returns the error message.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil && e.Code == CodeStore {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any AppError carrying the same code, so the sentinels below work with errors.Is.
func (e *AppError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*AppError)
	if !ok || t == nil {
		return false
	}
	return t.Code == e.Code
}

// Wrap creates a new AppError.
func Wrap(code ErrorCode, msg string, err error) error {
	return &AppError{Code: code, Message: msg, Err: err}
}

// Validation reports a malformed or missing field.
func Validation(field, msg string) error {
	return &AppError{Code: CodeValidation, Field: field, Message: fmt.Sprintf("%s: %s", field, msg)}
}

// NotFound reports a missing record.
func NotFound(kind, id string) error {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf("%s %q not found", kind, id)}
}

// Conflict reports a uniqueness violation.
func Conflict(msg string) error {
	return &AppError{Code: CodeConflict, Message: msg}
}

// StoreFailure wraps a backing store failure. Errors that are already typed pass through.
func StoreFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}
	return &AppError{Code: CodeStore, Message: "store " + op + " failed", Err: err}
}

// CodeOf returns the ErrorCode for an error.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// FieldOf returns the offending field of a validation error.
func FieldOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}

// ErrValidation indicates validation failures.
var ErrValidation = &AppError{Code: CodeValidation, Message: "invalid input"}

// ErrConflict indicates duplicate rule names.
var ErrConflict = &AppError{Code: CodeConflict, Message: "conflict"}

// ErrNotFound indicates missing resources.
var ErrNotFound = &AppError{Code: CodeNotFound, Message: "not found"}

// ErrStore indicates a backing store failure.
var ErrStore = &AppError{Code: CodeStore, Message: "store error"}
