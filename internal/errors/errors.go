// Package errors defines the error taxonomy shared by the store, the
// experiment and attribution services and the HTTP layer.
//
// Services return these errors (wrapped with fmt.Errorf("...: %w", err)
// as they travel up); only the HTTP handlers decide how to log and respond.
package errors

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Error carries a kind plus the operation or field it concerns.
type Error struct {
	Kind  error
	Op    string
	Field string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrValidation:
		if e.Field != "" {
			return fmt.Sprintf("validation error: %s: %s", e.Field, e.Msg)
		}
		return "validation error: " + e.Msg
	case ErrNotFound:
		return e.Msg + " not found"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Op)
}

// Is reports whether target is this error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation reports a missing or malformed input field.
func Validation(field, msg string) error {
	return &Error{Kind: ErrValidation, Field: field, Msg: msg}
}

// NotFound reports a referenced resource that does not exist and cannot be
// auto-created, e.g. "experiment \"hero\"".
func NotFound(resource, name string) error {
	return &Error{Kind: ErrNotFound, Msg: fmt.Sprintf("%s %q", resource, name)}
}

// StoreUnavailable wraps a persistence failure.
func StoreUnavailable(op string, err error) error {
	return &Error{Kind: ErrStoreUnavailable, Op: op, Err: err}
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsStoreUnavailable reports whether err is a persistence failure.
func IsStoreUnavailable(err error) bool { return errors.Is(err, ErrStoreUnavailable) }
