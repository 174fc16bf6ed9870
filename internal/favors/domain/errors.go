package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("request not found")
	ErrForbidden        = errors.New("only the creator can mark this request as completed")
	ErrSelfHelp         = errors.New("you cannot help your own request")
	ErrAlreadyClaimed   = errors.New("this request already has a helper")
	ErrNoHelperAssigned = errors.New("no helper has been assigned to this request yet")
	ErrDependency       = errors.New("dependency unavailable")
)

// Error carries a taxonomy sentinel plus detail. errors.Is matches the sentinel.
type Error struct {
	Kind  error
	Field string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func Invalid(field, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Dependency wraps a store or collaborator failure.
func Dependency(op string, err error) error {
	return &Error{Kind: ErrDependency, Msg: op, Err: err}
}

// Code returns a stable machine-readable name for the taxonomy kind of err.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrSelfHelp):
		return "self_help"
	case errors.Is(err, ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, ErrNoHelperAssigned):
		return "no_helper_assigned"
	case errors.Is(err, ErrDependency):
		return "dependency_error"
	default:
		return "internal_error"
	}
}
