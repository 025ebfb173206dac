package issue

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies every failure returned by the package.
type Kind string

const (
	KindInvalidArgument Kind = "invalid_argument"
	KindNotFound        Kind = "not_found"
	KindForbidden       Kind = "forbidden"
	KindConflict        Kind = "conflict"
	KindInvalidState    Kind = "invalid_state"
	KindUnavailable     Kind = "unavailable"
	KindTimeout         Kind = "timeout"
	KindInternal        Kind = "internal"
)

var (
	ErrInvalidArgument = errors.New("issue: invalid argument")
	ErrNotFound        = errors.New("issue: not found")
	ErrForbidden       = errors.New("issue: forbidden")
	ErrConflict        = errors.New("issue: conflict")
	ErrInvalidState    = errors.New("issue: invalid state")
	ErrUnavailable     = errors.New("issue: unavailable")
	ErrTimeout         = errors.New("issue: timeout")
	ErrInternal        = errors.New("issue: internal error")
)

// FieldError reports the input field that failed validation.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("issue: invalid %s: %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error { return ErrInvalidArgument }

func invalidField(field, reason string) error {
	return &FieldError{Field: field, Reason: reason}
}

// KindOf maps err onto its Kind. Unclassified errors are internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrUnavailable), errors.Is(err, context.Canceled):
		return KindUnavailable
	default:
		return KindInternal
	}
}

// classify keeps domain errors as they are and folds collaborator failures
// into ErrTimeout or ErrUnavailable.
func classify(op string, err error) error {
	switch KindOf(err) {
	case KindInvalidArgument, KindNotFound, KindForbidden, KindConflict, KindInvalidState, KindUnavailable:
		if errors.Is(err, context.Canceled) && !errors.Is(err, ErrUnavailable) {
			return fmt.Errorf("issue: %s: %w: %w", op, ErrUnavailable, err)
		}
		return err
	case KindTimeout:
		if errors.Is(err, ErrTimeout) {
			return err
		}
		return fmt.Errorf("issue: %s: %w: %w", op, ErrTimeout, err)
	case KindInternal:
		if errors.Is(err, ErrInternal) {
			return err
		}
		return fmt.Errorf("issue: %s: %w: %w", op, ErrUnavailable, err)
	default:
		return err
	}
}
