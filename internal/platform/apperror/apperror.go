// Package apperror classifies business failures so HTTP handlers can map
// them to status codes without inspecting component internals.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation covers malformed or missing input, rejected before any mutation.
	KindValidation
	// KindConflict covers duplicate business keys and lost optimistic-lock races.
	KindConflict
	// KindIllegalTransition covers status changes not permitted from the current state.
	KindIllegalTransition
	// KindExternal covers courier or payment gateway failures.
	KindExternal
	KindNotFound
)

type Error struct {
	Kind   Kind
	Reason string // stable machine-usable reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

func Validation(reason string) *Error        { return New(KindValidation, reason) }
func Conflict(reason string) *Error          { return New(KindConflict, reason) }
func IllegalTransition(reason string) *Error { return New(KindIllegalTransition, reason) }
func NotFound(reason string) *Error          { return New(KindNotFound, reason) }

func External(reason string, err error) *Error {
	return Wrap(KindExternal, reason, err)
}

// KindOf returns the classification of err, or KindUnknown for unexpected
// failures that must surface as 5xx.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

func Reason(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Reason
	}
	return "internal_error"
}

// HTTPStatus maps an error kind to a response status. Unknown errors are 500
// and their details never reach the caller.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindIllegalTransition:
		return http.StatusUnprocessableEntity
	case KindExternal:
		return http.StatusBadGateway
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
