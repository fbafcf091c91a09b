// Package apperrors defines the error taxonomy shared by the registries and
// the comparison engine. Every error carries a machine-readable kind and the
// identifiers that caused it so callers can build a precise message.
package apperrors

import (
	"errors"
	"net/http"
	"strings"
)

type Kind string

const (
	KindValidation Kind = "ValidationError"
	KindNotFound   Kind = "NotFoundError"
	KindConflict   Kind = "ConflictError"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrConflict   = &Error{Kind: KindConflict}
)

// Error is a structured, caller-recoverable failure.
type Error struct {
	Kind    Kind     `json:"kind"`
	Message string   `json:"message"`
	IDs     []string `json:"ids,omitempty"`
}

func (e *Error) Error() string {
	if len(e.IDs) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.IDs, ", ")
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func Validation(msg string, ids ...string) *Error {
	return &Error{Kind: KindValidation, Message: msg, IDs: ids}
}

func NotFound(msg string, ids ...string) *Error {
	return &Error{Kind: KindNotFound, Message: msg, IDs: ids}
}

func Conflict(msg string, ids ...string) *Error {
	return &Error{Kind: KindConflict, Message: msg, IDs: ids}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HTTPStatus maps an error to the response status used by the API layer.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
