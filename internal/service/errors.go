package service

import (
	"errors"
	"fmt"
)

// Kind classifies a domain failure so callers can branch without string matching
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindConflict
	KindLocked
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NOT_FOUND"
	case KindBadRequest:
		return "BAD_REQUEST"
	case KindUnauthorized:
		return "UNAUTHORIZED"
	case KindForbidden:
		return "FORBIDDEN"
	case KindConflict:
		return "CONFLICT"
	case KindLocked:
		return "LOCKED"
	default:
		return "INTERNAL"
	}
}

// Error is a domain failure with a reason that is safe to show to clients
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// KindOf returns the kind of a domain error, or KindInternal for anything else
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func newError(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...interface{}) error {
	return newError(KindNotFound, format, args...)
}

func badRequest(format string, args ...interface{}) error {
	return newError(KindBadRequest, format, args...)
}

func forbidden(format string, args ...interface{}) error {
	return newError(KindForbidden, format, args...)
}

func conflict(format string, args ...interface{}) error {
	return newError(KindConflict, format, args...)
}

func locked(format string, args ...interface{}) error {
	return newError(KindLocked, format, args...)
}

func unauthorized(format string, args ...interface{}) error {
	return newError(KindUnauthorized, format, args...)
}
