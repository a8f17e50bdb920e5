package service

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindConfig
	KindAuth
	KindForbidden
	KindValidation
	KindNotFound
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindAuth:
		return "auth"
	case KindForbidden:
		return "forbidden"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindUpstream:
		return "upstream"
	}
	return "internal"
}

func (k Kind) HTTPStatus() int {
	switch k {
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// Rejects reports whether the kind refuses the request itself rather than
// failing while processing it.
func (k Kind) Rejects() bool {
	switch k {
	case KindConfig, KindAuth, KindForbidden, KindValidation:
		return true
	}
	return false
}

// Error is returned by every service operation. Message is safe to show to
// the caller; Err carries the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func ConfigError(message string) error     { return newError(KindConfig, message, nil) }
func AuthError(message string) error       { return newError(KindAuth, message, nil) }
func ForbiddenError(message string) error  { return newError(KindForbidden, message, nil) }
func ValidationError(message string) error { return newError(KindValidation, message, nil) }
func NotFoundError(message string) error   { return newError(KindNotFound, message, nil) }

func UpstreamError(message string, err error) error { return newError(KindUpstream, message, err) }
func InternalError(message string, err error) error { return newError(KindInternal, message, err) }

// AsError extracts the service error from err. Errors of any other type are
// reported as internal.
func AsError(err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return newError(KindInternal, "internal error", err)
}

func KindOf(err error) Kind {
	return AsError(err).Kind
}
