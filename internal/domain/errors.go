package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the stable, machine-readable class of a pipeline failure.
type Kind string

const (
	KindUnsupportedFormat   Kind = "unsupported_format"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindGenerationFailed    Kind = "generation_failed"
	KindStorageUnavailable  Kind = "storage_unavailable"
	KindUploadFailed        Kind = "upload_failed"
	KindArtifactNotFound    Kind = "artifact_not_found"
	KindSessionNotFound     Kind = "session_not_found"
	KindPaymentNotCompleted Kind = "payment_not_completed"
	KindInvalidSignature    Kind = "invalid_signature"
	KindInvalidRequest      Kind = "invalid_request"
	KindInternal            Kind = "internal"
)

var (
	ErrUnsupportedFormat   = &Error{Kind: KindUnsupportedFormat}
	ErrProviderUnavailable = &Error{Kind: KindProviderUnavailable}
	ErrGenerationFailed    = &Error{Kind: KindGenerationFailed}
	ErrStorageUnavailable  = &Error{Kind: KindStorageUnavailable}
	ErrUploadFailed        = &Error{Kind: KindUploadFailed}
	ErrArtifactNotFound    = &Error{Kind: KindArtifactNotFound}
	ErrSessionNotFound     = &Error{Kind: KindSessionNotFound}
	ErrPaymentNotCompleted = &Error{Kind: KindPaymentNotCompleted}
	ErrInvalidSignature    = &Error{Kind: KindInvalidSignature}
	ErrInvalidRequest      = &Error{Kind: KindInvalidRequest}
)

// Error carries a Kind plus a human readable detail. Two errors match under
// errors.Is when their kinds are equal, so callers can compare against the
// sentinel values above.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

// Errorf builds an *Error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around cause.
func Wrap(kind Kind, cause error, detail string) *Error {
	return &Error{Kind: kind, Detail: detail, Err: cause}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf reports the Kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// DetailOf returns the most specific human readable message for err.
func DetailOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Detail != "" {
			return e.Detail
		}
		if e.Err != nil {
			return e.Err.Error()
		}
		return string(e.Kind)
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// StatusFor maps an error kind to the HTTP status surfaced to clients.
func StatusFor(kind Kind) int {
	switch kind {
	case KindUnsupportedFormat, KindInvalidSignature, KindInvalidRequest:
		return http.StatusBadRequest
	case KindArtifactNotFound, KindSessionNotFound:
		return http.StatusNotFound
	case KindPaymentNotCompleted:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}
