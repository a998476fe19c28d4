package domain

import (
	"errors"
	"strings"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrDuplicateOperation     = errors.New("duplicate operation")
	ErrInvalidModelType       = errors.New("invalid model type")
	ErrMissingAsset           = errors.New("missing asset")
	ErrMissingCredential      = errors.New("missing inference credential")
	ErrModelNotConfigured     = errors.New("model version not configured")
	ErrSubmissionRejected     = errors.New("submission rejected")
	ErrTransport              = errors.New("transport failure")
	ErrPollTransport          = errors.New("poll transport failure")
	ErrPollTimeout            = errors.New("poll deadline exceeded")
	ErrAssetNotFoundInArchive = errors.New("asset not found in archive")
	ErrUnsupportedFormat      = errors.New("unsupported output format")
	ErrNotSucceeded           = errors.New("prediction has not succeeded")
)

// Kind classifies an error by who can correct it and how it is surfaced.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindConfiguration Kind = "configuration"
	KindTransport     Kind = "transport"
	KindProvider      Kind = "provider"
	KindAsset         Kind = "asset"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindInternal      Kind = "internal"
)

// Error carries a classification and a user-facing message on top of a
// wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an Error of the given kind.
func NewError(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: strings.TrimSpace(message), Err: err}
}

func Validation(err error, message string) *Error {
	return NewError(KindValidation, err, message)
}

func Configuration(err error, message string) *Error {
	return NewError(KindConfiguration, err, message)
}

func Transport(err error, message string) *Error {
	return NewError(KindTransport, err, message)
}

func Provider(err error, message string) *Error {
	return NewError(KindProvider, err, message)
}

func Asset(err error, message string) *Error {
	return NewError(KindAsset, err, message)
}

// KindOf reports the classification of err. Bare sentinels are classified
// by their identity; anything unknown is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrDuplicateOperation):
		return KindConflict
	case errors.Is(err, ErrInvalidModelType), errors.Is(err, ErrMissingAsset):
		return KindValidation
	case errors.Is(err, ErrMissingCredential), errors.Is(err, ErrModelNotConfigured):
		return KindConfiguration
	case errors.Is(err, ErrTransport), errors.Is(err, ErrPollTransport):
		return KindTransport
	case errors.Is(err, ErrSubmissionRejected):
		return KindProvider
	case errors.Is(err, ErrAssetNotFoundInArchive), errors.Is(err, ErrUnsupportedFormat):
		return KindAsset
	default:
		return KindInternal
	}
}

// MessageOf returns the user-facing message attached to err, or fallback.
func MessageOf(err error, fallback string) string {
	var de *Error
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return fallback
}
