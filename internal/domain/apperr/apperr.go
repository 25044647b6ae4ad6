// Package apperr defines the error kinds surfaced by the report pipeline.
// Callers branch on Kind to choose user-facing messages; the wrapped cause
// is for logs only.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a stable error classification
type Kind string

const (
	KindValidation    Kind = "validation"
	KindConfiguration Kind = "configuration"
	KindCrypto        Kind = "crypto"
	KindUpload        Kind = "upload"
	KindPersistence   Kind = "persistence"
	KindNotFound      Kind = "not_found"
	KindUnknown       Kind = "unknown"
)

// Error is a kind-tagged error
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var s string
	if e.Op != "" {
		s = e.Op + ": "
	}
	s += e.Msg
	if e.Err != nil {
		if e.Msg != "" {
			s += ": "
		}
		s += e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same kind, so errors.Is(err, apperr.ErrNotFound) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons
var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrCrypto        = &Error{Kind: KindCrypto}
	ErrUpload        = &Error{Kind: KindUpload}
	ErrPersistence   = &Error{Kind: KindPersistence}
	ErrNotFound      = &Error{Kind: KindNotFound}
)

func newf(kind Kind, op string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

func Validation(op, format string, args ...any) *Error {
	return newf(KindValidation, op, nil, format, args...)
}

func Configuration(op, format string, args ...any) *Error {
	return newf(KindConfiguration, op, nil, format, args...)
}

func Crypto(op string, err error, format string, args ...any) *Error {
	return newf(KindCrypto, op, err, format, args...)
}

func Upload(op string, err error, format string, args ...any) *Error {
	return newf(KindUpload, op, err, format, args...)
}

func Persistence(op string, err error, format string, args ...any) *Error {
	return newf(KindPersistence, op, err, format, args...)
}

func NotFound(op, format string, args ...any) *Error {
	return newf(KindNotFound, op, nil, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
