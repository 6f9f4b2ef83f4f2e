// Package failure classifies refresh errors so callers can decide whether a
// catalog entry should be ignored or simply retried on the next run.
package failure

import (
	"errors"
	"fmt"
)

// Kind identifies the class of a refresh failure.
type Kind string

const (
	KindInvalidURL           Kind = "invalid_url"
	KindNetwork              Kind = "network_error"
	KindClientError          Kind = "client_error"
	KindServerError          Kind = "server_error"
	KindDuplicateRepository  Kind = "duplicate_repository"
	KindEmptyRepository      Kind = "empty_repository"
	KindMissingRepositoryURL Kind = "missing_repository_url"
	KindInternal             Kind = "internal"
)

// Error is a classified failure. StatusCode is set for HTTP-derived kinds and
// DuplicateOf for KindDuplicateRepository.
type Error struct {
	Kind        Kind
	Message     string
	StatusCode  int
	DuplicateOf string
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Permanent reports whether the failure should move the entry to ignored.
func (e *Error) Permanent() bool {
	switch e.Kind {
	case KindClientError, KindDuplicateRepository, KindEmptyRepository:
		return true
	}
	return false
}

// Transient reports whether a later run may succeed without any change to the entry.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindNetwork, KindServerError:
		return true
	}
	return false
}

// New returns an Error of the given kind.
func New(kind Kind, format string, a ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, a...)}
}

// Wrap returns an Error of the given kind wrapping err.
func Wrap(kind Kind, err error, format string, a ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, a...), Err: err}
}

// KindOf returns the kind of err, or KindInternal when err is not classified.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// Permanent reports whether err is a classified permanent failure.
func Permanent(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Permanent()
}

// Transient reports whether err is a classified transient failure.
func Transient(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Transient()
}
