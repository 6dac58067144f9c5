// Package apperr carries the error taxonomy shared across services: input
// validation failures, missing resources, and dependency failures. HTTP
// status mapping happens once, at the server boundary.
package apperr

import "github.com/pkg/errors"

type kind int

const (
	kindValidation kind = iota
	kindNotFound
	kindDependency
)

type appError struct {
	kind  kind
	msg   string
	cause error
}

func (e *appError) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e *appError) Unwrap() error { return e.cause }

// Validation flags malformed or missing caller input. Maps to 400.
func Validation(msg string) error {
	return &appError{kind: kindValidation, msg: msg}
}

// NotFound flags a missing resource. Maps to 404.
func NotFound(msg string) error {
	return &appError{kind: kindNotFound, msg: msg}
}

// Dependency wraps a store, bus or cache failure with operation context.
// Maps to a generic 500; the wrapped cause stays available through Unwrap
// for logging.
func Dependency(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &appError{kind: kindDependency, msg: msg, cause: err}
}

func IsValidation(err error) bool { return is(err, kindValidation) }
func IsNotFound(err error) bool   { return is(err, kindNotFound) }
func IsDependency(err error) bool { return is(err, kindDependency) }

func is(err error, k kind) bool {
	var ae *appError
	if errors.As(err, &ae) {
		return ae.kind == k
	}
	return false
}
