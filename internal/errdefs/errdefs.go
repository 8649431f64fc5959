// Package errdefs defines the failure classes shared across the service.
// Every error built here wraps exactly one of the exported kind sentinels,
// so callers can branch with errors.Is no matter how deep the cause chain
// grows. The HTTP layer maps kinds onto status codes in one place.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig marks missing or contradictory configuration, detected
	// before any work is done.
	ErrConfig = errors.New("config error")

	// ErrValidation marks malformed or out-of-range caller input, such as
	// an oversized upload or a non-positive k.
	ErrValidation = errors.New("validation error")

	// ErrIngestion marks a failure while building a corpus from a
	// document. The previously active corpus is always left intact.
	ErrIngestion = errors.New("ingestion error")

	// ErrQuery marks a question that cannot be answered in the current
	// state, including "no active corpus" and provider failures during
	// retrieval or completion.
	ErrQuery = errors.New("query error")
)

type classified struct {
	kind error
	err  error
}

func (e *classified) Error() string { return e.err.Error() }

// Unwrap exposes both the kind sentinel and the cause so errors.Is and
// errors.As see through the classification.
func (e *classified) Unwrap() []error { return []error{e.kind, e.err} }

func newErr(kind error, format string, args ...any) error {
	return &classified{kind: kind, err: fmt.Errorf(format, args...)}
}

// Config builds a config-class error. Supports %w.
func Config(format string, args ...any) error {
	return newErr(ErrConfig, format, args...)
}

// Validation builds a validation-class error. Supports %w.
func Validation(format string, args ...any) error {
	return newErr(ErrValidation, format, args...)
}

// Ingestion builds an ingestion-class error. Supports %w.
func Ingestion(format string, args ...any) error {
	return newErr(ErrIngestion, format, args...)
}

// Query builds a query-class error. Supports %w.
func Query(format string, args ...any) error {
	return newErr(ErrQuery, format, args...)
}

func IsConfig(err error) bool     { return errors.Is(err, ErrConfig) }
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
func IsIngestion(err error) bool  { return errors.Is(err, ErrIngestion) }
func IsQuery(err error) bool      { return errors.Is(err, ErrQuery) }
