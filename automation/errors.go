// Package automation implements the email automation workflow engine:
// flow definitions, member enrollments, the scheduled delivery queue and
// the batch processor that drains it.
package automation

import (
	"errors"
	"fmt"
)

// Kind classifies an operation failure. Callers branch on the kind rather
// than on error strings.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindDuplicateName   Kind = "duplicate_name"
	KindNotFound        Kind = "not_found"
	KindArchived        Kind = "archived"
	KindNoSteps         Kind = "no_steps"
	KindNoEmailStep     Kind = "no_email_step"
	KindHasEnrollments  Kind = "has_enrollments"
	KindAlreadyEnrolled Kind = "already_enrolled"
	KindNotActive       Kind = "not_active"
	KindInvalidID       Kind = "invalid_id"
	KindInvalidStatus   Kind = "invalid_status"
	KindTooMany         Kind = "too_many"
	KindUnauthorized    Kind = "unauthorized"
	KindForbidden       Kind = "forbidden"
	KindStoreError      Kind = "store_error"
	KindInternal        Kind = "internal"
)

// Error is the failure value every public operation returns. Field is set
// for validation errors to name the offending input.
type Error struct {
	Kind  Kind
	Field string
	Err   error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Field != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Field)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Errf builds an Error with a formatted cause.
func Errf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// FieldErr builds a validation Error for a single input field.
func FieldErr(field, format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Field: field, Err: fmt.Errorf(format, args...)}
}

// storeErr wraps an infrastructure failure so callers see KindStoreError
// without the driver detail leaking into responses.
func storeErr(err error) *Error {
	return &Error{Kind: KindStoreError, Err: err}
}

// KindOf extracts the Kind from err, or KindInternal when err is not an
// automation error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
