package feeerr

import (
	"errors"
	"fmt"

	"github.com/smallbiznis/feeledger/pkg/db"
	"gorm.io/gorm"
)

// Taxonomy sentinels. Domain errors wrap one of them so callers can branch
// with errors.Is without knowing the originating package.
var (
	ErrNotFound    = errors.New("not_found")
	ErrValidation  = errors.New("validation_error")
	ErrConflict    = errors.New("conflict")
	ErrPersistence = errors.New("persistence_error")
)

// Error is a classified failure carrying a stable code and an optional field.
type Error struct {
	Kind    error
	Code    string
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	out := []error{e.Kind}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func NotFound(code, message string) error {
	return &Error{Kind: ErrNotFound, Code: code, Message: message}
}

func Validation(code, field, message string) error {
	return &Error{Kind: ErrValidation, Code: code, Field: field, Message: message}
}

func Conflict(code, message string, cause error) error {
	return &Error{Kind: ErrConflict, Code: code, Message: message, Err: cause}
}

func Persistence(message string, cause error) error {
	return &Error{Kind: ErrPersistence, Code: "persistence_error", Message: message, Err: cause}
}

// Wrap classifies a storage error. Already classified errors pass through;
// record-not-found maps to NotFound, lock and serialization failures map to
// Conflict and everything else becomes a Persistence error.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	if Classified(err) {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return &Error{Kind: ErrNotFound, Code: "not_found", Message: message, Err: err}
	case db.IsRetryable(err):
		return Conflict("concurrent_update", message, err)
	case db.IsDuplicateKeyErr(err):
		return Conflict("duplicate", message, err)
	default:
		return Persistence(message, err)
	}
}

// Classified reports whether err already wraps a taxonomy sentinel.
func Classified(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrPersistence)
}

// Kind returns the taxonomy sentinel err wraps, or nil.
func Kind(err error) error {
	for _, kind := range []error{ErrValidation, ErrNotFound, ErrConflict, ErrPersistence} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// FieldOf returns the offending field of a validation error.
func FieldOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Field
	}
	return ""
}

// CodeOf returns the stable code of a classified error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
