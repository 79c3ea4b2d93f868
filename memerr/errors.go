// Package memerr defines the failure taxonomy shared by the memory store,
// the search index and the statistics aggregator.
package memerr

import (
	"errors"
	"fmt"
)

// Kind represents the category of a failure.
type Kind string

const (
	KindStorage     Kind = "storage"
	KindEncoding    Kind = "encoding"
	KindQuerySyntax Kind = "query_syntax"
	KindValidation  Kind = "validation"
)

// Error is a classified failure carrying its underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewStorageError reports that the underlying persistence is unavailable or corrupted.
func NewStorageError(message string, cause error) *Error {
	return &Error{Kind: KindStorage, Message: message, Err: cause}
}

// NewEncodingError reports that content or metadata could not be (de)serialized.
func NewEncodingError(message string, cause error) *Error {
	return &Error{Kind: KindEncoding, Message: message, Err: cause}
}

// NewQuerySyntaxError reports a malformed full-text query.
func NewQuerySyntaxError(message string, cause error) *Error {
	return &Error{Kind: KindQuerySyntax, Message: message, Err: cause}
}

// NewValidationError reports a caller error such as an out-of-range argument.
func NewValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or "" if err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsStorage checks if err is a storage failure.
func IsStorage(err error) bool { return KindOf(err) == KindStorage }

// IsEncoding checks if err is an encoding failure.
func IsEncoding(err error) bool { return KindOf(err) == KindEncoding }

// IsQuerySyntax checks if err is a malformed query failure.
func IsQuerySyntax(err error) bool { return KindOf(err) == KindQuerySyntax }

// IsValidation checks if err is a caller validation failure.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }
