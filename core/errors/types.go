// Package errors implements the error taxonomy shared by the envolve core.
//
// Core packages never log or retry. They return an *Error carrying a Kind and
// let the command layer decide how to render it.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so callers can react without string matching.
type Kind int

const (
	// KindUnknown is used for errors that did not originate in the core.
	KindUnknown Kind = iota

	// KindNotFound indicates a requested variable, service or file is absent.
	// Nothing was written when an operation fails with this kind.
	KindNotFound

	// KindHistoryUnreadable indicates a version log exists but cannot be parsed.
	// The log is left untouched; appends refuse to proceed.
	KindHistoryUnreadable

	// KindIOFailure indicates the filesystem rejected a read, write or link.
	KindIOFailure

	// KindInvalidInput indicates a caller supplied a value the file format
	// cannot represent (for example a value containing a newline).
	KindInvalidInput

	// KindLockTimeout indicates the version log lock could not be acquired
	// before the configured timeout.
	KindLockTimeout
)

var kindNames = map[Kind]string{
	KindUnknown:           "unknown",
	KindNotFound:          "not_found",
	KindHistoryUnreadable: "history_unreadable",
	KindIOFailure:         "io_failure",
	KindInvalidInput:      "invalid_input",
	KindLockTimeout:       "lock_timeout",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Error wraps an underlying error with a Kind and the operation context it
// happened in.
type Error struct {
	Kind  Kind
	Op    string
	Path  string
	Field string
	Err   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Field != "" {
		fmt.Fprintf(&b, " %q", e.Field)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " (%s)", e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind. Sentinels compare
// by kind only, so errors.Is(err, ErrNotFound) holds for any not-found error.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New creates an *Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithPath records the file the failure relates to.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// WithField records the variable name the failure relates to.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrHistoryUnreadable = &Error{Kind: KindHistoryUnreadable}
	ErrIOFailure         = &Error{Kind: KindIOFailure}
	ErrInvalidInput      = &Error{Kind: KindInvalidInput}
	ErrLockTimeout       = &Error{Kind: KindLockTimeout}
)

// KindOf extracts the Kind from err, returning KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// NotFound builds a not-found error for a variable in a file.
func NotFound(op, path, field string) *Error {
	return New(KindNotFound, op, nil).WithPath(path).WithField(field)
}

// IO wraps a filesystem error. A nil err yields nil.
func IO(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return New(KindIOFailure, op, err).WithPath(path)
}

// Unreadable wraps a parse failure of a version log.
func Unreadable(op, path string, err error) *Error {
	return New(KindHistoryUnreadable, op, err).WithPath(path)
}

// Invalid reports rejected caller input.
func Invalid(op, field string, err error) *Error {
	return New(KindInvalidInput, op, err).WithField(field)
}
