// Package errs defines the structured error taxonomy shared by the runtime
// packages. Every failure carries a Kind and, once the driver sees it, the
// Step that was in flight.
package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind categorizes the error.
type Kind string

const (
	KindFetch         Kind = "fetch_error"
	KindModule        Kind = "module_error"
	KindInvalidHandle Kind = "invalid_handle"
	KindOutOfBounds   Kind = "out_of_bounds"
	KindMissingField  Kind = "missing_field"
)

// Step names a driver state transition.
type Step string

const (
	StepNone        Step = ""
	StepFetch       Step = "fetch"
	StepInstantiate Step = "instantiate"
	StepInstall     Step = "install"
	StepNavigate    Step = "navigate"
	StepHarvest     Step = "harvest"
)

// Error is the structured error type used by the runtime.
type Error struct {
	Cause  error
	Kind   Kind
	Step   Step
	Field  string
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	if e.Step != StepNone {
		b.WriteByte('[')
		b.WriteString(string(e.Step))
		b.WriteString("] ")
	}
	b.WriteString(string(e.Kind))

	if e.Field != "" {
		b.WriteString(" ")
		b.WriteString(e.Field)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Kind, and on Step when the target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Step == StepNone || t.Step == e.Step
}

// Sentinels for errors.Is checks.
var (
	ErrFetch         = &Error{Kind: KindFetch}
	ErrModule        = &Error{Kind: KindModule}
	ErrInvalidHandle = &Error{Kind: KindInvalidHandle}
	ErrOutOfBounds   = &Error{Kind: KindOutOfBounds}
	ErrMissingField  = &Error{Kind: KindMissingField}
)

// Fetch wraps a network failure.
func Fetch(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindFetch, Cause: cause, Detail: fmt.Sprintf(format, args...)}
}

// Module reports bad bytes, unmet imports, or a trap.
func Module(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindModule, Cause: cause, Detail: fmt.Sprintf(format, args...)}
}

// InvalidHandle reports a dereference of a handle that is not live.
func InvalidHandle(h uint32, reason string) *Error {
	return &Error{Kind: KindInvalidHandle, Detail: fmt.Sprintf("handle %d: %s", h, reason)}
}

// OutOfBounds reports a memory access past the current memory size.
func OutOfBounds(offset, length uint64, size uint32) *Error {
	return &Error{
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("offset %d length %d exceeds memory size %d", offset, length, size),
	}
}

// MissingField reports a token field the guest never populated.
func MissingField(field string) *Error {
	return &Error{Kind: KindMissingField, Field: field}
}

// At tags err with the step in flight. Untyped errors become module errors.
func At(step Step, err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Step == StepNone {
			cp := *e
			cp.Step = step
			return &cp
		}
		return e
	}
	return &Error{Kind: KindModule, Step: step, Cause: err}
}

// StepOf returns the step recorded on err, if any.
func StepOf(err error) Step {
	var e *Error
	if errors.As(err, &e) {
		return e.Step
	}
	return StepNone
}

// MissingImportsError lists imports the host catalogue cannot satisfy.
type MissingImportsError struct {
	Imports []string // "namespace#name"
}

func (e *MissingImportsError) Error() string {
	sorted := append([]string(nil), e.Imports...)
	sort.Strings(sorted)
	return fmt.Sprintf("%d unsatisfied imports: %s", len(sorted), strings.Join(sorted, ", "))
}

// MissingImports wraps the list as a module error.
func MissingImports(imports []string) *Error {
	return &Error{Kind: KindModule, Detail: "unsatisfied imports", Cause: &MissingImportsError{Imports: imports}}
}
