// Package errors provides kind-tagged errors for classifying pipeline failures
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Failure kinds raised by the streaming pipeline
const (
	KindUnknown    = "unknown"
	KindValidation = "validation"
	KindMonitor    = "monitor"
	KindCache      = "cache"
	KindCaseLookup = "case_lookup"
	KindDetector   = "detector"
	KindConfig     = "config"
)

var (
	Validation = NewWithKind(KindValidation)
	Monitor    = NewWithKind(KindMonitor)
	Cache      = NewWithKind(KindCache)
	CaseLookup = NewWithKind(KindCaseLookup)
	Detector   = NewWithKind(KindDetector)
	Config     = NewWithKind(KindConfig)
)

// Error is a custom error type for passing more information
type Error struct {
	// Kind is the failure class
	Kind string `json:"kind"`
	// Message is the human readable string that indicate the error
	Message string `json:"message"`

	trace []byte
	cause error
}

var _ error = (*Error)(nil)

func New(message string) *Error {
	return &Error{Kind: KindUnknown, Message: message}
}

func NewWithKind(kind string) *Error {
	return &Error{Kind: kind}
}

// Error implements error
func (e *Error) Error() string {
	str := fmt.Sprintf("[%s]", e.Kind)
	if e.Message != "" {
		str += " " + e.Message
	}
	if e.cause != nil {
		str += fmt.Sprintf(": %s", e.cause)
	}
	if len(e.trace) > 0 {
		str = str + fmt.Sprintf("\n\nTrace: %s", string(e.trace))
	}
	return str
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Wrap returns a copy of the error with the given cause
func (e *Error) Wrap(cause error) *Error {
	err := *e
	err.cause = cause
	return &err
}

// Explain makes a copy of the error with given message
func (e *Error) Explain(message string, args ...any) *Error {
	err := *e
	err.Message = fmt.Sprintf(message, args...)
	return &err
}

// Trace sets the error stack trace
func (e *Error) Trace() *Error {
	stack := make([]byte, 2048)
	n := runtime.Stack(stack, false)
	e.trace = stack[:n]
	return e
}

// Is implements the needed interface for errors.Is
// It checks kind for equality
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if other, ok := target.(*Error); ok {
		return other.Kind == e.Kind
	}
	return false
}

// KindOf returns the kind of the first *Error in the chain
func KindOf(err error) string {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
