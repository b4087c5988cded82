// Package errors provides the error kinds shared by every optbench component.
package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
)

// Kind classifies an error independently of the component that raised it.
type Kind int

const (
	// Unknown is the zero Kind, used for errors that did not originate here.
	Unknown Kind = iota
	// ParseError reports malformed formulation or DOE text.
	ParseError
	// UnresolvedReference reports a name that is not declared anywhere.
	UnresolvedReference
	// CycleDetected reports a cycle in the function dependency graph.
	CycleDetected
	// DimensionMismatch reports incompatible matrix or vector sizes.
	DimensionMismatch
	// Singular reports a linear system that cannot be solved.
	Singular
	// NumericFailure reports overflow, NaN or a domain error during evaluation.
	NumericFailure
	// NoSolution reports that every multistart attempt failed.
	NoSolution
	// NotEnoughObjectives reports a multi-objective driver run with fewer than two objectives.
	NotEnoughObjectives
	// TooManyObjectives reports a single-objective driver run with more than one objective.
	TooManyObjectives
	// UnsupportedDesign reports a Taguchi (levels, variables) pair with no tabulated array.
	UnsupportedDesign
	// Cancelled reports a job terminated on request.
	Cancelled
	// InvalidArgument reports settings or arguments that fail validation.
	InvalidArgument
	// WorkerFailure reports a worker process that crashed or produced no result.
	WorkerFailure
)

var kindNames = map[Kind]string{
	Unknown:             "Unknown",
	ParseError:          "ParseError",
	UnresolvedReference: "UnresolvedReference",
	CycleDetected:       "CycleDetected",
	DimensionMismatch:   "DimensionMismatch",
	Singular:            "Singular",
	NumericFailure:      "NumericFailure",
	NoSolution:          "NoSolution",
	NotEnoughObjectives: "NotEnoughObjectives",
	TooManyObjectives:   "TooManyObjectives",
	UnsupportedDesign:   "UnsupportedDesign",
	Cancelled:           "Cancelled",
	InvalidArgument:     "InvalidArgument",
	WorkerFailure:       "WorkerFailure",
}

// String returns the name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a kind name back to its Kind. Unknown names map to Unknown.
func ParseKind(name string) Kind {
	for k, n := range kindNames {
		if n == name {
			return k
		}
	}
	return Unknown
}

// MarshalText implements encoding.TextMarshaler so kinds travel by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	*k = ParseKind(string(text))
	return nil
}

// Error represents an error with a kind, context and stack trace.
type Error struct {
	// The classification of the error
	Kind Kind
	// The underlying error that was returned
	Err error
	// A human-readable message describing the error
	Message string
	// The operation that was being performed when the error occurred
	Operation string
	// The component or package where the error occurred
	Component string
	// The stack trace
	Stack []string
}

// Error implements the error interface. The result is always a single line.
func (e *Error) Error() string {
	var builder strings.Builder

	if e.Kind != Unknown {
		builder.WriteString(e.Kind.String())
	}

	if e.Message != "" {
		if builder.Len() > 0 {
			builder.WriteString(": ")
		}
		builder.WriteString(e.Message)
	}

	if e.Operation != "" {
		if builder.Len() > 0 {
			builder.WriteString(": ")
		}
		builder.WriteString("operation=")
		builder.WriteString(e.Operation)
	}

	if e.Component != "" {
		if builder.Len() > 0 {
			builder.WriteString(", ")
		}
		builder.WriteString("component=")
		builder.WriteString(e.Component)
	}

	if e.Err != nil {
		if builder.Len() > 0 {
			builder.WriteString(": ")
		}
		builder.WriteString(e.Err.Error())
	}

	return strings.ReplaceAll(builder.String(), "\n", " ")
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so sentinel-style comparisons
// such as errors.Is(err, &Error{Kind: NoSolution}) work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind != Unknown && t.Kind == e.Kind && t.Message == ""
}

// WithMessage adds a message to the error.
func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

// WithOperation adds an operation to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// WithComponent adds a component to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// StackTrace returns the stack trace as a slice of strings.
func (e *Error) StackTrace() []string {
	return e.Stack
}

// New creates a new error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{
		Kind:    kind,
		Message: msg,
		Stack:   getStackTrace(),
	}
}

// Errorf creates a new error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Stack:   getStackTrace(),
	}
}

// Wrap wraps an error with a kind and additional context. An error that is
// already an *Error keeps its own kind unless it was Unknown.
func Wrap(err error, kind Kind, msg string) *Error {
	if err == nil {
		return nil
	}

	var inner *Error
	if stderrors.As(err, &inner) && inner.Kind != Unknown {
		kind = inner.Kind
	}

	return &Error{
		Kind:    kind,
		Err:     err,
		Message: msg,
		Stack:   getStackTrace(),
	}
}

// Wrapf wraps an error with a kind and a formatted message.
func Wrapf(err error, kind Kind, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, kind, fmt.Sprintf(format, args...))
}

// KindOf returns the kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf returns the single-line message of err without the kind prefix.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		msg := e.Message
		if e.Err != nil {
			if msg != "" {
				msg += ": "
			}
			msg += e.Err.Error()
		}
		return strings.ReplaceAll(msg, "\n", " ")
	}
	return strings.ReplaceAll(err.Error(), "\n", " ")
}

// getStackTrace returns the current stack trace as a slice of strings.
func getStackTrace() []string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:]) // Skip runtime.Callers, getStackTrace, and the constructor
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	stack := make([]string, 0, n)

	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") && !strings.Contains(frame.File, "internal/errors") {
			stack = append(stack, fmt.Sprintf("%s\n\t%s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}

	return stack
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err, if err's
// type contains an Unwrap method returning error.
// Otherwise, Unwrap returns nil.
func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}
