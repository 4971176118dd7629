package llama

import (
	"fmt"
	"strings"
)

// Kind classifies a failure by what the caller can do about it.
type Kind int

const (
	KindLoad Kind = iota + 1
	KindContext
	KindArgument
	KindCapacity
	KindDecode
	KindHandle
)

func (k Kind) String() string {
	switch k {
	case KindLoad:
		return "LoadError"
	case KindContext:
		return "ContextError"
	case KindArgument:
		return "ArgumentError"
	case KindCapacity:
		return "CapacityError"
	case KindDecode:
		return "DecodeError"
	case KindHandle:
		return "HandleError"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is returned by every operation in this package. Use errors.Is with
// the Err* sentinels to test the kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

var (
	ErrLoad     = &Error{Kind: KindLoad}
	ErrContext  = &Error{Kind: KindContext}
	ErrArgument = &Error{Kind: KindArgument}
	ErrCapacity = &Error{Kind: KindCapacity}
	ErrDecode   = &Error{Kind: KindDecode}
	ErrHandle   = &Error{Kind: KindHandle}
)

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString("llama: ")
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Kind.String())
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func errorf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// capacityError reports that need positions do not fit in the window.
func capacityError(op string, need, window int) *Error {
	return errorf(KindCapacity, op,
		"required KV cache size exceeds configured context window (need %d, window %d)", need, window)
}

// GenerateError is returned when a generation fails after it started. The
// generated text is never returned to the caller on failure; Partial and
// Generated are kept for diagnostics only.
type GenerateError struct {
	Err       error
	Partial   string
	Generated int
}

func (e *GenerateError) Error() string {
	return fmt.Sprintf("%v (after %d generated tokens)", e.Err, e.Generated)
}

func (e *GenerateError) Unwrap() error { return e.Err }
