package faults

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a class of remote failure. Kind implements error so that
// a kind can be used directly as an errors.Is target.
type Kind uint8

const (
	// CommunicationError is the generic remote failure. It is also used for
	// errors that carry no kind and for unregistered kind names.
	CommunicationError Kind = iota + 1

	// NoSuchSelector indicates the operation or attribute name is unknown.
	NoSuchSelector

	// InvalidArguments indicates the arguments do not fit the selector.
	InvalidArguments

	// InvalidCommand indicates a malformed command (both or neither of
	// func_name and attr_name set).
	InvalidCommand

	// DeviceFault indicates the hardware reported a fault.
	DeviceFault

	// ValueError indicates an out-of-range setpoint.
	ValueError

	// ControllerError indicates the driver failed in an unexpected way,
	// including a recovered panic.
	ControllerError

	// Timeout indicates the hardware did not answer in time.
	Timeout

	// NotReady indicates the device session is not open.
	NotReady

	// SessionTerminated indicates the device session has been closed.
	SessionTerminated
)

var kindNames = map[Kind]string{
	CommunicationError: "CommunicationError",
	NoSuchSelector:     "NoSuchSelector",
	InvalidArguments:   "InvalidArguments",
	InvalidCommand:     "InvalidCommand",
	DeviceFault:        "DeviceFault",
	ValueError:         "ValueError",
	ControllerError:    "ControllerError",
	Timeout:            "Timeout",
	NotReady:           "NotReady",
	SessionTerminated:  "SessionTerminated",
}

// Kinds returns every defined kind in declaration order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(kindNames))
	for k := CommunicationError; k <= SessionTerminated; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// Error implements error.
func (k Kind) Error() string {
	return k.String()
}

// Error is a typed failure with the arguments it was constructed with.
type Error struct {
	Kind Kind
	Args []any
}

// New creates an Error of the given kind.
func New(kind Kind, args ...any) *Error {
	if args == nil {
		args = []any{}
	}
	return &Error{Kind: kind, Args: args}
}

// Newf creates an Error whose single argument is a formatted message.
func Newf(kind Kind, format string, a ...any) *Error {
	return New(kind, fmt.Sprintf(format, a...))
}

// Error returns "Kind: arg1, arg2".
func (e *Error) Error() string {
	if len(e.Args) == 0 {
		return e.Kind.String()
	}
	parts := make([]string, len(e.Args))
	for i, a := range e.Args {
		parts[i] = fmt.Sprint(a)
	}
	return e.Kind.String() + ": " + strings.Join(parts, ", ")
}

// Is reports whether target is this error's Kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// KindOf returns the kind carried by err. Errors without a kind report
// CommunicationError.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return CommunicationError
}

// Marshal converts err into its wire form: the kind name and constructor
// arguments. An error without a kind is reported as CommunicationError with
// its message as the only argument.
func Marshal(err error) (string, []any) {
	var fe *Error
	if errors.As(err, &fe) {
		args := fe.Args
		if args == nil {
			args = []any{}
		}
		return fe.Kind.String(), args
	}
	var k Kind
	if errors.As(err, &k) {
		return k.String(), []any{}
	}
	return CommunicationError.String(), []any{err.Error()}
}
