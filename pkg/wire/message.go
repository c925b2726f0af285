package wire

import (
	"errors"
	"fmt"
)

// Message errors.
var (
	// ErrClose indicates the peer sent a close sentinel.
	ErrClose = errors.New("close requested")

	// ErrInvalidCommand indicates a well-formed message that is not a valid
	// command. The connection stays usable.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrMalformed indicates bytes that could not be decoded at all.
	ErrMalformed = errors.New("malformed message")

	// ErrUnknownStatus indicates a response with a status other than 200/500.
	ErrUnknownStatus = errors.New("unknown status code")
)

// Sentinel is a reserved request payload that closes the connection.
type Sentinel string

const (
	// SentinelExit closes the connection.
	SentinelExit Sentinel = "exit"

	// SentinelKill closes the connection. It is accepted for compatibility
	// and behaves like SentinelExit.
	SentinelKill Sentinel = "kill"
)

// CloseError is returned when a request is a close sentinel. It matches
// ErrClose with errors.Is.
type CloseError struct {
	Sentinel Sentinel
}

func (e *CloseError) Error() string {
	return ErrClose.Error() + ": " + string(e.Sentinel)
}

func (e *CloseError) Unwrap() error {
	return ErrClose
}

// IsSentinel reports whether s is a reserved close payload.
func IsSentinel(s string) bool {
	return s == string(SentinelExit) || s == string(SentinelKill)
}

// CommandKind distinguishes operation calls from attribute reads.
type CommandKind uint8

const (
	// KindInvoke calls a named operation.
	KindInvoke CommandKind = 1

	// KindReadAttribute reads a named attribute.
	KindReadAttribute CommandKind = 2
)

// String returns the kind name.
func (k CommandKind) String() string {
	switch k {
	case KindInvoke:
		return "invoke"
	case KindReadAttribute:
		return "read"
	default:
		return "unknown"
	}
}

// Command is a decoded remote invocation.
type Command struct {
	Selector string
	Kind     CommandKind
	Args     []any
	Kwargs   map[string]any
}

// NewInvoke creates a command that calls the operation selector.
func NewInvoke(selector string, args []any, kwargs map[string]any) *Command {
	return &Command{Selector: selector, Kind: KindInvoke, Args: args, Kwargs: kwargs}
}

// NewRead creates a command that reads the attribute selector.
func NewRead(selector string) *Command {
	return &Command{Selector: selector, Kind: KindReadAttribute}
}

// Validate checks the selector and kind.
func (c *Command) Validate() error {
	if c.Selector == "" {
		return fmt.Errorf("%w: empty selector", ErrInvalidCommand)
	}
	if c.Kind != KindInvoke && c.Kind != KindReadAttribute {
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidCommand, c.Kind)
	}
	return nil
}

// commandWire is the map form of a command.
type commandWire struct {
	FuncName string         `cbor:"func_name,omitempty" json:"func_name,omitempty"`
	AttrName string         `cbor:"attr_name,omitempty" json:"attr_name,omitempty"`
	Args     []any          `cbor:"args,omitempty" json:"args,omitempty"`
	Kwargs   map[string]any `cbor:"kwargs,omitempty" json:"kwargs,omitempty"`
}

func (w *commandWire) command() (*Command, error) {
	switch {
	case w.FuncName != "" && w.AttrName != "":
		return nil, fmt.Errorf("%w: func_name and attr_name are mutually exclusive", ErrInvalidCommand)
	case w.FuncName == "" && w.AttrName == "":
		return nil, fmt.Errorf("%w: one of func_name or attr_name is required", ErrInvalidCommand)
	}

	cmd := &Command{Args: w.Args, Kwargs: w.Kwargs}
	if w.FuncName != "" {
		cmd.Selector, cmd.Kind = w.FuncName, KindInvoke
	} else {
		cmd.Selector, cmd.Kind = w.AttrName, KindReadAttribute
	}
	if cmd.Args == nil {
		cmd.Args = []any{}
	}
	if cmd.Kwargs == nil {
		cmd.Kwargs = map[string]any{}
	}
	return cmd, nil
}

func wireCommand(c *Command) (*commandWire, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	w := &commandWire{Args: c.Args, Kwargs: c.Kwargs}
	if c.Kind == KindInvoke {
		w.FuncName = c.Selector
	} else {
		w.AttrName = c.Selector
	}
	return w, nil
}

// ErrorInfo is the wire form of a failure: an error kind name and the
// arguments the error was constructed with.
type ErrorInfo struct {
	Kind string
	Args []any
}

// Result is the outcome of one command.
type Result struct {
	Status Status

	// Value is the return value (Status 200).
	Value any

	// Fault describes the failure (Status 500).
	Fault *ErrorInfo
}

// Success creates a 200 result.
func Success(v any) *Result {
	return &Result{Status: StatusOK, Value: v}
}

// Failure creates a 500 result.
func Failure(kind string, args []any) *Result {
	if args == nil {
		args = []any{}
	}
	return &Result{Status: StatusError, Fault: &ErrorInfo{Kind: kind, Args: args}}
}

// IsSuccess returns true for a 200 result.
func (r *Result) IsSuccess() bool {
	return r.Status.IsSuccess()
}
