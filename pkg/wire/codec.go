package wire

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Codec converts commands and results to and from bytes.
type Codec interface {
	// Name returns the serializer name ("cbor" or "json").
	Name() string

	// EncodeCommand encodes a command map.
	EncodeCommand(cmd *Command) ([]byte, error)

	// EncodeClose encodes a close sentinel.
	EncodeClose(s Sentinel) ([]byte, error)

	// DecodeCommand decodes a request. It returns a *CloseError for a
	// sentinel, ErrInvalidCommand for a well-formed but invalid
	// command, and ErrMalformed for anything else.
	DecodeCommand(data []byte) (*Command, error)

	// EncodeResult encodes a (status, payload) pair.
	EncodeResult(res *Result) ([]byte, error)

	// DecodeResult decodes a (status, payload) pair.
	DecodeResult(data []byte) (*Result, error)

	// Complete reports whether data holds one whole, well-formed message.
	Complete(data []byte) bool
}

// Serializer names.
const (
	SerializerCBOR = "cbor"
	SerializerJSON = "json"
)

// NewCodec returns the codec for a serializer name. An empty name selects CBOR.
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", SerializerCBOR:
		return CBOR, nil
	case SerializerJSON:
		return JSON, nil
	default:
		return nil, fmt.Errorf("unknown serializer %q", name)
	}
}

var mapStringAnyType = reflect.TypeOf(map[string]any(nil))

// encMode is the CBOR encoder mode for bridge messages.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode for bridge messages.
var decMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	// Maps decode with string keys and integers as int64 so argument
	// binding sees the same types regardless of sign.
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
		DefaultMapType:    mapStringAnyType,
		IntDec:            cbor.IntDecConvertSigned,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// Marshal encodes a value to CBOR bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR bytes into a value.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// CBOR is the default codec.
var CBOR Codec = &codec[cbor.RawMessage]{
	name:      SerializerCBOR,
	marshal:   Marshal,
	unmarshal: Unmarshal,
	complete: func(data []byte) bool {
		return decMode.Wellformed(data) == nil
	},
}

// codec implements Codec over any self-describing format whose raw message
// type is a byte slice.
type codec[R ~[]byte] struct {
	name      string
	marshal   func(any) ([]byte, error)
	unmarshal func([]byte, any) error
	complete  func([]byte) bool
}

func (c *codec[R]) Name() string { return c.name }

func (c *codec[R]) Complete(data []byte) bool { return len(data) > 0 && c.complete(data) }

func (c *codec[R]) EncodeCommand(cmd *Command) ([]byte, error) {
	w, err := wireCommand(cmd)
	if err != nil {
		return nil, err
	}
	return c.marshal(w)
}

func (c *codec[R]) EncodeClose(s Sentinel) ([]byte, error) {
	if !IsSentinel(string(s)) {
		return nil, fmt.Errorf("not a close sentinel: %q", s)
	}
	return c.marshal(string(s))
}

func (c *codec[R]) DecodeCommand(data []byte) (*Command, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrMalformed)
	}

	var s string
	if err := c.unmarshal(data, &s); err == nil {
		if IsSentinel(s) {
			return nil, &CloseError{Sentinel: Sentinel(s)}
		}
		return nil, fmt.Errorf("%w: unexpected string %q", ErrInvalidCommand, s)
	}

	var w commandWire
	if err := c.unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: failed to decode command: %v", ErrMalformed, err)
	}
	return w.command()
}

func (c *codec[R]) EncodeResult(res *Result) ([]byte, error) {
	switch res.Status {
	case StatusOK:
		return c.marshal([]any{uint16(res.Status), res.Value})
	case StatusError:
		if res.Fault == nil {
			return nil, fmt.Errorf("failure result without error info")
		}
		args := res.Fault.Args
		if args == nil {
			args = []any{}
		}
		return c.marshal([]any{uint16(res.Status), []any{res.Fault.Kind, args}})
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownStatus, res.Status)
	}
}

func (c *codec[R]) DecodeResult(data []byte) (*Result, error) {
	var pair []R
	if err := c.unmarshal(data, &pair); err != nil {
		return nil, fmt.Errorf("%w: failed to decode result: %v", ErrMalformed, err)
	}
	if len(pair) != 2 {
		return nil, fmt.Errorf("%w: result has %d elements, want 2", ErrMalformed, len(pair))
	}

	var status Status
	if err := c.unmarshal(pair[0], &status); err != nil {
		return nil, fmt.Errorf("%w: failed to decode status: %v", ErrMalformed, err)
	}

	switch status {
	case StatusOK:
		var v any
		if err := c.unmarshal(pair[1], &v); err != nil {
			return nil, fmt.Errorf("%w: failed to decode payload: %v", ErrMalformed, err)
		}
		return Success(v), nil

	case StatusError:
		var info []R
		if err := c.unmarshal(pair[1], &info); err != nil || len(info) != 2 {
			return nil, fmt.Errorf("%w: failure payload is not an (error, args) pair", ErrMalformed)
		}
		var kind string
		if err := c.unmarshal(info[0], &kind); err != nil {
			return nil, fmt.Errorf("%w: failed to decode error kind: %v", ErrMalformed, err)
		}
		var args []any
		if err := c.unmarshal(info[1], &args); err != nil {
			return nil, fmt.Errorf("%w: failed to decode error args: %v", ErrMalformed, err)
		}
		return Failure(kind, args), nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownStatus, status)
	}
}
