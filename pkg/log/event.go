package log

import (
	"time"
)

// Event is one captured protocol event. CBOR encoding uses integer keys.
type Event struct {
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the client connection (UUID). Empty for
	// events raised by the dispatch loop outside a connection.
	ConnectionID string `cbor:"2,keyasint,omitempty"`

	Direction Direction `cbor:"3,keyasint"`
	Layer     Layer     `cbor:"4,keyasint"`
	Category  Category  `cbor:"5,keyasint"`

	// Device is the device kind abbreviation ("tem", "cam").
	Device string `cbor:"6,keyasint,omitempty"`

	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// RequestID correlates a command with its result.
	RequestID uint64 `cbor:"8,keyasint,omitempty"`

	// One of these is set.
	Chunk       *ChunkEvent       `cbor:"10,keyasint,omitempty"`
	Command     *CommandEvent     `cbor:"11,keyasint,omitempty"`
	Result      *ResultEvent      `cbor:"12,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"13,keyasint,omitempty"`
	Close       *CloseEvent       `cbor:"14,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"15,keyasint,omitempty"`
}

// Direction indicates message flow relative to the bridge.
type Direction uint8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates where the event was captured.
type Layer uint8

const (
	// LayerTransport is raw chunk bytes.
	LayerTransport Layer = 0
	// LayerWire is decoded commands and sentinels.
	LayerWire Layer = 1
	// LayerDispatch is command execution against the session.
	LayerDispatch Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerDispatch:
		return "DISPATCH"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event.
type Category uint8

const (
	CategoryMessage Category = 0
	CategoryControl Category = 1
	CategoryState   Category = 2
	CategoryError   Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MaxChunkDataSize bounds the bytes kept in a ChunkEvent.
const MaxChunkDataSize = 256

// ChunkEvent captures one chunk read from or written to a connection.
type ChunkEvent struct {
	Size      int    `cbor:"1,keyasint"`
	Data      []byte `cbor:"2,keyasint,omitempty"`
	Truncated bool   `cbor:"3,keyasint,omitempty"`
}

// NewChunkEvent copies up to MaxChunkDataSize bytes of data.
func NewChunkEvent(data []byte) *ChunkEvent {
	ev := &ChunkEvent{Size: len(data)}
	n := len(data)
	if n > MaxChunkDataSize {
		n = MaxChunkDataSize
		ev.Truncated = true
	}
	ev.Data = append([]byte(nil), data[:n]...)
	return ev
}

// CommandEvent captures a decoded command.
type CommandEvent struct {
	Selector string         `cbor:"1,keyasint"`
	Kind     string         `cbor:"2,keyasint"`
	Args     []any          `cbor:"3,keyasint,omitempty"`
	Kwargs   map[string]any `cbor:"4,keyasint,omitempty"`
}

// ResultEvent captures the outcome of a command.
type ResultEvent struct {
	Selector  string `cbor:"1,keyasint"`
	Status    uint16 `cbor:"2,keyasint"`
	Value     any    `cbor:"3,keyasint,omitempty"`
	ErrorKind string `cbor:"4,keyasint,omitempty"`
	ErrorArgs []any  `cbor:"5,keyasint,omitempty"`

	// Elapsed is the execution time in nanoseconds.
	Elapsed time.Duration `cbor:"6,keyasint"`
}

// StateEntity indicates what changed state.
type StateEntity uint8

const (
	StateEntityConnection StateEntity = 0
	StateEntitySession    StateEntity = 1
	StateEntityListener   StateEntity = 2
)

// String returns the entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntitySession:
		return "SESSION"
	case StateEntityListener:
		return "LISTENER"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures a lifecycle transition.
type StateChangeEvent struct {
	Entity   StateEntity `cbor:"1,keyasint"`
	OldState string      `cbor:"2,keyasint,omitempty"`
	NewState string      `cbor:"3,keyasint"`
	Reason   string      `cbor:"4,keyasint,omitempty"`
}

// CloseEvent captures a close sentinel sent by the peer.
type CloseEvent struct {
	Sentinel string `cbor:"1,keyasint"`
}

// ErrorEventData captures an error at any layer.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`
	Context string `cbor:"3,keyasint,omitempty"`
}
