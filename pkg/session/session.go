package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/tembridge/tembridge-go/pkg/faults"
)

// Lifecycle errors. They are fault kinds so they marshal across the wire.
var (
	ErrNotReady   error = faults.NotReady
	ErrTerminated error = faults.SessionTerminated
)

// ErrAlreadyOpen is returned when Open is called on a Ready session.
var ErrAlreadyOpen = errors.New("session already open")

// State is the lifecycle state of a session.
type State uint8

const (
	StateUninitialized State = iota
	StateReady
	StateTerminated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateReady:
		return "READY"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// Driver is an instrument implementation.
type Driver interface {
	// Name returns the instrument name.
	Name() string

	// Register adds the driver's operations and attributes to r.
	Register(r *Registry) error

	// Close releases the instrument.
	Close() error
}

// Opener connects to an instrument. It may be called more than once if an
// earlier attempt failed.
type Opener func(ctx context.Context) (Driver, error)

// Session is a handle over one driver.
type Session struct {
	opener   Opener
	driver   Driver
	registry *Registry
	state    State
}

// New creates an uninitialized session. The driver is not opened until Open.
func New(opener Opener) *Session {
	return &Session{opener: opener}
}

// Open opens the driver and registers its selectors. A failed Open leaves
// the session uninitialized so it can be retried.
func (s *Session) Open(ctx context.Context) error {
	switch s.state {
	case StateReady:
		return ErrAlreadyOpen
	case StateTerminated:
		return ErrTerminated
	}
	if s.opener == nil {
		return errors.New("session has no opener")
	}

	drv, err := s.opener(ctx)
	if err != nil {
		return fmt.Errorf("open driver: %w", err)
	}
	if drv == nil {
		return errors.New("open driver: opener returned nil driver")
	}

	reg := NewRegistry()
	if err := drv.Register(reg); err != nil {
		_ = drv.Close()
		return fmt.Errorf("register %s: %w", drv.Name(), err)
	}

	s.driver = drv
	s.registry = reg
	s.state = StateReady
	return nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Name returns the driver name, or "" before the session is open.
func (s *Session) Name() string {
	if s.driver == nil {
		return ""
	}
	return s.driver.Name()
}

// Registry returns the selector registry, or nil before the session is open.
func (s *Session) Registry() *Registry {
	return s.registry
}

// Invoke calls the named operation. Errors from the driver are returned
// unchanged.
func (s *Session) Invoke(ctx context.Context, selector string, args []any, kwargs map[string]any) (any, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	fn, ok := s.registry.operation(selector)
	if !ok {
		return nil, faults.New(faults.NoSuchSelector, selector)
	}
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return fn(ctx, args, kwargs)
}

// ReadAttribute returns the value of the named attribute.
func (s *Session) ReadAttribute(ctx context.Context, selector string) (any, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	fn, ok := s.registry.attribute(selector)
	if !ok {
		return nil, faults.New(faults.NoSuchSelector, selector)
	}
	return fn(ctx)
}

// Close terminates the session and closes the driver. It is safe to call
// more than once; a terminated session cannot be reopened.
func (s *Session) Close() error {
	if s.state == StateTerminated {
		return nil
	}
	s.state = StateTerminated
	if s.driver == nil {
		return nil
	}
	if err := s.driver.Close(); err != nil {
		return fmt.Errorf("close %s: %w", s.driver.Name(), err)
	}
	return nil
}

func (s *Session) usable() error {
	switch s.state {
	case StateReady:
		return nil
	case StateTerminated:
		return ErrTerminated
	default:
		return ErrNotReady
	}
}
