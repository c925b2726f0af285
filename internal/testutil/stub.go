// Package testutil provides a stub instrument and helpers for bridge tests.
package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tembridge/tembridge-go/pkg/faults"
	"github.com/tembridge/tembridge-go/pkg/session"
)

// StubDriver is an in-memory instrument with these selectors:
//
//	echo(x)      returns x
//	boom()       fails with DeviceFault("overheat")
//	counter()    returns the number of times it has been called
//	slow(ms)     sleeps for ms milliseconds, then returns ms
//	panic()      panics
//	name         attribute, always "stub"
//	calls        attribute, total operations executed
//
// It records the highest number of operations seen running at once.
type StubDriver struct {
	counter   atomic.Int64
	calls     atomic.Int64
	active    atomic.Int32
	maxActive atomic.Int32
	closed    atomic.Bool
}

// NewStubDriver creates a StubDriver.
func NewStubDriver() *StubDriver {
	return &StubDriver{}
}

// Name returns "stub".
func (d *StubDriver) Name() string { return "stub" }

// Register adds the stub selectors.
func (d *StubDriver) Register(r *session.Registry) error {
	ops := map[string]session.OperationFunc{
		"echo":    d.track(d.echo),
		"boom":    d.track(d.boom),
		"counter": d.track(d.count),
		"slow":    d.track(d.slow),
		"panic":   d.track(d.explode),
	}
	for name, fn := range ops {
		if err := r.Operation(name, fn); err != nil {
			return err
		}
	}
	if err := r.Value("name", "stub"); err != nil {
		return err
	}
	if err := r.Attribute("calls", func(context.Context) (any, error) {
		return d.calls.Load(), nil
	}); err != nil {
		return err
	}
	return nil
}

// Close marks the driver closed.
func (d *StubDriver) Close() error {
	d.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (d *StubDriver) Closed() bool { return d.closed.Load() }

// MaxActive returns the highest number of concurrently running operations.
func (d *StubDriver) MaxActive() int { return int(d.maxActive.Load()) }

// Calls returns the number of operations executed.
func (d *StubDriver) Calls() int64 { return d.calls.Load() }

func (d *StubDriver) track(fn session.OperationFunc) session.OperationFunc {
	return func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		n := d.active.Add(1)
		defer d.active.Add(-1)
		for {
			m := d.maxActive.Load()
			if n <= m || d.maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		d.calls.Add(1)
		return fn(ctx, args, kwargs)
	}
}

func (d *StubDriver) echo(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	p, err := session.Bind(args, kwargs, "x")
	if err != nil {
		return nil, err
	}
	v, _ := p.Value("x")
	return v, nil
}

func (d *StubDriver) boom(context.Context, []any, map[string]any) (any, error) {
	return nil, faults.New(faults.DeviceFault, "overheat")
}

func (d *StubDriver) count(context.Context, []any, map[string]any) (any, error) {
	return d.counter.Add(1), nil
}

func (d *StubDriver) slow(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	p, err := session.Bind(args, kwargs, "ms")
	if err != nil {
		return nil, err
	}
	ms, err := p.Int("ms", 50)
	if err != nil {
		return nil, err
	}
	time.Sleep(time.Duration(ms) * time.Millisecond)
	return ms, nil
}

func (d *StubDriver) explode(context.Context, []any, map[string]any) (any, error) {
	panic("stub driver panic")
}

// Opener returns an opener that always yields drv.
func Opener(drv session.Driver) session.Opener {
	return func(context.Context) (session.Driver, error) {
		return drv, nil
	}
}

// ErrOpenFailed is returned by FlakyOpener before it succeeds.
var ErrOpenFailed = errors.New("instrument not responding")

// FlakyOpener fails the first failures calls, then yields drv.
type FlakyOpener struct {
	mu       sync.Mutex
	failures int
	attempts int
	drv      session.Driver
}

// NewFlakyOpener creates a FlakyOpener.
func NewFlakyOpener(failures int, drv session.Driver) *FlakyOpener {
	return &FlakyOpener{failures: failures, drv: drv}
}

// Open implements session.Opener.
func (f *FlakyOpener) Open(context.Context) (session.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= f.failures {
		return nil, ErrOpenFailed
	}
	return f.drv, nil
}

// Attempts returns how many times Open was called.
func (f *FlakyOpener) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}
