package session_test

import (
	"context"
	"errors"
	"testing"

	"github.com/tembridge/tembridge-go/pkg/faults"
	"github.com/tembridge/tembridge-go/pkg/session"
)

type fakeDriver struct {
	closed  int
	failReg bool
}

func (d *fakeDriver) Name() string { return "fake" }

func (d *fakeDriver) Register(r *session.Registry) error {
	if d.failReg {
		return r.Operation("", nil)
	}
	if err := r.Operation("echo", func(_ context.Context, args []any, _ map[string]any) (any, error) {
		return args[0], nil
	}); err != nil {
		return err
	}
	if err := r.Operation("boom", func(context.Context, []any, map[string]any) (any, error) {
		return nil, faults.New(faults.DeviceFault, "overheat")
	}); err != nil {
		return err
	}
	return r.Value("name", "fake")
}

func (d *fakeDriver) Close() error {
	d.closed++
	return nil
}

func openSession(t *testing.T, drv *fakeDriver) *session.Session {
	t.Helper()
	s := session.New(func(context.Context) (session.Driver, error) { return drv, nil })
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s
}

func TestSessionLifecycle(t *testing.T) {
	drv := &fakeDriver{}
	s := session.New(func(context.Context) (session.Driver, error) { return drv, nil })

	if s.State() != session.StateUninitialized {
		t.Fatalf("initial state: got %v", s.State())
	}
	if _, err := s.Invoke(context.Background(), "echo", []any{1}, nil); !errors.Is(err, session.ErrNotReady) {
		t.Errorf("Invoke before Open: expected ErrNotReady, got %v", err)
	}

	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if s.State() != session.StateReady {
		t.Fatalf("state after Open: got %v", s.State())
	}
	if s.Name() != "fake" {
		t.Errorf("Name: got %q", s.Name())
	}
	if err := s.Open(context.Background()); !errors.Is(err, session.ErrAlreadyOpen) {
		t.Errorf("second Open: expected ErrAlreadyOpen, got %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if drv.closed != 1 {
		t.Errorf("driver closed %d times, want 1", drv.closed)
	}
	if _, err := s.ReadAttribute(context.Background(), "name"); !errors.Is(err, session.ErrTerminated) {
		t.Errorf("read after Close: expected ErrTerminated, got %v", err)
	}
	if err := s.Open(context.Background()); !errors.Is(err, session.ErrTerminated) {
		t.Errorf("Open after Close: expected ErrTerminated, got %v", err)
	}
}

func TestSessionOpenRetry(t *testing.T) {
	attempts := 0
	s := session.New(func(context.Context) (session.Driver, error) {
		attempts++
		if attempts < 2 {
			return nil, errors.New("port busy")
		}
		return &fakeDriver{}, nil
	})

	if err := s.Open(context.Background()); err == nil {
		t.Fatal("expected first Open to fail")
	}
	if s.State() != session.StateUninitialized {
		t.Fatalf("failed Open changed state to %v", s.State())
	}
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
}

func TestSessionOpenRegistrationFailure(t *testing.T) {
	drv := &fakeDriver{failReg: true}
	s := session.New(func(context.Context) (session.Driver, error) { return drv, nil })

	err := s.Open(context.Background())
	if !errors.Is(err, session.ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
	if drv.closed != 1 {
		t.Errorf("driver should be closed after failed registration")
	}
}

func TestSessionInvoke(t *testing.T) {
	s := openSession(t, &fakeDriver{})
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		v, err := s.Invoke(ctx, "echo", []any{42}, nil)
		if err != nil {
			t.Fatalf("Invoke failed: %v", err)
		}
		if v != 42 {
			t.Errorf("got %v, want 42", v)
		}
	})

	t.Run("unknown selector", func(t *testing.T) {
		_, err := s.Invoke(ctx, "warp", nil, nil)
		if !errors.Is(err, faults.NoSuchSelector) {
			t.Fatalf("expected NoSuchSelector, got %v", err)
		}
	})

	t.Run("attribute is not an operation", func(t *testing.T) {
		_, err := s.Invoke(ctx, "name", nil, nil)
		if !errors.Is(err, faults.NoSuchSelector) {
			t.Fatalf("expected NoSuchSelector, got %v", err)
		}
	})

	t.Run("driver error passes through", func(t *testing.T) {
		_, err := s.Invoke(ctx, "boom", nil, nil)
		var fe *faults.Error
		if !errors.As(err, &fe) {
			t.Fatalf("expected *faults.Error, got %T", err)
		}
		if fe.Kind != faults.DeviceFault || fe.Args[0] != "overheat" {
			t.Errorf("got %v", fe)
		}
	})
}

func TestSessionReadAttribute(t *testing.T) {
	s := openSession(t, &fakeDriver{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v, err := s.ReadAttribute(ctx, "name")
		if err != nil {
			t.Fatalf("ReadAttribute failed: %v", err)
		}
		if v != "fake" {
			t.Errorf("read %d: got %v", i, v)
		}
	}

	if _, err := s.ReadAttribute(ctx, "echo"); !errors.Is(err, faults.NoSuchSelector) {
		t.Errorf("operation read as attribute: expected NoSuchSelector, got %v", err)
	}
}

func TestRegistryValidation(t *testing.T) {
	r := session.NewRegistry()
	noop := func(context.Context, []any, map[string]any) (any, error) { return nil, nil }

	if err := r.Operation("", noop); !errors.Is(err, session.ErrEmptyName) {
		t.Errorf("empty name: got %v", err)
	}
	if err := r.Operation("x", nil); !errors.Is(err, session.ErrNilHandler) {
		t.Errorf("nil handler: got %v", err)
	}
	if err := r.Attribute("y", nil); !errors.Is(err, session.ErrNilHandler) {
		t.Errorf("nil attribute: got %v", err)
	}
	if err := r.Operation("x", noop); err != nil {
		t.Fatalf("Operation failed: %v", err)
	}
	if err := r.Value("x", 1); !errors.Is(err, session.ErrDuplicateSelector) {
		t.Errorf("duplicate across kinds: got %v", err)
	}
	if err := r.Value("b", 1); err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	if err := r.Value("a", 1); err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	if got := r.Operations(); len(got) != 1 || got[0] != "x" {
		t.Errorf("Operations: got %v", got)
	}
	if got := r.Attributes(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Attributes: got %v", got)
	}
}
