package faults

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindNames(t *testing.T) {
	for _, k := range Kinds() {
		if k.String() == "Unknown" {
			t.Errorf("kind %d has no name", k)
		}
		got, ok := DefaultRegistry().Lookup(k.String())
		if !ok || got != k {
			t.Errorf("Lookup(%q) = %v, %v", k.String(), got, ok)
		}
	}
	if Kind(0).String() != "Unknown" {
		t.Errorf("zero kind should be Unknown")
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{New(DeviceFault, "overheat"), "DeviceFault: overheat"},
		{New(ValueError, "x", 3.5), "ValueError: x, 3.5"},
		{New(NotReady), "NotReady"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("stage: %w", New(DeviceFault, "overheat"))

	if !errors.Is(err, DeviceFault) {
		t.Error("expected errors.Is(err, DeviceFault)")
	}
	if errors.Is(err, ValueError) {
		t.Error("DeviceFault must not match ValueError")
	}
	if KindOf(err) != DeviceFault {
		t.Errorf("KindOf = %v", KindOf(err))
	}
}

func TestMarshal(t *testing.T) {
	t.Run("typed", func(t *testing.T) {
		name, args := Marshal(New(DeviceFault, "overheat"))
		if name != "DeviceFault" {
			t.Errorf("name = %q", name)
		}
		if len(args) != 1 || args[0] != "overheat" {
			t.Errorf("args = %v", args)
		}
	})

	t.Run("bare kind", func(t *testing.T) {
		name, args := Marshal(fmt.Errorf("lookup: %w", NoSuchSelector))
		if name != "NoSuchSelector" || len(args) != 0 {
			t.Errorf("got %q %v", name, args)
		}
	})

	t.Run("untyped", func(t *testing.T) {
		name, args := Marshal(errors.New("cable unplugged"))
		if name != "CommunicationError" {
			t.Errorf("name = %q", name)
		}
		if len(args) != 1 || args[0] != "cable unplugged" {
			t.Errorf("args = %v", args)
		}
	})
}

func TestReconstructRoundTrip(t *testing.T) {
	reg := DefaultRegistry()
	name, args := Marshal(New(DeviceFault, "overheat"))

	err := reg.Reconstruct(name, args)
	if !errors.Is(err, DeviceFault) {
		t.Fatalf("reconstructed error %v is not a DeviceFault", err)
	}
	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatal("expected *Error")
	}
	if len(fe.Args) != 1 || fe.Args[0] != "overheat" {
		t.Errorf("args = %v", fe.Args)
	}
}

func TestReconstructUnregistered(t *testing.T) {
	reg := NewRegistry(DeviceFault)

	err := reg.Reconstruct("TEMValueError", []any{"too far"})
	if !errors.Is(err, CommunicationError) {
		t.Fatalf("expected CommunicationError fallback, got %v", err)
	}
	if err.Error() != "CommunicationError: too far" {
		t.Errorf("Error() = %q", err.Error())
	}

	err = reg.Reconstruct("ValueError", nil)
	if !errors.Is(err, CommunicationError) {
		t.Errorf("ValueError is not registered in this registry, got %v", err)
	}
}
