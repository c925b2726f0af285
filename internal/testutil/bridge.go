package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/tembridge/tembridge-go/pkg/dispatch"
	"github.com/tembridge/tembridge-go/pkg/transport"
	"github.com/tembridge/tembridge-go/pkg/wire"
)

// Bridge is a dispatch loop and listener running on 127.0.0.1.
type Bridge struct {
	Loop     *dispatch.Loop
	Listener *transport.Listener
	Driver   *StubDriver

	cancel context.CancelFunc
	runErr chan error
}

// Addr returns the listener address.
func (b *Bridge) Addr() string {
	return b.Listener.Addr().String()
}

// Shutdown cancels the bridge and waits for the loop and listener to exit.
func (b *Bridge) Shutdown(t *testing.T) {
	t.Helper()
	b.cancel()
	select {
	case <-b.Listener.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
	select {
	case err := <-b.runErr:
		if err != nil {
			t.Errorf("dispatch loop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch loop did not stop")
	}
}

// StartBridge runs a stub-driver bridge with the given codec until the test
// ends.
func StartBridge(t *testing.T, codec wire.Codec) *Bridge {
	t.Helper()

	drv := NewStubDriver()
	loop := dispatch.NewLoop(dispatch.Config{Device: "tem", Opener: Opener(drv)})

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- loop.Run(ctx) }()

	select {
	case <-loop.Ready():
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("dispatch loop did not become ready")
	}

	ln, err := transport.NewListener(transport.ListenerConfig{
		Device:       "tem",
		Address:      "127.0.0.1:0",
		PollInterval: 20 * time.Millisecond,
		Codec:        codec,
	}, loop)
	if err != nil {
		cancel()
		t.Fatalf("NewListener failed: %v", err)
	}
	if err := ln.Start(ctx); err != nil {
		cancel()
		t.Fatalf("listener Start failed: %v", err)
	}

	b := &Bridge{Loop: loop, Listener: ln, Driver: drv, cancel: cancel, runErr: runErr}
	t.Cleanup(func() {
		cancel()
		<-ln.Done()
	})
	return b
}
