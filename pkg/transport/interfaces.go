package transport

import (
	"context"
	"net"
	"time"
)

// ClientConnection is the client side of a bridge connection.
// Implemented by ClientConn.
type ClientConnection interface {
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	Send(data []byte) error
	Receive(timeout time.Duration, complete func([]byte) bool) ([]byte, error)
	Close() error
}

// DeviceListener accepts connections for one device kind.
// Implemented by Listener.
type DeviceListener interface {
	Start(ctx context.Context) error
	Stop()
	Done() <-chan struct{}
	Addr() net.Addr
	ConnectionCount() int
}

// Compile-time interface satisfaction checks.
var (
	_ ClientConnection = (*ClientConn)(nil)
	_ DeviceListener   = (*Listener)(nil)
)
