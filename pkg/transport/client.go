package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// ClientConfig configures Dial.
type ClientConfig struct {
	// BufferSize bounds a single reply (default: 1024).
	BufferSize int

	// ConnectTimeout is the dial timeout (default: 10s).
	ConnectTimeout time.Duration
}

// ErrIncomplete is returned by Receive when the reply did not form a complete
// message before the buffer filled.
var ErrIncomplete = errors.New("incomplete message")

// Dial connects to a bridge listener.
func Dial(ctx context.Context, address string, config ClientConfig) (*ClientConn, error) {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBufferSize
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.ConnectTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	return &ClientConn{
		conn: conn,
		size: config.BufferSize,
	}, nil
}

// ClientConn is a client-side bridge connection.
type ClientConn struct {
	conn net.Conn
	size int

	closeOnce sync.Once
	mu        sync.Mutex
}

// LocalAddr returns the local network address.
func (c *ClientConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *ClientConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Send writes one message.
func (c *ClientConn) Send(data []byte) error {
	if len(data) == 0 {
		return ErrChunkEmpty
	}
	if len(data) > c.size {
		return fmt.Errorf("%w: %d > %d", ErrChunkTooLarge, len(data), c.size)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("failed to send: %w", err)
	}
	return nil
}

// Receive reads one reply, waiting up to timeout in total. complete reports
// whether the bytes read so far form a whole message; reading continues
// until it does or the buffer is full.
func (c *ClientConn) Receive(timeout time.Duration, complete func([]byte) bool) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, fmt.Errorf("failed to set read deadline: %w", err)
		}
		defer c.conn.SetReadDeadline(time.Time{})
	}

	buf := make([]byte, c.size)
	n := 0
	for n < len(buf) {
		m, err := c.conn.Read(buf[n:])
		n += m
		if n > 0 && (complete == nil || complete(buf[:n])) {
			return buf[:n], nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to receive: %w", err)
		}
		if m == 0 {
			return nil, fmt.Errorf("failed to receive: %w", net.ErrClosed)
		}
	}
	return nil, fmt.Errorf("%w: %d bytes", ErrIncomplete, n)
}

// Close closes the connection.
func (c *ClientConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
	return isTimeout(err)
}
