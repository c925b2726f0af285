// Package client is the remote side of the bridge: a handle whose calls
// are forwarded to a device server and whose failures come back as
// *faults.Error values of the same kind.
//
//	c, err := client.Dial(ctx, "localhost:8088", client.Config{})
//	pos, err := c.Call(ctx, "getStagePosition")
//	_, err = c.Call(ctx, "setStagePosition", client.Kwargs{"x": 0, "wait": true})
//	if errors.Is(err, faults.ValueError) { ... }
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tembridge/tembridge-go/pkg/faults"
	"github.com/tembridge/tembridge-go/pkg/transport"
	"github.com/tembridge/tembridge-go/pkg/wire"
)

// ErrClosed is returned by calls on a closed client.
var ErrClosed = errors.New("client closed")

// Kwargs are keyword arguments. Pass a Kwargs value as the last argument to
// Call.
type Kwargs map[string]any

// Config configures Dial.
type Config struct {
	// Codec must match the server's serializer (default: CBOR).
	Codec wire.Codec

	// BufferSize must match the server's buffer size (default: 1024).
	BufferSize int

	// Timeout bounds each round trip (default: 30s).
	Timeout time.Duration

	// DialAttempts is how many times to try connecting (default: 1).
	DialAttempts int

	// DialInterval is the first delay between dial attempts (default: 250ms).
	DialInterval time.Duration

	// Registry rebuilds remote errors (default: faults.DefaultRegistry()).
	Registry *faults.Registry

	Logger *slog.Logger
}

// Client is a connection to one device server. Calls are serialized.
type Client struct {
	config Config
	conn   transport.ClientConnection
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Dial connects to a device server, retrying with exponential backoff.
func Dial(ctx context.Context, address string, config Config) (*Client, error) {
	if config.Codec == nil {
		config.Codec = wire.CBOR
	}
	if config.BufferSize <= 0 {
		config.BufferSize = transport.DefaultBufferSize
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.DialAttempts <= 0 {
		config.DialAttempts = 1
	}
	if config.DialInterval <= 0 {
		config.DialInterval = 250 * time.Millisecond
	}
	if config.Registry == nil {
		config.Registry = faults.DefaultRegistry()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "client", "address", address)

	b := backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(config.DialInterval),
			backoff.WithMultiplier(2),
			backoff.WithMaxElapsedTime(0),
		),
		uint64(config.DialAttempts-1),
	)

	conn, err := backoff.RetryNotifyWithData(
		func() (*transport.ClientConn, error) {
			return transport.Dial(ctx, address, transport.ClientConfig{BufferSize: config.BufferSize})
		},
		backoff.WithContext(b, ctx),
		func(err error, next time.Duration) {
			logger.Debug("dial failed, retrying", "error", err, "retry_in", next)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", address, err)
	}

	return &Client{config: config, conn: conn, logger: logger}, nil
}

// Call invokes a remote operation. A trailing Kwargs argument is sent as
// keyword arguments.
func (c *Client) Call(ctx context.Context, selector string, args ...any) (any, error) {
	var kwargs map[string]any
	if n := len(args); n > 0 {
		if kw, ok := args[n-1].(Kwargs); ok {
			kwargs = kw
			args = args[:n-1]
		}
	}
	return c.Do(ctx, wire.NewInvoke(selector, args, kwargs))
}

// Get reads a remote attribute.
func (c *Client) Get(ctx context.Context, attr string) (any, error) {
	return c.Do(ctx, wire.NewRead(attr))
}

// Do sends cmd and waits for its result. Remote failures are returned as
// errors rebuilt from the registry.
func (c *Client) Do(ctx context.Context, cmd *wire.Command) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	data, err := c.config.Codec.EncodeCommand(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.Selector, err)
	}
	if err := c.conn.Send(data); err != nil {
		return nil, c.abandon(err)
	}

	timeout := c.config.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	reply, err := c.conn.Receive(timeout, c.config.Codec.Complete)
	if err != nil {
		return nil, c.abandon(err)
	}

	res, err := c.config.Codec.DecodeResult(reply)
	if err != nil {
		if errors.Is(err, wire.ErrUnknownStatus) {
			return nil, faults.New(faults.CommunicationError, err.Error())
		}
		return nil, c.abandon(err)
	}
	if res.IsSuccess() {
		return res.Value, nil
	}
	c.logger.Debug("remote failure", "selector", cmd.Selector, "kind", res.Fault.Kind, "args", res.Fault.Args)
	return nil, c.config.Registry.Reconstruct(res.Fault.Kind, res.Fault.Args)
}

// abandon closes a connection whose reply stream can no longer be matched
// to requests. A late reply must not answer the next call. c.mu is held.
func (c *Client) abandon(err error) error {
	c.closed = true
	if cerr := c.conn.Close(); cerr != nil {
		c.logger.Debug("close after transport error", "error", cerr)
	}
	c.logger.Warn("connection abandoned", "error", err)
	return err
}

// Close sends the exit sentinel and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if data, err := c.config.Codec.EncodeClose(wire.SentinelExit); err == nil {
		_ = c.conn.Send(data)
	}
	return c.conn.Close()
}
