package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tembridge/tembridge-go/pkg/log"
	"github.com/tembridge/tembridge-go/pkg/wire"
)

// Submitter executes a command and returns its result. It is implemented by
// dispatch.Loop.
type Submitter interface {
	Submit(ctx context.Context, connID string, cmd *wire.Command) (*wire.Result, error)
}

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	// Device is the device kind abbreviation, e.g. "tem".
	Device string

	// Address to listen on, e.g. "localhost:8088".
	Address string

	// BufferSize is the chunk size (default: 1024).
	BufferSize int

	// PollInterval bounds accept and read waits (default: 500ms).
	PollInterval time.Duration

	// Codec encodes results and decodes commands (default: CBOR).
	Codec wire.Codec

	Logger         *slog.Logger
	ProtocolLogger log.Logger

	// OnConnect is called when a connection is accepted.
	OnConnect func(conn *Conn)

	// OnDisconnect is called when a connection is closed.
	OnDisconnect func(conn *Conn)
}

// Listener accepts client connections for one device kind.
type Listener struct {
	config    ListenerConfig
	submitter Submitter
	logger    *slog.Logger
	listener  *net.TCPListener

	conns   map[*Conn]struct{}
	connsMu sync.RWMutex

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}
}

// NewListener creates a listener that submits commands to sub.
func NewListener(config ListenerConfig, sub Submitter) (*Listener, error) {
	if sub == nil {
		return nil, errors.New("submitter is required")
	}
	if config.Address == "" {
		return nil, errors.New("address is required")
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBufferSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.Codec == nil {
		config.Codec = wire.CBOR
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Listener{
		config:    config,
		submitter: sub,
		logger:    logger.With("component", "listener", "device", config.Device),
		conns:     make(map[*Conn]struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Start binds the address and begins accepting connections. Accepting stops
// when ctx is cancelled or Stop is called.
func (l *Listener) Start(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return fmt.Errorf("listener already running")
	}

	addr, err := net.ResolveTCPAddr("tcp", l.config.Address)
	if err != nil {
		l.running.Store(false)
		return fmt.Errorf("failed to resolve %s: %w", l.config.Address, err)
	}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		l.running.Store(false)
		return fmt.Errorf("failed to listen: %w", err)
	}
	l.listener = ln

	ctx, l.cancel = context.WithCancel(ctx)
	l.logState("", "LISTENING")
	l.logger.Info("listening", "address", ln.Addr().String(), "codec", l.config.Codec.Name(),
		"buffer_size", l.config.BufferSize)

	go l.acceptLoop(ctx)
	return nil
}

// Stop stops accepting, waits for every connection handler to finish and
// returns. In-flight commands complete first.
func (l *Listener) Stop() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
}

// Done is closed once the listener and all its handlers have exited.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Addr returns the bound address, or nil before Start.
func (l *Listener) Addr() net.Addr {
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// ConnectionCount returns the number of open connections.
func (l *Listener) ConnectionCount() int {
	l.connsMu.RLock()
	defer l.connsMu.RUnlock()
	return len(l.conns)
}

func (l *Listener) acceptLoop(ctx context.Context) {
	defer close(l.done)
	defer l.running.Store(false)

	for ctx.Err() == nil {
		if err := l.listener.SetDeadline(time.Now().Add(l.config.PollInterval)); err != nil {
			l.logger.Error("failed to set accept deadline", "error", err)
			break
		}
		conn, err := l.listener.Accept()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			l.logger.Warn("accept failed", "error", err)
			continue
		}

		l.wg.Add(1)
		go l.handle(ctx, conn)
	}

	_ = l.listener.Close()
	l.wg.Wait()
	l.logState("LISTENING", "STOPPED")
	l.logger.Info("listener stopped")
}

func (l *Listener) handle(ctx context.Context, nc net.Conn) {
	defer l.wg.Done()

	c := newConn(l, nc)
	l.connsMu.Lock()
	l.conns[c] = struct{}{}
	l.connsMu.Unlock()

	c.logState("", "CONNECTED", "")
	c.logger.Info("client connected")
	if l.config.OnConnect != nil {
		l.config.OnConnect(c)
	}

	reason := c.serve(ctx)
	_ = c.Close()

	l.connsMu.Lock()
	delete(l.conns, c)
	l.connsMu.Unlock()

	c.logState("CONNECTED", "DISCONNECTED", reason)
	c.logger.Info("client disconnected", "reason", reason)
	if l.config.OnDisconnect != nil {
		l.config.OnDisconnect(c)
	}
}

func (l *Listener) logState(old, state string) {
	if l.config.ProtocolLogger == nil {
		return
	}
	l.config.ProtocolLogger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerTransport,
		Category:  log.CategoryState,
		Device:    l.config.Device,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityListener,
			OldState: old,
			NewState: state,
		},
	})
}

// newConnID returns a unique connection identifier.
func newConnID() string {
	return uuid.New().String()
}
