package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/tembridge/tembridge-go/pkg/faults"
	"github.com/tembridge/tembridge-go/pkg/log"
	"github.com/tembridge/tembridge-go/pkg/wire"
)

// Disconnect reasons.
const (
	ReasonPeerClosed = "peer closed"
	ReasonSentinel   = "close requested"
	ReasonShutdown   = "shutdown"
	ReasonMalformed  = "malformed message"
	ReasonReadError  = "read error"
	ReasonWriteError = "write error"
)

// Conn is one accepted client connection.
type Conn struct {
	id       string
	listener *Listener
	io       *ChunkConn
	logger   *slog.Logger
	remote   net.Addr

	closeOnce sync.Once
}

func newConn(l *Listener, nc net.Conn) *Conn {
	id := newConnID()
	cc := NewChunkConn(nc, l.config.BufferSize)
	if l.config.ProtocolLogger != nil {
		cc.SetLogger(l.config.ProtocolLogger, id, l.config.Device)
	}
	return &Conn{
		id:       id,
		listener: l,
		io:       cc,
		logger:   l.logger.With("conn_id", id, "remote", nc.RemoteAddr().String()),
		remote:   nc.RemoteAddr(),
	}
}

// ID returns the connection identifier.
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr returns the client address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.remote
}

// Close closes the connection.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.io.Close()
	})
	return err
}

// serve handles requests until the connection ends and returns the reason.
func (c *Conn) serve(ctx context.Context) string {
	cfg := c.listener.config

	for {
		data, err := c.io.ReadChunk(cfg.PollInterval)
		if err != nil {
			switch {
			case isTimeout(err):
				if ctx.Err() != nil {
					return ReasonShutdown
				}
				continue
			case errors.Is(err, io.EOF):
				return ReasonPeerClosed
			default:
				if ctx.Err() == nil {
					c.logger.Warn("read failed", "error", err)
				}
				return ReasonReadError
			}
		}

		cmd, err := cfg.Codec.DecodeCommand(data)
		var res *wire.Result
		switch {
		case errors.Is(err, wire.ErrClose):
			c.logClose(err)
			return ReasonSentinel

		case errors.Is(err, wire.ErrInvalidCommand):
			c.logger.Warn("invalid command", "error", err)
			c.logError(log.LayerWire, err, "decode command")
			res = wire.Failure(faults.InvalidCommand.String(), []any{err.Error()})

		case err != nil:
			c.logger.Warn("undecodable message, closing", "error", err, "size", len(data))
			c.logError(log.LayerWire, err, "decode command")
			return ReasonMalformed

		default:
			c.logCommand(cmd)
			res, err = c.listener.submitter.Submit(ctx, c.id, cmd)
			if err != nil {
				c.logger.Info("command not accepted", "selector", cmd.Selector, "error", err)
				return ReasonShutdown
			}
		}

		if err := c.reply(res); err != nil {
			c.logger.Warn("write failed", "error", err)
			c.logError(log.LayerTransport, err, "write result")
			return ReasonWriteError
		}
	}
}

// reply encodes and writes res. A result that cannot be encoded or does not
// fit the buffer is replaced by a CommunicationError failure.
func (c *Conn) reply(res *wire.Result) error {
	codec := c.listener.config.Codec

	out, err := codec.EncodeResult(res)
	if err == nil && len(out) > c.io.BufferSize() {
		err = ErrChunkTooLarge
	}
	if err != nil {
		c.logger.Warn("result not sendable, replying with error", "error", err)
		out, err = codec.EncodeResult(wire.Failure(faults.CommunicationError.String(), []any{err.Error()}))
		if err != nil {
			return err
		}
	}
	return c.io.WriteChunk(out)
}

func (c *Conn) logCommand(cmd *wire.Command) {
	if c.listener.config.ProtocolLogger == nil {
		return
	}
	c.listener.config.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    log.DirectionIn,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		Device:       c.listener.config.Device,
		RemoteAddr:   c.remote.String(),
		Command: &log.CommandEvent{
			Selector: cmd.Selector,
			Kind:     cmd.Kind.String(),
			Args:     cmd.Args,
			Kwargs:   cmd.Kwargs,
		},
	})
}

func (c *Conn) logClose(err error) {
	c.logger.Debug("close sentinel received", "detail", err.Error())
	if c.listener.config.ProtocolLogger == nil {
		return
	}
	sentinel := string(wire.SentinelExit)
	var ce *wire.CloseError
	if errors.As(err, &ce) {
		sentinel = string(ce.Sentinel)
	}
	c.listener.config.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    log.DirectionIn,
		Layer:        log.LayerWire,
		Category:     log.CategoryControl,
		Device:       c.listener.config.Device,
		RemoteAddr:   c.remote.String(),
		Close:        &log.CloseEvent{Sentinel: sentinel},
	})
}

func (c *Conn) logError(layer log.Layer, err error, op string) {
	if c.listener.config.ProtocolLogger == nil {
		return
	}
	c.listener.config.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Layer:        layer,
		Category:     log.CategoryError,
		Device:       c.listener.config.Device,
		RemoteAddr:   c.remote.String(),
		Error: &log.ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Context: op,
		},
	})
}

func (c *Conn) logState(old, state, reason string) {
	if c.listener.config.ProtocolLogger == nil {
		return
	}
	c.listener.config.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		Device:       c.listener.config.Device,
		RemoteAddr:   c.remote.String(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: old,
			NewState: state,
			Reason:   reason,
		},
	})
}
