package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/tembridge/tembridge-go/pkg/log"
)

// Chunk constants.
const (
	// DefaultBufferSize is the default chunk size in bytes.
	DefaultBufferSize = 1024

	// DefaultPollInterval bounds how long accepts and reads block before
	// re-checking for shutdown.
	DefaultPollInterval = 500 * time.Millisecond
)

// Chunk errors.
var (
	// ErrChunkTooLarge indicates an outgoing message exceeds the buffer size.
	ErrChunkTooLarge = errors.New("message exceeds buffer size")

	// ErrChunkEmpty indicates an attempt to write nothing.
	ErrChunkEmpty = errors.New("message is empty")
)

// ChunkConn reads and writes whole messages as single chunks.
type ChunkConn struct {
	conn net.Conn
	size int
	buf  []byte

	// Logging support (optional)
	logger log.Logger
	connID string
	device string
	remote string
}

// NewChunkConn wraps conn. size is the buffer size; zero means
// DefaultBufferSize.
func NewChunkConn(conn net.Conn, size int) *ChunkConn {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &ChunkConn{
		conn:   conn,
		size:   size,
		buf:    make([]byte, size),
		remote: conn.RemoteAddr().String(),
	}
}

// SetLogger enables chunk capture. Pass nil to disable it.
func (c *ChunkConn) SetLogger(logger log.Logger, connID, device string) {
	c.logger = logger
	c.connID = connID
	c.device = device
}

// BufferSize returns the chunk size.
func (c *ChunkConn) BufferSize() int {
	return c.size
}

// ReadChunk performs one read of at most BufferSize bytes, waiting up to
// timeout. A zero-length read means the peer closed the connection and is
// reported as io.EOF. The returned slice is only valid until the next call.
func (c *ChunkConn) ReadChunk(timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, fmt.Errorf("failed to set read deadline: %w", err)
		}
	}

	n, err := c.conn.Read(c.buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, err
	}

	data := c.buf[:n]
	c.logChunk(data, log.DirectionIn)
	return data, nil
}

// WriteChunk writes data in one write.
func (c *ChunkConn) WriteChunk(data []byte) error {
	if len(data) == 0 {
		return ErrChunkEmpty
	}
	if len(data) > c.size {
		return fmt.Errorf("%w: %d > %d", ErrChunkTooLarge, len(data), c.size)
	}
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("failed to write chunk: %w", err)
	}
	c.logChunk(data, log.DirectionOut)
	return nil
}

// Close closes the underlying connection.
func (c *ChunkConn) Close() error {
	return c.conn.Close()
}

func (c *ChunkConn) logChunk(data []byte, dir log.Direction) {
	if c.logger == nil {
		return
	}
	c.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Device:       c.device,
		RemoteAddr:   c.remote,
		Chunk:        log.NewChunkEvent(data),
	})
}

// isTimeout reports whether err is a deadline expiry.
func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
