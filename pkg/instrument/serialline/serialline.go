// Package serialline drives an instrument that speaks a line-oriented text
// protocol over a serial port.
package serialline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/tembridge/tembridge-go/pkg/config"
	"github.com/tembridge/tembridge-go/pkg/faults"
	"github.com/tembridge/tembridge-go/pkg/session"
)

// MaxLineLength bounds a single reply.
const MaxLineLength = 4096

// ErrLineTooLong is returned when a reply exceeds MaxLineLength without a
// terminator.
var ErrLineTooLong = errors.New("reply exceeds maximum line length")

// Port is the subset of serial.Port the driver needs.
type Port interface {
	io.ReadWriteCloser

	// SetReadTimeout bounds each Read. A Read that times out returns 0, nil.
	SetReadTimeout(t time.Duration) error

	// ResetInputBuffer discards unread input.
	ResetInputBuffer() error
}

// PortOpener opens the port at path.
type PortOpener func(path string, mode *serial.Mode) (Port, error)

// OpenPort opens a real serial port.
func OpenPort(path string, mode *serial.Mode) (Port, error) {
	return serial.Open(path, mode)
}

// Mode converts the configured line settings into a serial.Mode.
func Mode(cfg config.SerialConfig) (*serial.Mode, error) {
	if cfg.BaudRate <= 0 {
		return nil, fmt.Errorf("invalid baud rate %d", cfg.BaudRate)
	}
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
	}
	if mode.DataBits == 0 {
		mode.DataBits = 8
	}
	if mode.DataBits < 5 || mode.DataBits > 8 {
		return nil, fmt.Errorf("invalid data bits %d: must be between 5 and 8", cfg.DataBits)
	}

	switch cfg.StopBits {
	case 0, 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", cfg.StopBits)
	}

	switch strings.ToUpper(strings.TrimSpace(cfg.Parity)) {
	case "", "N", "NONE":
		mode.Parity = serial.NoParity
	case "E", "EVEN":
		mode.Parity = serial.EvenParity
	case "O", "ODD":
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("unsupported parity %q: expected N, E, or O", cfg.Parity)
	}
	return mode, nil
}

// Line is an instrument reached over a serial line. Operations:
//
//	send(line)   writes line plus the terminator
//	query(line)  writes line, then returns the next reply line
//
// Attributes: name, port, baud_rate, terminator.
type Line struct {
	name       string
	cfg        config.SerialConfig
	terminator []byte
	port       Port
}

// Open opens the serial port described by cfg. A nil opener uses OpenPort.
func Open(name string, cfg config.SerialConfig, opener PortOpener) (*Line, error) {
	if opener == nil {
		opener = OpenPort
	}
	mode, err := Mode(cfg)
	if err != nil {
		return nil, err
	}
	port, err := opener(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Port, err)
	}
	if cfg.ReadTimeout > 0 {
		if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("set read timeout on %s: %w", cfg.Port, err)
		}
	}
	term := cfg.Terminator
	if term == "" {
		term = "\r\n"
	}
	return &Line{name: name, cfg: cfg, terminator: []byte(term), port: port}, nil
}

// Opener returns a session opener for the configured line.
func Opener(name string, cfg config.SerialConfig, opener PortOpener) session.Opener {
	return func(context.Context) (session.Driver, error) {
		l, err := Open(name, cfg, opener)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
}

// Name returns the instrument name.
func (l *Line) Name() string { return l.name }

// Close closes the port.
func (l *Line) Close() error { return l.port.Close() }

// Register adds the serial-line selectors to r.
func (l *Line) Register(r *session.Registry) error {
	if err := r.Operation("send", l.send); err != nil {
		return err
	}
	if err := r.Operation("query", l.query); err != nil {
		return err
	}
	values := map[string]any{
		"name":       l.name,
		"port":       l.cfg.Port,
		"baud_rate":  l.cfg.BaudRate,
		"terminator": string(l.terminator),
	}
	for name, v := range values {
		if err := r.Value(name, v); err != nil {
			return err
		}
	}
	return nil
}

func (l *Line) send(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	line, err := lineArg(args, kwargs)
	if err != nil {
		return nil, err
	}
	return nil, l.write(line)
}

func (l *Line) query(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	line, err := lineArg(args, kwargs)
	if err != nil {
		return nil, err
	}
	if err := l.port.ResetInputBuffer(); err != nil {
		return nil, faults.Newf(faults.CommunicationError, "reset input: %v", err)
	}
	if err := l.write(line); err != nil {
		return nil, err
	}
	return l.readLine()
}

func lineArg(args []any, kwargs map[string]any) (string, error) {
	p, err := session.Bind(args, kwargs, "line")
	if err != nil {
		return "", err
	}
	if !p.Has("line") {
		return "", faults.New(faults.InvalidArguments, `missing required argument "line"`)
	}
	return p.String("line", "")
}

func (l *Line) write(line string) error {
	if bytes.Contains([]byte(line), l.terminator) {
		return faults.New(faults.ValueError, "line contains the terminator")
	}
	buf := append([]byte(line), l.terminator...)
	if _, err := l.port.Write(buf); err != nil {
		return faults.Newf(faults.CommunicationError, "write %s: %v", l.cfg.Port, err)
	}
	return nil
}

// readLine reads until the terminator. A read that returns no data means the
// port timed out.
func (l *Line) readLine() (string, error) {
	var buf []byte
	chunk := make([]byte, 256)
	for {
		n, err := l.port.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if i := bytes.Index(buf, l.terminator); i >= 0 {
				return string(buf[:i]), nil
			}
			if len(buf) > MaxLineLength {
				return "", faults.New(faults.DeviceFault, ErrLineTooLong.Error())
			}
		}
		if err != nil {
			return "", faults.Newf(faults.CommunicationError, "read %s: %v", l.cfg.Port, err)
		}
		if n == 0 {
			return "", faults.Newf(faults.Timeout, "no reply from %s within %v", l.cfg.Port, l.cfg.ReadTimeout)
		}
	}
}
