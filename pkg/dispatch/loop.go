package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tembridge/tembridge-go/pkg/faults"
	"github.com/tembridge/tembridge-go/pkg/log"
	"github.com/tembridge/tembridge-go/pkg/session"
	"github.com/tembridge/tembridge-go/pkg/wire"
)

// ErrStopped is returned by Submit once the loop has exited.
var ErrStopped = errors.New("dispatch loop stopped")

// Default startup settings.
const (
	DefaultStartupAttempts = 5
	DefaultStartupInterval = 200 * time.Millisecond
)

// Config configures a Loop.
type Config struct {
	// Device is the device kind abbreviation, e.g. "tem" or "cam".
	Device string

	// Opener opens the instrument driver.
	Opener session.Opener

	// StartupAttempts bounds how many times the session is opened before
	// Run fails. Zero means DefaultStartupAttempts.
	StartupAttempts int

	// StartupInterval is the first retry delay. It doubles per attempt.
	StartupInterval time.Duration

	Logger         *slog.Logger
	ProtocolLogger log.Logger
	Observers      []Observer
}

// request is one submitted command with its reply slot.
type request struct {
	id      uint64
	connID  string
	command *wire.Command
	reply   chan *wire.Result
}

// Loop executes commands against one session.
type Loop struct {
	config   Config
	logger   *slog.Logger
	protocol log.Logger

	commands chan *request
	nextID   atomic.Uint64
	state    atomic.Uint32

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	running   atomic.Bool
}

// NewLoop creates a loop. Run must be called to start it.
func NewLoop(config Config) *Loop {
	if config.StartupAttempts <= 0 {
		config.StartupAttempts = DefaultStartupAttempts
	}
	if config.StartupInterval <= 0 {
		config.StartupInterval = DefaultStartupInterval
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	protocol := config.ProtocolLogger
	if protocol == nil {
		protocol = log.NoopLogger{}
	}

	return &Loop{
		config:   config,
		logger:   logger.With("component", "dispatch", "device", config.Device),
		protocol: protocol,
		commands: make(chan *request),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Device returns the device kind abbreviation.
func (l *Loop) Device() string {
	return l.config.Device
}

// Ready is closed once the session is open.
func (l *Loop) Ready() <-chan struct{} {
	return l.ready
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// State returns the session state.
func (l *Loop) State() session.State {
	return session.State(l.state.Load())
}

// Run opens the session and executes commands until ctx is cancelled. It
// returns an error if the session could not be opened within the startup
// budget.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("dispatch loop already running")
	}
	defer close(l.done)

	sess := session.New(l.config.Opener)
	if err := l.open(ctx, sess); err != nil {
		l.setState(session.StateTerminated, err.Error())
		return err
	}
	l.setState(session.StateReady, "")
	l.logger.Info("session ready", "instrument", sess.Name())
	l.readyOnce.Do(func() { close(l.ready) })

	defer func() {
		if err := sess.Close(); err != nil {
			l.logger.Warn("session close failed", "error", err)
		}
		l.setState(session.StateTerminated, "shutdown")
	}()

	// Commands already taken finish even after cancellation.
	execCtx := context.WithoutCancel(ctx)

	for {
		select {
		case req := <-l.commands:
			l.execute(execCtx, sess, req)
		case <-ctx.Done():
			for {
				select {
				case req := <-l.commands:
					l.execute(execCtx, sess, req)
				default:
					l.logger.Info("dispatch loop stopped")
					return nil
				}
			}
		}
	}
}

func (l *Loop) open(ctx context.Context, sess *session.Session) error {
	b := backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(l.config.StartupInterval),
			backoff.WithMultiplier(2),
			backoff.WithRandomizationFactor(0.1),
			backoff.WithMaxElapsedTime(0),
		),
		uint64(l.config.StartupAttempts-1),
	)

	attempt := 0
	err := backoff.RetryNotify(
		func() error {
			attempt++
			return sess.Open(ctx)
		},
		backoff.WithContext(b, ctx),
		func(err error, next time.Duration) {
			l.logger.Warn("session open failed, retrying",
				"attempt", attempt, "error", err, "retry_in", next)
		},
	)
	if err != nil {
		return fmt.Errorf("open %s session after %d attempts: %w", l.config.Device, attempt, err)
	}
	return nil
}

// Submit hands cmd to the loop and waits for its result. It blocks while
// another command is being executed. ctx bounds only the wait to be
// accepted; once the loop has taken the command the result is always
// returned.
func (l *Loop) Submit(ctx context.Context, connID string, cmd *wire.Command) (*wire.Result, error) {
	req := &request{
		id:      l.nextID.Add(1),
		connID:  connID,
		command: cmd,
		reply:   make(chan *wire.Result, 1),
	}

	select {
	case l.commands <- req:
	case <-l.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return <-req.reply, nil
}

func (l *Loop) execute(ctx context.Context, sess *session.Session, req *request) {
	start := time.Now()
	value, err := l.call(ctx, sess, req.command)
	elapsed := time.Since(start)

	var res *wire.Result
	if err != nil {
		kind, args := faults.Marshal(err)
		res = wire.Failure(kind, args)
	} else {
		res = wire.Success(value)
	}

	l.record(req, res, start, elapsed)
	req.reply <- res
}

// call runs one command, converting a driver panic into a ControllerError.
func (l *Loop) call(ctx context.Context, sess *session.Session, cmd *wire.Command) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("driver panic", "selector", cmd.Selector, "panic", r)
			value, err = nil, faults.New(faults.ControllerError, fmt.Sprint(r))
		}
	}()

	switch cmd.Kind {
	case wire.KindInvoke:
		return sess.Invoke(ctx, cmd.Selector, cmd.Args, cmd.Kwargs)
	case wire.KindReadAttribute:
		if len(cmd.Args) > 0 || len(cmd.Kwargs) > 0 {
			return nil, faults.New(faults.InvalidArguments, "attribute reads take no arguments")
		}
		return sess.ReadAttribute(ctx, cmd.Selector)
	default:
		return nil, faults.Newf(faults.InvalidCommand, "unknown command kind %d", cmd.Kind)
	}
}

func (l *Loop) record(req *request, res *wire.Result, start time.Time, elapsed time.Duration) {
	cmd := req.command
	attrs := []any{
		"request_id", req.id,
		"selector", cmd.Selector,
		"kind", cmd.Kind.String(),
		"args", summarize(cmd.Args),
		"status", int(res.Status),
		"elapsed", elapsed,
	}
	if len(cmd.Kwargs) > 0 {
		attrs = append(attrs, "kwargs", cmd.Kwargs)
	}

	ev := &log.ResultEvent{
		Selector: cmd.Selector,
		Status:   uint16(res.Status),
		Elapsed:  elapsed,
	}
	if res.IsSuccess() {
		ev.Value = summarize(res.Value)
		l.logger.Info("command completed", append(attrs, "result", ev.Value)...)
	} else {
		ev.ErrorKind, ev.ErrorArgs = res.Fault.Kind, res.Fault.Args
		l.logger.Warn("command failed", append(attrs, "error_kind", res.Fault.Kind, "error_args", res.Fault.Args)...)
	}

	category := log.CategoryMessage
	if !res.IsSuccess() {
		category = log.CategoryError
	}
	l.protocol.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: req.connID,
		Direction:    log.DirectionOut,
		Layer:        log.LayerDispatch,
		Category:     category,
		Device:       l.config.Device,
		RequestID:    req.id,
		Result:       ev,
	})

	out := Outcome{
		Device:    l.config.Device,
		RequestID: req.id,
		ConnID:    req.connID,
		Command:   cmd,
		Result:    res,
		Started:   start,
		Elapsed:   elapsed,
	}
	l.notify("CommandCompleted", func(o Observer) { o.CommandCompleted(out) })
}

func (l *Loop) setState(state session.State, reason string) {
	old := session.State(l.state.Swap(uint32(state)))
	if old == state {
		return
	}
	l.protocol.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerDispatch,
		Category:  log.CategoryState,
		Device:    l.config.Device,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			OldState: old.String(),
			NewState: state.String(),
			Reason:   reason,
		},
	})
	l.notify("SessionStateChanged", func(o Observer) { o.SessionStateChanged(l.config.Device, state) })
}

// notify calls fn for every observer. A panicking observer is logged and
// skipped so the loop keeps serving.
func (l *Loop) notify(event string, fn func(Observer)) {
	for _, o := range l.config.Observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					l.logger.Error("observer panicked", "event", event, "observer", fmt.Sprintf("%T", o), "panic", r)
				}
			}()
			fn(o)
		}()
	}
}

// maxLoggedItems bounds the collections copied into logs.
const maxLoggedItems = 32

// summarize replaces long collections (camera frames) with their shape.
func summarize(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		if rv.Len() > maxLoggedItems {
			return fmt.Sprintf("<%s len=%d>", rv.Type(), rv.Len())
		}
	}
	return v
}
