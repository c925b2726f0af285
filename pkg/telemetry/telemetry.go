// Package telemetry publishes command outcomes and session state changes to
// an MQTT broker.
//
// Topics, under the configured prefix:
//
//	<prefix>/status            "online" or "offline", retained
//	<prefix>/<device>/outcome  one JSON document per executed command
//	<prefix>/<device>/state    session state name, retained
//
// Publishing happens on a background goroutine. When the queue is full new
// messages are dropped and counted, so the dispatch loop never waits on the
// broker.
package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tembridge/tembridge-go/pkg/dispatch"
	"github.com/tembridge/tembridge-go/pkg/session"
)

// DefaultQueueSize is the number of messages buffered for publishing.
const DefaultQueueSize = 256

// OutcomeMessage is the JSON document published per command.
type OutcomeMessage struct {
	Device       string    `json:"device"`
	RequestID    uint64    `json:"request_id"`
	ConnectionID string    `json:"connection_id,omitempty"`
	Selector     string    `json:"selector"`
	Kind         string    `json:"kind"`
	Status       int       `json:"status"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	Started      time.Time `json:"started"`
	ElapsedMS    float64   `json:"elapsed_ms"`
}

type message struct {
	topic    string
	retained bool
	payload  []byte
}

// Reporter is a dispatch.Observer that forwards activity to a Publisher.
type Reporter struct {
	pub    Publisher
	prefix string
	qos    byte
	logger *slog.Logger

	queue   chan message
	dropped atomic.Uint64

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

var _ dispatch.Observer = (*Reporter)(nil)

// NewReporter creates a reporter. Call Run to start publishing.
func NewReporter(pub Publisher, prefix string, qos byte, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		pub:    pub,
		prefix: prefix,
		qos:    qos,
		logger: logger.With("component", "telemetry"),
		queue:  make(chan message, DefaultQueueSize),
		done:   make(chan struct{}),
	}
}

// Run publishes queued messages until ctx is cancelled, then flushes what is
// already queued and closes the publisher.
func (r *Reporter) Run(ctx context.Context) {
	defer close(r.done)
	defer func() {
		if err := r.pub.Close(); err != nil {
			r.logger.Warn("closing publisher", "error", err)
		}
	}()

	for {
		select {
		case m := <-r.queue:
			r.publish(m)
		case <-ctx.Done():
			r.mu.Lock()
			r.closed = true
			r.mu.Unlock()
			for {
				select {
				case m := <-r.queue:
					r.publish(m)
				default:
					return
				}
			}
		}
	}
}

// Done is closed when Run returns.
func (r *Reporter) Done() <-chan struct{} {
	return r.done
}

// Dropped returns the number of messages discarded because the queue was full.
func (r *Reporter) Dropped() uint64 {
	return r.dropped.Load()
}

// CommandCompleted queues an outcome message.
func (r *Reporter) CommandCompleted(o dispatch.Outcome) {
	msg := OutcomeMessage{
		Device:       o.Device,
		RequestID:    o.RequestID,
		ConnectionID: o.ConnID,
		Started:      o.Started.UTC(),
		ElapsedMS:    float64(o.Elapsed.Microseconds()) / 1000,
	}
	if o.Command != nil {
		msg.Selector = o.Command.Selector
		msg.Kind = o.Command.Kind.String()
	}
	if o.Result != nil {
		msg.Status = int(o.Result.Status)
		if o.Result.Fault != nil {
			msg.ErrorKind = o.Result.Fault.Kind
		}
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		r.logger.Warn("encoding outcome", "error", err)
		return
	}
	r.enqueue(message{topic: r.prefix + "/" + o.Device + "/outcome", payload: payload})
}

// SessionStateChanged queues a retained state message.
func (r *Reporter) SessionStateChanged(device string, state session.State) {
	r.enqueue(message{
		topic:    r.prefix + "/" + device + "/state",
		retained: true,
		payload:  []byte(state.String()),
	})
}

func (r *Reporter) enqueue(m message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.queue <- m:
	default:
		if r.dropped.Add(1) == 1 {
			r.logger.Warn("telemetry queue full, dropping messages")
		}
	}
}

func (r *Reporter) publish(m message) {
	if err := r.pub.Publish(m.topic, r.qos, m.retained, m.payload); err != nil {
		r.logger.Warn("publish failed", "topic", m.topic, "error", err)
	}
}
