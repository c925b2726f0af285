// Package metrics exports bridge activity as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tembridge/tembridge-go/pkg/dispatch"
	"github.com/tembridge/tembridge-go/pkg/session"
)

// Namespace prefixes every metric name.
const Namespace = "tembridge"

// Path is where the handler is mounted.
const Path = "/metrics"

// Metrics holds the bridge collectors. It implements dispatch.Observer.
type Metrics struct {
	registry *prometheus.Registry

	commands     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	sessionState *prometheus.GaugeVec
	connsActive  *prometheus.GaugeVec
	connsTotal   *prometheus.CounterVec
}

var _ dispatch.Observer = (*Metrics)(nil)

// New creates the collectors on a fresh registry, along with the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "commands_total",
			Help:      "Commands executed, by device, kind and result status",
		}, []string{"device", "kind", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "command_duration_seconds",
			Help:      "Time spent executing a command against the instrument",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"device", "kind"}),
		sessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "session_state",
			Help:      "Session lifecycle state (0 uninitialized, 1 ready, 2 terminated)",
		}, []string{"device"}),
		connsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "connections_active",
			Help:      "Currently open client connections",
		}, []string{"device"}),
		connsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "connections_total",
			Help:      "Client connections accepted",
		}, []string{"device"}),
	}
	m.registry.MustRegister(
		m.commands,
		m.duration,
		m.sessionState,
		m.connsActive,
		m.connsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// CommandCompleted records one executed command.
func (m *Metrics) CommandCompleted(o dispatch.Outcome) {
	kind, status := "unknown", "unknown"
	if o.Command != nil {
		kind = o.Command.Kind.String()
	}
	if o.Result != nil {
		status = o.Result.Status.String()
	}
	m.commands.WithLabelValues(o.Device, kind, status).Inc()
	m.duration.WithLabelValues(o.Device, kind).Observe(o.Elapsed.Seconds())
}

// SessionStateChanged records the new session state.
func (m *Metrics) SessionStateChanged(device string, state session.State) {
	m.sessionState.WithLabelValues(device).Set(float64(state))
}

// ConnectionOpened counts an accepted connection.
func (m *Metrics) ConnectionOpened(device string) {
	m.connsTotal.WithLabelValues(device).Inc()
	m.connsActive.WithLabelValues(device).Inc()
}

// ConnectionClosed counts a closed connection.
func (m *Metrics) ConnectionClosed(device string) {
	m.connsActive.WithLabelValues(device).Dec()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Server serves the metrics endpoint over HTTP.
type Server struct {
	addr    string
	metrics *Metrics
	logger  *slog.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewServer creates a server for m on addr. A nil logger uses slog.Default.
func NewServer(addr string, m *Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:    addr,
		metrics: m,
		logger:  logger.With("component", "metrics"),
	}
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.New("metrics server already running")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(Path, s.metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	s.listener = ln
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", "error", err)
		}
	}()
	s.logger.Info("serving metrics", "address", ln.Addr().String(), "path", Path)
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops the server, waiting for in-flight scrapes until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
