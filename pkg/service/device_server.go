package service

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/tembridge/tembridge-go/pkg/discovery"
	"github.com/tembridge/tembridge-go/pkg/dispatch"
	"github.com/tembridge/tembridge-go/pkg/log"
	"github.com/tembridge/tembridge-go/pkg/metrics"
	"github.com/tembridge/tembridge-go/pkg/session"
	"github.com/tembridge/tembridge-go/pkg/transport"
	"github.com/tembridge/tembridge-go/pkg/wire"
)

// DeviceConfig configures one device server.
type DeviceConfig struct {
	// Device is the device kind abbreviation, DeviceMicroscope or DeviceCamera.
	Device string

	// Profile is the instrument profile name, advertised over mDNS.
	Profile string

	// Address to listen on, e.g. "localhost:8088".
	Address string

	Codec        wire.Codec
	BufferSize   int
	PollInterval time.Duration

	StartupAttempts int
	StartupInterval time.Duration

	// Opener opens the instrument driver.
	Opener session.Opener

	Logger         *slog.Logger
	ProtocolLogger log.Logger

	// Metrics, if set, observes commands, session state and connections.
	Metrics *metrics.Metrics

	// Observers receive command outcomes in addition to Metrics.
	Observers []dispatch.Observer

	// Advertiser, if set, announces the listener once the session is ready.
	Advertiser discovery.Advertiser
}

// Validate checks the configuration.
func (c *DeviceConfig) Validate() error {
	if c.Device == "" {
		return fmt.Errorf("%w: device is required", ErrInvalidConfig)
	}
	if c.Address == "" {
		return fmt.Errorf("%w: %s address is required", ErrInvalidConfig, c.Device)
	}
	if c.Opener == nil {
		return fmt.Errorf("%w: %s opener is required", ErrInvalidConfig, c.Device)
	}
	return nil
}

// DeviceServer runs the dispatch loop and listener of one device kind.
type DeviceServer struct {
	config DeviceConfig
	logger *slog.Logger

	loop     *dispatch.Loop
	listener transport.DeviceListener

	mu        sync.RWMutex
	state     ServiceState
	err       error
	cancel    context.CancelFunc
	advertise bool
	done      chan struct{}
}

// NewDeviceServer creates a device server. Start must be called to run it.
func NewDeviceServer(config DeviceConfig) (*DeviceServer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Codec == nil {
		config.Codec = wire.CBOR
	}
	if config.BufferSize <= 0 {
		config.BufferSize = transport.DefaultBufferSize
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	config.Logger = logger

	observers := config.Observers
	if config.Metrics != nil {
		observers = append([]dispatch.Observer{config.Metrics}, observers...)
	}

	s := &DeviceServer{
		config: config,
		logger: logger.With("component", "service", "device", config.Device),
		done:   make(chan struct{}),
	}

	s.loop = dispatch.NewLoop(dispatch.Config{
		Device:          config.Device,
		Opener:          config.Opener,
		StartupAttempts: config.StartupAttempts,
		StartupInterval: config.StartupInterval,
		Logger:          logger,
		ProtocolLogger:  config.ProtocolLogger,
		Observers:       observers,
	})

	ln, err := transport.NewListener(transport.ListenerConfig{
		Device:         config.Device,
		Address:        config.Address,
		BufferSize:     config.BufferSize,
		PollInterval:   config.PollInterval,
		Codec:          config.Codec,
		Logger:         logger,
		ProtocolLogger: config.ProtocolLogger,
		OnConnect:      s.onConnect,
		OnDisconnect:   s.onDisconnect,
	}, s.loop)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	s.listener = ln
	return s, nil
}

// Device returns the device kind abbreviation.
func (s *DeviceServer) Device() string {
	return s.config.Device
}

// Start binds the listener and begins opening the session. Clients that
// connect before the session is ready wait for it.
func (s *DeviceServer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateRunning
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)

	// The loop outlives the listener so accepted commands are answered.
	loopCtx, stopLoop := context.WithCancel(context.WithoutCancel(ctx))
	runErr := make(chan error, 1)
	go func() { runErr <- s.loop.Run(loopCtx) }()

	if err := s.listener.Start(ctx); err != nil {
		cancel()
		stopLoop()
		<-runErr
		s.mu.Lock()
		s.state = StateStopped
		s.err = err
		s.mu.Unlock()
		close(s.done)
		return err
	}

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(ctx, cancel, stopLoop, runErr)
	return nil
}

// run supervises the loop and listener until ctx is cancelled or the
// session fails to open.
func (s *DeviceServer) run(ctx context.Context, cancel, stopLoop context.CancelFunc, runErr <-chan error) {
	defer close(s.done)

	var err error
	loopDone := false

	select {
	case <-s.loop.Ready():
		s.startAdvertising(ctx)
		select {
		case <-ctx.Done():
		case err = <-runErr:
			loopDone = true
		}
	case err = <-runErr:
		loopDone = true
	case <-ctx.Done():
	}

	s.mu.Lock()
	s.state = StateStopping
	s.mu.Unlock()

	s.stopAdvertising()
	cancel()
	s.listener.Stop()
	stopLoop()
	if !loopDone {
		err = <-runErr
	}

	if err != nil {
		s.logger.Error("device server failed", "error", err)
	} else {
		s.logger.Info("device server stopped")
	}

	s.mu.Lock()
	s.state = StateStopped
	s.err = err
	s.mu.Unlock()
}

// Stop shuts the server down and waits for every goroutine to exit. It
// returns the error that ended the server, if any.
func (s *DeviceServer) Stop() error {
	s.mu.RLock()
	state, cancel := s.state, s.cancel
	s.mu.RUnlock()

	if state == StateIdle {
		return ErrNotStarted
	}
	if cancel != nil {
		cancel()
	}
	<-s.done
	return s.Err()
}

// Ready is closed once the instrument session is open.
func (s *DeviceServer) Ready() <-chan struct{} {
	return s.loop.Ready()
}

// Done is closed once the server has fully stopped.
func (s *DeviceServer) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that stopped the server. It is nil while running
// and after a clean shutdown.
func (s *DeviceServer) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// State returns the server state.
func (s *DeviceServer) State() ServiceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SessionState returns the instrument session state.
func (s *DeviceServer) SessionState() session.State {
	return s.loop.State()
}

// Addr returns the bound listener address, or nil before Start.
func (s *DeviceServer) Addr() net.Addr {
	return s.listener.Addr()
}

// ConnectionCount returns the number of connected clients.
func (s *DeviceServer) ConnectionCount() int {
	return s.listener.ConnectionCount()
}

func (s *DeviceServer) onConnect(*transport.Conn) {
	if s.config.Metrics != nil {
		s.config.Metrics.ConnectionOpened(s.config.Device)
	}
}

func (s *DeviceServer) onDisconnect(*transport.Conn) {
	if s.config.Metrics != nil {
		s.config.Metrics.ConnectionClosed(s.config.Device)
	}
}

// startAdvertising announces the listener. Failure is logged, not fatal.
func (s *DeviceServer) startAdvertising(ctx context.Context) {
	if s.config.Advertiser == nil {
		return
	}
	tcp, ok := s.listener.Addr().(*net.TCPAddr)
	if !ok {
		return
	}
	info := &discovery.ServiceInfo{
		Kind:       s.config.Device,
		Profile:    s.config.Profile,
		Codec:      s.config.Codec.Name(),
		BufferSize: s.config.BufferSize,
		Port:       tcp.Port,
	}
	if err := s.config.Advertiser.Advertise(ctx, info); err != nil {
		s.logger.Warn("mDNS advertisement failed", "error", err)
		return
	}
	s.mu.Lock()
	s.advertise = true
	s.mu.Unlock()
	s.logger.Info("advertising", "service", discovery.ServiceType, "port", tcp.Port)
}

func (s *DeviceServer) stopAdvertising() {
	s.mu.Lock()
	advertised := s.advertise
	s.advertise = false
	s.mu.Unlock()

	if !advertised {
		return
	}
	if err := s.config.Advertiser.Stop(s.config.Device); err != nil {
		s.logger.Debug("withdrawing advertisement", "error", err)
	}
}
