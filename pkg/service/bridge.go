package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultReadyTimeout bounds the wait for the microscope before the camera
// server starts.
const DefaultReadyTimeout = 5 * time.Second

// BridgeConfig configures a Bridge.
type BridgeConfig struct {
	Microscope DeviceConfig

	// Camera is nil when no camera server should run.
	Camera *DeviceConfig

	// ReadyTimeout bounds the wait for the microscope session.
	ReadyTimeout time.Duration

	Logger *slog.Logger
}

// Bridge runs the microscope server and, optionally, the camera server.
type Bridge struct {
	config BridgeConfig
	logger *slog.Logger

	microscope *DeviceServer
	camera     *DeviceServer
}

// NewBridge creates the device servers described by config.
func NewBridge(config BridgeConfig) (*Bridge, error) {
	if config.ReadyTimeout <= 0 {
		config.ReadyTimeout = DefaultReadyTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bridge{
		config: config,
		logger: logger.With("component", "bridge"),
	}

	var err error
	b.microscope, err = NewDeviceServer(config.Microscope)
	if err != nil {
		return nil, err
	}
	if config.Camera != nil {
		b.camera, err = NewDeviceServer(*config.Camera)
		if err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Microscope returns the microscope server.
func (b *Bridge) Microscope() *DeviceServer {
	return b.microscope
}

// Camera returns the camera server, or nil if none is configured.
func (b *Bridge) Camera() *DeviceServer {
	return b.camera
}

// Run starts the servers and blocks until ctx is cancelled or a server
// fails. Every server has stopped when Run returns. A microscope that is
// not ready within the ready timeout while a camera is configured is an
// error.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.microscope.Start(ctx); err != nil {
		return fmt.Errorf("starting %s server: %w", b.microscope.Device(), err)
	}

	if b.camera != nil {
		if err := b.waitReady(ctx); err != nil {
			_ = b.microscope.Stop()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := b.camera.Start(ctx); err != nil {
			_ = b.microscope.Stop()
			return fmt.Errorf("starting %s server: %w", b.camera.Device(), err)
		}
	}

	var failed *DeviceServer
	select {
	case <-ctx.Done():
	case <-b.microscope.Done():
		failed = b.microscope
	case <-b.cameraDone():
		failed = b.camera
	}

	b.logger.Info("shutting down")
	errs := []error{b.stop(b.camera), b.stop(b.microscope)}
	if failed != nil && failed.Err() == nil {
		errs = append(errs, fmt.Errorf("%s server exited", failed.Device()))
	}
	return errors.Join(errs...)
}

// waitReady waits for the microscope session, bounded by ReadyTimeout.
func (b *Bridge) waitReady(ctx context.Context) error {
	timer := time.NewTimer(b.config.ReadyTimeout)
	defer timer.Stop()

	select {
	case <-b.microscope.Ready():
		return nil
	case <-b.microscope.Done():
		return fmt.Errorf("%w: %v", ErrNotReady, b.microscope.Err())
	case <-timer.C:
		return fmt.Errorf("%w within %s", ErrNotReady, b.config.ReadyTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bridge) cameraDone() <-chan struct{} {
	if b.camera == nil {
		return nil
	}
	return b.camera.Done()
}

func (b *Bridge) stop(s *DeviceServer) error {
	if s == nil {
		return nil
	}
	err := s.Stop()
	if errors.Is(err, ErrNotStarted) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s server: %w", s.Device(), err)
	}
	return nil
}
