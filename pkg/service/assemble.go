package service

import (
	"fmt"
	"log/slog"

	"github.com/tembridge/tembridge-go/pkg/config"
	"github.com/tembridge/tembridge-go/pkg/discovery"
	"github.com/tembridge/tembridge-go/pkg/dispatch"
	"github.com/tembridge/tembridge-go/pkg/instrument"
	"github.com/tembridge/tembridge-go/pkg/log"
	"github.com/tembridge/tembridge-go/pkg/metrics"
	"github.com/tembridge/tembridge-go/pkg/wire"
)

// Extras carries the process-wide collaborators shared by both servers.
type Extras struct {
	// StartCamera also runs the camera server.
	StartCamera bool

	Logger *slog.Logger

	// CameraLogger is used by the camera server. Nil means Logger.
	CameraLogger *slog.Logger

	ProtocolLogger log.Logger
	Metrics        *metrics.Metrics
	Observers      []dispatch.Observer
	Advertiser     discovery.Advertiser
}

// Assemble builds a BridgeConfig from loaded configuration.
func Assemble(cfg *config.Config, extras Extras) (BridgeConfig, error) {
	s := cfg.Settings

	codec, err := wire.NewCodec(s.Serializer)
	if err != nil {
		return BridgeConfig{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	scope, err := instrument.Microscope(cfg.Microscope)
	if err != nil {
		return BridgeConfig{}, fmt.Errorf("%w: microscope %q: %v", ErrInvalidConfig, cfg.Microscope.Name, err)
	}

	device := func(kind, profile, address string) DeviceConfig {
		return DeviceConfig{
			Device:          kind,
			Profile:         profile,
			Address:         address,
			Codec:           codec,
			BufferSize:      s.BufferSize,
			PollInterval:    s.PollInterval,
			StartupAttempts: s.Startup.Attempts,
			StartupInterval: s.Startup.InitialInterval,
			Logger:          extras.Logger,
			ProtocolLogger:  extras.ProtocolLogger,
			Metrics:         extras.Metrics,
			Observers:       extras.Observers,
			Advertiser:      extras.Advertiser,
		}
	}

	bc := BridgeConfig{
		Microscope:   device(DeviceMicroscope, cfg.Microscope.Name, s.TEMAddress()),
		ReadyTimeout: s.Startup.ReadyTimeout,
		Logger:       extras.Logger,
	}
	bc.Microscope.Opener = scope

	if extras.StartCamera {
		cam, err := instrument.Camera(cfg.Camera)
		if err != nil {
			return BridgeConfig{}, fmt.Errorf("%w: camera %q: %v", ErrInvalidConfig, cfg.Camera.Name, err)
		}
		dc := device(DeviceCamera, cfg.Camera.Name, s.CamAddress())
		dc.Opener = cam
		if extras.CameraLogger != nil {
			dc.Logger = extras.CameraLogger
		}
		bc.Camera = &dc
	}
	return bc, nil
}
