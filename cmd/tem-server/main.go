// Command tem-server exposes a microscope, and optionally its camera, over
// TCP.
//
// Usage:
//
//	tem-server [--config DIR] [-t PROFILE] [-c] [--log-level LEVEL]
//
// The microscope listens on tem_server_host:tem_server_port (default
// localhost:8088). With -c the camera listens on cam_server_host:
// cam_server_port (default localhost:8087) once the microscope session is
// ready. SIGINT or SIGTERM shuts both down.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tembridge/tembridge-go/pkg/config"
	"github.com/tembridge/tembridge-go/pkg/discovery"
	"github.com/tembridge/tembridge-go/pkg/log"
	"github.com/tembridge/tembridge-go/pkg/metrics"
	"github.com/tembridge/tembridge-go/pkg/service"
	"github.com/tembridge/tembridge-go/pkg/telemetry"
	"github.com/tembridge/tembridge-go/pkg/version"
)

const shutdownTimeout = 5 * time.Second

type options struct {
	configDir  string
	microscope string
	camera     bool
	logLevel   string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:          "tem-server",
		Short:        "Expose a transmission electron microscope over TCP",
		Version:      version.String(),
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configDir, "config", "", "config directory (default $"+config.EnvConfigDir+" or ./"+config.DefaultDir+")")
	flags.StringVarP(&opts.microscope, "microscope", "t", "", "microscope profile, overriding settings.yaml")
	flags.BoolVarP(&opts.camera, "camera", "c", false, "also serve the camera")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	return cmd
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load(config.Dir(opts.configDir), opts.microscope)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	s := cfg.Settings

	level := parseLevel(opts.logLevelOr(s.Logging.Level))
	logger := newLogger(s.Logging, level)
	slog.SetDefault(logger)
	logger.Info("starting tem-server",
		"version", version.String(),
		"microscope", s.Microscope,
		"camera", opts.camera,
		"serializer", s.Serializer)

	extras := service.Extras{
		StartCamera: opts.camera,
		Logger:      logger,
		// The camera is chatty at info level.
		CameraLogger: newLogger(s.Logging, max(level, slog.LevelWarn)),
	}

	var protocol []log.Logger
	if s.ProtocolLog != "" {
		fl, err := log.NewFileLogger(s.ProtocolLog)
		if err != nil {
			return fmt.Errorf("opening protocol log: %w", err)
		}
		defer fl.Close()
		protocol = append(protocol, fl)
		logger.Info("protocol capture enabled", "path", s.ProtocolLog)
	}
	if level <= slog.LevelDebug {
		protocol = append(protocol, log.NewSlogAdapter(logger.With("component", "protocol")))
	}
	if len(protocol) > 0 {
		extras.ProtocolLogger = log.NewMultiLogger(protocol...)
	}

	if s.Metrics.Enabled {
		extras.Metrics = metrics.New()
		srv := metrics.NewServer(s.Metrics.Address, extras.Metrics, logger)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("starting metrics server: %w", err)
		}
		defer shutdown(logger, "metrics server", srv.Shutdown)
	}

	if s.MQTT.Enabled {
		tctx, stop := context.WithCancel(ctx)
		reporter, err := startTelemetry(tctx, s.MQTT, logger)
		if err != nil {
			stop()
			return err
		}
		defer func() {
			stop()
			<-reporter.Done()
		}()
		extras.Observers = append(extras.Observers, reporter)
	}

	if s.Discovery.Enabled {
		adv := discovery.NewMDNSAdvertiser(discovery.AdvertiserConfig{
			Interface: s.Discovery.Interface,
			TTL:       time.Duration(s.Discovery.TTL) * time.Second,
		})
		defer adv.StopAll()
		extras.Advertiser = adv
	}

	bc, err := service.Assemble(cfg, extras)
	if err != nil {
		return err
	}
	bridge, err := service.NewBridge(bc)
	if err != nil {
		return err
	}

	if err := bridge.Run(ctx); err != nil {
		logger.Error("tem-server failed", "error", err)
		return err
	}
	logger.Info("tem-server stopped")
	return nil
}

func (o options) logLevelOr(level string) string {
	if o.logLevel != "" {
		return o.logLevel
	}
	return level
}

// startTelemetry connects to the broker and runs a reporter until ctx ends.
func startTelemetry(ctx context.Context, cfg config.MQTTConfig, logger *slog.Logger) (*telemetry.Reporter, error) {
	pub, err := telemetry.Dial(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT broker: %w", err)
	}
	reporter := telemetry.NewReporter(pub, cfg.TopicPrefix, cfg.QoS, logger)
	go reporter.Run(ctx)
	logger.Info("MQTT telemetry enabled", "broker", cfg.Broker, "prefix", cfg.TopicPrefix)
	return reporter, nil
}

func shutdown(logger *slog.Logger, what string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("shutdown failed", "component", what, "error", err)
	}
}
