package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SettingsFile is the name of the main settings file.
const SettingsFile = "settings.yaml"

// EnvConfigDir names the environment variable holding the config directory.
const EnvConfigDir = "TEMBRIDGE_CONFIG"

// DefaultDir is the config directory used when neither a flag nor
// EnvConfigDir names one.
const DefaultDir = "config"

// Config is the complete configuration of a bridge process.
type Config struct {
	Settings   Settings
	Microscope MicroscopeProfile
	Camera     CameraProfile
}

// Settings mirrors settings.yaml.
type Settings struct {
	TEMServerHost string `yaml:"tem_server_host"`
	TEMServerPort int    `yaml:"tem_server_port"`
	CamServerHost string `yaml:"cam_server_host"`
	CamServerPort int    `yaml:"cam_server_port"`

	// Microscope and Camera are profile names.
	Microscope string `yaml:"microscope"`
	Camera     string `yaml:"camera"`

	Serializer   string        `yaml:"serializer"`
	BufferSize   int           `yaml:"buffer_size"`
	PollInterval time.Duration `yaml:"poll_interval"`

	Startup     StartupConfig   `yaml:"startup"`
	Logging     LoggingConfig   `yaml:"logging"`
	ProtocolLog string          `yaml:"protocol_log"`
	Discovery   DiscoveryConfig `yaml:"discovery"`
	Metrics     MetricsConfig   `yaml:"metrics"`
	MQTT        MQTTConfig      `yaml:"mqtt"`
}

// StartupConfig bounds how long a bridge waits for its instruments.
type StartupConfig struct {
	// Attempts is how many times a session open is tried.
	Attempts int `yaml:"attempts"`

	// InitialInterval is the first delay between open attempts.
	InitialInterval time.Duration `yaml:"initial_interval"`

	// ReadyTimeout bounds the wait for the microscope before the camera
	// bridge starts.
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
}

// LoggingConfig configures operational logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DiscoveryConfig configures mDNS advertisement.
type DiscoveryConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Interface string `yaml:"interface"`
	TTL       uint32 `yaml:"ttl"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// MQTTConfig configures outcome telemetry.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// MicroscopeProfile mirrors <microscope>.yaml.
type MicroscopeProfile struct {
	Name       string               `yaml:"-"`
	Interface  string               `yaml:"interface"`
	Wavelength float64              `yaml:"wavelength"`
	Ranges     map[string][]float64 `yaml:"ranges"`
	Serial     SerialConfig         `yaml:"serial"`
}

// SerialConfig configures a serial-line instrument.
type SerialConfig struct {
	Port        string        `yaml:"port"`
	BaudRate    int           `yaml:"baud_rate"`
	DataBits    int           `yaml:"data_bits"`
	StopBits    int           `yaml:"stop_bits"`
	Parity      string        `yaml:"parity"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	Terminator  string        `yaml:"terminator"`
}

// CameraProfile mirrors <camera>.yaml. A missing file leaves it empty.
type CameraProfile struct {
	Name                    string  `yaml:"-"`
	Interface               string  `yaml:"interface"`
	Dimensions              []int   `yaml:"dimensions"`
	DefaultBinsize          int     `yaml:"default_binsize"`
	DefaultExposure         float64 `yaml:"default_exposure"`
	PossibleBinsizes        []int   `yaml:"possible_binsizes"`
	CameraRotationVsStageXY float64 `yaml:"camera_rotation_vs_stage_xy"`
	StretchAmplitude        float64 `yaml:"stretch_amplitude"`
	StretchAzimuth          float64 `yaml:"stretch_azimuth"`

	// Found reports whether the profile file existed.
	Found bool `yaml:"-"`
}

// Interfaces a microscope profile may name.
const (
	InterfaceSimulate = "simulate"
	InterfaceSerial   = "serial"
)

// Dir returns the config directory: flag if set, else EnvConfigDir, else
// DefaultDir.
func Dir(flag string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(EnvConfigDir); v != "" {
		return v
	}
	return DefaultDir
}

// Load reads settings.yaml and the selected profiles from dir. A non-empty
// microscope replaces the profile named in settings.yaml.
func Load(dir, microscope string) (*Config, error) {
	settings := defaultSettings()

	if err := readYAML(filepath.Join(dir, SettingsFile), &settings); err != nil {
		return nil, err
	}
	if microscope != "" {
		settings.Microscope = microscope
	}
	applyEnvOverrides(&settings)

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("validating %s: %w", SettingsFile, err)
	}

	cfg := &Config{Settings: settings}

	cfg.Microscope = defaultMicroscopeProfile()
	if err := readYAML(filepath.Join(dir, settings.Microscope+".yaml"), &cfg.Microscope); err != nil {
		return nil, err
	}
	cfg.Microscope.Name = settings.Microscope
	if err := cfg.Microscope.Validate(); err != nil {
		return nil, fmt.Errorf("validating microscope profile %q: %w", settings.Microscope, err)
	}

	if settings.Camera != "" {
		err := readYAML(filepath.Join(dir, settings.Camera+".yaml"), &cfg.Camera)
		switch {
		case err == nil:
			cfg.Camera.Found = true
		case errors.Is(err, fs.ErrNotExist):
			cfg.Camera = CameraProfile{}
		default:
			return nil, err
		}
		cfg.Camera.Name = settings.Camera
	}

	return cfg, nil
}

func readYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func defaultSettings() Settings {
	return Settings{
		TEMServerHost: "localhost",
		TEMServerPort: 8088,
		CamServerHost: "localhost",
		CamServerPort: 8087,
		Microscope:    "simulate",
		Serializer:    "cbor",
		BufferSize:    1024,
		PollInterval:  500 * time.Millisecond,
		Startup: StartupConfig{
			Attempts:        5,
			InitialInterval: 200 * time.Millisecond,
			ReadyTimeout:    5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Discovery: DiscoveryConfig{
			TTL: 120,
		},
		Metrics: MetricsConfig{
			Address: ":9090",
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "tembridge",
			TopicPrefix: "tembridge",
		},
	}
}

func defaultMicroscopeProfile() MicroscopeProfile {
	return MicroscopeProfile{
		Interface: InterfaceSimulate,
		Serial: SerialConfig{
			BaudRate:    9600,
			DataBits:    8,
			StopBits:    1,
			Parity:      "none",
			ReadTimeout: time.Second,
			Terminator:  "\r\n",
		},
	}
}

// applyEnvOverrides applies TEMBRIDGE_* environment overrides. Unparseable
// ports are left for Validate to report.
func applyEnvOverrides(s *Settings) {
	if v := os.Getenv("TEMBRIDGE_TEM_HOST"); v != "" {
		s.TEMServerHost = v
	}
	if v := os.Getenv("TEMBRIDGE_TEM_PORT"); v != "" {
		s.TEMServerPort = atoiOr(v, -1)
	}
	if v := os.Getenv("TEMBRIDGE_CAM_HOST"); v != "" {
		s.CamServerHost = v
	}
	if v := os.Getenv("TEMBRIDGE_CAM_PORT"); v != "" {
		s.CamServerPort = atoiOr(v, -1)
	}
	if v := os.Getenv("TEMBRIDGE_LOG_LEVEL"); v != "" {
		s.Logging.Level = v
	}
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// Validate checks the settings.
func (s *Settings) Validate() error {
	var errs []string

	if s.TEMServerPort < 0 || s.TEMServerPort > 65535 {
		errs = append(errs, "tem_server_port must be between 0 and 65535")
	}
	if s.CamServerPort < 0 || s.CamServerPort > 65535 {
		errs = append(errs, "cam_server_port must be between 0 and 65535")
	}
	if s.Microscope == "" {
		errs = append(errs, "microscope is required")
	}
	switch s.Serializer {
	case "cbor", "json":
	default:
		errs = append(errs, "serializer must be cbor or json")
	}
	if s.BufferSize < 64 {
		errs = append(errs, "buffer_size must be at least 64")
	}
	if s.PollInterval <= 0 {
		errs = append(errs, "poll_interval must be positive")
	}
	if s.Startup.Attempts < 1 {
		errs = append(errs, "startup.attempts must be at least 1")
	}
	if s.Startup.ReadyTimeout <= 0 {
		errs = append(errs, "startup.ready_timeout must be positive")
	}
	switch strings.ToLower(s.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, "logging.format must be text or json")
	}
	switch strings.ToLower(s.Logging.Output) {
	case "stdout", "stderr":
	default:
		errs = append(errs, "logging.output must be stdout or stderr")
	}
	if s.MQTT.Enabled && s.MQTT.Broker == "" {
		errs = append(errs, "mqtt.broker is required when mqtt is enabled")
	}
	if s.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if s.Metrics.Enabled && s.Metrics.Address == "" {
		errs = append(errs, "metrics.address is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks the microscope profile.
func (p *MicroscopeProfile) Validate() error {
	switch p.Interface {
	case InterfaceSimulate:
	case InterfaceSerial:
		if p.Serial.Port == "" {
			return errors.New("serial.port is required for the serial interface")
		}
		if p.Serial.BaudRate <= 0 {
			return errors.New("serial.baud_rate must be positive")
		}
	default:
		return fmt.Errorf("unknown interface %q", p.Interface)
	}
	if p.Wavelength < 0 {
		return errors.New("wavelength must not be negative")
	}
	return nil
}

// TEMAddress returns host:port for the microscope listener.
func (s *Settings) TEMAddress() string {
	return joinHostPort(s.TEMServerHost, s.TEMServerPort)
}

// CamAddress returns host:port for the camera listener.
func (s *Settings) CamAddress() string {
	return joinHostPort(s.CamServerHost, s.CamServerPort)
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
