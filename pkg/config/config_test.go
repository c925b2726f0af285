package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

func testDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, SettingsFile, `
tem_server_host: 0.0.0.0
tem_server_port: 9001
cam_server_port: 9002
microscope: simulate
camera: simcam
serializer: json
poll_interval: 250ms
startup:
  attempts: 3
  ready_timeout: 2s
logging:
  level: debug
  format: json
`)
	writeFile(t, dir, "simulate.yaml", `
interface: simulate
wavelength: 0.02508
ranges:
  mag1: [21000, 28500, 38000]
  lowmag: [50, 80, 100]
`)
	writeFile(t, dir, "simcam.yaml", `
dimensions: [2048, 2048]
default_binsize: 1
default_exposure: 0.5
possible_binsizes: [1, 2, 4]
`)
	return dir
}

func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := Load(testDir(t), "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	s := cfg.Settings
	if s.TEMAddress() != "0.0.0.0:9001" {
		t.Errorf("TEMAddress() = %q", s.TEMAddress())
	}
	if s.CamAddress() != "localhost:9002" {
		t.Errorf("CamAddress() = %q, want default host", s.CamAddress())
	}
	if s.Serializer != "json" {
		t.Errorf("Serializer = %q", s.Serializer)
	}
	if s.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %v", s.PollInterval)
	}
	if s.BufferSize != 1024 {
		t.Errorf("BufferSize = %d, want default 1024", s.BufferSize)
	}
	if s.Startup.Attempts != 3 || s.Startup.ReadyTimeout != 2*time.Second {
		t.Errorf("Startup = %+v", s.Startup)
	}
	if s.Startup.InitialInterval != 200*time.Millisecond {
		t.Errorf("Startup.InitialInterval = %v, want default", s.Startup.InitialInterval)
	}

	m := cfg.Microscope
	if m.Name != "simulate" || m.Interface != InterfaceSimulate {
		t.Errorf("Microscope = %+v", m)
	}
	if m.Wavelength != 0.02508 {
		t.Errorf("Wavelength = %v", m.Wavelength)
	}
	if got := m.Ranges["lowmag"]; len(got) != 3 || got[0] != 50 {
		t.Errorf("Ranges[lowmag] = %v", got)
	}

	c := cfg.Camera
	if !c.Found || c.Name != "simcam" {
		t.Errorf("Camera = %+v", c)
	}
	if len(c.Dimensions) != 2 || c.Dimensions[0] != 2048 || c.DefaultExposure != 0.5 {
		t.Errorf("Camera values = %+v", c)
	}
}

func TestLoad_MicroscopeOverride(t *testing.T) {
	dir := testDir(t)
	writeFile(t, dir, "jeol.yaml", `
interface: serial
wavelength: 0.0197
serial:
  port: /dev/ttyUSB0
  baud_rate: 19200
`)

	cfg, err := Load(dir, "jeol")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Settings.Microscope != "jeol" || cfg.Microscope.Name != "jeol" {
		t.Errorf("override not applied: %q / %q", cfg.Settings.Microscope, cfg.Microscope.Name)
	}
	if cfg.Microscope.Serial.Port != "/dev/ttyUSB0" || cfg.Microscope.Serial.BaudRate != 19200 {
		t.Errorf("Serial = %+v", cfg.Microscope.Serial)
	}
	if cfg.Microscope.Serial.DataBits != 8 || cfg.Microscope.Serial.Terminator != "\r\n" {
		t.Errorf("serial defaults lost: %+v", cfg.Microscope.Serial)
	}
}

func TestLoad_MissingCameraProfile(t *testing.T) {
	dir := testDir(t)
	if err := os.Remove(filepath.Join(dir, "simcam.yaml")); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Camera.Found {
		t.Error("Camera.Found = true for a missing profile")
	}
	if cfg.Camera.Name != "simcam" {
		t.Errorf("Camera.Name = %q", cfg.Camera.Name)
	}
}

func TestLoad_MissingFiles(t *testing.T) {
	if _, err := Load(t.TempDir(), ""); err == nil {
		t.Error("expected error for missing settings.yaml")
	}

	dir := testDir(t)
	if _, err := Load(dir, "nosuchscope"); err == nil {
		t.Error("expected error for missing microscope profile")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, SettingsFile, "tem_server_port: [not a port")
	_, err := Load(dir, "")
	if err == nil || !strings.Contains(err.Error(), "parsing") {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestLoad_InvalidProfile(t *testing.T) {
	dir := testDir(t)
	writeFile(t, dir, "bad.yaml", "interface: telepathy\n")
	if _, err := Load(dir, "bad"); err == nil {
		t.Error("expected error for unknown interface")
	}

	writeFile(t, dir, "noport.yaml", "interface: serial\n")
	if _, err := Load(dir, "noport"); err == nil {
		t.Error("expected error for serial profile without port")
	}
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"defaults", func(*Settings) {}, ""},
		{"port range", func(s *Settings) { s.TEMServerPort = 70000 }, "tem_server_port"},
		{"serializer", func(s *Settings) { s.Serializer = "pickle" }, "serializer"},
		{"buffer", func(s *Settings) { s.BufferSize = 8 }, "buffer_size"},
		{"poll", func(s *Settings) { s.PollInterval = 0 }, "poll_interval"},
		{"attempts", func(s *Settings) { s.Startup.Attempts = 0 }, "startup.attempts"},
		{"format", func(s *Settings) { s.Logging.Format = "xml" }, "logging.format"},
		{"mqtt broker", func(s *Settings) { s.MQTT.Enabled = true; s.MQTT.Broker = "" }, "mqtt.broker"},
		{"mqtt qos", func(s *Settings) { s.MQTT.QoS = 3 }, "mqtt.qos"},
		{"no microscope", func(s *Settings) { s.Microscope = "" }, "microscope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := defaultSettings()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	s := defaultSettings()

	t.Setenv("TEMBRIDGE_TEM_HOST", "10.0.0.5")
	t.Setenv("TEMBRIDGE_TEM_PORT", "7000")
	t.Setenv("TEMBRIDGE_CAM_HOST", "10.0.0.6")
	t.Setenv("TEMBRIDGE_CAM_PORT", "7001")
	t.Setenv("TEMBRIDGE_LOG_LEVEL", "warn")

	applyEnvOverrides(&s)

	if s.TEMAddress() != "10.0.0.5:7000" {
		t.Errorf("TEMAddress() = %q", s.TEMAddress())
	}
	if s.CamAddress() != "10.0.0.6:7001" {
		t.Errorf("CamAddress() = %q", s.CamAddress())
	}
	if s.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q", s.Logging.Level)
	}

	t.Setenv("TEMBRIDGE_TEM_PORT", "not-a-port")
	applyEnvOverrides(&s)
	if err := s.Validate(); err == nil {
		t.Error("expected validation error for unparseable port")
	}
}

func TestDir(t *testing.T) {
	t.Setenv(EnvConfigDir, "")
	if Dir("") != DefaultDir {
		t.Errorf("Dir(\"\") = %q", Dir(""))
	}
	t.Setenv(EnvConfigDir, "/etc/tembridge")
	if Dir("") != "/etc/tembridge" {
		t.Errorf("Dir from env = %q", Dir(""))
	}
	if Dir("./mine") != "./mine" {
		t.Errorf("flag should win, got %q", Dir("./mine"))
	}
}

func TestAddressIPv6(t *testing.T) {
	s := defaultSettings()
	s.TEMServerHost = "::1"
	if s.TEMAddress() != "[::1]:8088" {
		t.Errorf("TEMAddress() = %q", s.TEMAddress())
	}
}

func TestLoad_SampleConfig(t *testing.T) {
	for _, key := range []string{"TEMBRIDGE_TEM_HOST", "TEMBRIDGE_TEM_PORT", "TEMBRIDGE_CAM_HOST", "TEMBRIDGE_CAM_PORT", "TEMBRIDGE_LOG_LEVEL"} {
		t.Setenv(key, "")
	}
	dir := filepath.Join("..", "..", DefaultDir)

	cfg, err := Load(dir, "")
	if err != nil {
		t.Fatalf("Load(%s) error = %v", dir, err)
	}
	if !cfg.Camera.Found {
		t.Error("sample camera profile not found")
	}
	if got := cfg.Settings.TEMAddress(); got != "localhost:8088" {
		t.Errorf("TEMAddress() = %q, want localhost:8088", got)
	}
	if got := len(cfg.Microscope.Ranges["stage_a"]); got != 2 {
		t.Errorf("stage_a range has %d values, want 2", got)
	}

	serial, err := Load(dir, "serial")
	if err != nil {
		t.Fatalf("Load(%s, serial) error = %v", dir, err)
	}
	if serial.Microscope.Serial.Terminator != "\r\n" {
		t.Errorf("terminator = %q, want CRLF", serial.Microscope.Serial.Terminator)
	}
}
