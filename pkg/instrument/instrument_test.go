package instrument

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tembridge/tembridge-go/pkg/config"
	"github.com/tembridge/tembridge-go/pkg/instrument/simulate"
)

func TestMicroscopeSimulate(t *testing.T) {
	open, err := Microscope(config.MicroscopeProfile{Name: "simulate", Interface: config.InterfaceSimulate})
	require.NoError(t, err)

	drv, err := open(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &simulate.Microscope{}, drv)
	assert.Equal(t, "simulate", drv.Name())
}

func TestMicroscopeSerialOpenFails(t *testing.T) {
	open, err := Microscope(config.MicroscopeProfile{
		Name:      "tecnai",
		Interface: config.InterfaceSerial,
		Serial:    config.SerialConfig{Port: "/nonexistent/tty", BaudRate: 9600},
	})
	require.NoError(t, err)

	_, err = open(context.Background())
	assert.Error(t, err)
}

func TestUnsupportedInterfaces(t *testing.T) {
	_, err := Microscope(config.MicroscopeProfile{Interface: "tecnai-com"})
	assert.ErrorIs(t, err, ErrUnsupportedInterface)

	_, err = Camera(config.CameraProfile{Interface: "serial"})
	assert.ErrorIs(t, err, ErrUnsupportedInterface)
}

func TestCameraSimulate(t *testing.T) {
	open, err := Camera(config.CameraProfile{Name: "simcam"})
	require.NoError(t, err)

	drv, err := open(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &simulate.Camera{}, drv)
	assert.Equal(t, "simcam", drv.Name())
}
