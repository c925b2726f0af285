// Package instrument builds session openers from configuration profiles.
package instrument

import (
	"context"
	"errors"
	"fmt"

	"github.com/tembridge/tembridge-go/pkg/config"
	"github.com/tembridge/tembridge-go/pkg/instrument/serialline"
	"github.com/tembridge/tembridge-go/pkg/instrument/simulate"
	"github.com/tembridge/tembridge-go/pkg/session"
)

// ErrUnsupportedInterface is returned for a profile interface with no driver.
var ErrUnsupportedInterface = errors.New("unsupported instrument interface")

// Microscope returns an opener for the microscope described by profile.
func Microscope(profile config.MicroscopeProfile) (session.Opener, error) {
	switch profile.Interface {
	case config.InterfaceSimulate, "":
		return func(context.Context) (session.Driver, error) {
			return simulate.NewMicroscope(profile, simulate.DefaultMotion), nil
		}, nil
	case config.InterfaceSerial:
		return serialline.Opener(profile.Name, profile.Serial, serialline.OpenPort), nil
	default:
		return nil, fmt.Errorf("%w: microscope %q uses %q", ErrUnsupportedInterface, profile.Name, profile.Interface)
	}
}

// Camera returns an opener for the camera described by profile.
func Camera(profile config.CameraProfile) (session.Opener, error) {
	switch profile.Interface {
	case config.InterfaceSimulate, "":
		return func(context.Context) (session.Driver, error) {
			return simulate.NewCamera(profile), nil
		}, nil
	default:
		return nil, fmt.Errorf("%w: camera %q uses %q", ErrUnsupportedInterface, profile.Name, profile.Interface)
	}
}
