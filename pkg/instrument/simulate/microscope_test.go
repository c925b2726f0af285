package simulate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tembridge/tembridge-go/pkg/config"
	"github.com/tembridge/tembridge-go/pkg/faults"
	"github.com/tembridge/tembridge-go/pkg/session"
)

// fastMotion moves 10_000 nm in 10 ms and 1 degree in 10 ms at speed 1.
var fastMotion = Motion{Translation: 1_000_000, Rotation: 100}

func openMicroscope(t *testing.T, profile config.MicroscopeProfile) *session.Session {
	t.Helper()
	scope := NewMicroscope(profile, fastMotion)
	s := session.New(func(context.Context) (session.Driver, error) { return scope, nil })
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func invoke(t *testing.T, s *session.Session, selector string, args []any, kwargs map[string]any) any {
	t.Helper()
	v, err := s.Invoke(context.Background(), selector, args, kwargs)
	require.NoError(t, err, selector)
	return v
}

func stagePosition(t *testing.T, s *session.Session) []any {
	t.Helper()
	p, ok := invoke(t, s, "getStagePosition", nil, nil).([]any)
	require.True(t, ok)
	require.Len(t, p, 5)
	return p
}

func TestMicroscopeStatus(t *testing.T) {
	s := openMicroscope(t, config.MicroscopeProfile{Name: "simulate", Wavelength: 0.02508})

	assert.Equal(t, 0.5, invoke(t, s, "getStageSpeed", nil, nil))
	assert.Equal(t, false, invoke(t, s, "isStageMoving", nil, nil))
	assert.Equal(t, false, invoke(t, s, "is_goniotool_available", nil, nil))
	assert.Equal(t, false, invoke(t, s, "isAThreadAlive", nil, nil))
	assert.Equal(t, false, invoke(t, s, "isfocusscreenin", nil, nil))
	assert.Equal(t, false, invoke(t, s, "isBeamBlanked", nil, nil))
	assert.IsType(t, "", invoke(t, s, "getHolderType", nil, nil))
	assert.IsType(t, float64(0), invoke(t, s, "getHTValue", nil, nil))
	assert.Contains(t, []any{"up", "down", ""}, invoke(t, s, "getScreenPosition", nil, nil))

	name, err := s.ReadAttribute(context.Background(), "name")
	require.NoError(t, err)
	assert.Equal(t, "simulate", name)
	wl, err := s.ReadAttribute(context.Background(), "wavelength")
	require.NoError(t, err)
	assert.Equal(t, 0.02508, wl)
}

func TestMicroscopeLensReadings(t *testing.T) {
	s := openMicroscope(t, config.MicroscopeProfile{})

	diff, ok := invoke(t, s, "getDiffFocus", nil, nil).(int64)
	require.True(t, ok)
	assert.Greater(t, diff, int64(0))
	assert.Less(t, diff, int64(65536))

	focus, ok := invoke(t, s, "getFocus", nil, nil).(float64)
	require.True(t, ok)
	assert.Greater(t, focus, -1.0)
	assert.Less(t, focus, 1.0)

	shift, ok := invoke(t, s, "getImageShift1", nil, nil).([]any)
	require.True(t, ok)
	assert.Equal(t, 0.0, shift[0])

	for _, name := range []string{"getBeamShift", "getBeamTilt", "getDiffShift", "getObjectiveLensStigmator"} {
		v, ok := invoke(t, s, name, nil, nil).([]any)
		require.True(t, ok, name)
		assert.IsType(t, float64(0), v[0], name)
	}
}

func TestMicroscopeFunctionModeRoundTrip(t *testing.T) {
	s := openMicroscope(t, config.MicroscopeProfile{})

	mode := invoke(t, s, "getFunctionMode", nil, nil)
	got := invoke(t, s, "setFunctionMode", []any{mode}, nil)
	assert.Contains(t, []any{"lowmag", "mag1", "samag", "mag2", "diff"}, got)

	_, err := s.Invoke(context.Background(), "setFunctionMode", []any{"imaging"}, nil)
	assert.ErrorIs(t, err, faults.ValueError)
}

func TestMicroscopeMagnification(t *testing.T) {
	s := openMicroscope(t, config.MicroscopeProfile{
		Ranges: map[string][]float64{"mag1": {38000, 21000, 28500}},
	})

	mag := invoke(t, s, "getMagnification", nil, nil)
	assert.IsType(t, float64(0), mag)
	assert.Equal(t, 28500.0, mag)
	assert.Equal(t, 38000.0, invoke(t, s, "setMagnification", []any{38000}, nil))
	assert.Equal(t, int64(2), invoke(t, s, "getMagnificationIndex", nil, nil))

	idx := invoke(t, s, "setMagnificationIndex", []any{int64(0)}, nil)
	assert.IsType(t, int64(0), idx)
	assert.Equal(t, 21000.0, invoke(t, s, "getMagnification", nil, nil))

	_, err := s.Invoke(context.Background(), "setMagnification", []any{12345.0}, nil)
	assert.ErrorIs(t, err, faults.ValueError)
	_, err = s.Invoke(context.Background(), "setMagnificationIndex", []any{3}, nil)
	assert.ErrorIs(t, err, faults.ValueError)

	// Each mode keeps its own index.
	invoke(t, s, "setFunctionMode", []any{"lowmag"}, nil)
	invoke(t, s, "setMagnificationIndex", []any{0}, nil)
	invoke(t, s, "setFunctionMode", []any{"mag1"}, nil)
	assert.Equal(t, 21000.0, invoke(t, s, "getMagnification", nil, nil))
}

func TestMicroscopeStagePosition(t *testing.T) {
	s := openMicroscope(t, config.MicroscopeProfile{})

	invoke(t, s, "setStagePosition", []any{0, 0, 0, 0, 0}, nil)
	assert.Equal(t, []any{0.0, 0.0, 0.0, 0.0, 0.0}, stagePosition(t, s))

	invoke(t, s, "setStagePosition", nil, map[string]any{"x": 10_000, "y": 10_000})
	p := stagePosition(t, s)
	assert.InDelta(t, 10_000, p[AxisX], 1)
	assert.InDelta(t, 10_000, p[AxisY], 1)
	assert.InDelta(t, 0, p[AxisZ], 1)

	invoke(t, s, "setStagePosition", nil, map[string]any{"z": 10_000})
	p = stagePosition(t, s)
	assert.InDelta(t, 10_000, p[AxisX], 1)
	assert.InDelta(t, 10_000, p[AxisZ], 1)

	invoke(t, s, "setStagePosition", nil, map[string]any{"a": 10})
	assert.InDelta(t, 10, stagePosition(t, s)[AxisA], 0.01)

	invoke(t, s, "setStageA", []any{0}, nil)
	assert.InDelta(t, 0, stagePosition(t, s)[AxisA], 0.01)
}

func TestMicroscopeStageLimits(t *testing.T) {
	s := openMicroscope(t, config.MicroscopeProfile{
		Ranges: map[string][]float64{"stage_a": {-40, 40}},
	})

	tests := []struct {
		name   string
		kwargs map[string]any
		kind   faults.Kind
	}{
		{"tilt beyond profile limit", map[string]any{"a": 45}, faults.ValueError},
		{"x beyond travel", map[string]any{"x": 2_000_000}, faults.ValueError},
		{"zero speed", map[string]any{"x": 0, "speed": 0}, faults.ValueError},
		{"unknown keyword", map[string]any{"q": 1}, faults.InvalidArguments},
		{"wrong type", map[string]any{"x": "far"}, faults.InvalidArguments},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Invoke(context.Background(), "setStagePosition", nil, tt.kwargs)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestMicroscopeSlowerSpeedTakesLonger(t *testing.T) {
	s := openMicroscope(t, config.MicroscopeProfile{})
	invoke(t, s, "setStagePosition", []any{0, 0, 0, 0, 0}, nil)

	timed := func(kwargs map[string]any) time.Duration {
		start := time.Now()
		invoke(t, s, "setStagePosition", nil, kwargs)
		return time.Since(start)
	}
	fast := timed(map[string]any{"x": 10_000, "speed": 1.0})
	slow := timed(map[string]any{"x": 0, "speed": 0.2})
	assert.Less(t, fast, slow)
}

func TestMicroscopeRotationSpeed(t *testing.T) {
	s := openMicroscope(t, config.MicroscopeProfile{})

	assert.Equal(t, 1.0, invoke(t, s, "setRotationSpeed", nil, nil))
	assert.Nil(t, invoke(t, s, "setRotationSpeed", []any{0.02}, nil))
	assert.Equal(t, 0.02, invoke(t, s, "setRotationSpeed", nil, nil))

	_, err := s.Invoke(context.Background(), "setRotationSpeed", []any{1.5}, nil)
	assert.ErrorIs(t, err, faults.ValueError)
}

func TestMicroscopeAsyncRotation(t *testing.T) {
	s := openMicroscope(t, config.MicroscopeProfile{})
	invoke(t, s, "setStageA", []any{0}, nil)

	start := time.Now()
	invoke(t, s, "setStageA", nil, map[string]any{"a": 5, "wait": false})
	returned := time.Since(start)

	assert.Equal(t, true, invoke(t, s, "isStageMoving", nil, nil))
	assert.Equal(t, true, invoke(t, s, "isAThreadAlive", nil, nil))

	invoke(t, s, "waitForStage", nil, map[string]any{"delay": 0.005})
	waited := time.Since(start)

	assert.Less(t, returned, waited)
	assert.Equal(t, false, invoke(t, s, "isStageMoving", nil, nil))
	assert.Equal(t, false, invoke(t, s, "isAThreadAlive", nil, nil))
	assert.InDelta(t, 5, stagePosition(t, s)[AxisA], 0.01)
}

func TestMicroscopeSetpoints(t *testing.T) {
	s := openMicroscope(t, config.MicroscopeProfile{})
	ctx := context.Background()

	invoke(t, s, "setBrightness", []any{100}, nil)
	assert.Equal(t, int64(100), invoke(t, s, "getBrightness", nil, nil))
	_, err := s.Invoke(ctx, "setBrightness", []any{70000}, nil)
	assert.ErrorIs(t, err, faults.ValueError)

	invoke(t, s, "setSpotSize", []any{5}, nil)
	assert.Equal(t, int64(5), invoke(t, s, "getSpotSize", nil, nil))
	_, err = s.Invoke(ctx, "setSpotSize", nil, nil)
	assert.ErrorIs(t, err, faults.InvalidArguments)

	invoke(t, s, "setScreenPosition", []any{"down"}, nil)
	assert.Equal(t, "down", invoke(t, s, "getScreenPosition", nil, nil))

	invoke(t, s, "setBeamBlank", []any{true}, nil)
	assert.Equal(t, true, invoke(t, s, "isBeamBlanked", nil, nil))

	invoke(t, s, "setBeamShift", []any{0.25, -0.5}, nil)
	assert.Equal(t, []any{0.25, -0.5}, invoke(t, s, "getBeamShift", nil, nil))
	_, err = s.Invoke(ctx, "setBeamShift", nil, map[string]any{"x": 2})
	assert.ErrorIs(t, err, faults.ValueError)

	_, err = s.Invoke(ctx, "setDiffFocus", []any{100}, nil)
	assert.ErrorIs(t, err, faults.DeviceFault)
	invoke(t, s, "setFunctionMode", []any{"diff"}, nil)
	invoke(t, s, "setDiffFocus", []any{100}, nil)
	assert.Equal(t, int64(100), invoke(t, s, "getDiffFocus", nil, nil))
}

func TestMicroscopeRejectsArgumentsOnGetters(t *testing.T) {
	s := openMicroscope(t, config.MicroscopeProfile{})
	_, err := s.Invoke(context.Background(), "getStagePosition", []any{1}, nil)
	assert.ErrorIs(t, err, faults.InvalidArguments)
}
