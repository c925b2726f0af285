package simulate

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/tembridge/tembridge-go/pkg/config"
	"github.com/tembridge/tembridge-go/pkg/faults"
	"github.com/tembridge/tembridge-go/pkg/session"
)

// Function modes, in lens order.
var FunctionModes = []string{"lowmag", "mag1", "samag", "mag2", "diff"}

// Stage axes as they appear in a stage position.
const (
	AxisX = iota
	AxisY
	AxisZ
	AxisA
	AxisB
	numAxes
)

var axisNames = [numAxes]string{"x", "y", "z", "a", "b"}

// Default magnification tables per function mode. The diff table holds
// camera lengths in mm.
var defaultMagnifications = map[string][]float64{
	"lowmag": {50, 80, 100, 150, 200, 250, 300, 400, 500, 600, 800, 1000, 1200, 1500, 2000},
	"mag1":   {2500, 3000, 4000, 5000, 6000, 8000, 10000, 12000, 15000, 20000, 25000, 30000, 40000, 50000},
	"samag":  {5000, 6000, 8000, 10000, 12000, 15000, 20000},
	"mag2":   {60000, 80000, 100000, 120000, 150000, 200000, 250000, 300000, 400000, 500000},
	"diff":   {150, 200, 250, 300, 400, 500, 600, 800, 1000, 1200, 1500},
}

// Default stage travel limits. x, y and z are in nm, a and b in degrees.
var defaultStageLimits = [numAxes][2]float64{
	{-1_000_000, 1_000_000},
	{-1_000_000, 1_000_000},
	{-300_000, 300_000},
	{-70, 70},
	{-30, 30},
}

// Motion sets how fast the simulated stage travels at speed 1.0.
type Motion struct {
	// Translation is the x, y and z travel rate in nm/s.
	Translation float64

	// Rotation is the a and b travel rate in degrees/s.
	Rotation float64
}

// DefaultMotion approximates a real goniometer.
var DefaultMotion = Motion{Translation: 100_000, Rotation: 10}

// Microscope is a simulated transmission electron microscope.
type Microscope struct {
	name       string
	wavelength float64
	motion     Motion

	mags   map[string][]float64
	limits [numAxes][2]float64

	move          stageMove
	stageSpeed    float64
	rotationSpeed float64
	rotateAsync   bool

	mode       string
	magIndex   map[string]int
	brightness int64
	spotSize   int64
	focus      float64
	diffFocus  int64
	screen     string
	blanked    bool
	deflectors map[string][2]float64
}

// stageMove is a linear move between two stage positions.
type stageMove struct {
	from, to [numAxes]float64
	start    time.Time
	duration time.Duration
}

func (m stageMove) position(now time.Time) [numAxes]float64 {
	if m.duration <= 0 || !now.Before(m.start.Add(m.duration)) {
		return m.to
	}
	frac := float64(now.Sub(m.start)) / float64(m.duration)
	var p [numAxes]float64
	for i := range p {
		p[i] = m.from[i] + (m.to[i]-m.from[i])*frac
	}
	return p
}

func (m stageMove) moving(now time.Time) bool {
	return now.Before(m.start.Add(m.duration))
}

// Deflector and stigmator pairs reported as (x, y).
var deflectorNames = []string{
	"BeamShift", "BeamTilt", "GunShift", "GunTilt", "BeamAlignShift",
	"ImageShift1", "ImageShift2", "ImageBeamShift", "DiffShift",
	"DarkFieldTilt", "CondensorLensStigmator", "ObjectiveLensStigmator",
	"IntermediateLensStigmator",
}

// NewMicroscope creates a simulated microscope from a profile. Profile ranges
// named after a function mode replace that mode's magnification table;
// ranges named stage_x .. stage_b replace the travel limits.
func NewMicroscope(profile config.MicroscopeProfile, motion Motion) *Microscope {
	m := &Microscope{
		name:          profile.Name,
		wavelength:    profile.Wavelength,
		motion:        motion,
		mags:          make(map[string][]float64, len(defaultMagnifications)),
		limits:        defaultStageLimits,
		stageSpeed:    0.5,
		rotationSpeed: 1.0,
		mode:          "mag1",
		magIndex:      make(map[string]int, len(FunctionModes)),
		brightness:    32768,
		spotSize:      3,
		diffFocus:     32768,
		screen:        "up",
		deflectors:    make(map[string][2]float64, len(deflectorNames)),
	}
	if m.name == "" {
		m.name = config.InterfaceSimulate
	}
	if m.motion.Translation <= 0 {
		m.motion.Translation = DefaultMotion.Translation
	}
	if m.motion.Rotation <= 0 {
		m.motion.Rotation = DefaultMotion.Rotation
	}

	for mode, table := range defaultMagnifications {
		m.mags[mode] = table
	}
	for name, values := range profile.Ranges {
		if _, ok := m.mags[name]; ok && len(values) > 0 {
			m.mags[name] = slices.Sorted(slices.Values(values))
			continue
		}
		for i, axis := range axisNames {
			if name == "stage_"+axis && len(values) == 2 {
				m.limits[i] = [2]float64{min(values[0], values[1]), max(values[0], values[1])}
			}
		}
	}
	for _, mode := range FunctionModes {
		m.magIndex[mode] = len(m.mags[mode]) / 2
	}
	for _, name := range deflectorNames {
		m.deflectors[name] = [2]float64{0, 0}
	}
	return m
}

// Name returns the profile name.
func (m *Microscope) Name() string { return m.name }

// Close halts any stage move in progress.
func (m *Microscope) Close() error {
	p := m.position()
	m.move = stageMove{from: p, to: p}
	return nil
}

// Register adds the microscope selectors to r.
func (m *Microscope) Register(r *session.Registry) error {
	ops := map[string]session.OperationFunc{
		"getStagePosition":       m.getStagePosition,
		"setStagePosition":       m.setStagePosition,
		"setStageA":              m.setStageA,
		"setRotationSpeed":       m.setRotationSpeed,
		"getStageSpeed":          m.getStageSpeed,
		"isStageMoving":          m.isStageMoving,
		"waitForStage":           m.waitForStage,
		"stopStage":              m.stopStage,
		"getHolderType":          constant("DoubleTilt"),
		"is_goniotool_available": constant(false),
		"isAThreadAlive":         m.isAThreadAlive,
		"getHTValue":             constant(200_000.0),
		"getFunctionMode":        m.getFunctionMode,
		"setFunctionMode":        m.setFunctionMode,
		"getMagnification":       m.getMagnification,
		"setMagnification":       m.setMagnification,
		"getMagnificationIndex":  m.getMagnificationIndex,
		"setMagnificationIndex":  m.setMagnificationIndex,
		"getMagnificationRanges": m.getMagnificationRanges,
		"getBrightness":          m.getBrightness,
		"setBrightness":          m.setBrightness,
		"getSpotSize":            m.getSpotSize,
		"setSpotSize":            m.setSpotSize,
		"isBeamBlanked":          m.isBeamBlanked,
		"setBeamBlank":           m.setBeamBlank,
		"getScreenPosition":      m.getScreenPosition,
		"setScreenPosition":      m.setScreenPosition,
		"isfocusscreenin":        constant(false),
		"getDiffFocus":           m.getDiffFocus,
		"setDiffFocus":           m.setDiffFocus,
		"getFocus":               m.getFocus,
		"setFocus":               m.setFocus,
	}
	for _, name := range deflectorNames {
		ops["get"+name] = m.getDeflector(name)
		ops["set"+name] = m.setDeflector(name)
	}
	for name, fn := range ops {
		if err := r.Operation(name, fn); err != nil {
			return err
		}
	}
	if err := r.Value("name", m.name); err != nil {
		return err
	}
	return r.Value("wavelength", m.wavelength)
}

func constant(v any) session.OperationFunc {
	return func(_ context.Context, args []any, kwargs map[string]any) (any, error) {
		if _, err := session.Bind(args, kwargs); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// Stage

func (m *Microscope) position() [numAxes]float64 {
	return m.move.position(time.Now())
}

func (m *Microscope) getStagePosition(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	if _, err := session.Bind(args, kwargs); err != nil {
		return nil, err
	}
	p := m.position()
	return []any{p[AxisX], p[AxisY], p[AxisZ], p[AxisA], p[AxisB]}, nil
}

func (m *Microscope) setStagePosition(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	p, err := session.Bind(args, kwargs, "x", "y", "z", "a", "b", "wait", "speed")
	if err != nil {
		return nil, err
	}
	target := m.position()
	for i, axis := range axisNames {
		if target[i], err = p.Float(axis, target[i]); err != nil {
			return nil, err
		}
	}
	wait, err := p.Bool("wait", true)
	if err != nil {
		return nil, err
	}
	speed, err := p.Float("speed", m.stageSpeed)
	if err != nil {
		return nil, err
	}
	return nil, m.moveTo(ctx, target, speed, wait)
}

func (m *Microscope) setStageA(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	p, err := session.Bind(args, kwargs, "a", "wait")
	if err != nil {
		return nil, err
	}
	target := m.position()
	if target[AxisA], err = p.Float("a", target[AxisA]); err != nil {
		return nil, err
	}
	wait, err := p.Bool("wait", true)
	if err != nil {
		return nil, err
	}
	if err := m.moveTo(ctx, target, m.rotationSpeed, wait); err != nil {
		return nil, err
	}
	m.rotateAsync = !wait
	return nil, nil
}

// moveTo starts a move to target. A new move replaces one in progress.
func (m *Microscope) moveTo(ctx context.Context, target [numAxes]float64, speed float64, wait bool) error {
	if err := checkSpeed(speed); err != nil {
		return err
	}
	for i, v := range target {
		lim := m.limits[i]
		if math.IsNaN(v) || v < lim[0] || v > lim[1] {
			return faults.Newf(faults.ValueError, "%s=%g outside stage limits [%g, %g]", axisNames[i], v, lim[0], lim[1])
		}
	}

	now := time.Now()
	from := m.move.position(now)
	var seconds float64
	for i := range target {
		rate := m.motion.Translation
		if i == AxisA || i == AxisB {
			rate = m.motion.Rotation
		}
		seconds = max(seconds, math.Abs(target[i]-from[i])/(rate*speed))
	}
	m.move = stageMove{
		from:     from,
		to:       target,
		start:    now,
		duration: time.Duration(seconds * float64(time.Second)),
	}
	m.rotateAsync = false
	if !wait {
		return nil
	}
	return sleep(ctx, m.move.duration)
}

func checkSpeed(speed float64) error {
	if !(speed > 0 && speed <= 1) {
		return faults.Newf(faults.ValueError, "speed=%g must be in (0, 1]", speed)
	}
	return nil
}

func (m *Microscope) setRotationSpeed(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	p, err := session.Bind(args, kwargs, "speed")
	if err != nil {
		return nil, err
	}
	if !p.Has("speed") {
		return m.rotationSpeed, nil
	}
	speed, err := p.Float("speed", 0)
	if err != nil {
		return nil, err
	}
	if err := checkSpeed(speed); err != nil {
		return nil, err
	}
	m.rotationSpeed = speed
	return nil, nil
}

func (m *Microscope) getStageSpeed(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	if _, err := session.Bind(args, kwargs); err != nil {
		return nil, err
	}
	return m.stageSpeed, nil
}

func (m *Microscope) isStageMoving(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	if _, err := session.Bind(args, kwargs); err != nil {
		return nil, err
	}
	return m.move.moving(time.Now()), nil
}

func (m *Microscope) isAThreadAlive(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	if _, err := session.Bind(args, kwargs); err != nil {
		return nil, err
	}
	return m.rotateAsync && m.move.moving(time.Now()), nil
}

func (m *Microscope) waitForStage(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	p, err := session.Bind(args, kwargs, "delay")
	if err != nil {
		return nil, err
	}
	delay, err := p.Float("delay", 0.1)
	if err != nil {
		return nil, err
	}
	if delay <= 0 {
		return nil, faults.Newf(faults.ValueError, "delay=%g must be positive", delay)
	}
	tick := time.Duration(delay * float64(time.Second))
	for m.move.moving(time.Now()) {
		if err := sleep(ctx, tick); err != nil {
			return nil, err
		}
	}
	m.rotateAsync = false
	return nil, nil
}

func (m *Microscope) stopStage(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	if _, err := session.Bind(args, kwargs); err != nil {
		return nil, err
	}
	p := m.position()
	m.move = stageMove{from: p, to: p}
	m.rotateAsync = false
	return nil, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return faults.Newf(faults.Timeout, "interrupted: %v", ctx.Err())
	}
}

// Optics

func (m *Microscope) getFunctionMode(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	if _, err := session.Bind(args, kwargs); err != nil {
		return nil, err
	}
	return m.mode, nil
}

func (m *Microscope) setFunctionMode(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	p, err := session.Bind(args, kwargs, "value")
	if err != nil {
		return nil, err
	}
	mode, err := p.String("value", "")
	if err != nil {
		return nil, err
	}
	if !slices.Contains(FunctionModes, mode) {
		return nil, faults.Newf(faults.ValueError, "unknown function mode %q", mode)
	}
	m.mode = mode
	return m.mode, nil
}

func (m *Microscope) getMagnification(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	if _, err := session.Bind(args, kwargs); err != nil {
		return nil, err
	}
	return m.mags[m.mode][m.magIndex[m.mode]], nil
}

func (m *Microscope) setMagnification(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	p, err := session.Bind(args, kwargs, "value")
	if err != nil {
		return nil, err
	}
	value, err := p.Float("value", math.NaN())
	if err != nil {
		return nil, err
	}
	i := slices.Index(m.mags[m.mode], value)
	if i < 0 {
		return nil, faults.Newf(faults.ValueError, "magnification %g not available in %s mode", value, m.mode)
	}
	m.magIndex[m.mode] = i
	return value, nil
}

func (m *Microscope) getMagnificationIndex(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	if _, err := session.Bind(args, kwargs); err != nil {
		return nil, err
	}
	return int64(m.magIndex[m.mode]), nil
}

func (m *Microscope) setMagnificationIndex(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	p, err := session.Bind(args, kwargs, "index")
	if err != nil {
		return nil, err
	}
	index, err := p.Int("index", -1)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= int64(len(m.mags[m.mode])) {
		return nil, faults.Newf(faults.ValueError, "magnification index %d out of range for %s mode", index, m.mode)
	}
	m.magIndex[m.mode] = int(index)
	return index, nil
}

func (m *Microscope) getMagnificationRanges(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	if _, err := session.Bind(args, kwargs); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(m.mags))
	for mode, table := range m.mags {
		out[mode] = slices.Clone(table)
	}
	return out, nil
}

func (m *Microscope) getBrightness(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	if _, err := session.Bind(args, kwargs); err != nil {
		return nil, err
	}
	return m.brightness, nil
}

func (m *Microscope) setBrightness(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	v, err := intSetpoint(args, kwargs, "value", 0, 65535)
	if err != nil {
		return nil, err
	}
	m.brightness = v
	return nil, nil
}

func (m *Microscope) getSpotSize(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	if _, err := session.Bind(args, kwargs); err != nil {
		return nil, err
	}
	return m.spotSize, nil
}

func (m *Microscope) setSpotSize(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	v, err := intSetpoint(args, kwargs, "value", 1, 11)
	if err != nil {
		return nil, err
	}
	m.spotSize = v
	return nil, nil
}

func (m *Microscope) isBeamBlanked(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	if _, err := session.Bind(args, kwargs); err != nil {
		return nil, err
	}
	return m.blanked, nil
}

func (m *Microscope) setBeamBlank(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	p, err := session.Bind(args, kwargs, "mode")
	if err != nil {
		return nil, err
	}
	if m.blanked, err = p.Bool("mode", true); err != nil {
		return nil, err
	}
	return nil, nil
}

func (m *Microscope) getScreenPosition(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	if _, err := session.Bind(args, kwargs); err != nil {
		return nil, err
	}
	return m.screen, nil
}

func (m *Microscope) setScreenPosition(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	p, err := session.Bind(args, kwargs, "value")
	if err != nil {
		return nil, err
	}
	value, err := p.String("value", "")
	if err != nil {
		return nil, err
	}
	if value != "up" && value != "down" {
		return nil, faults.Newf(faults.ValueError, "screen position must be up or down, got %q", value)
	}
	m.screen = value
	return nil, nil
}

func (m *Microscope) getDiffFocus(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	if _, err := session.Bind(args, kwargs); err != nil {
		return nil, err
	}
	return m.diffFocus, nil
}

func (m *Microscope) setDiffFocus(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	if m.mode != "diff" {
		return nil, faults.Newf(faults.DeviceFault, "diffraction focus requires diff mode, not %s", m.mode)
	}
	v, err := intSetpoint(args, kwargs, "value", 1, 65535)
	if err != nil {
		return nil, err
	}
	m.diffFocus = v
	return nil, nil
}

func (m *Microscope) getFocus(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	if _, err := session.Bind(args, kwargs); err != nil {
		return nil, err
	}
	return m.focus, nil
}

func (m *Microscope) setFocus(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	p, err := session.Bind(args, kwargs, "value")
	if err != nil {
		return nil, err
	}
	v, err := p.Float("value", math.NaN())
	if err != nil {
		return nil, err
	}
	if !(v > -1 && v < 1) {
		return nil, faults.Newf(faults.ValueError, "focus %g outside (-1, 1)", v)
	}
	m.focus = v
	return nil, nil
}

func (m *Microscope) getDeflector(name string) session.OperationFunc {
	return func(_ context.Context, args []any, kwargs map[string]any) (any, error) {
		if _, err := session.Bind(args, kwargs); err != nil {
			return nil, err
		}
		v := m.deflectors[name]
		return []any{v[0], v[1]}, nil
	}
}

func (m *Microscope) setDeflector(name string) session.OperationFunc {
	return func(_ context.Context, args []any, kwargs map[string]any) (any, error) {
		p, err := session.Bind(args, kwargs, "x", "y")
		if err != nil {
			return nil, err
		}
		v := m.deflectors[name]
		for i, axis := range []string{"x", "y"} {
			if v[i], err = p.Float(axis, v[i]); err != nil {
				return nil, err
			}
			if v[i] < -1 || v[i] > 1 {
				return nil, faults.Newf(faults.ValueError, "%s %s=%g outside [-1, 1]", name, axis, v[i])
			}
		}
		m.deflectors[name] = v
		return nil, nil
	}
}

func intSetpoint(args []any, kwargs map[string]any, name string, lo, hi int64) (int64, error) {
	p, err := session.Bind(args, kwargs, name)
	if err != nil {
		return 0, err
	}
	if !p.Has(name) {
		return 0, faults.Newf(faults.InvalidArguments, "missing required argument %q", name)
	}
	v, err := p.Int(name, 0)
	if err != nil {
		return 0, err
	}
	if v < lo || v > hi {
		return 0, faults.New(faults.ValueError, fmt.Sprintf("%s=%d outside [%d, %d]", name, v, lo, hi))
	}
	return v, nil
}
