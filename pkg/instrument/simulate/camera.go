package simulate

import (
	"context"
	"slices"
	"time"

	"github.com/tembridge/tembridge-go/pkg/config"
	"github.com/tembridge/tembridge-go/pkg/faults"
	"github.com/tembridge/tembridge-go/pkg/session"
)

// Camera defaults used when the profile leaves a field unset.
const (
	DefaultCameraSize      = 64
	DefaultCameraBinsize   = 1
	DefaultCameraExposure  = 0.01
	maxCameraPixelValue    = 4096
	defaultCameraMovieSize = 1
)

// Camera is a simulated camera. Frames are synthetic gradients.
type Camera struct {
	name       string
	dimensions [2]int
	binsize    int
	exposure   float64
	binsizes   []int

	rotation         float64
	stretchAmplitude float64
	stretchAzimuth   float64

	frames int
}

// NewCamera creates a simulated camera from a profile.
func NewCamera(profile config.CameraProfile) *Camera {
	c := &Camera{
		name:             profile.Name,
		dimensions:       [2]int{DefaultCameraSize, DefaultCameraSize},
		binsize:          profile.DefaultBinsize,
		exposure:         profile.DefaultExposure,
		binsizes:         slices.Clone(profile.PossibleBinsizes),
		rotation:         profile.CameraRotationVsStageXY,
		stretchAmplitude: profile.StretchAmplitude,
		stretchAzimuth:   profile.StretchAzimuth,
	}
	if c.name == "" {
		c.name = config.InterfaceSimulate
	}
	if len(profile.Dimensions) == 2 && profile.Dimensions[0] > 0 && profile.Dimensions[1] > 0 {
		c.dimensions = [2]int{profile.Dimensions[0], profile.Dimensions[1]}
	}
	if c.binsize <= 0 {
		c.binsize = DefaultCameraBinsize
	}
	if c.exposure <= 0 {
		c.exposure = DefaultCameraExposure
	}
	if len(c.binsizes) == 0 {
		c.binsizes = []int{1, 2, 4}
	}
	if !slices.Contains(c.binsizes, c.binsize) {
		c.binsizes = append(c.binsizes, c.binsize)
		slices.Sort(c.binsizes)
	}
	return c
}

// Name returns the camera name.
func (c *Camera) Name() string { return c.name }

// Close is a no-op.
func (c *Camera) Close() error { return nil }

// Register adds the camera selectors to r.
func (c *Camera) Register(r *session.Registry) error {
	ops := map[string]session.OperationFunc{
		"get_binning":           c.getBinning,
		"get_camera_dimensions": c.getCameraDimensions,
		"get_image_dimensions":  c.getImageDimensions,
		"get_image":             c.getImage,
		"get_movie":             c.getMovie,
		"get_name":              constant(c.name),
	}
	for name, fn := range ops {
		if err := r.Operation(name, fn); err != nil {
			return err
		}
	}

	values := map[string]any{
		"name":                        c.name,
		"dimensions":                  []int{c.dimensions[0], c.dimensions[1]},
		"default_binsize":             c.binsize,
		"default_exposure":            c.exposure,
		"possible_binsizes":           slices.Clone(c.binsizes),
		"streamable":                  true,
		"camera_rotation_vs_stage_xy": c.rotation,
		"stretch_amplitude":           c.stretchAmplitude,
		"stretch_azimuth":             c.stretchAzimuth,
	}
	for name, v := range values {
		if err := r.Value(name, v); err != nil {
			return err
		}
	}
	return nil
}

func (c *Camera) getBinning(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	if _, err := session.Bind(args, kwargs); err != nil {
		return nil, err
	}
	return c.binsize, nil
}

func (c *Camera) getCameraDimensions(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	if _, err := session.Bind(args, kwargs); err != nil {
		return nil, err
	}
	return []int{c.dimensions[0], c.dimensions[1]}, nil
}

// getImageDimensions reports the frame size at the default binning.
func (c *Camera) getImageDimensions(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	if _, err := session.Bind(args, kwargs); err != nil {
		return nil, err
	}
	return []int{c.dimensions[0] / c.binsize, c.dimensions[1] / c.binsize}, nil
}

func (c *Camera) getImage(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	p, err := session.Bind(args, kwargs, "exposure", "binning")
	if err != nil {
		return nil, err
	}
	exposure, binning, err := c.acquisition(p, "binning")
	if err != nil {
		return nil, err
	}
	return c.acquire(ctx, exposure, binning)
}

func (c *Camera) getMovie(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	p, err := session.Bind(args, kwargs, "n_frames", "exposure", "binsize")
	if err != nil {
		return nil, err
	}
	n, err := p.Int("n_frames", defaultCameraMovieSize)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, faults.Newf(faults.ValueError, "n_frames=%d must be positive", n)
	}
	exposure, binning, err := c.acquisition(p, "binsize")
	if err != nil {
		return nil, err
	}
	movie := make([]any, 0, n)
	for range n {
		frame, err := c.acquire(ctx, exposure, binning)
		if err != nil {
			return nil, err
		}
		movie = append(movie, frame)
	}
	return movie, nil
}

// acquisition resolves exposure and binning, falling back to the defaults.
func (c *Camera) acquisition(p session.Params, binName string) (float64, int, error) {
	exposure, err := p.Float("exposure", c.exposure)
	if err != nil {
		return 0, 0, err
	}
	if exposure <= 0 {
		return 0, 0, faults.Newf(faults.ValueError, "exposure=%g must be positive", exposure)
	}
	binning, err := p.Int(binName, int64(c.binsize))
	if err != nil {
		return 0, 0, err
	}
	if !slices.Contains(c.binsizes, int(binning)) {
		return 0, 0, faults.Newf(faults.ValueError, "%s=%d not in %v", binName, binning, c.binsizes)
	}
	return exposure, int(binning), nil
}

// acquire exposes for the requested time and returns a rows x cols frame.
func (c *Camera) acquire(ctx context.Context, exposure float64, binning int) ([][]int, error) {
	if err := sleep(ctx, time.Duration(exposure*float64(time.Second))); err != nil {
		return nil, err
	}
	c.frames++
	rows, cols := c.dimensions[0]/binning, c.dimensions[1]/binning
	frame := make([][]int, rows)
	for r := range frame {
		row := make([]int, cols)
		for col := range row {
			row[col] = (r*binning + col*binning + c.frames) * binning * binning % maxCameraPixelValue
		}
		frame[r] = row
	}
	return frame, nil
}
