package calib

import (
	"fmt"
	"math"
)

// CameraParams holds the pinhole intrinsics and mounting extrinsics of the camera.
// Pitch is in radians, positive when the camera looks down.
type CameraParams struct {
	Height        float64 `json:"height" yaml:"height"`
	Pitch         float64 `json:"pitch" yaml:"pitch"`
	Fx            float64 `json:"fx" yaml:"fx"`
	Fy            float64 `json:"fy" yaml:"fy"`
	Cx            float64 `json:"cx" yaml:"cx"`
	Cy            float64 `json:"cy" yaml:"cy"`
	ForwardOffset float64 `json:"forward_offset,omitempty" yaml:"forwardOffset,omitempty"` // camera mount Y in the BEV frame
}

// RadarParams holds the radar mounting offsets, expressed in the BEV axis convention.
// Elevation is carried for persistence only; no transform reads it.
type RadarParams struct {
	Yaw       float64 `json:"yaw" yaml:"yaw"`
	Elevation float64 `json:"elevation,omitempty" yaml:"elevation,omitempty"`
	XOffset   float64 `json:"x_offset" yaml:"xOffset"`
	YOffset   float64 `json:"y_offset" yaml:"yOffset"`
}

// Params is the full parameter model for one calibration session
type Params struct {
	Camera CameraParams `json:"camera" yaml:"camera"`
	Radar  RadarParams  `json:"radar" yaml:"radar"`
}

// DefaultCamera returns a 1280x960 camera mounted 1.5m above the ground, level.
func DefaultCamera() CameraParams {
	return CameraParams{Height: 1.5, Fx: 1000, Fy: 1000, Cx: 640, Cy: 480}
}

// DefaultParams returns the default camera with a radar at the vehicle origin
func DefaultParams() Params {
	return Params{Camera: DefaultCamera()}
}

// Validate checks that the parameters describe a usable camera and radar
func (p Params) Validate() error {
	c := p.Camera
	fields := []struct {
		name string
		v    float64
	}{
		{"camera.height", c.Height},
		{"camera.pitch", c.Pitch},
		{"camera.fx", c.Fx},
		{"camera.fy", c.Fy},
		{"camera.cx", c.Cx},
		{"camera.cy", c.Cy},
		{"camera.forward_offset", c.ForwardOffset},
		{"radar.yaw", p.Radar.Yaw},
		{"radar.elevation", p.Radar.Elevation},
		{"radar.x_offset", p.Radar.XOffset},
		{"radar.y_offset", p.Radar.YOffset},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%s must be finite, got %v", f.name, f.v)
		}
	}
	if c.Height < 0 {
		return fmt.Errorf("camera.height must be >= 0, got %g", c.Height)
	}
	if c.Fx <= 0 || c.Fy <= 0 {
		return fmt.Errorf("camera focal lengths must be > 0, got fx=%g fy=%g", c.Fx, c.Fy)
	}
	return nil
}

// VanishingY returns the image row of the horizon implied by the camera pitch
func (c CameraParams) VanishingY() float64 {
	return c.Cy - c.Fy*math.Tan(c.Pitch)
}

// PitchFromVanishingY inverts VanishingY for the given intrinsics
func PitchFromVanishingY(cy, fy, vpY float64) float64 {
	return math.Atan((cy - vpY) / fy)
}
