package calib

import (
	"fmt"
	"math"
)

const (
	// horizonEpsilon is the smallest downward ray component that still
	// intersects the ground in front of the camera.
	horizonEpsilon = 1e-6

	// minDepth is the smallest camera-frame depth (m) that is projected.
	minDepth = 1e-3
)

// groundSampleX and groundSampleY span the BEV grid used to fit the
// camera->BEV homography (meters).
var (
	groundSampleX = []float64{-10, -5, 0, 5, 10}
	groundSampleY = []float64{5, 10, 20, 40, 80}
)

// CoordinateTransformer converts points between the radar, BEV and image
// frames for one fixed parameter set. It is never mutated after construction;
// build a new one when parameters change.
//
// Frames: BEV X right, Y forward; radar x forward, y left; image u right, v down.
type CoordinateTransformer struct {
	params Params
	radar  AffineMatrix // radar -> BEV
	inv    AffineMatrix // BEV -> radar
}

// NewCoordinateTransformer builds a transformer for the given parameters
func NewCoordinateTransformer(p Params) *CoordinateTransformer {
	radar := RadarBEVAffine(p.Radar)
	return &CoordinateTransformer{
		params: p,
		radar:  radar,
		inv:    InvertMatrix(radar),
	}
}

// Params returns the parameter set the transformer was built from
func (t *CoordinateTransformer) Params() Params {
	return t.params
}

// WithPitch returns a new transformer identical to t except for camera pitch
func (t *CoordinateTransformer) WithPitch(pitch float64) *CoordinateTransformer {
	p := t.params
	p.Camera.Pitch = pitch
	return &CoordinateTransformer{params: p, radar: t.radar, inv: t.inv}
}

// RadarToBEV rotates the radar point by yaw, remaps forward/left onto
// right/forward and adds the mount offset.
func (t *CoordinateTransformer) RadarToBEV(xRadar, yRadar float64) Point {
	return TransformPoint(Point{X: xRadar, Y: yRadar}, t.radar)
}

// BEVToRadar is the inverse of RadarToBEV
func (t *CoordinateTransformer) BEVToRadar(xBEV, yBEV float64) Point {
	return TransformPoint(Point{X: xBEV, Y: yBEV}, t.inv)
}

// ImageToBEV casts the ray through pixel (u, v) onto the ground plane.
// Returns false for rays at or above the horizon, or intersections behind the camera.
func (t *CoordinateTransformer) ImageToBEV(u, v float64) (Point, bool) {
	c := t.params.Camera

	// Ray in camera axes (right, down, forward)
	xc := (u - c.Cx) / c.Fx
	yc := (v - c.Cy) / c.Fy
	zc := 1.0

	// Undo pitch to express the ray in a level camera frame
	sin, cos := math.Sincos(c.Pitch)
	right := xc
	down := yc*cos + zc*sin
	fwd := -yc*sin + zc*cos

	// Vehicle axes are (right, forward, up); up = -down
	if -down >= -horizonEpsilon {
		return Point{}, false
	}

	s := c.Height / down
	if s < 0 {
		return Point{}, false
	}
	return Point{
		X: s * right,
		Y: c.ForwardOffset + s*fwd,
	}, true
}

// BEVToImage projects a ground point (z = 0) into the image.
// Returns false when the point is behind or too close to the camera plane.
func (t *CoordinateTransformer) BEVToImage(xBEV, yBEV float64) (Point, bool) {
	c := t.params.Camera

	// Camera mount -> ground point, in level camera axes (right, down, forward)
	right := xBEV
	down := c.Height
	fwd := yBEV - c.ForwardOffset

	sin, cos := math.Sincos(c.Pitch)
	xc := right
	yc := down*cos - fwd*sin
	zc := down*sin + fwd*cos
	if zc <= minDepth {
		return Point{}, false
	}
	return Point{
		X: c.Fx*xc/zc + c.Cx,
		Y: c.Fy*yc/zc + c.Cy,
	}, true
}

// RadarToImage projects a radar detection into the image through the ground plane
func (t *CoordinateTransformer) RadarToImage(xRadar, yRadar float64) (Point, bool) {
	bev := t.RadarToBEV(xRadar, yRadar)
	return t.BEVToImage(bev.X, bev.Y)
}

// ImageToRadar maps a ground pixel into radar coordinates
func (t *CoordinateTransformer) ImageToRadar(u, v float64) (Point, bool) {
	bev, ok := t.ImageToBEV(u, v)
	if !ok {
		return Point{}, false
	}
	return t.BEVToRadar(bev.X, bev.Y), true
}

// RadarBEVHomography returns the closed-form radar->BEV matrix
func (t *CoordinateTransformer) RadarBEVHomography() Homography {
	return RadarBEVHomography(t.params.Radar)
}

// CameraBEVHomography fits the image->BEV homography from a fixed grid of
// ground points. Points that do not project are skipped.
func (t *CoordinateTransformer) CameraBEVHomography() (Homography, error) {
	var img, bev []Point
	for _, y := range groundSampleY {
		for _, x := range groundSampleX {
			px, ok := t.BEVToImage(x, y)
			if !ok {
				continue
			}
			img = append(img, px)
			bev = append(bev, Point{X: x, Y: y})
		}
	}
	if len(img) < 4 {
		return Homography{}, fmt.Errorf("%w: only %d ground samples project into the image",
			ErrInsufficientData, len(img))
	}
	return FitHomography(img, bev)
}
