package calib

import "math"

// Point represents a 2D coordinate. Depending on context it is a pixel (u, v),
// a radar position (x forward, y left) or a BEV position (x right, y forward).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Line2D is an image-space segment that is the projection of a real-world
// line parallel to the vehicle's forward axis (a lane marking, typically).
type Line2D struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// NewLine builds a Line2D from two endpoints
func NewLine(start, end Point) Line2D {
	return Line2D{X1: start.X, Y1: start.Y, X2: end.X, Y2: end.Y}
}

// Start returns the first endpoint
func (l Line2D) Start() Point { return Point{X: l.X1, Y: l.Y1} }

// End returns the second endpoint
func (l Line2D) End() Point { return Point{X: l.X2, Y: l.Y2} }

// Correspondence is one radar detection matched to a clicked image pixel.
// Range, Velocity and RCS are informational and are never read by the engine.
type Correspondence struct {
	RadarX   float64 `json:"radar_x"`
	RadarY   float64 `json:"radar_y"`
	PixelU   float64 `json:"pixel_u"`
	PixelV   float64 `json:"pixel_v"`
	RadarID  int     `json:"radar_id"`
	Batch    int     `json:"batch"`
	Range    float64 `json:"radar_range,omitempty"`
	Velocity float64 `json:"radar_velocity,omitempty"`
	RCS      float64 `json:"radar_rcs,omitempty"`
}

// Radar returns the radar-frame position of the correspondence
func (c Correspondence) Radar() Point { return Point{X: c.RadarX, Y: c.RadarY} }

// Pixel returns the observed image position of the correspondence
func (c Correspondence) Pixel() Point { return Point{X: c.PixelU, Y: c.PixelV} }

// Distance calculates Euclidean distance between two points
func Distance(p1, p2 Point) float64 {
	return math.Hypot(p2.X-p1.X, p2.Y-p1.Y)
}
