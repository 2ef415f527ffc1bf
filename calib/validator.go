package calib

import (
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// BEVRange bounds the region of the ground plane the system is expected to observe (meters)
type BEVRange struct {
	MinX float64 `yaml:"minX" json:"min_x"`
	MaxX float64 `yaml:"maxX" json:"max_x"`
	MinY float64 `yaml:"minY" json:"min_y"`
	MaxY float64 `yaml:"maxY" json:"max_y"`
}

// DefaultBEVRange covers 15m either side of the vehicle and 180m ahead
func DefaultBEVRange() BEVRange {
	return BEVRange{MinX: -15, MaxX: 15, MinY: 0, MaxY: 180}
}

// Bound returns the range as an orb.Bound
func (r BEVRange) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{r.MinX, r.MinY}, Max: orb.Point{r.MaxX, r.MaxY}}
}

// Contains reports whether a BEV point lies inside the range
func (r BEVRange) Contains(p Point) bool {
	return r.Bound().Contains(orb.Point{p.X, p.Y})
}

// ReprojectionReport summarizes the pixel error of radar detections projected
// into the image against their clicked pixels.
type ReprojectionReport struct {
	Count     int       `json:"count"`
	Undefined int       `json:"undefined"` // correspondences that did not project
	Mean      float64   `json:"mean"`
	Std       float64   `json:"std"`
	Max       float64   `json:"max"`
	Min       float64   `json:"min"`
	Errors    []float64 `json:"errors"` // per correspondence; NaN when undefined
}

// ReprojectionStats measures how well the transformer explains the correspondences
func ReprojectionStats(t *CoordinateTransformer, corrs []Correspondence) (ReprojectionReport, error) {
	if len(corrs) == 0 {
		return ReprojectionReport{}, fmt.Errorf("%w: no correspondences", ErrInsufficientData)
	}

	rep := ReprojectionReport{Count: len(corrs), Errors: make([]float64, len(corrs))}
	valid := make([]float64, 0, len(corrs))
	for i, c := range corrs {
		px, ok := t.RadarToImage(c.RadarX, c.RadarY)
		if !ok {
			rep.Undefined++
			rep.Errors[i] = math.NaN()
			continue
		}
		e := Distance(px, c.Pixel())
		rep.Errors[i] = e
		valid = append(valid, e)
	}

	if len(valid) > 0 {
		rep.Mean, rep.Std = stat.PopMeanStdDev(valid, nil)
		rep.Max = floats.Max(valid)
		rep.Min = floats.Min(valid)
	}
	return rep, nil
}

// RangeReport describes the extent of a BEV point set against the expected range
type RangeReport struct {
	Bound  orb.Bound `json:"-"`
	MinX   float64   `json:"min_x"`
	MaxX   float64   `json:"max_x"`
	MinY   float64   `json:"min_y"`
	MaxY   float64   `json:"max_y"`
	XValid bool      `json:"x_valid"`
	YValid bool      `json:"y_valid"`
}

// Valid reports whether both axes fall inside the expected range
func (r RangeReport) Valid() bool {
	return r.XValid && r.YValid
}

// ValidateRanges checks that BEV points fall inside the expected range.
// An empty set is trivially valid.
func ValidateRanges(points []Point, limits BEVRange) RangeReport {
	if len(points) == 0 {
		return RangeReport{XValid: true, YValid: true}
	}
	mp := make(orb.MultiPoint, len(points))
	for i, p := range points {
		mp[i] = orb.Point{p.X, p.Y}
	}
	b := mp.Bound()
	return RangeReport{
		Bound:  b,
		MinX:   b.Min.X(),
		MaxX:   b.Max.X(),
		MinY:   b.Min.Y(),
		MaxY:   b.Max.Y(),
		XValid: b.Min.X() >= limits.MinX && b.Max.X() <= limits.MaxX,
		YValid: b.Min.Y() >= limits.MinY && b.Max.Y() <= limits.MaxY,
	}
}

// FormatReport renders a human-readable calibration quality report
func FormatReport(p Params, rep ReprojectionReport, ranges RangeReport, limits BEVRange) string {
	var sb strings.Builder
	sb.WriteString("=== Radar-Camera Calibration Report ===\n\n")

	sb.WriteString("Parameters:\n")
	fmt.Fprintf(&sb, "  Camera: height=%.3fm pitch=%.5frad (%.2f°) fx=%.1f fy=%.1f cx=%.1f cy=%.1f\n",
		p.Camera.Height, p.Camera.Pitch, p.Camera.Pitch*180/math.Pi,
		p.Camera.Fx, p.Camera.Fy, p.Camera.Cx, p.Camera.Cy)
	fmt.Fprintf(&sb, "  Radar:  yaw=%.5frad x_offset=%.3fm y_offset=%.3fm\n\n",
		p.Radar.Yaw, p.Radar.XOffset, p.Radar.YOffset)

	sb.WriteString("Coordinate System:\n")
	sb.WriteString("  X-axis: Lateral (right)\n")
	sb.WriteString("  Y-axis: Forward\n\n")

	fmt.Fprintf(&sb, "Reprojection Error (%d pairs, %d not projected):\n", rep.Count, rep.Undefined)
	fmt.Fprintf(&sb, "  Mean Error: %.2f pixels\n", rep.Mean)
	fmt.Fprintf(&sb, "  Std Dev:    %.2f pixels\n", rep.Std)
	fmt.Fprintf(&sb, "  Max Error:  %.2f pixels\n", rep.Max)
	fmt.Fprintf(&sb, "  Min Error:  %.2f pixels\n\n", rep.Min)

	sb.WriteString("Coordinate Ranges:\n")
	fmt.Fprintf(&sb, "  X Range: [%.2f, %.2f] m (limits [%.0f, %.0f], valid: %v)\n",
		ranges.MinX, ranges.MaxX, limits.MinX, limits.MaxX, ranges.XValid)
	fmt.Fprintf(&sb, "  Y Range: [%.2f, %.2f] m (limits [%.0f, %.0f], valid: %v)\n\n",
		ranges.MinY, ranges.MaxY, limits.MinY, limits.MaxY, ranges.YValid)

	status := "INVALID"
	if ranges.Valid() {
		status = "VALID"
	}
	fmt.Fprintf(&sb, "Calibration Status: %s\n", status)
	return sb.String()
}
