package calib

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// lineEpsilon is the smallest homogeneous-line norm (and intersection weight)
// treated as non-degenerate.
const lineEpsilon = 1e-9

// VanishingPointEstimator accumulates image lines that are projections of
// parallel ground lines and intersects them. The result is memoized until the
// line set changes.
type VanishingPointEstimator struct {
	lines []Line2D

	cached *Point
	valid  bool // cached holds the result for the current line set (nil = undefined)
}

// NewVanishingPointEstimator creates an empty estimator
func NewVanishingPointEstimator() *VanishingPointEstimator {
	return &VanishingPointEstimator{}
}

// AddLine appends a line. Zero-length lines are accepted and ignored later.
func (e *VanishingPointEstimator) AddLine(x1, y1, x2, y2 float64) {
	e.lines = append(e.lines, Line2D{X1: x1, Y1: y1, X2: x2, Y2: y2})
	e.invalidate()
}

// RemoveLast pops the most recent line. Returns false when there are no lines.
func (e *VanishingPointEstimator) RemoveLast() bool {
	if len(e.lines) == 0 {
		return false
	}
	e.lines = e.lines[:len(e.lines)-1]
	e.invalidate()
	return true
}

// Clear removes all lines
func (e *VanishingPointEstimator) Clear() {
	e.lines = nil
	e.invalidate()
}

// Len returns the number of lines, including degenerate ones
func (e *VanishingPointEstimator) Len() int {
	return len(e.lines)
}

// Lines returns a copy of the current line set
func (e *VanishingPointEstimator) Lines() []Line2D {
	out := make([]Line2D, len(e.lines))
	copy(out, e.lines)
	return out
}

func (e *VanishingPointEstimator) invalidate() {
	e.cached = nil
	e.valid = false
}

// VanishingPoint returns the common intersection of the lines.
// The second return is false with fewer than two usable lines or when the
// lines are parallel in the image.
func (e *VanishingPointEstimator) VanishingPoint() (Point, bool) {
	if !e.valid {
		if vp, ok := computeVanishingPoint(e.lines); ok {
			e.cached = &vp
		}
		e.valid = true
	}
	if e.cached == nil {
		return Point{}, false
	}
	return *e.cached, true
}

// Pitch derives the camera pitch from the vanishing point: atan((cy - vp_y) / fy)
func (e *VanishingPointEstimator) Pitch(cy, fy float64) (float64, bool) {
	vp, ok := e.VanishingPoint()
	if !ok {
		return 0, false
	}
	return PitchFromVanishingY(cy, fy, vp.Y), true
}

// homogeneousLine returns the unit-normal line (a, b, c) through the segment,
// with a*x + b*y + c = 0. ok is false for zero-length segments.
func homogeneousLine(l Line2D) (a, b, c float64, ok bool) {
	a = l.Y1 - l.Y2
	b = l.X2 - l.X1
	c = l.X1*l.Y2 - l.X2*l.Y1
	norm := math.Hypot(a, b)
	if norm < lineEpsilon {
		return 0, 0, 0, false
	}
	return a / norm, b / norm, c / norm, true
}

func computeVanishingPoint(lines []Line2D) (Point, bool) {
	var hom [][3]float64
	for _, l := range lines {
		if a, b, c, ok := homogeneousLine(l); ok {
			hom = append(hom, [3]float64{a, b, c})
		}
	}

	switch {
	case len(hom) < 2:
		return Point{}, false
	case len(hom) == 2:
		return intersectTwo(hom[0], hom[1])
	default:
		return intersectLeastSquares(hom)
	}
}

// intersectTwo intersects two homogeneous lines via their cross product
func intersectTwo(l1, l2 [3]float64) (Point, bool) {
	x := l1[1]*l2[2] - l1[2]*l2[1]
	y := l1[2]*l2[0] - l1[0]*l2[2]
	w := l1[0]*l2[1] - l1[1]*l2[0]
	if math.Abs(w) < lineEpsilon {
		return Point{}, false
	}
	return Point{X: x / w, Y: y / w}, true
}

// intersectLeastSquares solves [a_i b_i][x y]^T = -c_i for the point that
// minimizes the summed squared distance to every line.
func intersectLeastSquares(hom [][3]float64) (Point, bool) {
	n := len(hom)
	a := mat.NewDense(n, 2, nil)
	b := mat.NewDense(n, 1, nil)
	for i, l := range hom {
		a.Set(i, 0, l[0])
		a.Set(i, 1, l[1])
		b.Set(i, 0, -l[2])
	}

	var x mat.Dense
	if err := x.Solve(a, b); err != nil {
		// All lines share a direction: no finite intersection
		return Point{}, false
	}

	vp := Point{X: x.At(0, 0), Y: x.At(1, 0)}
	if math.IsNaN(vp.X) || math.IsNaN(vp.Y) || math.IsInf(vp.X, 0) || math.IsInf(vp.Y, 0) {
		return Point{}, false
	}
	return vp, true
}
