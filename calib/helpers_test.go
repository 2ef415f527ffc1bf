package calib

import (
	"math"
	"testing"
)

const epsilon = 1e-9

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func pointsNear(p1, p2 Point, tol float64) bool {
	return almostEqual(p1.X, p2.X, tol) && almostEqual(p1.Y, p2.Y, tol)
}

// syntheticPairs projects a grid of radar detections through t and records
// the resulting pixels, so t explains every pair exactly.
func syntheticPairs(t *testing.T, tr *CoordinateTransformer) []Correspondence {
	t.Helper()
	var pairs []Correspondence
	for _, fwd := range []float64{8, 15, 25, 40, 60} {
		for _, left := range []float64{-4, -1.5, 0, 2, 5} {
			px, ok := tr.RadarToImage(fwd, left)
			if !ok {
				t.Fatalf("radar point (%g, %g) does not project", fwd, left)
			}
			pairs = append(pairs, Correspondence{
				RadarX: fwd, RadarY: left,
				PixelU: px.X, PixelV: px.Y,
				RadarID: len(pairs) + 1,
			})
		}
	}
	return pairs
}
