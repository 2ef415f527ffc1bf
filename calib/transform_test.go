package calib

import (
	"math"
	"testing"
)

func matricesEqual(m1, m2 AffineMatrix) bool {
	return almostEqual(m1.A, m2.A, epsilon) &&
		almostEqual(m1.B, m2.B, epsilon) &&
		almostEqual(m1.Tx, m2.Tx, epsilon) &&
		almostEqual(m1.C, m2.C, epsilon) &&
		almostEqual(m1.D, m2.D, epsilon) &&
		almostEqual(m1.Ty, m2.Ty, epsilon)
}

func TestTransformPoint(t *testing.T) {
	tests := []struct {
		name   string
		point  Point
		matrix AffineMatrix
		want   Point
	}{
		{"identity", Point{X: 10, Y: 20}, Identity(), Point{X: 10, Y: 20}},
		{"translation", Point{X: 5, Y: 5}, Translation(10, 15), Point{X: 15, Y: 20}},
		{"quarter turn", Point{X: 1, Y: 0}, Rotation(math.Pi / 2), Point{X: 0, Y: 1}},
		{"radar forward maps to BEV forward", Point{X: 1, Y: 0}, RadarAxisRemap(), Point{X: 0, Y: 1}},
		{"radar left maps to BEV left", Point{X: 0, Y: 1}, RadarAxisRemap(), Point{X: -1, Y: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TransformPoint(tt.point, tt.matrix)
			if !pointsNear(got, tt.want, epsilon) {
				t.Errorf("TransformPoint() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMultiplyMatrices_Order(t *testing.T) {
	// Rotate first, then translate
	m := MultiplyMatrices(Translation(5, 0), Rotation(math.Pi/2))
	got := TransformPoint(Point{X: 1, Y: 0}, m)
	if !pointsNear(got, Point{X: 5, Y: 1}, epsilon) {
		t.Errorf("TransformPoint() = %v, want (5, 1)", got)
	}
}

func TestInvertMatrix(t *testing.T) {
	m := RadarBEVAffine(RadarParams{Yaw: 0.7, XOffset: -2, YOffset: 4})
	if !matricesEqual(MultiplyMatrices(m, InvertMatrix(m)), Identity()) {
		t.Error("M * M^-1 is not identity")
	}

	singular := AffineMatrix{A: 1, B: 2, C: 2, D: 4}
	if !matricesEqual(InvertMatrix(singular), Identity()) {
		t.Error("InvertMatrix() of singular matrix should return identity")
	}
}

func TestCentroid(t *testing.T) {
	pts := []Point{{0, 0}, {2, 0}, {2, 2}, {0, 2}}
	moved := make([]Point, len(pts))
	for i, p := range pts {
		moved[i] = TransformPoint(p, Translation(1, -1))
	}
	if c := Centroid(moved); !pointsNear(c, Point{X: 2, Y: 0}, epsilon) {
		t.Errorf("Centroid() = %v, want (2, 0)", c)
	}
	if c := Centroid(nil); c != (Point{}) {
		t.Errorf("Centroid(nil) = %v, want origin", c)
	}
}
