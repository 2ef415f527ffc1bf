package calib

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// rankTolerance is the relative singular value below which the DLT system
	// is considered rank deficient.
	rankTolerance = 1e-8

	// homogeneousEpsilon guards perspective division
	homogeneousEpsilon = 1e-12
)

// Homography is a 3x3 projective transform stored row-major.
// It maps homogeneous source coordinates to homogeneous destination coordinates.
type Homography [9]float64

// IdentityHomography returns the identity transform
func IdentityHomography() Homography {
	return Homography{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// At returns the element at row r, column c
func (h Homography) At(r, c int) float64 {
	return h[r*3+c]
}

// Rows returns the matrix as nested rows, the form used for JSON export
func (h Homography) Rows() [][]float64 {
	return [][]float64{
		{h[0], h[1], h[2]},
		{h[3], h[4], h[5]},
		{h[6], h[7], h[8]},
	}
}

// HomographyFromRows builds a Homography from nested rows
func HomographyFromRows(rows [][]float64) (Homography, error) {
	var h Homography
	if len(rows) != 3 {
		return h, fmt.Errorf("homography needs 3 rows, got %d", len(rows))
	}
	for r, row := range rows {
		if len(row) != 3 {
			return h, fmt.Errorf("homography row %d needs 3 columns, got %d", r, len(row))
		}
		copy(h[r*3:r*3+3], row)
	}
	return h, nil
}

// Apply maps a point through the homography.
// Returns false when the point maps to infinity.
func (h Homography) Apply(p Point) (Point, bool) {
	w := h[6]*p.X + h[7]*p.Y + h[8]
	if math.Abs(w) < homogeneousEpsilon {
		return Point{}, false
	}
	return Point{
		X: (h[0]*p.X + h[1]*p.Y + h[2]) / w,
		Y: (h[3]*p.X + h[4]*p.Y + h[5]) / w,
	}, true
}

// Mul composes two homographies: applying the result equals applying o, then h
func (h Homography) Mul(o Homography) Homography {
	var out Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r*3+c] = h[r*3]*o[c] + h[r*3+1]*o[3+c] + h[r*3+2]*o[6+c]
		}
	}
	return out
}

// Inverse returns the inverse transform, normalized so the bottom-right entry is 1
// when possible. Returns false for a singular matrix.
func (h Homography) Inverse() (Homography, bool) {
	var inv mat.Dense
	if err := inv.Inverse(h.dense()); err != nil {
		return Homography{}, false
	}
	var out Homography
	copy(out[:], inv.RawMatrix().Data)
	return out.normalized(), true
}

func (h Homography) dense() *mat.Dense {
	data := make([]float64, 9)
	copy(data, h[:])
	return mat.NewDense(3, 3, data)
}

// normalized scales the matrix so H[2][2] = 1 when that entry is non-zero
func (h Homography) normalized() Homography {
	if math.Abs(h[8]) < homogeneousEpsilon {
		return h
	}
	s := h[8]
	for i := range h {
		h[i] /= s
	}
	return h
}

// RadarBEVHomography returns the exact radar->BEV transform for the given mount.
// It applies to homogeneous radar coordinates [x_radar, y_radar, 1].
func RadarBEVHomography(r RadarParams) Homography {
	sin, cos := math.Sincos(r.Yaw)
	return Homography{
		-sin, -cos, r.XOffset,
		cos, -sin, r.YOffset,
		0, 0, 1,
	}
}

// FitHomography estimates the homography mapping src[i] to dst[i] with the
// normalized direct linear transform. It needs at least four pairs that are
// not collinear; rank-deficient input returns ErrDegenerate.
func FitHomography(src, dst []Point) (Homography, error) {
	if len(src) != len(dst) {
		return Homography{}, fmt.Errorf("%w: %d source points, %d destination points",
			ErrInsufficientData, len(src), len(dst))
	}
	if len(src) < 4 {
		return Homography{}, fmt.Errorf("%w: need at least 4 correspondences, got %d",
			ErrInsufficientData, len(src))
	}

	tSrc, ok := normalizingTransform(src)
	if !ok {
		return Homography{}, fmt.Errorf("%w: source points coincide", ErrDegenerate)
	}
	tDst, ok := normalizingTransform(dst)
	if !ok {
		return Homography{}, fmt.Errorf("%w: destination points coincide", ErrDegenerate)
	}

	// Two rows per correspondence; pad to 9 rows so the SVD yields all
	// nine singular values even for exactly four pairs.
	rows := 2 * len(src)
	if rows < 9 {
		rows = 9
	}
	a := mat.NewDense(rows, 9, nil)
	for i := range src {
		s, _ := tSrc.Apply(src[i])
		d, _ := tDst.Apply(dst[i])
		x, y, u, v := s.X, s.Y, d.X, d.Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return Homography{}, fmt.Errorf("%w: SVD did not converge", ErrDegenerate)
	}
	values := svd.Values(nil)
	if values[0] == 0 || values[7]/values[0] < rankTolerance {
		return Homography{}, fmt.Errorf("%w: point set is rank deficient (collinear or duplicate points)", ErrDegenerate)
	}

	var v mat.Dense
	svd.VTo(&v)
	var hn Homography
	for i := 0; i < 9; i++ {
		hn[i] = v.At(i, 8)
	}

	if !nonSingular(hn) {
		return Homography{}, fmt.Errorf("%w: fitted transform is singular", ErrDegenerate)
	}

	tDstInv, ok := tDst.Inverse()
	if !ok {
		return Homography{}, fmt.Errorf("%w: destination normalization is singular", ErrDegenerate)
	}
	return tDstInv.Mul(hn).Mul(tSrc).normalized(), nil
}

// normalizingTransform returns the similarity that moves the points' centroid
// to the origin and scales their mean distance from it to sqrt(2).
func normalizingTransform(points []Point) (Homography, bool) {
	c := Centroid(points)
	var mean float64
	for _, p := range points {
		mean += Distance(p, c)
	}
	mean /= float64(len(points))
	if mean < homogeneousEpsilon {
		return Homography{}, false
	}
	s := math.Sqrt2 / mean
	return Homography{
		s, 0, -s * c.X,
		0, s, -s * c.Y,
		0, 0, 1,
	}, true
}

// nonSingular reports whether the determinant is significant relative to the
// matrix scale. The fitted vector has unit norm, so entries are O(1).
func nonSingular(h Homography) bool {
	det := mat.Det(h.dense())
	return math.Abs(det) > rankTolerance
}
