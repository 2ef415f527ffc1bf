package calib

import (
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultSearchRange is the default half-width of the vanishing-row scan (pixels)
	DefaultSearchRange = 50.0

	// PitchCandidates is the number of vanishing rows evaluated per scan
	PitchCandidates = 101

	// ProjectionPenalty is the squared error charged for a correspondence that
	// does not project into the image. It is finite so every candidate has a
	// comparable score.
	ProjectionPenalty = 1e6
)

// Candidate is one evaluated point of the pitch scan
type Candidate struct {
	VanishingY float64 `json:"vanishing_y"`
	Pitch      float64 `json:"pitch"`
	Error      float64 `json:"error"`
}

// OptimizeResult describes the outcome of a pitch scan
type OptimizeResult struct {
	Pitch        float64     `json:"pitch"`
	VanishingY   float64     `json:"vanishing_y"`
	TotalError   float64     `json:"total_error"`
	InitialError float64     `json:"initial_error"`
	Step         float64     `json:"step"`
	Candidates   []Candidate `json:"candidates,omitempty"`
}

// ReprojectionError sums the squared pixel distance between each radar point,
// projected radar -> BEV -> image, and its observed pixel. A correspondence
// that does not project, or whose residual is not finite, costs ProjectionPenalty.
func ReprojectionError(t *CoordinateTransformer, corrs []Correspondence) float64 {
	var total float64
	for _, c := range corrs {
		px, ok := t.RadarToImage(c.RadarX, c.RadarY)
		if !ok {
			total += ProjectionPenalty
			continue
		}
		du := px.X - c.PixelU
		dv := px.Y - c.PixelV
		sq := du*du + dv*dv
		if math.IsNaN(sq) || math.IsInf(sq, 0) {
			total += ProjectionPenalty
			continue
		}
		total += sq
	}
	return total
}

// OptimizePitch scans PitchCandidates vanishing rows within searchRange pixels
// of the row implied by the transformer's current pitch and returns the pitch
// with the lowest total reprojection error. The transformer is not modified;
// each candidate is scored on its own copy.
//
// An empty correspondence set returns the current pitch with no candidates.
func OptimizePitch(t *CoordinateTransformer, corrs []Correspondence, searchRange float64) OptimizeResult {
	cam := t.Params().Camera
	if searchRange <= 0 {
		searchRange = DefaultSearchRange
	}
	vpY := cam.VanishingY()
	step := 2 * searchRange / float64(PitchCandidates-1)

	result := OptimizeResult{
		Pitch:      cam.Pitch,
		VanishingY: vpY,
		Step:       step,
	}
	if len(corrs) == 0 {
		return result
	}

	result.InitialError = ReprojectionError(t, corrs)
	result.TotalError = result.InitialError

	candidates := make([]Candidate, PitchCandidates)
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range candidates {
		g.Go(func() error {
			y := vpY - searchRange + float64(i)*step
			pitch := PitchFromVanishingY(cam.Cy, cam.Fy, y)
			candidates[i] = Candidate{
				VanishingY: y,
				Pitch:      pitch,
				Error:      ReprojectionError(t.WithPitch(pitch), corrs),
			}
			return nil
		})
	}
	_ = g.Wait()

	best := 0
	for i := 1; i < len(candidates); i++ {
		if candidates[i].Error < candidates[best].Error {
			best = i
		}
	}

	result.Pitch = candidates[best].Pitch
	result.VanishingY = candidates[best].VanishingY
	result.TotalError = candidates[best].Error
	result.Candidates = candidates
	return result
}
