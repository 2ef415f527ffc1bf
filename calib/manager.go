package calib

import (
	"fmt"
	"sync"
)

// CalibrationManager owns the parameter model, the vanishing-line set and the
// coordinate transformer, and keeps them consistent. Every parameter change
// swaps in a freshly built transformer, so a caller holding the previous one
// never sees a partially updated parameter set.
type CalibrationManager struct {
	mu          sync.RWMutex
	params      Params
	vanishing   *VanishingPointEstimator
	transformer *CoordinateTransformer
}

// NewCalibrationManager creates a manager with default parameters
func NewCalibrationManager() *CalibrationManager {
	m, _ := NewCalibrationManagerWithParams(DefaultParams())
	return m
}

// NewCalibrationManagerWithParams creates a manager for the given parameters
func NewCalibrationManagerWithParams(p Params) (*CalibrationManager, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	return &CalibrationManager{
		params:      p,
		vanishing:   NewVanishingPointEstimator(),
		transformer: NewCoordinateTransformer(p),
	}, nil
}

// Params returns a copy of the current parameters
func (m *CalibrationManager) Params() Params {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.params
}

// Transformer returns the current transformer. It stays valid (and unchanged)
// after later parameter updates.
func (m *CalibrationManager) Transformer() *CoordinateTransformer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transformer
}

// SetParams replaces all parameters, pitch included
func (m *CalibrationManager) SetParams(p Params) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyLocked(p)
	return nil
}

// UpdateParams runs edit on a copy of the current parameters under the write
// lock and applies the result if edit succeeds and the result validates.
func (m *CalibrationManager) UpdateParams(edit func(*Params) error) (Params, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.params
	if err := edit(&p); err != nil {
		return m.params, err
	}
	if err := p.Validate(); err != nil {
		return m.params, fmt.Errorf("invalid parameters: %w", err)
	}
	m.applyLocked(p)
	return p, nil
}

// UpdateCamera edits the camera parameters in place; the edit is applied only
// if the result validates.
func (m *CalibrationManager) UpdateCamera(edit func(*CameraParams)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.params
	edit(&p.Camera)
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid camera parameters: %w", err)
	}
	m.applyLocked(p)
	return nil
}

// UpdateRadar edits the radar parameters in place; the edit is applied only
// if the result validates.
func (m *CalibrationManager) UpdateRadar(edit func(*RadarParams)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.params
	edit(&p.Radar)
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid radar parameters: %w", err)
	}
	m.applyLocked(p)
	return nil
}

func (m *CalibrationManager) applyLocked(p Params) {
	m.params = p
	m.transformer = NewCoordinateTransformer(p)
}

func (m *CalibrationManager) setPitchLocked(pitch float64) {
	p := m.params
	p.Camera.Pitch = pitch
	m.applyLocked(p)
}

// AddVanishingLine appends a lane line for vanishing-point estimation
func (m *CalibrationManager) AddVanishingLine(x1, y1, x2, y2 float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vanishing.AddLine(x1, y1, x2, y2)
}

// UndoVanishingLine removes the last line. Returns false if there was none.
func (m *CalibrationManager) UndoVanishingLine() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vanishing.RemoveLast()
}

// ClearVanishingLines removes all lines
func (m *CalibrationManager) ClearVanishingLines() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vanishing.Clear()
}

// NumVanishingLines returns the number of lines collected
func (m *CalibrationManager) NumVanishingLines() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.vanishing.Len()
}

// VanishingLines returns a copy of the collected lines
func (m *CalibrationManager) VanishingLines() []Line2D {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.vanishing.Lines()
}

// VanishingPoint returns the intersection of the collected lines
func (m *CalibrationManager) VanishingPoint() (Point, bool) {
	// The estimator memoizes on read, so this takes the write lock.
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vanishing.VanishingPoint()
}

// IsCalibrated reports whether a pitch has been set or enough lines exist to derive one
func (m *CalibrationManager) IsCalibrated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.vanishing.Len() >= 2 || m.params.Camera.Pitch != 0
}

// ComputePitchFromVanishingPoint derives pitch from the collected lines and
// stores it. Returns false, leaving pitch untouched, if it is undefined.
func (m *CalibrationManager) ComputePitchFromVanishingPoint() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pitch, ok := m.vanishing.Pitch(m.params.Camera.Cy, m.params.Camera.Fy)
	if !ok {
		return 0, false
	}
	m.setPitchLocked(pitch)
	return pitch, true
}

// ComputePitchFromLanes replaces the line set with lanes and derives pitch
// from it. Returns false, leaving pitch untouched, if it is undefined.
func (m *CalibrationManager) ComputePitchFromLanes(lanes []Line2D) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vanishing.Clear()
	for _, l := range lanes {
		m.vanishing.AddLine(l.X1, l.Y1, l.X2, l.Y2)
	}
	pitch, ok := m.vanishing.Pitch(m.params.Camera.Cy, m.params.Camera.Fy)
	if !ok {
		return 0, false
	}
	m.setPitchLocked(pitch)
	return pitch, true
}

// OptimizePitch refines pitch against the correspondences and stores the result.
// An empty set leaves pitch unchanged.
func (m *CalibrationManager) OptimizePitch(corrs []Correspondence, searchRange float64) OptimizeResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := OptimizePitch(m.transformer, corrs, searchRange)
	if len(corrs) > 0 {
		m.setPitchLocked(res.Pitch)
	}
	return res
}

// RadarToBEV transforms a radar point into the BEV frame
func (m *CalibrationManager) RadarToBEV(xRadar, yRadar float64) Point {
	return m.Transformer().RadarToBEV(xRadar, yRadar)
}

// BEVToRadar transforms a BEV point into the radar frame
func (m *CalibrationManager) BEVToRadar(xBEV, yBEV float64) Point {
	return m.Transformer().BEVToRadar(xBEV, yBEV)
}

// ImageToBEV projects an image pixel onto the ground
func (m *CalibrationManager) ImageToBEV(u, v float64) (Point, bool) {
	return m.Transformer().ImageToBEV(u, v)
}

// BEVToImage projects a ground point into the image
func (m *CalibrationManager) BEVToImage(xBEV, yBEV float64) (Point, bool) {
	return m.Transformer().BEVToImage(xBEV, yBEV)
}

// RadarToImage projects a radar detection into the image
func (m *CalibrationManager) RadarToImage(xRadar, yRadar float64) (Point, bool) {
	return m.Transformer().RadarToImage(xRadar, yRadar)
}

// RadarBEVHomography returns the closed-form radar->BEV matrix
func (m *CalibrationManager) RadarBEVHomography() Homography {
	return m.Transformer().RadarBEVHomography()
}

// CameraBEVHomography returns the fitted image->BEV matrix
func (m *CalibrationManager) CameraBEVHomography() (Homography, error) {
	return m.Transformer().CameraBEVHomography()
}
