package calib

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// DefaultExportPath is the default path for saved calibration parameters
const DefaultExportPath = "camera_params.json"

// HomographyExport carries both homographies in nested-row form.
// CameraToBEV is nil when the camera homography could not be fitted.
type HomographyExport struct {
	RadarToBEV  [][]float64 `json:"radar_to_bev"`
	CameraToBEV [][]float64 `json:"camera_to_bev"`
}

// CalibrationExport is the persisted/published result of a calibration session
type CalibrationExport struct {
	ID         string           `json:"id"`
	Camera     CameraParams     `json:"camera"`
	Radar      RadarParams      `json:"radar"`
	Homography HomographyExport `json:"homography"`
	Timestamp  time.Time        `json:"timestamp"`
}

// Params returns the parameter model stored in the export
func (e *CalibrationExport) Params() Params {
	return Params{Camera: e.Camera, Radar: e.Radar}
}

// NewExport snapshots the manager's current calibration
func NewExport(m *CalibrationManager) *CalibrationExport {
	t := m.Transformer()
	p := t.Params()
	e := &CalibrationExport{
		ID:        uuid.NewString(),
		Camera:    p.Camera,
		Radar:     p.Radar,
		Timestamp: time.Now().UTC(),
	}
	e.Homography.RadarToBEV = t.RadarBEVHomography().Rows()
	if h, err := t.CameraBEVHomography(); err == nil {
		e.Homography.CameraToBEV = h.Rows()
	} else {
		log.Printf("[CALIB] camera->BEV homography unavailable: %v", err)
	}
	return e
}

// SaveExport writes a calibration export as indented JSON
func SaveExport(path string, e *CalibrationExport) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating export directory: %w", err)
	}

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling calibration export: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing calibration export: %w", err)
	}
	return nil
}

// LoadExport reads a calibration export. A missing file returns nil, nil.
func LoadExport(path string) (*CalibrationExport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading calibration export: %w", err)
	}

	var e CalibrationExport
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("parsing calibration export: %w", err)
	}
	return &e, nil
}

// LoadParamsFile overlays the camera and radar sections of a JSON file onto
// base. It accepts a full export or a bare {"camera": ..., "radar": ...}
// ground-truth file; keys missing from the file keep their base values.
func LoadParamsFile(path string, base Params) (Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("reading parameter file: %w", err)
	}
	p, err := DecodeParams(data, base)
	if err != nil {
		return base, fmt.Errorf("parameter file %s: %w", path, err)
	}
	return p, nil
}

// DecodeParams overlays a JSON parameter document onto base and validates the result
func DecodeParams(data []byte, base Params) (Params, error) {
	p := base
	if err := json.Unmarshal(data, &p); err != nil {
		return base, fmt.Errorf("parsing parameters: %w", err)
	}
	if err := p.Validate(); err != nil {
		return base, err
	}
	return p, nil
}
