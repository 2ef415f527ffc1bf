package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/radarcal/calib"
)

const truePitch = 0.05

// truthTransformer is the camera the fixtures are generated from
func truthTransformer() *calib.CoordinateTransformer {
	p := calib.DefaultParams()
	p.Camera.Pitch = truePitch
	return calib.NewCoordinateTransformer(p)
}

// writeFixtures writes a point pairs file and a lanes file consistent with
// truthTransformer and returns their paths
func writeFixtures(t *testing.T, dir string) (string, string) {
	t.Helper()
	tr := truthTransformer()

	var pairs []calib.Correspondence
	for _, fwd := range []float64{8, 15, 25, 40, 60} {
		for _, left := range []float64{-4, -1.5, 0, 2, 5} {
			px, ok := tr.RadarToImage(fwd, left)
			require.True(t, ok, "radar point (%g, %g) must project", fwd, left)
			pairs = append(pairs, calib.Correspondence{
				RadarX: fwd, RadarY: left,
				PixelU: px.X, PixelV: px.Y,
				RadarID: len(pairs) + 1,
			})
		}
	}

	var lanes []calib.Line2D
	for _, x := range []float64{-1.75, 1.75} {
		near, ok := tr.BEVToImage(x, 10)
		require.True(t, ok)
		far, ok := tr.BEVToImage(x, 40)
		require.True(t, ok)
		lanes = append(lanes, calib.NewLine(near, far))
	}

	pairsPath := filepath.Join(dir, "pairs.txt")
	lanesPath := filepath.Join(dir, "lanes.txt")

	var buf bytes.Buffer
	require.NoError(t, calib.WritePointPairs(&buf, pairs))
	require.NoError(t, os.WriteFile(pairsPath, buf.Bytes(), 0644))
	buf.Reset()
	require.NoError(t, calib.WriteLanes(&buf, lanes))
	require.NoError(t, os.WriteFile(lanesPath, buf.Bytes(), 0644))

	return pairsPath, lanesPath
}

// loadedApp returns an App that has loaded defaults with no files or store
func loadedApp(t *testing.T) *App {
	t.Helper()
	app := NewApp(nil)
	require.NoError(t, app.Load())
	t.Cleanup(app.Close)
	return app
}

func TestNewApp(t *testing.T) {
	app := NewApp(nil)
	require.NotNil(t, app)
	assert.Equal(t, "png", app.RenderFormat)
	assert.Nil(t, app.Manager, "manager is created by Load")
}

func TestApplyOptions(t *testing.T) {
	app := NewApp(nil)
	opts := AppOptions{
		ConfigFile:   "config.yaml",
		PairsFile:    "pairs.txt",
		LanesFile:    "lanes.txt",
		DBPath:       "session.db",
		Optimize:     true,
		SearchRange:  30,
		ExportFile:   "out.json",
		RenderFile:   "bev.svg",
		RenderFormat: "svg",
		HttpMode:     true,
		HttpPort:     9000,
	}
	app.ApplyOptions(opts)

	assert.Equal(t, "config.yaml", app.ConfigFile)
	assert.Equal(t, "pairs.txt", app.PairsFile)
	assert.Equal(t, "lanes.txt", app.LanesFile)
	assert.Equal(t, "session.db", app.DBPath)
	assert.True(t, app.Optimize)
	assert.Equal(t, 30.0, app.searchRange())
	assert.Equal(t, "out.json", app.ExportFile)
	assert.Equal(t, "svg", app.RenderFormat)
	assert.True(t, app.HttpMode)
	assert.Equal(t, 9000, app.HttpPort)
}

func TestApp_RunCalibration(t *testing.T) {
	dir := t.TempDir()
	pairsPath, lanesPath := writeFixtures(t, dir)
	exportPath := filepath.Join(dir, "out", "camera_params.json")
	dbPath := filepath.Join(dir, "session.db")
	renderPath := filepath.Join(dir, "bev.png")

	var out bytes.Buffer
	app := NewApp(&out)
	app.ApplyOptions(AppOptions{
		PairsFile:    pairsPath,
		LanesFile:    lanesPath,
		DBPath:       dbPath,
		ComputePitch: true,
		Optimize:     true,
		Report:       true,
		ExportFile:   exportPath,
		RenderFile:   renderPath,
		RenderFormat: "png",
	})

	require.NoError(t, app.RunCalibration())

	text := out.String()
	assert.Contains(t, text, "Pitch from vanishing point")
	assert.Contains(t, text, "Optimized pitch")
	assert.Contains(t, text, "Radar-Camera Calibration Report")
	assert.Contains(t, text, "Saved calibration")

	e, err := calib.LoadExport(exportPath)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.InDelta(t, truePitch, e.Camera.Pitch, 1e-3)
	assert.NotNil(t, e.Homography.CameraToBEV)

	info, err := os.Stat(renderPath)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	store, err := calib.OpenStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	latest, err := store.LatestExport()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, e.ID, latest.ID)

	p, found, err := store.LoadParams(calib.DefaultParams())
	require.NoError(t, err)
	assert.True(t, found)
	assert.InDelta(t, truePitch, p.Camera.Pitch, 1e-3)

	pairs, err := store.LoadPairs()
	require.NoError(t, err)
	assert.Len(t, pairs, 25)
}

func TestApp_LoadRestoresSession(t *testing.T) {
	dir := t.TempDir()
	pairsPath, lanesPath := writeFixtures(t, dir)
	dbPath := filepath.Join(dir, "session.db")

	first := NewApp(nil)
	first.ApplyOptions(AppOptions{PairsFile: pairsPath, LanesFile: lanesPath, DBPath: dbPath, ComputePitch: true})
	require.NoError(t, first.RunCalibration())

	second := NewApp(nil)
	second.ApplyOptions(AppOptions{DBPath: dbPath})
	require.NoError(t, second.Load())
	defer second.Close()

	assert.Len(t, second.Pairs(), 25)
	assert.Len(t, second.Lanes(), 2)
	assert.InDelta(t, truePitch, second.Manager.Params().Camera.Pitch, 1e-3)
}

func TestApp_LoadLayersParams(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
camera:
  height: 2.0
  fx: 900
  fy: 900
  cx: 640
  cy: 360
radar:
  yOffset: 1.2
optimizer:
  searchRange: 25
`), 0644))

	paramsPath := filepath.Join(dir, "ground_truth.json")
	require.NoError(t, os.WriteFile(paramsPath, []byte(`{"camera": {"pitch": 0.08}}`), 0644))

	app := NewApp(nil)
	app.ApplyOptions(AppOptions{ConfigFile: configPath, ParamsFile: paramsPath})
	require.NoError(t, app.Load())
	defer app.Close()

	p := app.Manager.Params()
	assert.Equal(t, 2.0, p.Camera.Height)
	assert.Equal(t, 900.0, p.Camera.Fx)
	assert.Equal(t, 0.08, p.Camera.Pitch)
	assert.Equal(t, 1.2, p.Radar.YOffset)
	assert.Equal(t, 25.0, app.searchRange())
}

func TestApp_LoadErrors(t *testing.T) {
	dir := t.TempDir()
	badParams := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(badParams, []byte(`{"camera": {"fx": -1}}`), 0644))

	tests := []struct {
		name string
		opts AppOptions
	}{
		{"MissingConfig", AppOptions{ConfigFile: filepath.Join(dir, "nope.yaml")}},
		{"MissingPairs", AppOptions{PairsFile: filepath.Join(dir, "nope.txt")}},
		{"InvalidParams", AppOptions{ParamsFile: badParams}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := NewApp(nil)
			app.ApplyOptions(tt.opts)
			assert.Error(t, app.Load())
		})
	}
}

func TestApp_LoadFailureReleasesStore(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "session.db")
	badParams := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(badParams, []byte(`{"camera": {"fy": 0}}`), 0644))

	app := NewApp(nil)
	app.ApplyOptions(AppOptions{DBPath: dbPath, ParamsFile: badParams})
	require.Error(t, app.Load())
	assert.Nil(t, app.Store, "store opened by a failed Load must be closed")

	// The database is free for a fresh session
	app.ApplyOptions(AppOptions{DBPath: dbPath})
	require.NoError(t, app.Load())
	defer app.Close()
	assert.NotNil(t, app.Store)
}

func TestApp_StepErrors(t *testing.T) {
	app := loadedApp(t)

	_, err := app.computePitch()
	assert.ErrorIs(t, err, calib.ErrInsufficientData)

	app.setPoints(nil, []calib.Line2D{
		{X1: 0, Y1: 500, X2: 100, Y2: 500},
		{X1: 0, Y1: 600, X2: 100, Y2: 600},
	})
	_, err = app.computePitch()
	assert.ErrorIs(t, err, calib.ErrDegenerate)
	assert.Zero(t, app.Manager.Params().Camera.Pitch, "failed pitch must leave params untouched")

	_, err = app.optimize()
	assert.ErrorIs(t, err, calib.ErrInsufficientData)
	assert.Nil(t, app.LastSweep())
}

func TestApp_HandleParamsMessage(t *testing.T) {
	app := loadedApp(t)
	client := calib.NewMockClient()
	client.SetConnected(true)
	app.Publisher = calib.NewPublisher(client, "cal")

	app.handleParamsMessage([]byte(`{"camera": {"pitch": 0.02}, "radar": {"yaw": 0.01}}`))

	p := app.Manager.Params()
	assert.Equal(t, 0.02, p.Camera.Pitch)
	assert.Equal(t, 0.01, p.Radar.Yaw)
	assert.Equal(t, calib.DefaultCamera().Height, p.Camera.Height)

	msgs := client.GetPublishedMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "cal/calibration", msgs[0].Topic)
	assert.Equal(t, "cal/pitch", msgs[1].Topic)

	var e calib.CalibrationExport
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &e))
	assert.Equal(t, 0.02, e.Camera.Pitch)

	// Invalid and malformed updates are dropped
	app.handleParamsMessage([]byte(`{"camera": {"fy": 0}}`))
	app.handleParamsMessage([]byte(`not json`))
	assert.Equal(t, p, app.Manager.Params())
	assert.Len(t, client.GetPublishedMessages(), 2)
}

func TestApp_RunRender(t *testing.T) {
	dir := t.TempDir()
	pairsPath, _ := writeFixtures(t, dir)

	tests := []struct {
		format string
		marker string
	}{
		{"png", "\x89PNG"},
		{"svg", "<svg"},
		{"vector-png", "\x89PNG"},
		{"html", "<html"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			renderPath := filepath.Join(dir, "bev-"+tt.format)
			var out bytes.Buffer
			app := NewApp(&out)
			app.ApplyOptions(AppOptions{PairsFile: pairsPath, RenderFile: renderPath, RenderFormat: tt.format})
			require.NoError(t, app.RunRender())

			data, err := os.ReadFile(renderPath)
			require.NoError(t, err)
			assert.True(t, strings.Contains(string(data[:min(len(data), 512)]), tt.marker),
				"expected %q near the start of the %s output", tt.marker, tt.format)
			assert.Contains(t, out.String(), "Saved "+tt.format+" overlay")
		})
	}
}

func TestApp_RunRenderNeedsOutput(t *testing.T) {
	app := NewApp(nil)
	assert.Error(t, app.RunRender())
}
