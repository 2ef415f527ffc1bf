package main

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kwv/radarcal/calib"
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *calib.Config
	Manager    *calib.CalibrationManager
	Store      *calib.Store
	MQTTClient *calib.MQTTClient
	Publisher  *calib.Publisher

	// CLI Flags (effectively dependencies)
	ConfigFile   string
	ParamsFile   string
	PairsFile    string
	LanesFile    string
	DBPath       string
	ComputePitch bool
	Optimize     bool
	SearchRange  float64
	Report       bool
	ExportFile   string
	RenderFile   string
	RenderFormat string
	HttpPort     int
	HttpMode     bool
	MqttMode     bool

	out io.Writer

	mu        sync.RWMutex
	pairs     []calib.Correspondence
	lanes     []calib.Line2D
	lastSweep *calib.OptimizeResult
}

// NewApp creates a new App writing user-facing output to out
func NewApp(out io.Writer) *App {
	if out == nil {
		out = io.Discard
	}
	return &App{out: out, RenderFormat: "png"}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.ParamsFile = opts.ParamsFile
	a.PairsFile = opts.PairsFile
	a.LanesFile = opts.LanesFile
	a.DBPath = opts.DBPath
	a.ComputePitch = opts.ComputePitch
	a.Optimize = opts.Optimize
	a.SearchRange = opts.SearchRange
	a.Report = opts.Report
	a.ExportFile = opts.ExportFile
	a.RenderFile = opts.RenderFile
	a.RenderFormat = opts.RenderFormat
	a.HttpPort = opts.HttpPort
	a.HttpMode = opts.HttpMode
	a.MqttMode = opts.MqttMode
}

// Load resolves configuration, parameters and calibration points.
// Parameters are layered: config, then the session store, then -params.
// Points come from -pairs/-lanes when given, otherwise from the store.
func (a *App) Load() (err error) {
	config := calib.DefaultConfig()
	if a.ConfigFile != "" {
		c, err := calib.LoadConfig(a.ConfigFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		config = c
		log.Printf("[CALIB] Loaded config from %s", a.ConfigFile)
	}
	a.Config = config

	dbPath := a.DBPath
	if dbPath == "" {
		dbPath = config.Database
	}
	if dbPath != "" && a.Store == nil {
		store, openErr := calib.OpenStore(dbPath)
		if openErr != nil {
			return openErr
		}
		a.Store = store
		defer func() {
			if err != nil {
				if cerr := store.Close(); cerr != nil {
					log.Printf("[STORE] Error closing database: %v", cerr)
				}
				a.Store = nil
			}
		}()
	}

	params := config.Params()
	if a.Store != nil {
		p, found, err := a.Store.LoadParams(params)
		if err != nil {
			return fmt.Errorf("loading stored params: %w", err)
		}
		if found {
			params = p
			log.Printf("[STORE] Restored parameters from %s", dbPath)
		}
	}
	if a.ParamsFile != "" {
		p, err := calib.LoadParamsFile(a.ParamsFile, params)
		if err != nil {
			return err
		}
		params = p
		log.Printf("[CALIB] Loaded parameters from %s", a.ParamsFile)
	}

	manager, err := calib.NewCalibrationManagerWithParams(params)
	if err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	a.Manager = manager

	pairs, lanes, err := a.loadPoints()
	if err != nil {
		return err
	}
	a.setPoints(pairs, lanes)
	log.Printf("[CALIB] %d point pairs, %d lanes loaded", len(pairs), len(lanes))
	return nil
}

func (a *App) loadPoints() ([]calib.Correspondence, []calib.Line2D, error) {
	var (
		pairs []calib.Correspondence
		lanes []calib.Line2D
		err   error
	)

	switch {
	case a.PairsFile != "":
		if pairs, err = calib.ParsePointPairsFile(a.PairsFile); err != nil {
			return nil, nil, err
		}
	case a.Store != nil:
		if pairs, err = a.Store.LoadPairs(); err != nil {
			return nil, nil, err
		}
	}

	switch {
	case a.LanesFile != "":
		if lanes, err = calib.ParseLanesFile(a.LanesFile); err != nil {
			return nil, nil, err
		}
	case a.Store != nil:
		if lanes, err = a.Store.LoadLanes(); err != nil {
			return nil, nil, err
		}
	}

	if a.Store != nil && (a.PairsFile != "" || a.LanesFile != "") {
		if err := a.Store.SavePoints(pairs, lanes); err != nil {
			return nil, nil, err
		}
	}
	return pairs, lanes, nil
}

// Close releases the store and the MQTT connection
func (a *App) Close() {
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
		a.MQTTClient = nil
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			log.Printf("[STORE] Error closing database: %v", err)
		}
		a.Store = nil
	}
}

func (a *App) setPoints(pairs []calib.Correspondence, lanes []calib.Line2D) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pairs = pairs
	a.lanes = lanes
}

// Pairs returns the loaded point pairs
func (a *App) Pairs() []calib.Correspondence {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.pairs
}

// Lanes returns the loaded lane lines
func (a *App) Lanes() []calib.Line2D {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lanes
}

// LastSweep returns the most recent optimizer result, or nil
func (a *App) LastSweep() *calib.OptimizeResult {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastSweep
}

func (a *App) searchRange() float64 {
	if a.SearchRange > 0 {
		return a.SearchRange
	}
	if a.Config != nil {
		return a.Config.SearchRange()
	}
	return calib.DefaultSearchRange
}

func (a *App) limits() calib.BEVRange {
	if a.Config != nil {
		return a.Config.Limits()
	}
	return calib.DefaultBEVRange()
}

func (a *App) computePitch() (float64, error) {
	lanes := a.Lanes()
	if len(lanes) < 2 {
		return 0, fmt.Errorf("%w: need at least 2 lanes, have %d", calib.ErrInsufficientData, len(lanes))
	}
	pitch, ok := a.Manager.ComputePitchFromLanes(lanes)
	if !ok {
		return 0, fmt.Errorf("%w: lanes do not meet at a finite vanishing point", calib.ErrDegenerate)
	}
	log.Printf("[CALIB] Pitch from %d lanes: %.5f rad (%.2f°)", len(lanes), pitch, pitch*180/math.Pi)
	return pitch, nil
}

func (a *App) optimize() (calib.OptimizeResult, error) {
	pairs := a.Pairs()
	if len(pairs) == 0 {
		return calib.OptimizeResult{}, fmt.Errorf("%w: optimization needs point pairs", calib.ErrInsufficientData)
	}
	res := a.Manager.OptimizePitch(pairs, a.searchRange())

	a.mu.Lock()
	a.lastSweep = &res
	a.mu.Unlock()

	log.Printf("[CALIB] Optimized pitch over %d pairs: %.5f rad (vp_y=%.1f), error %.2f -> %.2f",
		len(pairs), res.Pitch, res.VanishingY, res.InitialError, res.TotalError)
	return res, nil
}

// report builds the text quality report for the current parameters
func (a *App) report() (string, error) {
	t := a.Manager.Transformer()
	pairs := a.Pairs()
	rep, err := calib.ReprojectionStats(t, pairs)
	if err != nil {
		return "", err
	}
	points := make([]calib.Point, len(pairs))
	for i, c := range pairs {
		points[i] = t.RadarToBEV(c.RadarX, c.RadarY)
	}
	limits := a.limits()
	return calib.FormatReport(t.Params(), rep, calib.ValidateRanges(points, limits), limits), nil
}

// persistParams saves the manager's parameters to the store, if any
func (a *App) persistParams() {
	if a.Store == nil {
		return
	}
	if err := a.Store.SaveParams(a.Manager.Params()); err != nil {
		log.Printf("[STORE] Error saving parameters: %v", err)
	}
}

// updateParams merges a partial JSON parameter update into the current
// parameters and persists the result
func (a *App) updateParams(payload []byte) (calib.Params, error) {
	p, err := a.Manager.UpdateParams(func(p *calib.Params) error {
		merged, err := calib.DecodeParams(payload, *p)
		if err != nil {
			return err
		}
		*p = merged
		return nil
	})
	if err != nil {
		return p, err
	}
	a.persistParams()
	log.Printf("[CALIB] Parameters updated: pitch=%.5f height=%.3f yaw=%.5f",
		p.Camera.Pitch, p.Camera.Height, p.Radar.Yaw)
	return p, nil
}

// export snapshots the calibration and writes it to each configured sink.
// MQTT publish failures are logged, not returned.
func (a *App) export() (*calib.CalibrationExport, error) {
	e := calib.NewExport(a.Manager)
	if a.ExportFile != "" {
		if err := calib.SaveExport(a.ExportFile, e); err != nil {
			return nil, err
		}
	}
	if a.Store != nil {
		if err := a.Store.SaveParams(e.Params()); err != nil {
			return nil, err
		}
		if err := a.Store.RecordExport(e); err != nil {
			return nil, err
		}
	}
	if a.Publisher != nil {
		if err := a.Publisher.PublishExport(e); err != nil {
			log.Printf("[MQTT] Error publishing calibration %s: %v", e.ID, err)
		}
	}
	return e, nil
}

// handleParamsMessage applies a parameter update received over MQTT and
// republishes the resulting calibration
func (a *App) handleParamsMessage(payload []byte) {
	if _, err := a.updateParams(payload); err != nil {
		log.Printf("[MQTT] Rejected parameter update: %v", err)
		return
	}
	if _, err := a.export(); err != nil {
		log.Printf("[MQTT] Error exporting calibration: %v", err)
	}
}

// writeRender draws the BEV overlay in the given format
func (a *App) writeRender(w io.Writer, format string) error {
	t := a.Manager.Transformer()
	pairs := a.Pairs()
	limits := a.limits()

	switch format {
	case "png":
		return png.Encode(w, calib.NewBEVRenderer(t, pairs, limits).Render())
	case "svg":
		return calib.NewVectorBEVRenderer(t, pairs, limits).RenderToSVG(w)
	case "vector-png":
		return calib.NewVectorBEVRenderer(t, pairs, limits).RenderToPNG(w)
	case "html":
		return calib.BEVScatterChart(w, t, pairs, limits)
	}
	return fmt.Errorf("unknown render format %q", format)
}

func (a *App) render() error {
	f, err := os.Create(a.RenderFile)
	if err != nil {
		return fmt.Errorf("creating %s: %w", a.RenderFile, err)
	}
	if err := a.writeRender(f, a.RenderFormat); err != nil {
		f.Close()
		return fmt.Errorf("rendering %s: %w", a.RenderFile, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Saved %s overlay to %s\n", a.RenderFormat, a.RenderFile)
	return nil
}

// RunCalibration runs the batch pipeline: pitch from lanes, optimization,
// report, export and render, each step only when requested
func (a *App) RunCalibration() error {
	if err := a.Load(); err != nil {
		return err
	}
	defer a.Close()

	if a.ComputePitch {
		pitch, err := a.computePitch()
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Pitch from vanishing point: %.5f rad (%.2f°)\n", pitch, pitch*180/math.Pi)
	}

	if a.Optimize {
		res, err := a.optimize()
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Optimized pitch: %.5f rad (%.2f°), vanishing row %.1f, error %.2f -> %.2f\n",
			res.Pitch, res.Pitch*180/math.Pi, res.VanishingY, res.InitialError, res.TotalError)
	}

	if a.Report {
		if len(a.Pairs()) == 0 {
			fmt.Fprintln(a.out, "No point pairs loaded; skipping report")
		} else {
			text, err := a.report()
			if err != nil {
				return err
			}
			fmt.Fprint(a.out, text)
		}
	}

	if a.ExportFile != "" || (a.Store != nil && (a.ComputePitch || a.Optimize)) {
		e, err := a.export()
		if err != nil {
			return err
		}
		if a.ExportFile != "" {
			fmt.Fprintf(a.out, "Saved calibration %s to %s\n", e.ID, a.ExportFile)
		}
	}

	if a.RenderFile != "" {
		return a.render()
	}
	return nil
}

// RunRender renders the BEV overlay for the current parameters
func (a *App) RunRender() error {
	if err := a.Load(); err != nil {
		return err
	}
	defer a.Close()
	if a.RenderFile == "" {
		return errors.New("no render output given (use -render)")
	}
	return a.render()
}

// RunService serves HTTP and/or MQTT until interrupted
func (a *App) RunService() error {
	if err := a.Load(); err != nil {
		return err
	}
	defer a.Close()

	if a.ComputePitch {
		if _, err := a.computePitch(); err != nil {
			log.Printf("[CALIB] Warning: %v", err)
		}
	}
	if a.Optimize {
		if _, err := a.optimize(); err != nil {
			log.Printf("[CALIB] Warning: %v", err)
		}
	}

	if a.MqttMode {
		client, err := calib.ConnectMQTT(a.Config, a.handleParamsMessage)
		if err != nil {
			return fmt.Errorf("initializing MQTT: %w", err)
		}
		if client == nil {
			return errors.New("MQTT broker not configured (set mqtt.broker or MQTT_BROKER)")
		}
		a.MQTTClient = client
		a.Publisher = calib.NewPublisher(client.GetClient(), client.Prefix())
	}

	var server *http.Server
	if a.HttpMode {
		addr := fmt.Sprintf("0.0.0.0:%d", a.HttpPort)
		server = &http.Server{
			Addr:              addr,
			Handler:           newHTTPServer(a),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Printf("[HTTP] Starting server on %s", addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("[HTTP] Server error: %v", err)
			}
		}()
	}

	a.printServiceInfo()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Fprintln(a.out, "\nShutting down service...")
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("[HTTP] Shutdown error: %v", err)
		}
	}
	fmt.Fprintln(a.out, "Service stopped")
	return nil
}

func (a *App) printServiceInfo() {
	fmt.Fprintln(a.out, "\nService Running")
	fmt.Fprintln(a.out, "===============")

	if a.MQTTClient != nil {
		prefix := a.MQTTClient.Prefix()
		fmt.Fprintln(a.out, "\nMQTT:")
		fmt.Fprintf(a.out, "  Parameter updates: %s\n", a.MQTTClient.ParamsTopic())
		fmt.Fprintf(a.out, "  Calibration:       %s/calibration\n", prefix)
		fmt.Fprintf(a.out, "  Pitch:             %s/pitch\n", prefix)
	}

	if a.HttpMode {
		fmt.Fprintf(a.out, "\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Fprintln(a.out, "  GET  /health              - Health check")
		fmt.Fprintln(a.out, "  GET  /params              - Current parameters (PUT to update)")
		fmt.Fprintln(a.out, "  GET  /vanishing-point     - Vanishing lines and point (POST adds, DELETE undoes)")
		fmt.Fprintln(a.out, "  POST /vanishing-point/apply - Set pitch from the vanishing point")
		fmt.Fprintln(a.out, "  GET  /project/radar?x=&y= - Radar point to BEV and image")
		fmt.Fprintln(a.out, "  GET  /project/image?u=&v= - Pixel to BEV and radar")
		fmt.Fprintln(a.out, "  GET  /homography          - Radar and camera homographies")
		fmt.Fprintln(a.out, "  POST /optimize            - Refine pitch against the point pairs")
		fmt.Fprintln(a.out, "  POST /export              - Save and publish the calibration")
		fmt.Fprintln(a.out, "  GET  /report              - Calibration quality report")
		fmt.Fprintln(a.out, "  GET  /bev.png /bev.svg /bev.html - BEV overlay")
		fmt.Fprintln(a.out, "  GET  /sweep.html          - Last optimizer sweep")
	}

	fmt.Fprintln(a.out, "\nPress Ctrl+C to stop")
}
