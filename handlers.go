package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/kwv/radarcal/calib"
)

const maxBodyBytes = 1 << 20

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(app *App) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		status := struct {
			Status        string    `json:"status"`
			Timestamp     time.Time `json:"timestamp"`
			Calibrated    bool      `json:"calibrated"`
			Pairs         int       `json:"pairs"`
			Lanes         int       `json:"lanes"`
			MQTTConnected bool      `json:"mqttConnected"`
		}{
			Status:     "ok",
			Timestamp:  time.Now(),
			Calibrated: app.Manager.IsCalibrated(),
			Pairs:      len(app.Pairs()),
			Lanes:      len(app.Lanes()),
		}
		if app.MQTTClient != nil {
			status.MQTTConnected = app.MQTTClient.IsConnected()
		}
		writeJSON(w, http.StatusOK, status)
	})

	mux.HandleFunc("/params", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, app.Manager.Params())
		case http.MethodPut, http.MethodPost:
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				http.Error(w, "Error reading body", http.StatusBadRequest)
				return
			}
			p, err := app.updateParams(body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			log.Printf("[HTTP] /params updated from %s", r.RemoteAddr)
			writeJSON(w, http.StatusOK, p)
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodPost)
		}
	})

	mux.HandleFunc("/vanishing-point", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
		case http.MethodPost:
			var l calib.Line2D
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&l); err != nil {
				http.Error(w, fmt.Sprintf("Invalid line: %v", err), http.StatusBadRequest)
				return
			}
			app.Manager.AddVanishingLine(l.X1, l.Y1, l.X2, l.Y2)
		case http.MethodDelete:
			if r.URL.Query().Get("all") == "true" {
				app.Manager.ClearVanishingLines()
			} else if !app.Manager.UndoVanishingLine() {
				http.Error(w, "No vanishing lines to undo", http.StatusConflict)
				return
			}
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodPost, http.MethodDelete)
			return
		}
		writeJSON(w, http.StatusOK, vanishingState(app.Manager))
	})

	mux.HandleFunc("/vanishing-point/apply", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		pitch, ok := app.Manager.ComputePitchFromVanishingPoint()
		if !ok {
			http.Error(w, "Vanishing point undefined (need at least 2 non-parallel lines)", http.StatusUnprocessableEntity)
			return
		}
		app.persistParams()
		log.Printf("[HTTP] Pitch set from vanishing point: %.5f rad", pitch)
		writeJSON(w, http.StatusOK, app.Manager.Params())
	})

	mux.HandleFunc("/project/radar", func(w http.ResponseWriter, r *http.Request) {
		x, errX := queryFloat(r, "x")
		y, errY := queryFloat(r, "y")
		if err := errors.Join(errX, errY); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		t := app.Manager.Transformer()
		resp := struct {
			Radar        calib.Point  `json:"radar"`
			BEV          calib.Point  `json:"bev"`
			Image        *calib.Point `json:"image,omitempty"`
			ImageDefined bool         `json:"imageDefined"`
		}{
			Radar: calib.Point{X: x, Y: y},
			BEV:   t.RadarToBEV(x, y),
		}
		if px, ok := t.RadarToImage(x, y); ok {
			resp.Image = &px
			resp.ImageDefined = true
		}
		writeJSON(w, http.StatusOK, resp)
	})

	mux.HandleFunc("/project/image", func(w http.ResponseWriter, r *http.Request) {
		u, errU := queryFloat(r, "u")
		v, errV := queryFloat(r, "v")
		if err := errors.Join(errU, errV); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		t := app.Manager.Transformer()
		bev, ok := t.ImageToBEV(u, v)
		if !ok {
			http.Error(w, "Pixel does not intersect the ground plane", http.StatusUnprocessableEntity)
			return
		}
		resp := struct {
			Image calib.Point `json:"image"`
			BEV   calib.Point `json:"bev"`
			Radar calib.Point `json:"radar"`
		}{
			Image: calib.Point{X: u, Y: v},
			BEV:   bev,
			Radar: t.BEVToRadar(bev.X, bev.Y),
		}
		writeJSON(w, http.StatusOK, resp)
	})

	mux.HandleFunc("/homography", func(w http.ResponseWriter, r *http.Request) {
		t := app.Manager.Transformer()
		resp := struct {
			RadarToBEV  [][]float64 `json:"radar_to_bev"`
			CameraToBEV [][]float64 `json:"camera_to_bev"`
			CameraError string      `json:"camera_error,omitempty"`
		}{
			RadarToBEV: t.RadarBEVHomography().Rows(),
		}
		if h, err := t.CameraBEVHomography(); err != nil {
			resp.CameraError = err.Error()
		} else {
			resp.CameraToBEV = h.Rows()
		}
		writeJSON(w, http.StatusOK, resp)
	})

	mux.HandleFunc("/optimize", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		res, err := app.optimize()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		app.persistParams()
		res.Candidates = nil
		writeJSON(w, http.StatusOK, res)
	})

	mux.HandleFunc("/export", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		e, err := app.export()
		if err != nil {
			log.Printf("[HTTP] Export failed: %v", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		log.Printf("[HTTP] Exported calibration %s", e.ID)
		writeJSON(w, http.StatusOK, e)
	})

	mux.HandleFunc("/report", func(w http.ResponseWriter, r *http.Request) {
		text, err := app.report()
		if err != nil {
			if errors.Is(err, calib.ErrInsufficientData) {
				http.Error(w, "No point pairs available", http.StatusServiceUnavailable)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		if _, err := io.WriteString(w, text); err != nil {
			log.Printf("[HTTP] Error writing report: %v", err)
		}
	})

	mux.HandleFunc("/bev.png", renderHandler(app, "png", "image/png"))
	mux.HandleFunc("/bev.svg", renderHandler(app, "svg", "image/svg+xml"))
	mux.HandleFunc("/bev.html", renderHandler(app, "html", "text/html; charset=utf-8"))

	mux.HandleFunc("/sweep.html", func(w http.ResponseWriter, r *http.Request) {
		sweep := app.LastSweep()
		if sweep == nil {
			http.Error(w, "No optimizer sweep available", http.StatusServiceUnavailable)
			return
		}
		var buf bytes.Buffer
		if err := calib.SweepChart(&buf, *sweep); err != nil {
			log.Printf("[HTTP] Error rendering sweep chart: %v", err)
			http.Error(w, "Error rendering chart", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		if _, err := buf.WriteTo(w); err != nil {
			log.Printf("[HTTP] Error writing sweep chart: %v", err)
		}
	})

	return mux
}

// renderHandler serves the BEV overlay in one format
func renderHandler(app *App, format, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := app.writeRender(&buf, format); err != nil {
			log.Printf("[HTTP] Error rendering %s overlay: %v", format, err)
			http.Error(w, "Error rendering overlay", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "no-cache")
		if _, err := buf.WriteTo(w); err != nil {
			log.Printf("[HTTP] Error writing %s overlay: %v", format, err)
		}
	}
}

type vanishingResponse struct {
	Lines   []calib.Line2D `json:"lines"`
	Defined bool           `json:"defined"`
	Point   *calib.Point   `json:"point,omitempty"`
	Pitch   *float64       `json:"pitch,omitempty"`
}

func vanishingState(m *calib.CalibrationManager) vanishingResponse {
	resp := vanishingResponse{Lines: m.VanishingLines()}
	if resp.Lines == nil {
		resp.Lines = []calib.Line2D{}
	}
	if vp, ok := m.VanishingPoint(); ok {
		cam := m.Params().Camera
		pitch := calib.PitchFromVanishingY(cam.Cy, cam.Fy, vp.Y)
		resp.Defined = true
		resp.Point = &vp
		resp.Pitch = &pitch
	}
	return resp
}

func queryFloat(r *http.Request, name string) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, fmt.Errorf("missing query parameter %q", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid query parameter %q: %s", name, raw)
	}
	return v, nil
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	for _, m := range allowed {
		w.Header().Add("Allow", m)
	}
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] Error encoding response: %v", err)
	}
}
