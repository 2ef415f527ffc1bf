package calib

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
camera:
  height: 1.8
  pitch: 0.05
  fx: 1200
  fy: 1180
  cx: 960
  cy: 540
radar:
  yaw: 0.01
  xOffset: 0.2
  yOffset: 1.5
mqtt:
  broker: tcp://localhost:1883
  publishPrefix: site1
optimizer:
  searchRange: 80
database: /var/lib/radarcal/session.db
bevRange:
  minX: -20
  maxX: 20
  minY: 0
  maxY: 120
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	p := config.Params()
	if p.Camera.Height != 1.8 || p.Camera.Fx != 1200 || p.Camera.Cy != 540 {
		t.Errorf("camera = %+v", p.Camera)
	}
	if p.Radar.XOffset != 0.2 || p.Radar.YOffset != 1.5 {
		t.Errorf("radar = %+v", p.Radar)
	}
	if config.MQTT.Broker != "tcp://localhost:1883" || config.MQTT.PublishPrefix != "site1" {
		t.Errorf("mqtt = %+v", config.MQTT)
	}
	if config.SearchRange() != 80 {
		t.Errorf("SearchRange() = %v, want 80", config.SearchRange())
	}
	if config.Database != "/var/lib/radarcal/session.db" {
		t.Errorf("Database = %q", config.Database)
	}
	if l := config.Limits(); l.MaxY != 120 || l.MinX != -20 {
		t.Errorf("Limits() = %+v", l)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, "radar:\n  xOffset: 3.5\n")

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if config.Camera != DefaultCamera() {
		t.Errorf("camera = %+v, want defaults", config.Camera)
	}
	if config.Radar.XOffset != 3.5 {
		t.Errorf("radar.xOffset = %v, want 3.5", config.Radar.XOffset)
	}
	if config.SearchRange() != DefaultSearchRange {
		t.Errorf("SearchRange() = %v, want default", config.SearchRange())
	}
	if config.Limits() != DefaultBEVRange() {
		t.Errorf("Limits() = %+v, want default", config.Limits())
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errText string
	}{
		{"invalid yaml", "camera: [", "parsing config YAML"},
		{"zero focal length", "camera:\n  fx: 0\n", "focal lengths"},
		{"negative height", "camera:\n  height: -1\n", "camera.height"},
		{"negative search range", "optimizer:\n  searchRange: -5\n", "searchRange"},
		{"inverted range", "bevRange:\n  minX: 5\n  maxX: -5\n  maxY: 10\n", "bevRange"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("LoadConfig() expected error")
			}
			if !strings.Contains(err.Error(), tt.errText) {
				t.Errorf("error = %v, want it to mention %q", err, tt.errText)
			}
		})
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil ||
		!strings.Contains(err.Error(), "config file not found") {
		t.Errorf("missing file error = %v", err)
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	config := DefaultConfig()
	config.Camera.Pitch = 0.033
	config.Radar.Yaw = -0.2
	config.MQTT.ClientID = "radarcal-test"
	config.BEVRange = &BEVRange{MinX: -10, MaxX: 10, MinY: 1, MaxY: 60}

	path := filepath.Join(t.TempDir(), "saved.yaml")
	if err := SaveConfig(path, config); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if loaded.Params() != config.Params() {
		t.Errorf("params = %+v, want %+v", loaded.Params(), config.Params())
	}
	if loaded.MQTT.ClientID != "radarcal-test" {
		t.Errorf("clientId = %q", loaded.MQTT.ClientID)
	}
	if *loaded.BEVRange != *config.BEVRange {
		t.Errorf("bevRange = %+v, want %+v", *loaded.BEVRange, *config.BEVRange)
	}
}
