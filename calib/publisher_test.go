package calib

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestNewPublisher(t *testing.T) {
	p := NewPublisher(nil, "")
	if p.publishPrefix != "radarcal" {
		t.Errorf("default prefix = %s, want radarcal", p.publishPrefix)
	}
	if p.qos != 1 {
		t.Errorf("default QoS = %d, want 1", p.qos)
	}
	if !p.retain {
		t.Error("default retain should be true")
	}

	p.SetQoS(3)
	if p.qos != 1 {
		t.Errorf("SetQoS(3) changed QoS to %d", p.qos)
	}
	p.SetQoS(0)
	p.SetRetain(false)
	if p.qos != 0 || p.retain {
		t.Errorf("QoS/retain = %d/%v, want 0/false", p.qos, p.retain)
	}
}

func TestPublisher_PublishExport(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)
	p := NewPublisher(mock, "site1")

	m := NewCalibrationManager()
	if err := m.UpdateCamera(func(c *CameraParams) { c.Pitch = 0.05 }); err != nil {
		t.Fatal(err)
	}
	e := NewExport(m)

	if err := p.PublishExport(e); err != nil {
		t.Fatalf("PublishExport() error = %v", err)
	}

	msgs := mock.GetPublishedMessages()
	if len(msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(msgs))
	}

	if msgs[0].Topic != "site1/calibration" || !msgs[0].Retain || msgs[0].QoS != 1 {
		t.Errorf("calibration message = %s retain=%v qos=%d", msgs[0].Topic, msgs[0].Retain, msgs[0].QoS)
	}
	var got CalibrationExport
	if err := json.Unmarshal(msgs[0].Payload, &got); err != nil {
		t.Fatalf("calibration payload: %v", err)
	}
	if got.ID != e.ID || got.Camera.Pitch != 0.05 {
		t.Errorf("calibration payload = %+v", got)
	}

	if msgs[1].Topic != "site1/pitch" {
		t.Errorf("second topic = %s, want site1/pitch", msgs[1].Topic)
	}
	var pitch PitchMessage
	if err := json.Unmarshal(msgs[1].Payload, &pitch); err != nil {
		t.Fatalf("pitch payload: %v", err)
	}
	if pitch.ExportID != e.ID || pitch.Pitch != 0.05 {
		t.Errorf("pitch payload = %+v", pitch)
	}
	if math.Abs(pitch.PitchDeg-0.05*180/math.Pi) > 1e-9 {
		t.Errorf("pitch_deg = %v", pitch.PitchDeg)
	}
	if math.Abs(pitch.VanishingY-(480-1000*math.Tan(0.05))) > 1e-9 {
		t.Errorf("vanishing_y = %v", pitch.VanishingY)
	}

	if p.LastExport() != e {
		t.Error("LastExport() should return the published export")
	}
}

func TestPublisher_Errors(t *testing.T) {
	e := NewExport(NewCalibrationManager())

	if err := NewPublisher(nil, "x").PublishExport(e); err == nil {
		t.Error("expected error with nil client")
	}

	disconnected := NewMockClient()
	if err := NewPublisher(disconnected, "x").PublishExport(e); err == nil {
		t.Error("expected error with disconnected client")
	}

	failing := NewMockClient()
	failing.SetConnected(true)
	failing.SetPublishError(errors.New("quota exceeded"))
	p := NewPublisher(failing, "x")
	if err := p.PublishExport(e); err == nil {
		t.Error("expected publish error")
	}
	if p.LastExport() != nil {
		t.Error("LastExport() should stay nil after a failed publish")
	}

	hanging := NewMockClient()
	hanging.SetConnected(true)
	hanging.SetPublishHangs(true)
	p = NewPublisher(hanging, "x")
	if err := p.PublishExport(e); err == nil {
		t.Error("expected error when the broker never acknowledges")
	}
	if p.LastExport() != nil {
		t.Error("LastExport() should stay nil after an unacknowledged publish")
	}

	if err := NewPublisher(disconnected, "x").PublishExport(nil); err == nil {
		t.Error("expected error for nil export")
	}
}
