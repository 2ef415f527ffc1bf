package calib

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const publishTimeout = 2 * time.Second

// PitchMessage is the payload published to <prefix>/pitch
type PitchMessage struct {
	ExportID   string  `json:"export_id"`
	Pitch      float64 `json:"pitch"`
	PitchDeg   float64 `json:"pitch_deg"`
	VanishingY float64 `json:"vanishing_y"`
	Timestamp  int64   `json:"timestamp"`
}

// Publisher publishes calibration exports to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	last          *CalibrationExport
	mu            sync.RWMutex
}

// NewPublisher creates a publisher writing under prefix.
// If client is nil, publishing fails with a not-connected error.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = defaultPublishPrefix
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           1,
		retain:        true, // late subscribers get the current calibration
	}
}

// PublishExport publishes the full export to <prefix>/calibration and the
// pitch summary to <prefix>/pitch
func (p *Publisher) PublishExport(e *CalibrationExport) error {
	if e == nil {
		return fmt.Errorf("nil calibration export")
	}
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	if err := p.publishJSON(p.publishPrefix+"/calibration", e); err != nil {
		log.Printf("[MQTT] error publishing calibration %s: %v", e.ID, err)
		return err
	}

	pitch := PitchMessage{
		ExportID:   e.ID,
		Pitch:      e.Camera.Pitch,
		PitchDeg:   e.Camera.Pitch * 180 / math.Pi,
		VanishingY: e.Camera.VanishingY(),
		Timestamp:  e.Timestamp.Unix(),
	}
	if err := p.publishJSON(p.publishPrefix+"/pitch", pitch); err != nil {
		log.Printf("[MQTT] error publishing pitch for %s: %v", e.ID, err)
		return err
	}

	p.mu.Lock()
	p.last = e
	p.mu.Unlock()

	log.Printf("[MQTT] published calibration %s (pitch=%.4f rad)", e.ID, e.Camera.Pitch)
	return nil
}

func (p *Publisher) publishJSON(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", topic, err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publishing to %s: no acknowledgement within %s", topic, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// LastExport returns the most recently published export, or nil
func (p *Publisher) LastExport() *CalibrationExport {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
