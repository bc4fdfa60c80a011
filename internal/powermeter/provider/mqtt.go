// Package provider implements the power-meter Provider backends: an
// event-driven MQTT subscriber, an HTTP-polling JSON reader, and a
// receive-only UDP datagram listener — the three power-meter "kinds" the
// component design's Provider template is meant to cover.
package provider

import (
	"strconv"
	"sync"

	"github.com/ryansname/powerctl/internal/mqttbus"
	"github.com/ryansname/powerctl/internal/powermeter"
	"github.com/ryansname/powerctl/internal/uptime"
)

// MQTTConfig configures the MQTT-subscribing power-meter backend.
type MQTTConfig struct {
	Client mqttbus.PubSub
	Topic  string
	// JSONPath is a dotted path into a JSON payload; empty means the raw
	// payload is itself the numeric value as ASCII text.
	JSONPath string
}

// MQTT is an event-driven power-meter Provider: it subscribes once in Init
// and updates stats from whatever callback fires, matching §4.B's
// "MQTT-subscribing" provider kind exactly (Loop is a no-op).
type MQTT struct {
	cfg MQTTConfig

	mu    sync.Mutex
	stats powermeter.Stats
}

// NewMQTT constructs an MQTT backend. Init performs the subscription.
func NewMQTT(cfg MQTTConfig) *MQTT { return &MQTT{cfg: cfg} }

func (m *MQTT) Init(verbose bool) bool {
	if m.cfg.Client == nil || m.cfg.Topic == "" {
		return false
	}
	err := m.cfg.Client.Subscribe(m.cfg.Topic, 0, func(_ string, payload []byte) {
		var watts float64
		var err error
		if m.cfg.JSONPath != "" {
			watts, err = extractDottedPath(payload, m.cfg.JSONPath)
		} else {
			watts, err = strconv.ParseFloat(string(payload), 64)
		}
		if err != nil {
			return
		}
		m.mu.Lock()
		m.stats.Set(uptime.NowMillis(), watts)
		m.mu.Unlock()
	})
	return err == nil
}

func (m *MQTT) Deinit() { _ = m.cfg.Client.Unsubscribe(m.cfg.Topic) }
func (m *MQTT) Loop()   {}

func (m *MQTT) GetStats() powermeter.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
