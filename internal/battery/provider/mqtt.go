// Package provider implements the battery Provider backends named by the
// supplemented feature set: an event-driven MQTT subscriber, a VE.Direct
// TEXT-only UART reader (Victron SmartShunt), and a CAN frame receiver
// whose wire decoding is explicitly out of scope and is therefore injected.
package provider

import (
	"strconv"
	"sync"

	"github.com/ryansname/powerctl/internal/battery"
	"github.com/ryansname/powerctl/internal/mqttbus"
	"github.com/ryansname/powerctl/internal/uptime"
)

// MQTTConfig configures the MQTT battery backend. Any topic left empty is
// never subscribed, leaving that stat perpetually stale.
type MQTTConfig struct {
	Client                    mqttbus.PubSub
	VoltageTopic              string
	CurrentTopic              string
	SoCTopic                  string
	BmsDischargeLimitTopic    string
	ImmediateChargeRequestTopic string
}

// MQTT is an event-driven battery Provider.
type MQTT struct {
	cfg MQTTConfig

	mu    sync.Mutex
	stats battery.Stats
}

// NewMQTT constructs an MQTT battery backend.
func NewMQTT(cfg MQTTConfig) *MQTT { return &MQTT{cfg: cfg} }

func (m *MQTT) Init(verbose bool) bool {
	if m.cfg.Client == nil {
		return false
	}
	subscribed := false

	if m.cfg.VoltageTopic != "" {
		if err := m.cfg.Client.Subscribe(m.cfg.VoltageTopic, 0, m.numeric(func(now uint32, v float64) {
			m.stats.SetVoltage(now, v)
		})); err != nil {
			return false
		}
		subscribed = true
	}
	if m.cfg.CurrentTopic != "" {
		if err := m.cfg.Client.Subscribe(m.cfg.CurrentTopic, 0, m.numeric(func(now uint32, v float64) {
			m.stats.SetCurrent(now, v)
		})); err != nil {
			return false
		}
		subscribed = true
	}
	if m.cfg.SoCTopic != "" {
		if err := m.cfg.Client.Subscribe(m.cfg.SoCTopic, 0, m.numeric(func(now uint32, v float64) {
			m.stats.SetSoC(now, v)
		})); err != nil {
			return false
		}
		subscribed = true
	}
	if m.cfg.BmsDischargeLimitTopic != "" {
		if err := m.cfg.Client.Subscribe(m.cfg.BmsDischargeLimitTopic, 0, m.numeric(func(now uint32, v float64) {
			m.stats.SetBmsDischargeCurrentLimit(now, v)
		})); err != nil {
			return false
		}
		subscribed = true
	}
	if m.cfg.ImmediateChargeRequestTopic != "" {
		if err := m.cfg.Client.Subscribe(m.cfg.ImmediateChargeRequestTopic, 0, func(_ string, payload []byte) {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.stats.ImmediateChargingRequested = string(payload) == "1" || string(payload) == "true"
		}); err != nil {
			return false
		}
		subscribed = true
	}

	return subscribed
}

func (m *MQTT) numeric(apply func(now uint32, v float64)) mqttbus.Handler {
	return func(_ string, payload []byte) {
		v, err := strconv.ParseFloat(string(payload), 64)
		if err != nil {
			return
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		apply(uptime.NowMillis(), v)
	}
}

func (m *MQTT) Deinit() {
	for _, topic := range []string{m.cfg.VoltageTopic, m.cfg.CurrentTopic, m.cfg.SoCTopic, m.cfg.BmsDischargeLimitTopic, m.cfg.ImmediateChargeRequestTopic} {
		if topic != "" {
			_ = m.cfg.Client.Unsubscribe(topic)
		}
	}
}

func (m *MQTT) Loop() {}

func (m *MQTT) GetStats() battery.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
