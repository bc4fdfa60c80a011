// Package provider implements the solar-charger Provider backends: an
// event-driven MQTT subscriber (one or more networked instances) and a
// VE.Direct UART reader built on component D.
package provider

import (
	"strconv"
	"sync"

	"github.com/ryansname/powerctl/internal/mqttbus"
	"github.com/ryansname/powerctl/internal/solarcharger"
	"github.com/ryansname/powerctl/internal/uptime"
)

// InstanceTopics names the per-field topics for one MQTT-reporting MPPT
// instance. A topic left empty is never subscribed.
type InstanceTopics struct {
	Instance           string
	OutputPower        string
	OutputVoltage      string
	PanelPower         string
	YieldTotal         string
	YieldToday         string
	NetworkTotalDCPower string
}

// MQTTConfig configures the MQTT solar-charger backend across one or more
// instances (a VE.Smart network reports per-unit topics plus, optionally, a
// shared network-total topic).
type MQTTConfig struct {
	Client    mqttbus.PubSub
	Instances []InstanceTopics
}

// MQTT is an event-driven solar-charger Provider.
type MQTT struct {
	cfg MQTTConfig

	mu    sync.Mutex
	mppts map[string]*solarcharger.MpptStats
}

// NewMQTT constructs an MQTT backend.
func NewMQTT(cfg MQTTConfig) *MQTT {
	return &MQTT{cfg: cfg, mppts: make(map[string]*solarcharger.MpptStats)}
}

func (m *MQTT) Init(verbose bool) bool {
	if m.cfg.Client == nil || len(m.cfg.Instances) == 0 {
		return false
	}
	for _, inst := range m.cfg.Instances {
		m.mu.Lock()
		m.mppts[inst.Instance] = &solarcharger.MpptStats{Instance: inst.Instance}
		m.mu.Unlock()

		if err := m.subscribeField(inst.Instance, inst.OutputPower, func(s *solarcharger.MpptStats, now uint32, v float64) {
			s.SetOutputPower(now, v)
		}); err != nil {
			return false
		}
		if err := m.subscribeField(inst.Instance, inst.OutputVoltage, func(s *solarcharger.MpptStats, now uint32, v float64) {
			s.SetOutputVoltage(now, v)
		}); err != nil {
			return false
		}
		if err := m.subscribeField(inst.Instance, inst.PanelPower, func(s *solarcharger.MpptStats, now uint32, v float64) {
			s.SetPanelPower(now, v)
		}); err != nil {
			return false
		}
		if err := m.subscribeField(inst.Instance, inst.YieldTotal, func(s *solarcharger.MpptStats, now uint32, v float64) {
			s.SetYieldTotal(now, v)
		}); err != nil {
			return false
		}
		if err := m.subscribeField(inst.Instance, inst.YieldToday, func(s *solarcharger.MpptStats, now uint32, v float64) {
			s.SetYieldToday(now, v)
		}); err != nil {
			return false
		}
		if err := m.subscribeField(inst.Instance, inst.NetworkTotalDCPower, func(s *solarcharger.MpptStats, now uint32, v float64) {
			s.SetNetworkTotalDcInputPower(now, v)
		}); err != nil {
			return false
		}
	}
	return true
}

func (m *MQTT) subscribeField(instance, topic string, apply func(*solarcharger.MpptStats, uint32, float64)) error {
	if topic == "" {
		return nil
	}
	return m.cfg.Client.Subscribe(topic, 0, func(_ string, payload []byte) {
		v, err := strconv.ParseFloat(string(payload), 64)
		if err != nil {
			return
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		s := m.mppts[instance]
		if s == nil {
			return
		}
		apply(s, uptime.NowMillis(), v)
	})
}

func (m *MQTT) Deinit() {
	for _, inst := range m.cfg.Instances {
		for _, topic := range []string{inst.OutputPower, inst.OutputVoltage, inst.PanelPower, inst.YieldTotal, inst.YieldToday, inst.NetworkTotalDCPower} {
			if topic != "" {
				_ = m.cfg.Client.Unsubscribe(topic)
			}
		}
	}
}

func (m *MQTT) Loop() {}

func (m *MQTT) GetStats() solarcharger.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := solarcharger.Stats{Mppts: make([]solarcharger.MpptStats, 0, len(m.mppts))}
	for _, s := range m.mppts {
		out.Mppts = append(out.Mppts, *s)
	}
	return out
}
