package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ryansname/powerctl/internal/mqttbus"
)

type fakeBroker struct {
	handlers map[string]mqttbus.Handler
}

func newFakeBroker() *fakeBroker { return &fakeBroker{handlers: map[string]mqttbus.Handler{}} }

func (f *fakeBroker) Subscribe(topic string, qos byte, handler mqttbus.Handler) error {
	f.handlers[topic] = handler
	return nil
}
func (f *fakeBroker) Unsubscribe(topic string) error { delete(f.handlers, topic); return nil }
func (f *fakeBroker) publish(topic string, payload []byte) {
	if h, ok := f.handlers[topic]; ok {
		h(topic, payload)
	}
}

func TestMQTTBatteryProviderAppliesEachChannel(t *testing.T) {
	broker := newFakeBroker()
	m := NewMQTT(MQTTConfig{
		Client:                 broker,
		VoltageTopic:           "battery/voltage",
		CurrentTopic:           "battery/current",
		SoCTopic:               "battery/soc",
		BmsDischargeLimitTopic: "battery/dischargelimit",
	})
	assert.True(t, m.Init(false))

	broker.publish("battery/voltage", []byte("52.3"))
	broker.publish("battery/current", []byte("-10.5"))
	broker.publish("battery/soc", []byte("87"))
	broker.publish("battery/dischargelimit", []byte("100"))

	stats := m.GetStats()
	assert.Equal(t, 52.3, stats.VoltageVolts)
	assert.Equal(t, -10.5, stats.CurrentAmps)
	assert.Equal(t, 87.0, stats.SoCPercent)
	assert.Equal(t, 100.0, stats.BmsDischargeCurrentLimitAmps)
}

func TestMQTTBatteryProviderImmediateChargeRequestTopic(t *testing.T) {
	broker := newFakeBroker()
	m := NewMQTT(MQTTConfig{Client: broker, ImmediateChargeRequestTopic: "battery/emergency"})
	assert.True(t, m.Init(false))

	broker.publish("battery/emergency", []byte("1"))
	assert.True(t, m.GetStats().ImmediateChargingRequested)

	broker.publish("battery/emergency", []byte("0"))
	assert.False(t, m.GetStats().ImmediateChargingRequested)
}

func TestMQTTBatteryProviderRequiresAtLeastOneTopic(t *testing.T) {
	m := NewMQTT(MQTTConfig{Client: newFakeBroker()})
	assert.False(t, m.Init(false))
}
