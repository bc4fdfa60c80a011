package huawei

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ryansname/powerctl/internal/hwif"
)

type fakeBus struct {
	sent []hwif.Frame
}

func (b *fakeBus) Send(f hwif.Frame) error {
	b.sent = append(b.sent, f)
	return nil
}

func (b *fakeBus) Receive() (hwif.Frame, bool) { return hwif.Frame{}, false }

func (b *fakeBus) lastCurrentAmps() float64 {
	if len(b.sent) == 0 {
		return 0
	}
	f := b.sent[len(b.sent)-1]
	raw := int32(f.Data[4])<<24 | int32(f.Data[5])<<16 | int32(f.Data[6])<<8 | int32(f.Data[7])
	return float64(raw) / 1024
}

type fakeBattery struct {
	dischargeLimitAmps float64
	currentAmps        float64
	emergency          bool
}

func (f *fakeBattery) DischargeCurrentLimitAmps() float64 { return f.dischargeLimitAmps }
func (f *fakeBattery) CurrentAmps() (float64, bool)       { return f.currentAmps, true }
func (f *fakeBattery) ImmediateChargingRequest() bool      { return f.emergency }

func TestEmergencyChargeOverridesMeterReading(t *testing.T) {
	bus := &fakeBus{}
	c := NewController(bus, nil)
	c.SetMode(ModeAutoInt)
	c.rp.applyField(0x75, 52.0, 1) // output voltage
	c.rp.applyField(0x74, 93.0, 1) // efficiency 93%
	c.upperPowerLimitWatts = 1500

	bat := &fakeBattery{emergency: true, dischargeLimitAmps: 1000}
	c.SetBattery(bat)

	c.runAutoInt(10)

	assert.InDelta(t, 0.93*1500/52.0, bus.lastCurrentAmps(), 0.01)
}

func TestEmergencyChargeClearsOnlyAfterCurrentDrops(t *testing.T) {
	bus := &fakeBus{}
	c := NewController(bus, nil)
	c.SetMode(ModeAutoInt)
	c.rp.applyField(0x75, 52.0, 1)
	bat := &fakeBattery{emergency: true}
	c.SetBattery(bat)

	c.runAutoInt(10) // asserted
	assert.True(t, c.batteryEmergencyCharging)

	bat.emergency = false
	c.rp.OutputCurrentAmps = 5 // still above clear threshold
	c.runAutoInt(20)
	assert.True(t, c.batteryEmergencyCharging, "must stay latched until current drops below 1A")

	c.rp.OutputCurrentAmps = 0.5
	c.runAutoInt(30)
	assert.False(t, c.batteryEmergencyCharging)
}

func TestEfficiencyDefaultsWhenAbsent(t *testing.T) {
	c := NewController(&fakeBus{}, nil)
	assert.Equal(t, 0.95, c.efficiency())
}

func TestEfficiencyOverriddenWhenImplausiblyLow(t *testing.T) {
	c := NewController(&fakeBus{}, nil)
	c.rp.applyField(0x74, 10.0, 1) // 10% reported
	assert.Equal(t, 1.0, c.efficiency())
}

func TestEfficiencyUsesReportedValueWhenPlausible(t *testing.T) {
	c := NewController(&fakeBus{}, nil)
	c.rp.applyField(0x74, 93.0, 1)
	assert.Equal(t, 0.93, c.efficiency())
}

func TestAutoIntDisablesBelowLowerBound(t *testing.T) {
	bus := &fakeBus{}
	c := NewController(bus, nil)
	c.SetMode(ModeAutoInt)
	c.ConfigureAutoInt(0, 5, 50, 1500)
	c.rp.applyField(0x75, 52.0, 1)
	c.rp.applyField(0x73, 100, 1) // output power 100W

	c.recomputeAutoInt(10, 2000) // huge import, newLimit should be negative -> disabled

	assert.False(t, c.autoPowerEnabled)
	assert.Equal(t, 0.0, bus.lastCurrentAmps())
}

func TestRectifierParametersExportOnlyIncludesReceivedFields(t *testing.T) {
	var rp RectifierParameters
	rp.applyField(0x75, 52.0, 1) // output voltage
	rp.applyField(0x74, 93.0, 1) // efficiency

	container := rp.Export()

	voltage, ok := container.Get(LabelOutputVoltage)
	assert.True(t, ok)
	assert.Equal(t, 52.0, voltage)

	_, ok = container.Get(LabelInputVoltage)
	assert.False(t, ok, "fields never received should be absent from the export")
}

func TestRectifierParametersExportLabelsAreHumanReadable(t *testing.T) {
	var rp RectifierParameters
	rp.applyField(0x75, 52.0, 1)

	container := rp.Export()
	dp, ok := container.GetDataPointFor(LabelOutputVoltage)
	assert.True(t, ok)
	assert.Equal(t, "output voltage", dp.Label())
	assert.Equal(t, "V", dp.Unit())
}
