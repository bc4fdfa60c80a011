// Package huawei implements the grid-charger control plane for a Huawei
// R4850-style CAN-bus rectifier: online/offline voltage and current
// setting, and an autonomous power-steering mode with hysteresis and
// emergency-charge override.
package huawei

import (
	"github.com/ryansname/powerctl/internal/datapoint"
	"github.com/ryansname/powerctl/internal/uptime"
)

// RectifierParameters mirrors the 11-float reading the rectifier reports,
// each field carrying its own receive timestamp.
type RectifierParameters struct {
	InputVoltageVolts     float64
	InputFrequencyHz      float64
	InputCurrentAmps      float64
	InputPowerWatts       float64
	InputTempCelsius      float64
	EfficiencyPercent     float64
	OutputVoltageVolts    float64
	OutputCurrentAmps     float64
	MaxOutputCurrentAmps  float64
	OutputPowerWatts      float64
	OutputTempCelsius     float64
	AmpHour               float64

	inputVoltageTs, inputFrequencyTs, inputCurrentTs, inputPowerTs, inputTempTs   uint32
	efficiencyTs, outputVoltageTs, outputCurrentTs, maxOutputCurrentTs, outputPowerTs, outputTempTs, ampHourTs uint32
}

// LastUpdate is the oldest timestamp across the reading's fields, so a
// stalled channel holds the whole reading back rather than reporting a
// falsely-fresh aggregate.
func (r RectifierParameters) LastUpdate() uint32 {
	ts := []uint32{
		r.inputVoltageTs, r.inputFrequencyTs, r.inputCurrentTs, r.inputPowerTs, r.inputTempTs,
		r.efficiencyTs, r.outputVoltageTs, r.outputCurrentTs, r.maxOutputCurrentTs, r.outputPowerTs,
		r.outputTempTs, r.ampHourTs,
	}
	now := uptime.NowMillis()
	var oldest uint32
	found := false
	for _, t := range ts {
		if t == 0 {
			continue
		}
		if !found || uptime.Elapsed(now, t) > uptime.Elapsed(now, oldest) {
			oldest = t
			found = true
		}
	}
	return oldest
}

// applyField applies one decoded register value, stamping its own
// timestamp, per the 11-field layout the Huawei CAN status-response frame
// carries.
func (r *RectifierParameters) applyField(valueID byte, value float64, now uint32) {
	switch valueID {
	case 0x70:
		r.InputPowerWatts = value
		r.inputPowerTs = now
	case 0x71:
		r.InputFrequencyHz = value
		r.inputFrequencyTs = now
	case 0x72:
		r.InputCurrentAmps = value
		r.inputCurrentTs = now
	case 0x73:
		r.OutputPowerWatts = value
		r.outputPowerTs = now
	case 0x74:
		r.EfficiencyPercent = value
		r.efficiencyTs = now
	case 0x75:
		r.OutputVoltageVolts = value
		r.outputVoltageTs = now
	case 0x76:
		r.MaxOutputCurrentAmps = value
		r.maxOutputCurrentTs = now
	case 0x78:
		r.InputVoltageVolts = value
		r.inputVoltageTs = now
	case 0x7F:
		r.OutputTempCelsius = value
		r.outputTempTs = now
	case 0x80:
		r.InputTempCelsius = value
		r.inputTempTs = now
	case 0x81:
		r.OutputCurrentAmps = value
		r.outputCurrentTs = now
	}
}

// RectifierLabel names one field of a RectifierParameters reading, for the
// generic telemetry container Export builds.
type RectifierLabel int

const (
	LabelInputVoltage RectifierLabel = iota
	LabelInputFrequency
	LabelInputCurrent
	LabelInputPower
	LabelInputTemp
	LabelEfficiency
	LabelOutputVoltage
	LabelOutputCurrent
	LabelMaxOutputCurrent
	LabelOutputPower
	LabelOutputTemp
)

// rectifierTraits binds each RectifierLabel to its display name and unit, the
// Traits[L] implementation datapoint.Container needs.
type rectifierTraits struct{}

func (rectifierTraits) Name(l RectifierLabel) string {
	switch l {
	case LabelInputVoltage:
		return "input voltage"
	case LabelInputFrequency:
		return "input frequency"
	case LabelInputCurrent:
		return "input current"
	case LabelInputPower:
		return "input power"
	case LabelInputTemp:
		return "input temperature"
	case LabelEfficiency:
		return "efficiency"
	case LabelOutputVoltage:
		return "output voltage"
	case LabelOutputCurrent:
		return "output current"
	case LabelMaxOutputCurrent:
		return "max output current"
	case LabelOutputPower:
		return "output power"
	case LabelOutputTemp:
		return "output temperature"
	default:
		return "unknown"
	}
}

func (rectifierTraits) Unit(l RectifierLabel) string {
	switch l {
	case LabelInputFrequency:
		return "Hz"
	case LabelInputCurrent, LabelOutputCurrent, LabelMaxOutputCurrent:
		return "A"
	case LabelInputPower, LabelOutputPower:
		return "W"
	case LabelInputTemp, LabelOutputTemp:
		return "C"
	case LabelEfficiency:
		return "%"
	case LabelInputVoltage, LabelOutputVoltage:
		return "V"
	default:
		return ""
	}
}

// Export builds a point-in-time datapoint.Container snapshot of the
// reading, one entry per field that has been received at least once. The
// operator console renders these generically through the container's
// Range/GetDataPointFor API rather than needing to know the rectifier's
// specific field names.
func (r RectifierParameters) Export() *datapoint.Container[RectifierLabel, float64] {
	c := datapoint.NewContainer[RectifierLabel, float64](rectifierTraits{})
	unlock := c.Lock()
	defer unlock()

	add := func(label RectifierLabel, value float64, ts uint32) {
		if ts == 0 {
			return
		}
		c.Add(label, value)
	}
	add(LabelInputVoltage, r.InputVoltageVolts, r.inputVoltageTs)
	add(LabelInputFrequency, r.InputFrequencyHz, r.inputFrequencyTs)
	add(LabelInputCurrent, r.InputCurrentAmps, r.inputCurrentTs)
	add(LabelInputPower, r.InputPowerWatts, r.inputPowerTs)
	add(LabelInputTemp, r.InputTempCelsius, r.inputTempTs)
	add(LabelEfficiency, r.EfficiencyPercent, r.efficiencyTs)
	add(LabelOutputVoltage, r.OutputVoltageVolts, r.outputVoltageTs)
	add(LabelOutputCurrent, r.OutputCurrentAmps, r.outputCurrentTs)
	add(LabelMaxOutputCurrent, r.MaxOutputCurrentAmps, r.maxOutputCurrentTs)
	add(LabelOutputPower, r.OutputPowerWatts, r.outputPowerTs)
	add(LabelOutputTemp, r.OutputTempCelsius, r.outputTempTs)
	return c
}
