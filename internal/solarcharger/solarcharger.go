// Package solarcharger implements the solar-charger stats model: per-MPPT
// telemetry plus the cross-MPPT aggregation rules the DPL consumes, and the
// Provider backends that populate it (VE.Direct UART, MQTT-subscribing).
package solarcharger

import "github.com/ryansname/powerctl/internal/uptime"

const staleAfterMs = 10_000

// MpptStats is one charge controller's telemetry. Each field carries its
// own receive timestamp; a stale instance (age over the module's own
// LastUpdate > 10s) is excluded from aggregation.
type MpptStats struct {
	Instance string

	OutputPowerWatts   float64
	outputPowerTs      uint32
	OutputVoltageVolts float64
	outputVoltageTs    uint32
	PanelPowerWatts    float64
	panelPowerTs       uint32
	YieldTotalKwh      float64
	yieldTotalTs       uint32
	YieldTodayWh       float64
	yieldTodayTs       uint32

	// NetworkTotalDcInputPowerWatts, when present, overrides the summed
	// OutputPowerWatts across all instances (a VE.Smart-networked MPPT set
	// reports one shared total rather than per-unit shares).
	NetworkTotalDcInputPowerWatts float64
	hasNetworkOverride            bool
	networkTotalTs                uint32
}

// SetOutputPower records an output-power reading.
func (m *MpptStats) SetOutputPower(now uint32, watts float64) {
	m.OutputPowerWatts = watts
	m.outputPowerTs = now
}

// SetOutputVoltage records an output-voltage reading.
func (m *MpptStats) SetOutputVoltage(now uint32, volts float64) {
	m.OutputVoltageVolts = volts
	m.outputVoltageTs = now
}

// SetPanelPower records a panel-power reading.
func (m *MpptStats) SetPanelPower(now uint32, watts float64) {
	m.PanelPowerWatts = watts
	m.panelPowerTs = now
}

// SetYieldTotal records a lifetime-yield reading.
func (m *MpptStats) SetYieldTotal(now uint32, kwh float64) {
	m.YieldTotalKwh = kwh
	m.yieldTotalTs = now
}

// SetYieldToday records a today-yield reading.
func (m *MpptStats) SetYieldToday(now uint32, wh float64) {
	m.YieldTodayWh = wh
	m.yieldTodayTs = now
}

// SetNetworkTotalDcInputPower records a VE.Smart network-wide override.
func (m *MpptStats) SetNetworkTotalDcInputPower(now uint32, watts float64) {
	m.NetworkTotalDcInputPowerWatts = watts
	m.hasNetworkOverride = true
	m.networkTotalTs = now
}

// LastUpdate is the most recent of this instance's own field timestamps.
func (m *MpptStats) LastUpdate() uint32 {
	latest, found := uint32(0), false
	for _, ts := range []uint32{m.outputPowerTs, m.outputVoltageTs, m.panelPowerTs, m.yieldTotalTs, m.yieldTodayTs, m.networkTotalTs} {
		if ts == 0 {
			continue
		}
		if !found || uptime.After(ts, latest) {
			latest, found = ts, true
		}
	}
	return latest
}

// IsStale reports whether this instance hasn't reported in over 10s.
func (m *MpptStats) IsStale(now uint32) bool {
	last := m.LastUpdate()
	return last == 0 || uptime.Elapsed(now, last) > staleAfterMs
}

// Stats is the full solar-charger subsystem snapshot: every known MPPT
// instance, fresh or not (aggregation filters staleness itself).
type Stats struct {
	Mppts []MpptStats
}

// DummyStats is the zero-value snapshot returned while no provider is
// installed.
func DummyStats() Stats { return Stats{} }

// AggregatePowerWatts sums OutputPowerWatts across non-stale instances,
// unless at least one fresh instance carries a network-total override, in
// which case that override dominates (it already represents the combined
// DC input across the VE.Smart network).
func (s Stats) AggregatePowerWatts(now uint32) float64 {
	var sum float64
	for _, m := range s.Mppts {
		if m.IsStale(now) {
			continue
		}
		if m.hasNetworkOverride {
			return m.NetworkTotalDcInputPowerWatts
		}
		sum += m.OutputPowerWatts
	}
	return sum
}

// AggregateOutputVoltage returns the minimum output voltage across
// non-stale instances (a parallel string's limiting voltage), 0 if none are
// fresh.
func (s Stats) AggregateOutputVoltage(now uint32) float64 {
	min, found := 0.0, false
	for _, m := range s.Mppts {
		if m.IsStale(now) {
			continue
		}
		if !found || m.OutputVoltageVolts < min {
			min, found = m.OutputVoltageVolts, true
		}
	}
	return min
}

// AggregateYieldTotalKwh sums lifetime yield across non-stale instances.
func (s Stats) AggregateYieldTotalKwh(now uint32) float64 {
	var sum float64
	for _, m := range s.Mppts {
		if !m.IsStale(now) {
			sum += m.YieldTotalKwh
		}
	}
	return sum
}

// AggregateYieldTodayWh sums today's yield across non-stale instances.
func (s Stats) AggregateYieldTodayWh(now uint32) float64 {
	var sum float64
	for _, m := range s.Mppts {
		if !m.IsStale(now) {
			sum += m.YieldTodayWh
		}
	}
	return sum
}

// LastUpdate returns the newest per-instance LastUpdate across the set, 0 if
// empty.
func (s Stats) LastUpdate() uint32 {
	latest, found := uint32(0), false
	for _, m := range s.Mppts {
		ts := m.LastUpdate()
		if ts == 0 {
			continue
		}
		if !found || uptime.After(ts, latest) {
			latest, found = ts, true
		}
	}
	return latest
}
