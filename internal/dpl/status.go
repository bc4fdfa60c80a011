// Package dpl implements the dynamic power limiter (component G): the
// control core's outer loop. It arbitrates solar, smart-buffer, and battery
// inverter classes against a live meter reading (or a flat base-load target
// when the meter is stale), gates battery discharge against SoC/voltage
// thresholds and a night-discharge latch, and schedules a daily inverter
// restart.
package dpl

// Status is the outcome of one Tick call. The same status is only logged
// at most every 10s by the caller; Tick itself is side-effect-free with
// respect to logging cadence.
type Status int

const (
	// WaitingForValidTimestamp means the wall clock has not yet synced
	// (e.g. NTP); no control decisions are safe to make.
	WaitingForValidTimestamp Status = iota
	// InverterCmdPending means at least one governed inverter still has a
	// command in flight; nothing else runs until it clears.
	InverterCmdPending
	// DisabledByConfig means the controller is turned off in static config.
	DisabledByConfig
	// DisabledByMqtt means a runtime override has disabled the controller.
	DisabledByMqtt
	// InverterInvalid means there are no governed inverters to control.
	InverterInvalid
	// InverterStatsPending means at least one governed inverter has never
	// reported stats.
	InverterStatsPending
	// UnconditionalFullSolarPassthrough means the override mode is active:
	// solar DC output is pushed straight through the battery-class
	// inverters, bypassing the meter entirely.
	UnconditionalFullSolarPassthrough
	// PowerMeterPending means the meter reading hasn't caught up with the
	// latest inverter-stats timestamp yet.
	PowerMeterPending
	// Stable means a full allocation tick ran to completion.
	Stable
)

func (s Status) String() string {
	switch s {
	case WaitingForValidTimestamp:
		return "WaitingForValidTimestamp"
	case InverterCmdPending:
		return "InverterCmdPending"
	case DisabledByConfig:
		return "DisabledByConfig"
	case DisabledByMqtt:
		return "DisabledByMqtt"
	case InverterInvalid:
		return "InverterInvalid"
	case InverterStatsPending:
		return "InverterStatsPending"
	case UnconditionalFullSolarPassthrough:
		return "UnconditionalFullSolarPassthrough"
	case PowerMeterPending:
		return "PowerMeterPending"
	case Stable:
		return "Stable"
	default:
		return "Unknown"
	}
}
