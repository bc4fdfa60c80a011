package dpl

import (
	"time"

	"github.com/ryansname/powerctl/internal/governor"
	"github.com/sixdouglas/suncalc"
)

// BatteryGateConfig holds the enable/disable thresholds for battery
// discharge, independent of the discharge-current-limit arbitration in
// internal/battery — this gate decides whether the battery class
// participates in allocation at all.
type BatteryGateConfig struct {
	StartThresholdSoc float64
	StopThresholdSoc  float64

	StartThresholdVoltage float64
	StopThresholdVoltage  float64

	IgnoreSoc bool

	// LoadCorrectionFactor corrects the voltage fallback channel for the
	// battery class's own AC draw (voltage sags under load) before it's
	// compared against StartThresholdVoltage/StopThresholdVoltage — applied
	// by the caller via voltage + acLoadAmps*LoadCorrectionFactor, the same
	// term internal/battery's discharge-limit arbitration uses.
	LoadCorrectionFactor float64

	AlwaysUseAtNight bool
	Latitude         float64
	Longitude        float64
}

// SunTimesFunc reports sunrise and sunset for a given day and location, so
// tests can inject fixed times instead of depending on wall-clock position.
type SunTimesFunc func(now time.Time, lat, lon float64) (sunrise, sunset time.Time)

// RealSunTimes wraps the astronomical sun-position library.
func RealSunTimes(now time.Time, lat, lon float64) (sunrise, sunset time.Time) {
	times := suncalc.GetTimes(now, lat, lon)
	return times["sunrise"].Value, times["sunset"].Value
}

// BatteryGate tracks the discharge-enable decision across ticks: the
// underlying hysteresis step (0 or 1) and the night-discharge latch.
type BatteryGate struct {
	hysteresis *governor.SteppedHysteresis
	latched    bool
}

// NewBatteryGate constructs a gate. The hysteresis is fixed at construction
// to a single ascending step over the normalized 0..1 fraction computed each
// tick from whichever channel (SoC or voltage) is currently active — this
// lets the gate reuse one hysteresis instance even though SoC and voltage
// live on different scales and the active channel can change tick to tick.
func NewBatteryGate() *BatteryGate {
	return &BatteryGate{hysteresis: governor.NewSteppedHysteresis(1, true, 1.0, 1.0, 0.0, 0.0)}
}

// Evaluate runs the documented pseudocode: no battery inverters disables
// outright; the night latch clears at day; the normalized threshold
// crossing decides start/stop/hold; and — only if still disabled — the
// "always use at night" rule force-enables once per night.
func (g *BatteryGate) Evaluate(
	cfg BatteryGateConfig,
	now time.Time,
	hasBatteryInverters bool,
	soc float64, socValid bool,
	voltage float64,
	sunTimes SunTimesFunc,
) bool {
	if !hasBatteryInverters {
		g.latched = false
		g.hysteresis.Current = 0
		return false
	}

	night := isNight(now, cfg.Latitude, cfg.Longitude, sunTimes)

	if g.latched && !night {
		// Clearing the night latch at day requires the start threshold to be
		// reached again — it doesn't fall back to ordinary hysteresis hold.
		g.latched = false
		g.hysteresis.Current = 0
	}

	level, start, stop := selectChannel(cfg, soc, socValid, voltage)
	frac := normalizeFrac(level, start, stop)
	stopReached := frac <= 0
	startReached := frac >= 1
	decision := g.hysteresis.Update(frac) == 1

	// The stop threshold is a hard floor: it overrides even the
	// always-use-at-night latch, so a depleted battery is never forced to
	// discharge.
	if stopReached {
		g.hysteresis.Current = 0
		return false
	}

	if !startReached && cfg.AlwaysUseAtNight && night && !decision && !g.latched {
		g.latched = true
		g.hysteresis.Current = 1
		decision = true
	}

	return decision
}

func isNight(now time.Time, lat, lon float64, fn SunTimesFunc) bool {
	if fn == nil {
		fn = RealSunTimes
	}
	sunrise, sunset := fn(now, lat, lon)
	return now.Before(sunrise) || now.After(sunset)
}

// selectChannel picks SoC when it's valid and not ignored, else falls back
// to voltage, per the documented "compare SoC first" rule.
func selectChannel(cfg BatteryGateConfig, soc float64, socValid bool, voltage float64) (level, start, stop float64) {
	if !cfg.IgnoreSoc && socValid {
		return soc, cfg.StartThresholdSoc, cfg.StopThresholdSoc
	}
	return voltage, cfg.StartThresholdVoltage, cfg.StopThresholdVoltage
}

// normalizeFrac maps level onto a 0 (at stop) .. 1 (at start) scale so the
// shared hysteresis instance can compare across channels of different
// units. A degenerate start==stop config decides by simple comparison
// instead of dividing by zero.
func normalizeFrac(level, start, stop float64) float64 {
	denom := start - stop
	if denom == 0 {
		if level >= start {
			return 1
		}
		return 0
	}
	return (level - stop) / denom
}
