package governor

import "math"

// SlowRampState tracks state for the pressure-gated accelerating ramp
// smoother. This smoother ignores brief fluctuations and only responds to
// sustained changes, with a slow initial response that accelerates over
// time. The DPL uses this to optionally soften a target jump instead of
// snapping straight to it (see Controller.Config.SmoothTargetChanges), off
// by default so the literal target-derivation arithmetic is exact when
// smoothing isn't requested.
type SlowRampState struct {
	Current     float64 // current smoothed output value
	Pressure    float64 // signed accumulator (positive = target above current, negative = below)
	initialized bool
}

// SlowRampConfig holds tunable parameters for the slow ramp smoother.
type SlowRampConfig struct {
	ThresholdSeconds      float64 // pressure magnitude required before responding (e.g., 600)
	PressureCapSeconds    float64 // maximum pressure magnitude (e.g., 660)
	RateAccel             float64 // acceleration of ramp rate in units/s² (e.g., 0.02778)
	DecayMultiplier       float64 // how much faster pressure drains vs builds (e.g., 2.0)
	FullPressureDiff      float64 // diff magnitude at which pressure builds at 1x rate; rate scales linearly (2x at 2*FullPressureDiff, etc.)
	Damping               float64 // pressure pulled toward zero by this amount per second (e.g., 0.5)
	PressureReleaseFactor float64 // release rate per second per unit of pressure above threshold (e.g., 0.05)
}

// DefaultSlowRampConfig returns the default configuration for power-target
// smoothing. With threshold=600s (10min), pressure cap=660s (11min),
// progressSeconds at cap=60s. RateAccel chosen so maxRate = 100 W/s at cap:
// 100 / 60² = 0.02778. FullPressureDiff=1000W means a full-scale target jump
// (1kW) builds pressure at 1x; smaller diffs build proportionally slower.
// PressureReleaseFactor creates equilibrium where buildRate = releaseRate
// above threshold.
func DefaultSlowRampConfig() SlowRampConfig {
	return SlowRampConfig{
		ThresholdSeconds:      600.0,
		PressureCapSeconds:    660.0,
		RateAccel:             100.0 / (60.0 * 60.0),
		DecayMultiplier:       2.0,
		FullPressureDiff:      1000.0,
		Damping:               0.5,
		PressureReleaseFactor: 0.05,
	}
}

// Update advances the ramp by one second and returns the new smoothed
// value. The first call seeds Current at target with no ramping, since
// there's nothing yet to smooth away from.
func (s *SlowRampState) Update(target float64, config SlowRampConfig) float64 {
	const dt = 1.0

	if !s.initialized {
		s.Current = target
		s.initialized = true
		return s.Current
	}

	diff := target - s.Current
	s.integratePressure(diff, dt, config)
	s.Current += s.rampStep(diff, config)

	return s.Current
}

// rampStep returns how far Current should move this tick: zero while
// accumulated pressure sits below threshold or disagrees in sign with diff
// (the ramp only fires once a sustained difference has built enough
// pressure in the direction it's already pushing), and otherwise a
// quadratically-accelerating step capped so it never passes the target.
func (s *SlowRampState) rampStep(diff float64, config SlowRampConfig) float64 {
	magnitude := math.Abs(s.Pressure)
	if magnitude <= config.ThresholdSeconds || diff*s.Pressure <= 0 {
		return 0
	}

	progress := magnitude - config.ThresholdSeconds
	maxStep := config.RateAccel * progress * progress

	if math.Abs(diff) <= maxStep {
		return diff
	}
	return math.Copysign(maxStep, diff)
}

// integratePressure runs the pressure accumulator through one tick: build
// or drain toward diff's direction, clamp to the configured cap, bleed off
// any excess above threshold, then damp the remainder toward zero.
func (s *SlowRampState) integratePressure(diff, dt float64, config SlowRampConfig) {
	s.Pressure = accumulatePressure(s.Pressure, diff, dt, config)
	s.Pressure = clampPressure(s.Pressure, config.PressureCapSeconds)
	s.Pressure = releasePressure(s.Pressure, dt, config)
	s.Pressure = dampPressure(s.Pressure, config.Damping*dt)
}

// accumulatePressure folds diff into pressure for one tick. Both build and
// drain rates scale linearly with |diff| (rate = |diff| / FullPressureDiff),
// but a pressure that already opposes diff's direction drains at
// DecayMultiplier times that rate instead of building, so a reversal clears
// old pressure faster than a fresh push accumulates it.
func accumulatePressure(pressure, diff, dt float64, config SlowRampConfig) float64 {
	if config.FullPressureDiff <= 0 {
		return pressure
	}

	direction := math.Copysign(1, diff)
	rate := math.Abs(diff) / config.FullPressureDiff * dt

	aligned := pressure * direction // positive once pressure agrees with diff's direction
	if aligned < 0 {
		aligned = min(0, aligned+rate*config.DecayMultiplier)
	} else {
		aligned += rate
	}
	return direction * aligned
}

func clampPressure(pressure, cap float64) float64 {
	return max(-cap, min(cap, pressure))
}

// releasePressure bleeds pressure above threshold back down at a rate
// proportional to the excess. This runs independently of accumulatePressure
// so sustained pressure settles at an equilibrium instead of climbing
// without bound.
func releasePressure(pressure, dt float64, config SlowRampConfig) float64 {
	if config.PressureReleaseFactor <= 0 {
		return pressure
	}

	magnitude := math.Abs(pressure)
	if magnitude <= config.ThresholdSeconds {
		return pressure
	}

	excess := magnitude - config.ThresholdSeconds
	release := excess * config.PressureReleaseFactor * dt
	if pressure > 0 {
		return max(config.ThresholdSeconds, pressure-release)
	}
	return min(-config.ThresholdSeconds, pressure+release)
}

// dampPressure pulls pressure toward zero by amount, snapping straight to
// zero once it's within amount of the origin rather than oscillating
// around it one damping step at a time.
func dampPressure(pressure, amount float64) float64 {
	switch {
	case pressure > amount:
		return pressure - amount
	case pressure < -amount:
		return pressure + amount
	default:
		return 0
	}
}
