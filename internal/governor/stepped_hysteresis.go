// Package governor provides the generic smoothing and hysteresis primitives
// the control core layers on top of its domain logic: a fixed-threshold
// stepped hysteresis (used by the DPL's battery-discharge gate), a
// pressure-gated ramp limiter, and a rolling min/max tracker.
package governor

// SteppedHysteresis quantizes a continuous value into one of Steps+1
// discrete levels (0..Steps), with separate rising and falling threshold
// ramps so the level doesn't chatter back and forth at a single boundary.
//
// Ascending mode (value rises → level rises): the increase ramp runs low to
// high and the decrease ramp must be crossed downward to drop a level.
// Descending mode inverts both ramps. Each ramp is defined by just its two
// endpoints — the threshold for step i of Steps is linearly interpolated
// between Start (step 1) and End (step Steps).
type SteppedHysteresis struct {
	Current int // quantized level, 0 to Steps

	steps     int
	ascending bool

	increaseStart, increaseEnd float64
	decreaseStart, decreaseEnd float64
}

// NewSteppedHysteresis builds a hysteresis quantizer with the given rising
// (increase) and falling (decrease) threshold ramps.
func NewSteppedHysteresis(
	steps int,
	ascending bool,
	increaseStart, increaseEnd float64,
	decreaseStart, decreaseEnd float64,
) *SteppedHysteresis {
	return &SteppedHysteresis{
		steps:         steps,
		ascending:     ascending,
		increaseStart: increaseStart,
		increaseEnd:   increaseEnd,
		decreaseStart: decreaseStart,
		decreaseEnd:   decreaseEnd,
	}
}

// Update re-quantizes value against both ramps and returns the resulting
// level. The level only moves when value has crossed enough thresholds to
// justify it in one direction; inside the dead zone between the two ramps
// it holds at its previous value.
func (s *SteppedHysteresis) Update(value float64) int {
	if s.steps <= 0 {
		return s.Current
	}

	floor := rampLevel(value, s.steps, s.decreaseStart, s.decreaseEnd, s.ascending)
	ceiling := rampLevel(value, s.steps, s.increaseStart, s.increaseEnd, s.ascending)

	switch {
	case s.Current > floor:
		s.Current = floor
	case s.Current < ceiling:
		s.Current = ceiling
	}
	return s.Current
}

// rampLevel reports how many of steps linearly-interpolated thresholds
// between start and end the value has crossed, in the direction crossed
// implies (>= threshold for ascending mode, < threshold for descending).
//
// The thresholds themselves may run in either direction independent of
// mode — increaseStart/increaseEnd and decreaseStart/decreaseEnd are each
// free to ascend or descend. When the ramp's own direction matches the
// mode, crossings accumulate from step 1 upward; when it opposes the mode,
// the first threshold that's crossed wins and everything above it counts.
func rampLevel(value float64, steps int, start, end float64, ascending bool) int {
	if steps <= 0 {
		return 0
	}

	crossed := func(step int) bool {
		t := rampThreshold(start, end, step, steps)
		if ascending {
			return value >= t
		}
		return value < t
	}

	rampAscends := end >= start
	if ascending == rampAscends {
		level := 0
		for step := 1; step <= steps; step++ {
			if !crossed(step) {
				break
			}
			level = step
		}
		return level
	}

	for step := 1; step <= steps; step++ {
		if crossed(step) {
			return steps - step + 1
		}
	}
	return 0
}

// rampThreshold returns the threshold for step out of steps total steps,
// linearly interpolated so step 1 lands on start and step steps lands on
// end.
func rampThreshold(start, end float64, step, steps int) float64 {
	if steps <= 1 {
		return start
	}
	frac := float64(step-1) / float64(steps-1)
	return start + (end-start)*frac
}
