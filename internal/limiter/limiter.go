// Package limiter implements the power-limiter inverter abstraction
// (component F): per-inverter target-state tracking, eligibility, and the
// overscaling math that compensates the aggregate limit for shaded MPPTs.
// Class-specific behaviour (solar / smart-buffer / battery) is a tagged
// variant rather than inheritance, per the design notes.
package limiter

import (
	"sort"

	"github.com/ryansname/powerctl/internal/inverter"
	"github.com/ryansname/powerctl/internal/uptime"
)

// Class is the inverter's power-source class.
type Class int

const (
	ClassSolar Class = iota
	ClassBattery
	ClassSmartBuffer
)

// Eligibility reports why an inverter can or cannot participate in the
// current allocation round.
type Eligibility int

const (
	Unreachable Eligibility = iota
	SendingCommandsDisabled
	MaxOutputUnknown
	CurrentLimitUnknown
	Eligible
)

// Inverter is one governed inverter: its radio handle, class, configured
// limits, overscaling configuration, and the target-state triple the DPL
// polls each tick.
type Inverter struct {
	Radio inverter.Radio
	Serial string

	Class                Class
	LowerPowerLimitWatts float64
	UpperPowerLimitWatts float64
	IsBehindPowerMeter   bool
	UseOverscaling       bool
	ScalingThreshold     float64 // (0, 1]
	AllowStandby         bool    // meaningful for ClassSmartBuffer

	SendingCommandsDisabled bool

	// DcToAcEfficiency converts a raw DC channel reading into the AC power
	// used for shading classification (per-MPPT "AC power from DC samples
	// × efficiency" in the component design). Defaults to 1 (no loss) when
	// zero.
	DcToAcEfficiency float64

	// target-state triple
	targetLimitWatts float64
	targetPowerState bool
	expectedAcWatts  float64

	UpdateTimeouts   int
	updateStartMs    uint32
	statsMs          uint32
	commandInFlight  bool

	Retiring bool
}

const noiseThresholdPerDCChannel = 10.0 // watts
const maxCommandTimeouts = 5

// acEfficiency returns the configured DC-to-AC conversion factor, defaulting
// to 1 (no loss) when unset.
func (inv *Inverter) acEfficiency() float64 {
	if inv.DcToAcEfficiency <= 0 {
		return 1
	}
	return inv.DcToAcEfficiency
}

// CurrentAcOutput returns the inverter's currently reported AC output, 0 if
// unreachable or not producing.
func (inv *Inverter) CurrentAcOutput() float64 {
	if inv.Radio == nil || !inv.Radio.IsReachable() || !inv.Radio.IsProducing() {
		return 0
	}
	var total float64
	for ch := 0; ch < inv.Radio.GetChannelsDC(); ch++ {
		total += inv.Radio.ChannelFieldValue(inverter.FieldPowerDC, ch)
	}
	return total
}

// GetEligibility reports this inverter's current eligibility to
// participate in class allocation.
func (inv *Inverter) GetEligibility() Eligibility {
	if inv.Radio == nil || !inv.Radio.IsReachable() {
		return Unreachable
	}
	if inv.SendingCommandsDisabled {
		return SendingCommandsDisabled
	}
	if inv.UpperPowerLimitWatts <= 0 {
		return MaxOutputUnknown
	}
	if inv.Radio.GetChannelsDC() == 0 {
		return CurrentLimitUnknown
	}
	return Eligible
}

// IsCommandInFlight reports whether update() is still waiting for stats
// newer than the last command's issue timestamp.
func (inv *Inverter) IsCommandInFlight() bool {
	return inv.commandInFlight
}

// LastStatsMillis returns the timestamp of the most recent ObserveStats
// call, 0 if stats have never arrived.
func (inv *Inverter) LastStatsMillis() uint32 {
	return inv.statsMs
}

// TargetLimitWatts returns the most recently commanded AC output target.
func (inv *Inverter) TargetLimitWatts() float64 {
	return inv.targetLimitWatts
}

// ObserveStats is called whenever new inverter stats arrive; it clears the
// in-flight flag once the observed stats postdate the last command issue.
func (inv *Inverter) ObserveStats(now uint32) {
	inv.statsMs = now
	if inv.commandInFlight && uptime.AtOrAfter(inv.statsMs, inv.updateStartMs) {
		inv.commandInFlight = false
	}
}

// perMpptShading returns, for each MPPT, the expected AC power at the
// currently configured limit, and whether that MPPT is shaded.
func (inv *Inverter) perMpptShading(currentLimitWatts float64) (expected []float64, shaded []bool) {
	mppts := inv.Radio.GetMppts()
	if mppts == 0 {
		return nil, nil
	}

	expected = make([]float64, mppts)
	shaded = make([]bool, mppts)

	threshold := 0.97
	if inv.UseOverscaling && inv.ScalingThreshold > 0 {
		threshold = inv.ScalingThreshold
	}

	perMpptConfiguredMax := inv.UpperPowerLimitWatts / float64(mppts)
	perMpptCurrentLimit := currentLimitWatts / float64(mppts)

	for m := 0; m < mppts; m++ {
		var acPower float64
		for _, c := range channelsForMppt(inv.Radio, m) {
			acPower += inv.Radio.ChannelFieldValue(inverter.FieldPowerDC, c) * inv.acEfficiency()
		}

		exp := perMpptCurrentLimit
		if !inv.Radio.SupportsPowerDistributionLogic() {
			exp = perMpptConfiguredMax
		}
		expected[m] = exp
		shaded[m] = acPower < threshold*exp
	}
	return expected, shaded
}

// GetMaxIncreaseWatts computes how much AC headroom is available right now,
// accounting for MPPT shading: each MPPT's AC output is compared to its
// expected share of the (overscaled, if applicable) current limit, and
// shaded MPPTs contribute no headroom.
func (inv *Inverter) GetMaxIncreaseWatts(currentLimitWatts float64) float64 {
	expected, shaded := inv.perMpptShading(currentLimitWatts)
	if expected == nil {
		return currentLimitWatts - inv.CurrentAcOutput()
	}

	var headroom float64
	for m := range expected {
		if shaded[m] {
			continue
		}
		headroom += expected[m]
	}
	used := inv.CurrentAcOutput()
	increase := headroom - used
	if increase < 0 {
		return 0
	}
	return increase
}

// ScaleLimit implements the overscaling math: the deficit of shaded MPPTs is
// redistributed over the remaining ones, in proportion to the inverter's
// total MPPT count. This runs whenever UseOverscaling is set, independent of
// whether the inverter itself exposes power-distribution-logic — a PDL
// inverter still benefits from the aggregate-limit correction since PDL only
// governs how the radio stack splits an aggregate limit across its own
// channels, not whether the DPL's requested aggregate accounts for shading.
// The four documented edge cases are checked in order.
func (inv *Inverter) ScaleLimit(expectedWatts, currentLimitWatts, currentOutputWatts float64) float64 {
	if !inv.UseOverscaling || inv.Radio == nil {
		return expectedWatts
	}

	mppts := inv.Radio.GetMppts()
	if mppts < 2 {
		return expectedWatts
	}

	if currentLimitWatts < noiseThresholdPerDCChannel*float64(inv.Radio.GetChannelsDC()) {
		return expectedWatts
	}

	threshold := inv.ScalingThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = 1
	}
	perMpptLimit := currentLimitWatts / float64(mppts)

	var shadedAc float64
	shadedCount := 0
	for m := 0; m < mppts; m++ {
		var ac float64
		for _, c := range channelsForMppt(inv.Radio, m) {
			ac += inv.Radio.ChannelFieldValue(inverter.FieldPowerDC, c) * inv.acEfficiency()
		}
		if ac < threshold*perMpptLimit {
			shadedAc += ac
			shadedCount++
		}
	}

	nonShadedMppts := mppts - shadedCount
	if nonShadedMppts == 0 {
		if currentLimitWatts >= expectedWatts && currentOutputWatts <= expectedWatts {
			return min(currentLimitWatts, inv.UpperPowerLimitWatts)
		}
		return expectedWatts
	}

	overScaled := (expectedWatts - shadedAc) * float64(mppts) / float64(nonShadedMppts)
	if overScaled <= expectedWatts {
		return expectedWatts
	}
	if overScaled > inv.UpperPowerLimitWatts {
		return inv.UpperPowerLimitWatts
	}
	return overScaled
}

func channelsForMppt(r inverter.Radio, mppt int) []int {
	first := 0
	for m := 0; m < mppt; m++ {
		first += r.GetChannelsDCByMppt(m)
	}
	n := r.GetChannelsDCByMppt(mppt)
	out := make([]int, n)
	for i := range out {
		out[i] = first + i
	}
	return out
}

// ApplyIncrease raises the inverter's output by delta watts, capped by the
// available headroom, then overscales the resulting target through
// ScaleLimit so a shaded MPPT's missing share is redistributed onto the
// rest of the inverter rather than silently depressing the aggregate.
// A sleeping inverter only wakes when delta is at least the configured
// lower power limit.
func (inv *Inverter) ApplyIncrease(now uint32, delta, currentLimitWatts float64) {
	currentOutput := inv.CurrentAcOutput()
	maxIncrease := inv.GetMaxIncreaseWatts(currentLimitWatts)
	applied := delta
	if applied > maxIncrease {
		applied = maxIncrease
	}

	if !inv.targetPowerState {
		if delta < inv.LowerPowerLimitWatts {
			return
		}
		inv.setPowerState(now, true)
	}

	target := inv.ScaleLimit(currentOutput+applied, currentLimitWatts, currentOutput)
	inv.setAcOutput(now, target)
}

// ApplyReduction lowers the inverter's output to low watts. Solar inverters
// can never be put into standby (their floor is LowerPowerLimitWatts);
// smart-buffer inverters standby if AllowStandby and low is at or below the
// lower bound; battery inverters standby if AllowStandby and low is at or
// below zero, and otherwise clamp to the lower bound.
func (inv *Inverter) ApplyReduction(now uint32, low float64) {
	switch inv.Class {
	case ClassSolar:
		if low < inv.LowerPowerLimitWatts {
			low = inv.LowerPowerLimitWatts
		}
		inv.setAcOutput(now, low)
	case ClassSmartBuffer:
		if inv.AllowStandby && low <= inv.LowerPowerLimitWatts {
			inv.standby(now)
			return
		}
		if low < inv.LowerPowerLimitWatts {
			low = inv.LowerPowerLimitWatts
		}
		inv.setAcOutput(now, low)
	case ClassBattery:
		if low <= 0 && inv.AllowStandby {
			inv.standby(now)
			return
		}
		if low < inv.LowerPowerLimitWatts {
			low = inv.LowerPowerLimitWatts
		}
		inv.setAcOutput(now, low)
	}
}

func (inv *Inverter) standby(now uint32) {
	inv.setPowerState(now, false)
}

func (inv *Inverter) setPowerState(now uint32, on bool) {
	inv.targetPowerState = on
	inv.commandInFlight = true
	inv.updateStartMs = now
	if inv.Radio != nil {
		_ = inv.Radio.SendPowerControlRequest(on)
	}
}

func (inv *Inverter) setAcOutput(now uint32, watts float64) {
	if watts < 0 {
		watts = 0
	}
	inv.targetLimitWatts = watts
	inv.expectedAcWatts = watts
	inv.commandInFlight = true
	inv.updateStartMs = now
	if inv.Radio != nil {
		_ = inv.Radio.SendActivePowerControlRequest(watts, inverter.Absolute)
	}
}

// Update applies the current target-state transition and returns true while
// a command is still in flight, so the DPL knows to defer further
// calculation. Each time a command has gone more than 2 s without observed
// stats, UpdateTimeouts is incremented (purely informational) and the
// in-flight flag is cleared.
func (inv *Inverter) Update(now uint32) bool {
	if !inv.commandInFlight {
		return false
	}
	if uptime.Elapsed(now, inv.updateStartMs) > 2000 {
		inv.UpdateTimeouts++
		inv.commandInFlight = false
		return false
	}
	return true
}

// ByReducibleDescending sorts inverters by how much they could give up
// (current output minus their floor), descending — used when applying
// reductions across a class.
func ByReducibleDescending(invs []*Inverter) {
	sort.Slice(invs, func(i, j int) bool {
		return invs[i].CurrentAcOutput()-invs[i].LowerPowerLimitWatts > invs[j].CurrentAcOutput()-invs[j].LowerPowerLimitWatts
	})
}

// ByIncreaseHeadroomDescending sorts inverters by available increase
// headroom, descending — used when applying increases across a class.
func ByIncreaseHeadroomDescending(invs []*Inverter, currentLimitWatts float64) {
	sort.Slice(invs, func(i, j int) bool {
		return invs[i].GetMaxIncreaseWatts(currentLimitWatts) > invs[j].GetMaxIncreaseWatts(currentLimitWatts)
	})
}
