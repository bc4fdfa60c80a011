package dpl

import (
	"math"

	"github.com/ryansname/powerctl/internal/limiter"
)

// dcToAc applies the fixed planning inverter efficiency and the
// configured conduction-loss percentage. "0.95" is a conservative default —
// the actual efficiency is only known after the fact.
func dcToAc(dcWatts, conductionLossPercent float64) float64 {
	return 0.95 * (1 - conductionLossPercent/100) * dcWatts
}

// updateInverterLimits collects the eligible inverters of one class, compares
// their combined output against requested, and — if the difference exceeds
// hysteresisWatts — redistributes it across the class (reducing or
// increasing), returning the resulting combined output.
func updateInverterLimits(now uint32, all []*limiter.Inverter, class limiter.Class, requested, hysteresisWatts float64) float64 {
	var invs []*limiter.Inverter
	for _, inv := range all {
		if inv.Class == class && inv.GetEligibility() == limiter.Eligible {
			invs = append(invs, inv)
		}
	}
	if len(invs) == 0 {
		return 0
	}

	var producing float64
	for _, inv := range invs {
		producing += inv.CurrentAcOutput()
	}

	diff := requested - producing
	if math.Abs(diff) < hysteresisWatts {
		return producing
	}

	if diff < 0 {
		return applyReductions(now, invs, producing, -diff)
	}
	// The aggregate limit used for shading/headroom classification is the
	// new requested total — the best available estimate of the class's
	// post-allocation ceiling, since the DPL doesn't track a separate
	// previously-commanded aggregate across ticks.
	return applyIncreases(now, invs, producing, diff, requested)
}

// applyReductions brings the class's combined output down by needed watts.
// Inverters are visited largest reducible amount (output minus floor)
// first. If the non-standby reduction headroom across the class can't
// cover the full needed amount, each visited inverter is sent a reduction
// to 0 (standby where its class and AllowStandby permit) until the needed
// amount is covered; otherwise each gives up at most its output above its
// floor.
func applyReductions(now uint32, invs []*limiter.Inverter, producing, needed float64) float64 {
	limiter.ByReducibleDescending(invs)

	var totalReducibleNoStandby float64
	for _, inv := range invs {
		if r := inv.CurrentAcOutput() - inv.LowerPowerLimitWatts; r > 0 {
			totalReducibleNoStandby += r
		}
	}
	needStandby := totalReducibleNoStandby < needed

	remaining := needed
	covered := producing
	for _, inv := range invs {
		if remaining <= 0 {
			break
		}
		current := inv.CurrentAcOutput()
		if needStandby {
			inv.ApplyReduction(now, 0)
			covered -= current
			remaining -= current
			continue
		}
		reducible := current - inv.LowerPowerLimitWatts
		if reducible <= 0 {
			continue
		}
		take := math.Min(reducible, remaining)
		inv.ApplyReduction(now, current-take)
		covered -= take
		remaining -= take
	}
	return covered
}

// applyIncreases raises the class's combined output by needed watts, largest
// available headroom first.
func applyIncreases(now uint32, invs []*limiter.Inverter, producing, needed, currentLimitWatts float64) float64 {
	limiter.ByIncreaseHeadroomDescending(invs, currentLimitWatts)

	remaining := needed
	covered := producing
	for _, inv := range invs {
		if remaining <= 0 {
			break
		}
		headroom := inv.GetMaxIncreaseWatts(currentLimitWatts)
		if headroom <= 0 {
			continue
		}
		take := math.Min(headroom, remaining)
		inv.ApplyIncrease(now, take, currentLimitWatts)
		covered += take
		remaining -= take
	}
	return covered
}

// calcPowerBusUsage derives how much of the remaining request can be drawn
// across the power bus (solar DC plus, if permitted, battery discharge).
// Full-solar-passthrough dominates outright. Otherwise the grid charger's
// active-charging state and the discharge-enable gate can each zero out the
// battery contribution; an uncapped discharge limit lets the full request
// through.
func calcPowerBusUsage(
	requested, solarDcWatts, conductionLossPercent float64,
	dischargeLimitAmps, batteryVoltageVolts float64,
	gridChargerActivelyCharging, fullSolarPassthrough, batteryDischargeEnabled bool,
) float64 {
	solarAc := dcToAc(solarDcWatts, conductionLossPercent)
	if fullSolarPassthrough {
		return solarAc
	}
	if gridChargerActivelyCharging || !batteryDischargeEnabled {
		return math.Max(0, math.Min(requested, solarAc))
	}
	if math.IsInf(dischargeLimitAmps, 1) {
		return math.Max(0, requested)
	}
	batteryDischargeAc := dcToAc(dischargeLimitAmps*batteryVoltageVolts, conductionLossPercent)
	return math.Max(0, math.Min(requested, solarAc+batteryDischargeAc))
}
