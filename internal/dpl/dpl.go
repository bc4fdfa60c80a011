package dpl

import (
	"log/slog"
	"math"
	"time"

	"github.com/ryansname/powerctl/internal/battery"
	"github.com/ryansname/powerctl/internal/limiter"
	"github.com/ryansname/powerctl/internal/powermeter"
	"github.com/ryansname/powerctl/internal/solarcharger"
	"github.com/ryansname/powerctl/internal/uptime"

	"github.com/ryansname/powerctl/internal/governor"
)

// acLineVoltage is the assumed single-phase AC bus voltage used to convert
// between AC watts and AC amps for the battery-gate voltage fallback and the
// discharge-current-limit load-correction term — the data model has no AC
// line-voltage sensor of its own.
const acLineVoltage = 230.0

const (
	initialBackoffMs = uint32(200)
	maxBackoffMs     = uint32(1024)
	meterGraceMs     = uint32(2000)
	statusLogIntervalMs = uint32(10_000)
)

// Config holds the static, config-reload-driven tuning for one DPL
// controller instance.
type Config struct {
	Enabled                     bool
	TotalUpperPowerLimitWatts   float64
	TargetPowerConsumptionWatts float64
	BaseLoadLimitWatts          float64
	HysteresisWatts             float64
	ConductionLossPercent       float64
	RestartHour                 int // <0 or >23 disables auto-restart

	Battery        BatteryGateConfig
	DischargeLimit battery.Config // paired with a fresh battery.Stats snapshot each tick

	SmoothTargetChanges bool
	SlowRamp            governor.SlowRampConfig
}

// Inputs is the per-tick snapshot the DPL consumes. Stats are passed by
// value so the controller itself never needs a live Provider/Controller
// reference — callers (main.go) pull GetStats() from each subsystem and
// hand the snapshot in.
type Inputs struct {
	Now            uint32
	WallClock      time.Time
	WallClockValid bool

	DisabledByMqtt               bool
	FullSolarPassthrough         bool
	GridChargerActivelyCharging bool

	ConfigReloadPending bool
	Reconcile           func() map[string]*limiter.Inverter

	MeterValid bool
	Meter      powermeter.Stats
	Solar      solarcharger.Stats
	Battery    battery.Stats

	// SunTimes overrides the night/day determination; nil uses the real
	// astronomical calculation.
	SunTimes SunTimesFunc
}

// Controller is the DPL's outer-loop state: the governed inverter set, the
// battery-discharge gate, backoff, and restart scheduling.
type Controller struct {
	log    *slog.Logger
	Config Config

	inverters []*limiter.Inverter
	retirees  []*limiter.Inverter

	gate                    *BatteryGate
	batteryDischargeEnabled bool
	ramp                    governor.SlowRampState

	backoffMs           uint32
	lastCalculationMs   uint32
	haveLastCalculation bool
	lastTotalCovered    float64
	haveLastTotal       bool

	nextRestartAt   time.Time
	haveNextRestart bool

	lastStatus        Status
	lastStatusLogMs    uint32
	haveLastStatusLog bool
}

// NewController constructs a Controller with its backoff reset to the
// default.
func NewController(logger *slog.Logger, cfg Config) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		log:       logger,
		Config:    cfg,
		gate:      NewBatteryGate(),
		backoffMs: initialBackoffMs,
	}
}

// SetInverters installs the initial governed inverter set.
func (c *Controller) SetInverters(invs []*limiter.Inverter) { c.inverters = invs }

// Inverters returns the currently governed inverters.
func (c *Controller) Inverters() []*limiter.Inverter { return c.inverters }

// Retirees returns inverters that were dropped from governance by a config
// reload and are being shut down gracefully.
func (c *Controller) Retirees() []*limiter.Inverter { return c.retirees }

// Status returns the outcome of the most recent Tick call, for an operator
// console to display.
func (c *Controller) Status() Status { return c.lastStatus }

// ReconcileInverters replaces the governed set with desired (keyed by
// serial), reusing existing *limiter.Inverter pointers for serials that
// persist (so in-flight command/stats state survives a reload) and moving
// dropped serials to the retiree list.
func (c *Controller) ReconcileInverters(desired map[string]*limiter.Inverter) {
	kept := make([]*limiter.Inverter, 0, len(desired))
	seen := make(map[string]bool, len(desired))

	for _, inv := range c.inverters {
		if _, ok := desired[inv.Serial]; ok {
			kept = append(kept, inv)
			seen[inv.Serial] = true
			continue
		}
		inv.Retiring = true
		c.retirees = append(c.retirees, inv)
	}
	for serial, inv := range desired {
		if !seen[serial] {
			kept = append(kept, inv)
		}
	}
	c.inverters = kept
}

// Tick runs one DPL loop invocation: the ordered guard chain, the battery
// gate, and — once every guard has cleared and backoff has elapsed — a full
// target-derivation and class-allocation pass.
func (c *Controller) Tick(in Inputs) Status {
	now := in.Now

	if !in.WallClockValid {
		return c.report(now, WaitingForValidTimestamp)
	}

	anyPending := false
	for _, inv := range c.inverters {
		if inv.Update(now) {
			anyPending = true
		}
	}
	if anyPending {
		return c.report(now, InverterCmdPending)
	}

	if in.ConfigReloadPending && in.Reconcile != nil {
		c.ReconcileInverters(in.Reconcile())
		c.scheduleNextRestart(in.WallClock)
	}

	if !c.Config.Enabled {
		return c.report(now, DisabledByConfig)
	}
	if in.DisabledByMqtt {
		return c.report(now, DisabledByMqtt)
	}
	if len(c.inverters) == 0 {
		return c.report(now, InverterInvalid)
	}

	for _, inv := range c.inverters {
		if inv.LastStatsMillis() == 0 {
			return c.report(now, InverterStatsPending)
		}
	}

	sunTimes := in.SunTimes
	if sunTimes == nil {
		sunTimes = RealSunTimes
	}
	soc, socValid := in.Battery.SoCIfValid(now)
	voltage, _ := in.Battery.VoltageIfValid(now)
	loadCorrectedVoltage := voltage + c.batteryClassAcLoadAmps()*c.Config.Battery.LoadCorrectionFactor
	c.batteryDischargeEnabled = c.gate.Evaluate(
		c.Config.Battery, in.WallClock, c.hasEligibleClass(limiter.ClassBattery),
		soc, socValid, loadCorrectedVoltage, sunTimes,
	)

	if in.FullSolarPassthrough {
		c.applyFullSolarPassthrough(now, in)
		c.resetBackoff()
		return c.report(now, UnconditionalFullSolarPassthrough)
	}

	latestStatsMs := c.latestInverterStatsMillis()
	if in.MeterValid && !uptime.AtOrAfter(in.Meter.LastUpdate(), latestStatsMs+meterGraceMs) {
		return c.report(now, PowerMeterPending)
	}

	if c.haveLastCalculation && uptime.Elapsed(now, c.lastCalculationMs) < c.backoffMs {
		return c.report(now, Stable)
	}

	changed := c.runAllocation(now, in)
	c.lastCalculationMs = now
	c.haveLastCalculation = true
	if changed {
		c.resetBackoff()
	} else {
		c.backoffMs = min(c.backoffMs*2, maxBackoffMs)
	}

	c.maybeRestart(now, in.WallClock)

	return c.report(now, Stable)
}

// runAllocation derives the target and runs the strict solar → smart-buffer
// → battery class allocation, returning whether the total covered output
// changed from the previous tick (used to decide whether backoff resets).
func (c *Controller) runAllocation(now uint32, in Inputs) bool {
	target := c.deriveTarget(now, in)
	if c.Config.SmoothTargetChanges {
		target = c.ramp.Update(target, c.Config.SlowRamp)
	}

	coveredBySolar := updateInverterLimits(now, c.inverters, limiter.ClassSolar, target, c.Config.HysteresisWatts)
	remAfterSolar := math.Max(0, target-coveredBySolar)

	coveredBySmartBuf := updateInverterLimits(now, c.inverters, limiter.ClassSmartBuffer, remAfterSolar, c.Config.HysteresisWatts)
	remAfterSmartBuf := math.Max(0, remAfterSolar-coveredBySmartBuf)

	var dischargeLimitAmps float64
	if c.hasEligibleClass(limiter.ClassBattery) {
		bc := battery.Controller{Config: c.Config.DischargeLimit, Stats: in.Battery}
		dischargeLimitAmps = bc.GetDischargeCurrentLimit(now, c.batteryClassAcLoadAmps())
	}

	busUsage := calcPowerBusUsage(
		remAfterSmartBuf,
		in.Solar.AggregatePowerWatts(now),
		c.Config.ConductionLossPercent,
		dischargeLimitAmps,
		in.Battery.VoltageVolts,
		in.GridChargerActivelyCharging,
		in.FullSolarPassthrough,
		c.batteryDischargeEnabled,
	)

	coveredByBattery := updateInverterLimits(now, c.inverters, limiter.ClassBattery, busUsage, c.Config.HysteresisWatts)

	total := coveredBySolar + coveredBySmartBuf + coveredByBattery
	changed := !c.haveLastTotal || math.Abs(total-c.lastTotalCovered) > 1e-6
	c.lastTotalCovered = total
	c.haveLastTotal = true
	return changed
}

// deriveTarget implements the documented formula: the meter reading (minus
// configured consumption) plus the current output of every eligible
// behind-the-meter inverter, clamped to [0, totalUpperPowerLimit]. A stale
// or absent meter falls back to the flat BaseLoadLimit.
func (c *Controller) deriveTarget(now uint32, in Inputs) float64 {
	if !in.MeterValid || in.Meter.IsStale(now) {
		return c.Config.BaseLoadLimitWatts
	}

	target := in.Meter.PowerTotalWatts - c.Config.TargetPowerConsumptionWatts
	for _, inv := range c.inverters {
		if inv.GetEligibility() != limiter.Eligible || !inv.IsBehindPowerMeter {
			continue
		}
		target += inv.CurrentAcOutput()
	}

	target = math.Max(0, target)
	return math.Min(target, c.Config.TotalUpperPowerLimitWatts)
}

// applyFullSolarPassthrough bypasses the meter entirely: solar DC, converted
// to AC, is pushed straight through the battery-class inverters.
func (c *Controller) applyFullSolarPassthrough(now uint32, in Inputs) {
	solarAc := dcToAc(in.Solar.AggregatePowerWatts(now), c.Config.ConductionLossPercent)
	updateInverterLimits(now, c.inverters, limiter.ClassBattery, solarAc, c.Config.HysteresisWatts)
}

// batteryClassAcLoadAmps sums the battery-class inverters' current AC
// output and converts it to amps at the assumed line voltage, for the
// discharge-limit's load-correction term.
func (c *Controller) batteryClassAcLoadAmps() float64 {
	var watts float64
	for _, inv := range c.inverters {
		if inv.Class == limiter.ClassBattery {
			watts += inv.CurrentAcOutput()
		}
	}
	return watts / acLineVoltage
}

func (c *Controller) hasEligibleClass(class limiter.Class) bool {
	for _, inv := range c.inverters {
		if inv.Class == class && inv.GetEligibility() == limiter.Eligible {
			return true
		}
	}
	return false
}

func (c *Controller) latestInverterStatsMillis() uint32 {
	var latest uint32
	found := false
	for _, inv := range c.inverters {
		ts := inv.LastStatsMillis()
		if ts == 0 {
			continue
		}
		if !found || uptime.After(ts, latest) {
			latest, found = ts, true
		}
	}
	return latest
}

func (c *Controller) resetBackoff() { c.backoffMs = initialBackoffMs }

// maybeRestart sends a restart command to every non-solar inverter once the
// scheduled restart point has passed, then reschedules.
func (c *Controller) maybeRestart(now uint32, wallClock time.Time) {
	_ = now
	if !c.haveNextRestart {
		c.scheduleNextRestart(wallClock)
		return
	}
	if wallClock.Before(c.nextRestartAt) {
		return
	}
	for _, inv := range c.inverters {
		if inv.Class != limiter.ClassSolar && inv.Radio != nil {
			_ = inv.Radio.SendRestartRequest()
		}
	}
	c.scheduleNextRestart(wallClock)
}

func (c *Controller) scheduleNextRestart(wallClock time.Time) {
	next, ok := computeNextRestart(wallClock, c.Config.RestartHour)
	c.nextRestartAt = next
	c.haveNextRestart = ok
}

// report applies the "same code logged at most every 10s" dedup rule and
// returns status.
func (c *Controller) report(now uint32, status Status) Status {
	changed := status != c.lastStatus
	if changed || !c.haveLastStatusLog || uptime.Elapsed(now, c.lastStatusLogMs) >= statusLogIntervalMs {
		c.log.Info("dpl status", "status", status.String())
		c.lastStatusLogMs = now
		c.haveLastStatusLog = true
	}
	c.lastStatus = status
	return status
}
