// Package battery implements the battery stats model and the
// discharge-current-limit arbitration (component H): reconciling a
// user-configured safety cap against a BMS-reported limit, each gated by its
// own freshness window.
package battery

import (
	"math"

	"github.com/ryansname/powerctl/internal/uptime"
)

const freshnessWindowMs = 60_000

// Stats holds the latest battery readings, each independently timestamped.
// A zero timestamp means the field has never been populated.
type Stats struct {
	VoltageVolts float64
	voltageTs    uint32

	CurrentAmps float64 // positive = charging
	currentTs   uint32

	SoCPercent float64
	soCTs      uint32

	BmsDischargeCurrentLimitAmps float64
	bmsLimitTs                   uint32

	ImmediateChargingRequested bool
}

func fresh(now, ts uint32) bool {
	return ts != 0 && uptime.Elapsed(now, ts) <= freshnessWindowMs
}

// SetVoltage records a voltage reading.
func (s *Stats) SetVoltage(now uint32, volts float64) { s.VoltageVolts = volts; s.voltageTs = now }

// SetCurrent records a current reading.
func (s *Stats) SetCurrent(now uint32, amps float64) { s.CurrentAmps = amps; s.currentTs = now }

// SetSoC records a state-of-charge reading.
func (s *Stats) SetSoC(now uint32, percent float64) { s.SoCPercent = percent; s.soCTs = now }

// SetBmsDischargeCurrentLimit records a BMS-reported discharge-current cap.
func (s *Stats) SetBmsDischargeCurrentLimit(now uint32, amps float64) {
	s.BmsDischargeCurrentLimitAmps = amps
	s.bmsLimitTs = now
}

// LastUpdate returns the most recent of the four per-field timestamps, 0 if
// none has ever been set.
func (s *Stats) LastUpdate() uint32 {
	latest := uint32(0)
	found := false
	for _, ts := range []uint32{s.voltageTs, s.currentTs, s.soCTs, s.bmsLimitTs} {
		if ts == 0 {
			continue
		}
		if !found || uptime.After(ts, latest) {
			latest = ts
			found = true
		}
	}
	return latest
}

// VoltageValid reports whether the voltage reading is fresh as of now.
func (s *Stats) VoltageValid(now uint32) bool { return fresh(now, s.voltageTs) }

// SoCValid reports whether the SoC reading is fresh as of now.
func (s *Stats) SoCValid(now uint32) bool { return fresh(now, s.soCTs) }

// SoCIfValid returns the SoC reading and true if it is fresh as of now.
func (s *Stats) SoCIfValid(now uint32) (float64, bool) {
	if !fresh(now, s.soCTs) {
		return 0, false
	}
	return s.SoCPercent, true
}

// VoltageIfValid returns the voltage reading and true if it is fresh as of now.
func (s *Stats) VoltageIfValid(now uint32) (float64, bool) {
	if !fresh(now, s.voltageTs) {
		return 0, false
	}
	return s.VoltageVolts, true
}

// Config holds the user- and BMS-trust configuration for discharge-limit
// arbitration.
type Config struct {
	UserCapEnabled bool
	UserCapAmps    float64

	TrustBmsDischargeLimit bool

	DischargeCurrentLimitBelowSoc     float64
	DischargeCurrentLimitBelowVoltage float64
	LoadCorrectionFactor              float64

	IgnoreSoc bool
}

// Controller arbitrates the effective discharge-current-limit from a
// Config and the latest Stats.
type Controller struct {
	Config Config
	Stats  Stats
}

// GetDischargeCurrentLimit returns the effective discharge-current cap in
// amps, +Inf if uncapped. acLoadAmps is the inverter AC output current used
// for the voltage load correction; the voltage check runs whenever the SoC
// check has not already suspended the cap.
func (c *Controller) GetDischargeCurrentLimit(now uint32, acLoadAmps float64) float64 {
	statsLimit, haveStatsLimit := math.Inf(1), false
	if c.Config.TrustBmsDischargeLimit && fresh(now, c.Stats.bmsLimitTs) {
		statsLimit = math.Abs(c.Stats.BmsDischargeCurrentLimitAmps)
		haveStatsLimit = true
	}

	if !c.Config.UserCapEnabled {
		return statsLimit
	}

	if c.userCapSuspended(now, acLoadAmps) {
		return statsLimit
	}

	if haveStatsLimit {
		return math.Min(c.Config.UserCapAmps, statsLimit)
	}
	return c.Config.UserCapAmps
}

// userCapSuspended evaluates the SoC-or-voltage condition that suspends the
// user-configured cap. A stale/missing SoC fails open at 100%; a stale/
// missing voltage fails closed at 0V — each default is evaluated against its
// own threshold independently, and either exceeding its threshold suspends
// the cap.
func (c *Controller) userCapSuspended(now uint32, acLoadAmps float64) bool {
	if !c.Config.IgnoreSoc {
		soc := 100.0 // fails open: a stale/missing reading doesn't block the SoC check
		if fresh(now, c.Stats.soCTs) {
			soc = c.Stats.SoCPercent
		}
		if soc > c.Config.DischargeCurrentLimitBelowSoc {
			return true
		}
	}

	voltage := 0.0
	if fresh(now, c.Stats.voltageTs) {
		voltage = c.Stats.VoltageVolts
	}
	loadCorrected := voltage + acLoadAmps*c.Config.LoadCorrectionFactor
	return loadCorrected > c.Config.DischargeCurrentLimitBelowVoltage
}
