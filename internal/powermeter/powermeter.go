// Package powermeter implements the power-meter stats model the DPL reads
// to learn grid import/export, plus the Provider backends that populate it.
package powermeter

import "github.com/ryansname/powerctl/internal/uptime"

const staleAfterMs = 30_000

// Stats is the power-meter subsystem snapshot: total active power, positive
// = import from the grid, negative = export.
type Stats struct {
	PowerTotalWatts float64
	lastUpdate      uint32
}

// DummyStats is the zero-value snapshot returned while no provider is
// installed.
func DummyStats() Stats { return Stats{} }

// Set records a new total-power reading.
func (s *Stats) Set(now uint32, watts float64) {
	s.PowerTotalWatts = watts
	s.lastUpdate = now
}

// LastUpdate returns the timestamp of the latest reading, 0 if none yet.
func (s Stats) LastUpdate() uint32 { return s.lastUpdate }

// IsStale reports whether the reading is older than the 30s freshness
// bound the DPL requires before trusting the meter.
func (s Stats) IsStale(now uint32) bool {
	if s.lastUpdate == 0 {
		return true
	}
	return uptime.Elapsed(now, s.lastUpdate) > staleAfterMs
}

// PowerTotalWattsIfFresh reports the latest total power and whether it is
// fresh at now. It takes now as a parameter, so Stats does not satisfy the
// grid charger's Meter interface, whose PowerTotalWatts takes none.
func (s Stats) PowerTotalWattsIfFresh(now uint32) (float64, bool) {
	if s.IsStale(now) {
		return 0, false
	}
	return s.PowerTotalWatts, true
}
