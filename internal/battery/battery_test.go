package battery

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func baseConfig() Config {
	return Config{
		UserCapEnabled:                    true,
		UserCapAmps:                       50,
		TrustBmsDischargeLimit:            true,
		DischargeCurrentLimitBelowSoc:     20,
		DischargeCurrentLimitBelowVoltage: 48,
		LoadCorrectionFactor:              0.01,
	}
}

func TestUserCapDisabledReturnsUnbounded(t *testing.T) {
	c := &Controller{Config: Config{UserCapEnabled: false}}
	assert.True(t, math.IsInf(c.GetDischargeCurrentLimit(1000, 0), 1))
}

func TestUserCapAppliesWhenBelowBothThresholds(t *testing.T) {
	c := &Controller{Config: baseConfig()}
	c.Stats.SetSoC(1000, 10) // below 20% threshold
	c.Stats.SetVoltage(1000, 40)

	assert.Equal(t, 50.0, c.GetDischargeCurrentLimit(1000, 0))
}

func TestUserCapSuspendedAboveSocThreshold(t *testing.T) {
	c := &Controller{Config: baseConfig()}
	c.Stats.SetSoC(1000, 90)
	c.Stats.SetVoltage(1000, 40)

	result := c.GetDischargeCurrentLimit(1000, 0)
	assert.True(t, math.IsInf(result, 1), "no BMS stat bound, cap suspended -> unbounded")
}

func TestUserCapSuspendedFallsBackToBmsLimitWhenTrusted(t *testing.T) {
	c := &Controller{Config: baseConfig()}
	c.Stats.SetSoC(1000, 90)
	c.Stats.SetVoltage(1000, 40)
	c.Stats.SetBmsDischargeCurrentLimit(1000, -30) // BMS reports signed, abs() applied

	assert.Equal(t, 30.0, c.GetDischargeCurrentLimit(1000, 0))
}

func TestBothCapsValidReturnsMinimum(t *testing.T) {
	c := &Controller{Config: baseConfig()}
	c.Stats.SetSoC(1000, 10)
	c.Stats.SetVoltage(1000, 40)
	c.Stats.SetBmsDischargeCurrentLimit(1000, 20)

	assert.Equal(t, 20.0, c.GetDischargeCurrentLimit(1000, 0))
}

func TestStaleSoCFailsOpenAt100Percent(t *testing.T) {
	c := &Controller{Config: baseConfig()}
	c.Stats.SetSoC(1000, 50)        // stale by the time we check at now=1000+61000
	c.Stats.SetVoltage(62000, 40)   // fresh, below voltage threshold

	result := c.GetDischargeCurrentLimit(62000, 0)
	assert.True(t, math.IsInf(result, 1), "stale SoC defaults to 100%% > threshold, suspending the cap")
}

func TestStaleVoltageFailsClosedAtZero(t *testing.T) {
	c := &Controller{Config: baseConfig()}
	c.Stats.SetVoltage(1000, 60) // well above threshold, but goes stale
	c.Stats.SetSoC(62000, 10)    // fresh, below SoC threshold -> SoC channel doesn't suspend

	result := c.GetDischargeCurrentLimit(62000, 0)
	assert.Equal(t, 50.0, result, "stale voltage defaults to 0V, never exceeding the threshold")
}

func TestIgnoreSocSkipsSocChannelEntirely(t *testing.T) {
	c := &Controller{Config: baseConfig()}
	c.Config.IgnoreSoc = true
	c.Stats.SetSoC(1000, 95) // would otherwise suspend
	c.Stats.SetVoltage(1000, 40)

	assert.Equal(t, 50.0, c.GetDischargeCurrentLimit(1000, 0))
}

func TestLoadCorrectionFactorShiftsVoltageSuspension(t *testing.T) {
	c := &Controller{Config: baseConfig()}
	c.Config.IgnoreSoc = true
	c.Stats.SetVoltage(1000, 47) // below 48V threshold raw
	// 10A AC load * 0.01 = +0.1V, still below threshold
	assert.Equal(t, 50.0, c.GetDischargeCurrentLimit(1000, 10))

	c.Config.LoadCorrectionFactor = 1.0
	result := c.GetDischargeCurrentLimit(1000, 10) // 47 + 10*1.0 = 57 > 48
	assert.True(t, math.IsInf(result, 1))
}

func TestLastUpdateIsMostRecentFieldTimestamp(t *testing.T) {
	s := &Stats{}
	assert.Equal(t, uint32(0), s.LastUpdate())

	s.SetVoltage(100, 50)
	s.SetSoC(300, 80)
	s.SetCurrent(200, 5)

	assert.Equal(t, uint32(300), s.LastUpdate())
}
