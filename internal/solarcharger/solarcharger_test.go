package solarcharger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregatePowerSumsFreshInstances(t *testing.T) {
	var a, b MpptStats
	a.SetOutputPower(1000, 350)
	b.SetOutputPower(1000, 40)
	s := Stats{Mppts: []MpptStats{a, b}}

	assert.Equal(t, 390.0, s.AggregatePowerWatts(1000))
}

func TestAggregatePowerExcludesStaleInstances(t *testing.T) {
	var a, b MpptStats
	a.SetOutputPower(5000, 350)
	b.SetOutputPower(1000, 40)
	s := Stats{Mppts: []MpptStats{a, b}}

	// b goes stale (>10s) while a stays fresh
	assert.Equal(t, 350.0, s.AggregatePowerWatts(12_000))
}

func TestAggregatePowerNetworkOverrideDominates(t *testing.T) {
	var a, b MpptStats
	a.SetOutputPower(1000, 350)
	b.SetOutputPower(1000, 40)
	b.SetNetworkTotalDcInputPower(1000, 900)
	s := Stats{Mppts: []MpptStats{a, b}}

	assert.Equal(t, 900.0, s.AggregatePowerWatts(1000))
}

func TestAggregateOutputVoltageIsMinimum(t *testing.T) {
	var a, b MpptStats
	a.SetOutputVoltage(1000, 53.5)
	b.SetOutputVoltage(1000, 53.1)
	s := Stats{Mppts: []MpptStats{a, b}}

	assert.Equal(t, 53.1, s.AggregateOutputVoltage(1000))
}

func TestAggregateYieldsSum(t *testing.T) {
	var a, b MpptStats
	a.SetYieldTotal(1000, 12.5)
	b.SetYieldTotal(1000, 8.1)
	a.SetYieldToday(1000, 500)
	b.SetYieldToday(1000, 300)
	s := Stats{Mppts: []MpptStats{a, b}}

	assert.InDelta(t, 20.6, s.AggregateYieldTotalKwh(1000), 0.001)
	assert.Equal(t, 800.0, s.AggregateYieldTodayWh(1000))
}

func TestIsStaleWithoutAnyReading(t *testing.T) {
	var m MpptStats
	assert.True(t, m.IsStale(1000))
}
