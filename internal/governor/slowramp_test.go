package governor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testConfig() SlowRampConfig {
	return SlowRampConfig{
		ThresholdSeconds:   30,
		PressureCapSeconds: 100,
		RateAccel:          1.0,
		DecayMultiplier:    2.0,
		FullPressureDiff:   200,
	}
}

func TestIntegratePressureBuilds(t *testing.T) {
	config := testConfig()

	t.Run("building pressure matches diff sign", func(t *testing.T) {
		s := &SlowRampState{initialized: true}
		s.integratePressure(200, 1.0, config)
		assert.Equal(t, 1.0, s.Pressure)

		s = &SlowRampState{initialized: true}
		s.integratePressure(-200, 1.0, config)
		assert.Equal(t, -1.0, s.Pressure)
	})

	t.Run("building pressure continues accumulating", func(t *testing.T) {
		s := &SlowRampState{Pressure: 10, initialized: true}
		s.integratePressure(200, 1.0, config)
		assert.Equal(t, 11.0, s.Pressure)
	})

	t.Run("half-scale diff builds at half rate", func(t *testing.T) {
		s := &SlowRampState{initialized: true}
		s.integratePressure(100, 1.0, config)
		assert.Equal(t, 0.5, s.Pressure)
	})
}

func TestIntegratePressureDrains(t *testing.T) {
	config := testConfig()

	t.Run("opposing diff drains faster than build rate", func(t *testing.T) {
		s := &SlowRampState{Pressure: 20, initialized: true}
		s.integratePressure(-200, 1.0, config)
		assert.Equal(t, 18.0, s.Pressure)
	})

	t.Run("drain never overshoots zero", func(t *testing.T) {
		s := &SlowRampState{Pressure: 1, initialized: true}
		s.integratePressure(-200, 1.0, config)
		assert.Equal(t, 0.0, s.Pressure)
	})
}

func TestIntegratePressureCap(t *testing.T) {
	config := testConfig()

	s := &SlowRampState{Pressure: 99.5, initialized: true}
	s.integratePressure(200, 1.0, config)
	assert.Equal(t, 100.0, s.Pressure)
}

func TestSlowRampUpdateInitializesOnFirstCall(t *testing.T) {
	s := &SlowRampState{}
	result := s.Update(1000, testConfig())
	assert.Equal(t, 1000.0, result)
	assert.Equal(t, 1000.0, s.Current)
}

func TestSlowRampUpdateBelowThresholdDoesNotMove(t *testing.T) {
	config := testConfig()
	s := &SlowRampState{Current: 500, Pressure: 20, initialized: true}
	result := s.Update(1000, config)
	assert.Equal(t, 500.0, result)
}

func TestSlowRampNeverOvershoots(t *testing.T) {
	config := DefaultSlowRampConfig()
	s := SlowRampState{}
	s.Update(0, config)

	target := 100.0
	for i := 0; i < 2000; i++ {
		result := s.Update(target, config)
		assert.LessOrEqual(t, result, target, "should never overshoot target at t=%d", i)
	}
}

func TestSlowRampAcceleratesOverTime(t *testing.T) {
	config := DefaultSlowRampConfig()
	s := SlowRampState{}
	s.Update(0, config)

	// A 1.5 kW step builds pressure at 1.5/s against 0.5/s damping, a net
	// 1/s, so the threshold is first exceeded after ThresholdSeconds ticks.
	values := make([]float64, 700)
	for i := range values {
		values[i] = s.Update(1500, config)
	}

	for i := 0; i < int(config.ThresholdSeconds); i++ {
		assert.Equal(t, 0.0, values[i], "should not move before threshold at t=%d", i)
	}

	earlyDelta := values[620] - values[619]
	lateDelta := values[660] - values[659]
	assert.Greater(t, lateDelta, earlyDelta, "should accelerate over time")
}

func TestSlowRampDoesNotRampAwayFromTarget(t *testing.T) {
	config := DefaultSlowRampConfig()
	s := SlowRampState{}
	s.Update(500, config)

	for i := 0; i < 650; i++ {
		s.Update(1000, config)
	}
	beforeDrop := s.Current

	for i := 0; i < 10; i++ {
		result := s.Update(0, config)
		assert.GreaterOrEqual(t, result, beforeDrop, "should not ramp away from target when pressure/diff disagree")
	}
}
