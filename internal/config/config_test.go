package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryansname/powerctl/internal/limiter"
)

const sampleYAML = `
mqtt:
  broker: "tcp://localhost:1883"
  client_id: "powerctl"
location:
  latitude: -41.28
  longitude: 174.77
dpl:
  enabled: true
  total_upper_power_limit_watts: 800
  hysteresis_watts: 10
  conduction_loss_percent: 3
  restart_hour: 3
  battery_gate:
    start_threshold_soc: 50
    stop_threshold_soc: 20
    always_use_at_night: true
discharge_limit:
  user_cap_enabled: true
  user_cap_amps: 20
  trust_bms_discharge_limit: true
grid_charger:
  lower_bound_amps: 1
  upper_bound_amps: 16
  upper_power_limit_watts: 3000
inverters:
  - serial: "INV-1"
    class: "battery"
    lower_power_limit_watts: 50
    upper_power_limit_watts: 800
    is_behind_power_meter: true
    allow_standby: true
  - serial: "INV-2"
    class: "solar"
    lower_power_limit_watts: 10
    upper_power_limit_watts: 400
`

func writeSampleConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "powerctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))
	return path
}

func TestLoadResolvesDplAndDischargeLimit(t *testing.T) {
	lc, err := Load(writeSampleConfig(t))
	require.NoError(t, err)

	assert.True(t, lc.DPL.Enabled)
	assert.Equal(t, 800.0, lc.DPL.TotalUpperPowerLimitWatts)
	assert.Equal(t, 3, lc.DPL.RestartHour)
	assert.Equal(t, -41.28, lc.DPL.Battery.Latitude)
	assert.True(t, lc.DPL.Battery.AlwaysUseAtNight)

	assert.True(t, lc.DischargeLimit.UserCapEnabled)
	assert.Equal(t, 20.0, lc.DischargeLimit.UserCapAmps)
	assert.Equal(t, lc.DischargeLimit, lc.DPL.DischargeLimit)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestBuildInvertersMapsClassAndSerial(t *testing.T) {
	lc, err := Load(writeSampleConfig(t))
	require.NoError(t, err)

	invs := lc.BuildInverters()
	require.Len(t, invs, 2)

	battery := invs["INV-1"]
	require.NotNil(t, battery)
	assert.Equal(t, limiter.ClassBattery, battery.Class)
	assert.True(t, battery.AllowStandby)
	assert.True(t, battery.IsBehindPowerMeter)

	solar := invs["INV-2"]
	require.NotNil(t, solar)
	assert.Equal(t, limiter.ClassSolar, solar.Class)
}

func TestStoreReloadBumpsVersionAndDebounces(t *testing.T) {
	path := writeSampleConfig(t)
	lc, err := Load(path)
	require.NoError(t, err)

	store := NewStore(path, lc)
	assert.Equal(t, uint64(0), store.Version())

	require.NoError(t, store.ReloadFromFile(1000))
	assert.Equal(t, uint64(1), store.Version())

	// Immediately reloading again should be debounced.
	err = store.ReloadFromFile(1001)
	assert.Error(t, err)
	assert.Equal(t, uint64(1), store.Version())

	// After the debounce window, reload succeeds again.
	require.NoError(t, store.ReloadFromFile(1000+uint32(reloadDebounce.Milliseconds())+1))
	assert.Equal(t, uint64(2), store.Version())
}

func TestStoreSnapshotIsStableAcrossReload(t *testing.T) {
	path := writeSampleConfig(t)
	lc, err := Load(path)
	require.NoError(t, err)

	store := NewStore(path, lc)
	first := store.Snapshot()

	require.NoError(t, store.ReloadFromFile(5000))
	second := store.Snapshot()

	assert.NotSame(t, first, second)
	assert.Equal(t, first.DPL.TotalUpperPowerLimitWatts, second.DPL.TotalUpperPowerLimitWatts)
}
