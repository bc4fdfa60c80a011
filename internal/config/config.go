// Package config implements the hot-reloadable configuration store: a YAML
// file is parsed into a raw Config, resolved into a LoadedConfig, and
// published through a Store whose readers and writers follow the
// documented reader/writer-guard discipline — a sync.RWMutex is the
// idiomatic Go rendition of "readers hold a shared lock; a writer drains
// readers before swapping in a new snapshot".
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ryansname/powerctl/internal/battery"
	"github.com/ryansname/powerctl/internal/dpl"
	"github.com/ryansname/powerctl/internal/limiter"
)

// InverterSpec describes one governed inverter as the YAML file names it;
// LoadedConfig.BuildInverters turns it into a *limiter.Inverter keyed by
// Serial, with no radio handle bound.
type InverterSpec struct {
	Serial               string  `yaml:"serial"`
	Class                string  `yaml:"class"` // "solar" | "battery" | "smart_buffer"
	LowerPowerLimitWatts float64 `yaml:"lower_power_limit_watts"`
	UpperPowerLimitWatts float64 `yaml:"upper_power_limit_watts"`
	IsBehindPowerMeter   bool    `yaml:"is_behind_power_meter"`
	UseOverscaling       bool    `yaml:"use_overscaling"`
	ScalingThreshold     float64 `yaml:"scaling_threshold"`
	AllowStandby         bool    `yaml:"allow_standby"`
}

// Config is the raw YAML document shape, one section per subsystem.
type Config struct {
	MQTT struct {
		Broker   string `yaml:"broker"`
		ClientID string `yaml:"client_id"`
	} `yaml:"mqtt"`

	Location struct {
		Latitude  float64 `yaml:"latitude"`
		Longitude float64 `yaml:"longitude"`
	} `yaml:"location"`

	DPL struct {
		Enabled                     bool    `yaml:"enabled"`
		TotalUpperPowerLimitWatts   float64 `yaml:"total_upper_power_limit_watts"`
		TargetPowerConsumptionWatts float64 `yaml:"target_power_consumption_watts"`
		BaseLoadLimitWatts          float64 `yaml:"base_load_limit_watts"`
		HysteresisWatts             float64 `yaml:"hysteresis_watts"`
		ConductionLossPercent       float64 `yaml:"conduction_loss_percent"`
		RestartHour                 int     `yaml:"restart_hour"`

		Battery struct {
			StartThresholdSoc     float64 `yaml:"start_threshold_soc"`
			StopThresholdSoc      float64 `yaml:"stop_threshold_soc"`
			StartThresholdVoltage float64 `yaml:"start_threshold_voltage"`
			StopThresholdVoltage  float64 `yaml:"stop_threshold_voltage"`
			IgnoreSoc             bool    `yaml:"ignore_soc"`
			LoadCorrectionFactor float64 `yaml:"load_correction_factor"`
			AlwaysUseAtNight      bool    `yaml:"always_use_at_night"`
		} `yaml:"battery_gate"`

		SmoothTargetChanges bool `yaml:"smooth_target_changes"`
	} `yaml:"dpl"`

	DischargeLimit struct {
		UserCapEnabled                    bool    `yaml:"user_cap_enabled"`
		UserCapAmps                       float64 `yaml:"user_cap_amps"`
		TrustBmsDischargeLimit            bool    `yaml:"trust_bms_discharge_limit"`
		DischargeCurrentLimitBelowSoc     float64 `yaml:"discharge_current_limit_below_soc"`
		DischargeCurrentLimitBelowVoltage float64 `yaml:"discharge_current_limit_below_voltage"`
		LoadCorrectionFactor              float64 `yaml:"load_correction_factor"`
		IgnoreSoc                         bool    `yaml:"ignore_soc"`
	} `yaml:"discharge_limit"`

	GridCharger struct {
		TargetPowerConsumptionWatts float64 `yaml:"target_power_consumption_watts"`
		LowerBoundAmps              float64 `yaml:"lower_bound_amps"`
		UpperBoundAmps              float64 `yaml:"upper_bound_amps"`
		UpperPowerLimitWatts        float64 `yaml:"upper_power_limit_watts"`
	} `yaml:"grid_charger"`

	// Providers binds each subsystem to the backend main.go should
	// construct for it — topics for the MQTT-subscribing kinds, an
	// instance name for the directly-attached VE.Direct UART.
	Providers struct {
		Meter struct {
			Topic    string `yaml:"topic"`
			JSONPath string `yaml:"json_path"`
		} `yaml:"meter"`
		Battery struct {
			VoltageTopic                string `yaml:"voltage_topic"`
			CurrentTopic                string `yaml:"current_topic"`
			SoCTopic                    string `yaml:"soc_topic"`
			BmsDischargeLimitTopic      string `yaml:"bms_discharge_limit_topic"`
			ImmediateChargeRequestTopic string `yaml:"immediate_charge_request_topic"`
		} `yaml:"battery"`
		SolarCharger struct {
			Instance string `yaml:"instance"`
		} `yaml:"solar_charger"`
	} `yaml:"providers"`

	Inverters []InverterSpec `yaml:"inverters"`
}

// LoadedConfig wraps the raw Config with values already resolved into the
// shapes each controller consumes, following the teacher's secondary
// grounding source's Config/LoadedConfig split: the raw struct is what YAML
// unmarshals into, LoadedConfig is what the rest of the program reads.
type LoadedConfig struct {
	Config

	DPL            dpl.Config
	DischargeLimit battery.Config
}

// classFromString maps the YAML class name to limiter.Class, defaulting to
// ClassSolar on an unrecognized value, which is not reported.
func classFromString(s string) limiter.Class {
	switch s {
	case "battery":
		return limiter.ClassBattery
	case "smart_buffer":
		return limiter.ClassSmartBuffer
	default:
		return limiter.ClassSolar
	}
}

// Load reads and parses path into a LoadedConfig, without installing it
// into any Store.
func Load(path string) (*LoadedConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var raw Config
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	lc := &LoadedConfig{Config: raw}
	resolve(lc)
	return lc, nil
}

func resolve(lc *LoadedConfig) {
	lc.DPL = dpl.Config{
		Enabled:                     lc.Config.DPL.Enabled,
		TotalUpperPowerLimitWatts:   lc.Config.DPL.TotalUpperPowerLimitWatts,
		TargetPowerConsumptionWatts: lc.Config.DPL.TargetPowerConsumptionWatts,
		BaseLoadLimitWatts:          lc.Config.DPL.BaseLoadLimitWatts,
		HysteresisWatts:             lc.Config.DPL.HysteresisWatts,
		ConductionLossPercent:       lc.Config.DPL.ConductionLossPercent,
		RestartHour:                 lc.Config.DPL.RestartHour,
		Battery: dpl.BatteryGateConfig{
			StartThresholdSoc:     lc.Config.DPL.Battery.StartThresholdSoc,
			StopThresholdSoc:      lc.Config.DPL.Battery.StopThresholdSoc,
			StartThresholdVoltage: lc.Config.DPL.Battery.StartThresholdVoltage,
			StopThresholdVoltage:  lc.Config.DPL.Battery.StopThresholdVoltage,
			IgnoreSoc:             lc.Config.DPL.Battery.IgnoreSoc,
			LoadCorrectionFactor:  lc.Config.DPL.Battery.LoadCorrectionFactor,
			AlwaysUseAtNight:      lc.Config.DPL.Battery.AlwaysUseAtNight,
			Latitude:              lc.Config.Location.Latitude,
			Longitude:             lc.Config.Location.Longitude,
		},
		SmoothTargetChanges: lc.Config.DPL.SmoothTargetChanges,
	}
	lc.DischargeLimit = battery.Config{
		UserCapEnabled:                    lc.Config.DischargeLimit.UserCapEnabled,
		UserCapAmps:                       lc.Config.DischargeLimit.UserCapAmps,
		TrustBmsDischargeLimit:            lc.Config.DischargeLimit.TrustBmsDischargeLimit,
		DischargeCurrentLimitBelowSoc:     lc.Config.DischargeLimit.DischargeCurrentLimitBelowSoc,
		DischargeCurrentLimitBelowVoltage: lc.Config.DischargeLimit.DischargeCurrentLimitBelowVoltage,
		LoadCorrectionFactor:              lc.Config.DischargeLimit.LoadCorrectionFactor,
		IgnoreSoc:                         lc.Config.DischargeLimit.IgnoreSoc,
	}
	lc.DPL.DischargeLimit = lc.DischargeLimit
}

// BuildInverters constructs fresh *limiter.Inverter values from the
// configured specs, keyed by serial, leaving Radio nil for the caller to
// bind once the radio stack has discovered that serial.
func (lc *LoadedConfig) BuildInverters() map[string]*limiter.Inverter {
	out := make(map[string]*limiter.Inverter, len(lc.Inverters))
	for _, spec := range lc.Inverters {
		out[spec.Serial] = &limiter.Inverter{
			Serial:               spec.Serial,
			Class:                classFromString(spec.Class),
			LowerPowerLimitWatts: spec.LowerPowerLimitWatts,
			UpperPowerLimitWatts: spec.UpperPowerLimitWatts,
			IsBehindPowerMeter:   spec.IsBehindPowerMeter,
			UseOverscaling:       spec.UseOverscaling,
			ScalingThreshold:     spec.ScalingThreshold,
			AllowStandby:         spec.AllowStandby,
		}
	}
	return out
}

// reloadDebounce is the minimum interval between two successful reloads,
// so a flapping config file on disk can't thrash the allocation loop.
const reloadDebounce = 2 * time.Second
