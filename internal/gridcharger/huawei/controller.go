package huawei

import (
	"log/slog"
	"math"
	"time"

	"github.com/ryansname/powerctl/internal/hwif"
	"github.com/ryansname/powerctl/internal/uptime"
)

// Mode is the grid charger's operating mode.
type Mode int

const (
	ModeOff Mode = iota
	ModeOn
	ModeAutoExt
	ModeAutoInt
)

const (
	minimalOfflineVoltage = 48.0
	minimalOnlineVoltage  = 42.0

	statusRequestID = 0x108040FE
	paramWriteID    = 0x108180FE
	responseID      = 0x1081407F

	powerPinOffAfterIdle      = 60 * time.Second
	powerPinOffCurrentAmps    = 0.75
	voltageSetPointInterval   = 60 * time.Second
	emergencyClearCurrentAmps = 1.0
	autoPowerEnabledResetCtr  = 10
)

// Meter is the subset of the power-meter provider the autonomous AUTO_INT
// loop reads.
type Meter interface {
	PowerTotalWatts() (float64, bool)
}

// Battery is the subset of the battery provider the autonomous loop reads.
type Battery interface {
	DischargeCurrentLimitAmps() float64 // +Inf if uncapped
	CurrentAmps() (float64, bool)
	ImmediateChargingRequest() bool
}

// Controller implements the grid-charger mode state machine and the
// AUTO_INT autonomous power-steering loop described by the component
// design.
type Controller struct {
	bus  hwif.Bus
	log  *slog.Logger
	rp   RectifierParameters

	mode              Mode
	powerPinOn        bool
	outputCurrentOnSince uint32
	nextVoltageAssertMs  uint32
	autoModeBlockedTill  uint32
	autoPowerEnabled     bool
	autoPowerEnabledCtr  uint8
	batteryEmergencyCharging bool

	targetPowerConsumptionWatts float64
	lowerBoundAmps, upperBoundAmps float64
	upperPowerLimitWatts float64

	battery     Battery
	lastMeterTs uint32
}

// SetBattery binds the battery provider the AUTO_INT loop consults for the
// discharge-current-limit permit and the emergency-charge request.
func (c *Controller) SetBattery(b Battery) { c.battery = b }

// NewController constructs a Controller bound to a CAN bus.
func NewController(bus hwif.Bus, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{bus: bus, log: logger, mode: ModeAutoExt}
}

// SetMode transitions the charger to a new mode, asserting or de-asserting
// the power pin as required.
func (c *Controller) SetMode(mode Mode) {
	switch {
	case c.mode == ModeOff && mode != ModeOff:
		c.powerPinOn = true
	case mode == ModeOff:
		c.powerPinOn = false
	}
	c.mode = mode
}

// GetMode returns the current mode.
func (c *Controller) GetMode() Mode { return c.mode }

// Get returns the latest rectifier reading.
func (c *Controller) Get() RectifierParameters { return c.rp }

// LastUpdate returns the oldest per-field timestamp of the current reading.
func (c *Controller) LastUpdate() uint32 { return c.rp.LastUpdate() }

// GetAutoPowerStatus reports whether the AUTO_INT loop currently has the
// output enabled.
func (c *Controller) GetAutoPowerStatus() bool { return c.autoPowerEnabled }

// IsActivelyCharging reports whether an auto-power mode currently has the
// charger actually drawing current. The DPL's bus-usage accounting consults
// this to avoid contending with the grid charger for the same battery.
func (c *Controller) IsActivelyCharging() bool {
	switch c.mode {
	case ModeAutoInt:
		return c.autoPowerEnabled
	case ModeAutoExt:
		return c.powerPinOn
	default:
		return false
	}
}

// ProcessReceived decodes one status-response CAN frame into rp.
func (c *Controller) ProcessReceived(f hwif.Frame) {
	if f.ID != responseID {
		return
	}
	// valueId byte pattern 0x01 XX 00 00 carries the property class in byte 1.
	if f.Data[0] != 0x01 {
		return
	}
	valueID := f.Data[1]
	raw := int32(f.Data[4])<<24 | int32(f.Data[5])<<16 | int32(f.Data[6])<<8 | int32(f.Data[7])
	value := float64(raw) / 1024.0
	c.rp.applyField(valueID, value, uptime.NowMillis())
}

// setCurrent writes an output-current command over CAN.
func (c *Controller) setCurrent(amps float64) {
	var payload [8]byte
	raw := int32(amps * 1024)
	payload[4] = byte(raw >> 24)
	payload[5] = byte(raw >> 16)
	payload[6] = byte(raw >> 8)
	payload[7] = byte(raw)
	_ = c.bus.Send(hwif.Frame{ID: paramWriteID, DLC: 8, Data: payload})
}

// setVoltage writes an output-voltage setpoint command over CAN.
func (c *Controller) setVoltage(volts float64) {
	var payload [8]byte
	raw := int32(volts * 1024)
	payload[4] = byte(raw >> 24)
	payload[5] = byte(raw >> 16)
	payload[6] = byte(raw >> 8)
	payload[7] = byte(raw)
	_ = c.bus.Send(hwif.Frame{ID: paramWriteID, DLC: 8, Data: payload})
}

// ConfigureAutoInt sets the AUTO_INT target and bounds.
func (c *Controller) ConfigureAutoInt(targetPowerConsumptionWatts, lowerBoundAmps, upperBoundAmps, upperPowerLimitWatts float64) {
	c.targetPowerConsumptionWatts = targetPowerConsumptionWatts
	c.lowerBoundAmps = lowerBoundAmps
	c.upperBoundAmps = upperBoundAmps
	c.upperPowerLimitWatts = upperPowerLimitWatts
}

// efficiency applies the documented default/override rules: 0.95 when no
// reading has arrived yet, 1.0 when a reading has arrived but reads ≤ 0.5
// (kept as the ambiguous-but-intentional behaviour the design notes call
// out), otherwise the reported value.
func (c *Controller) efficiency() float64 {
	if c.rp.efficiencyTs == 0 {
		return 0.95
	}
	eta := c.rp.EfficiencyPercent / 100
	if eta <= 0.5 {
		c.log.Warn("grid charger reported implausibly low efficiency, assuming 1.0", "reported", eta)
		return 1.0
	}
	return eta
}

// Loop runs the periodic rectifier housekeeping: turns the power pin off in
// AUTO_EXT after a sustained idle output, and — in OFF — does nothing.
func (c *Controller) Loop() {
	now := uptime.NowMillis()

	if c.rp.OutputCurrentAmps >= powerPinOffCurrentAmps {
		c.outputCurrentOnSince = now
	}

	if c.mode == ModeAutoExt && c.powerPinOn {
		if uptime.Elapsed(now, c.outputCurrentOnSince) > uint32(powerPinOffAfterIdle.Milliseconds()) {
			c.powerPinOn = false
		}
	}

	if c.mode == ModeAutoInt {
		c.runAutoInt(now)
	}
}

// SetImmediateChargingRequest is an explicit override for the emergency-
// charge latch, for callers without a Battery implementation wired in
// (e.g. tests). When a Battery is bound via SetBattery, its
// ImmediateChargingRequest() is consulted instead on every Loop.
func (c *Controller) SetImmediateChargingRequest(asserted bool) {
	c.batteryEmergencyCharging = asserted
}

// OnMeterUpdate is called whenever the power meter's timestamp advances;
// AUTO_INT recomputes only then, per the component design.
func (c *Controller) OnMeterUpdate(now uint32, powerTotalWatts float64) {
	c.lastMeterTs = now
	if c.mode != ModeAutoInt {
		return
	}
	c.recomputeAutoInt(now, powerTotalWatts)
}

func (c *Controller) runAutoInt(now uint32) {
	requested := c.batteryEmergencyCharging
	if c.battery != nil {
		requested = c.battery.ImmediateChargingRequest()
	}

	// The emergency charge continues until the request clears AND output
	// current has fallen back below the clear threshold.
	if requested {
		c.batteryEmergencyCharging = true
	} else if c.batteryEmergencyCharging && c.rp.OutputCurrentAmps >= emergencyClearCurrentAmps {
		c.batteryEmergencyCharging = true
	} else {
		c.batteryEmergencyCharging = false
	}

	if c.batteryEmergencyCharging {
		c.emergencyCharge(now)
		return
	}

	if uptime.AtOrAfter(now, c.nextVoltageAssertMs) {
		c.nextVoltageAssertMs = now + uint32(voltageSetPointInterval.Milliseconds())
	}
}

func (c *Controller) emergencyCharge(now uint32) {
	eta := c.efficiency()
	if c.rp.OutputVoltageVolts <= 0 {
		return
	}
	amps := eta * c.upperPowerLimitWatts / c.rp.OutputVoltageVolts

	if uptime.AtOrAfter(now, c.nextVoltageAssertMs) {
		c.setVoltage(c.rp.OutputVoltageVolts)
		c.nextVoltageAssertMs = now + uint32(voltageSetPointInterval.Milliseconds())
	}
	// The current setpoint is the last command of the tick.
	c.setCurrent(amps)
}

// recomputeAutoInt implements the AUTO_INT inner loop pseudocode verbatim:
//
//	newLimit  = -round(meter.powerTotal) + outputPower + target/η
//	enabled   = newLimit > lowerBound
//	if enabled: ... setCurrent(max(0, min(calcI, permitI))); block 2*interval
//	else: setCurrent(0)
func (c *Controller) recomputeAutoInt(now uint32, meterPowerTotalWatts float64) {
	if uptime.After(c.autoModeBlockedTill, now) {
		return
	}

	eta := c.efficiency()
	newLimit := -roundFloat(meterPowerTotalWatts) + c.rp.OutputPowerWatts + c.targetPowerConsumptionWatts/eta
	enabled := newLimit > c.lowerBoundAmps

	if !enabled {
		c.setCurrent(0)
		c.autoPowerEnabled = false
		return
	}

	if c.rp.OutputPowerWatts < c.lowerBoundAmps {
		if c.autoPowerEnabledCtr > 0 {
			c.autoPowerEnabledCtr--
		}
		if c.autoPowerEnabledCtr == 0 {
			c.autoPowerEnabled = false
		}
	} else {
		c.autoPowerEnabledCtr = autoPowerEnabledResetCtr
		c.autoPowerEnabled = true
	}

	capped := min(newLimit, c.upperBoundAmps)
	calcI := eta * capped / max(c.rp.OutputVoltageVolts, 1e-6)

	permitI := calcI
	if c.battery != nil {
		if dischargeLimit := c.battery.DischargeCurrentLimitAmps(); !math.IsInf(dischargeLimit, 1) {
			if batCurrent, ok := c.battery.CurrentAmps(); ok {
				permitI = dischargeLimit - (batCurrent - c.rp.OutputCurrentAmps)
			}
		}
	}

	c.setCurrent(max(0, min(calcI, permitI)))
	c.autoModeBlockedTill = now + 2*c.dataRequestIntervalMs()
}

func (c *Controller) dataRequestIntervalMs() uint32 { return 1000 }

func roundFloat(v float64) float64 {
	if v < 0 {
		return float64(int64(v - 0.5))
	}
	return float64(int64(v + 0.5))
}
