package vedirect

import (
	"strconv"
	"sync"

	"github.com/ryansname/powerctl/internal/uptime"
)

const efficiencyWindow = 5

// movingAverage is a fixed-window moving average, grounded on the same
// rolling-statistics idiom the teacher uses for its percentile windows.
type movingAverage struct {
	samples [efficiencyWindow]float64
	count   int
	next    int
}

func (m *movingAverage) push(v float64) float64 {
	m.samples[m.next] = v
	m.next = (m.next + 1) % efficiencyWindow
	if m.count < efficiencyWindow {
		m.count++
	}
	var sum float64
	for i := 0; i < m.count; i++ {
		sum += m.samples[i]
	}
	return sum / float64(m.count)
}

// Stats is the decoded, timestamped snapshot of one MPPT's TEXT+HEX state,
// matching the solar-charger stats shape of the data model.
type Stats struct {
	OutputPowerWatts  float64
	OutputVoltageVolts float64
	PanelPowerWatts   float64
	YieldTotalKWh     float64
	YieldTodayWh      float64
	EfficiencyPercent float64
	LastUpdate        uint32

	// Timestamped optional HEX response fields.
	NetworkTotalDcInputPowerMilliWatts *TimestampedValue
	BatteryAbsorptionMilliVolt         *TimestampedValue
	BatteryFloatMilliVolt              *TimestampedValue
	ChargeCurrentLimitMilliAmp         *TimestampedValue
}

// TimestampedValue pairs a decoded HEX register value with the uptime at
// which it was received.
type TimestampedValue struct {
	Value     float64
	Timestamp uint32
}

// IsStale reports whether the stats snapshot is older than the solar
// charger's 10 s freshness bound.
func (s Stats) IsStale(now uint32) bool {
	if s.LastUpdate == 0 {
		return true
	}
	return uptime.Elapsed(now, s.LastUpdate) > 10_000
}

// Controller owns one MPPT device's TEXT decoder, HEX scheduler and
// accumulated stats.
type Controller struct {
	text  *TextDecoder
	hex   *HexScheduler
	eff   movingAverage
	mu    sync.Mutex
	stats Stats
}

// NewController constructs a Controller that writes HEX commands via send.
func NewController(send func(HexFrame) error) *Controller {
	return &Controller{
		text: NewTextDecoder(),
		hex:  NewHexScheduler(send),
	}
}

// FeedText processes one byte of the TEXT substream. On a valid frame it
// updates the stats snapshot and recomputes the moving-average efficiency.
func (c *Controller) FeedText(b byte) {
	frame := c.text.Feed(b)
	if frame == nil {
		return
	}
	c.applyTextFrame(frame)
}

func (c *Controller) applyTextFrame(frame TextFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := uptime.NowMillis()
	if v, ok := frame.Float("PPV"); ok {
		c.stats.PanelPowerWatts = v
	}
	if v, ok := frame.Float("P"); ok {
		c.stats.OutputPowerWatts = v
	}
	if v, ok := frame.FloatScaled("V", 1000); ok { // main voltage, mV on the wire
		c.stats.OutputVoltageVolts = v
	}
	if v, ok := frame.FloatScaled("H19", 100); ok { // yield total, 0.01 kWh units
		c.stats.YieldTotalKWh = v
	}
	if v, ok := frame.FloatScaled("H20", 100); ok { // yield today, 0.01 kWh units -> Wh
		c.stats.YieldTodayWh = v * 1000
	}

	if c.stats.PanelPowerWatts > 0 {
		instantaneous := 0.0
		if c.stats.PanelPowerWatts != 0 {
			instantaneous = 100 * c.stats.OutputPowerWatts / c.stats.PanelPowerWatts
		}
		c.stats.EfficiencyPercent = c.eff.push(instantaneous)
	}

	c.stats.LastUpdate = now
}

// IsHexCommandPossible reports whether the HEX scheduler may send now: no
// partial TEXT frame may be in flight, and a prior request must not still
// be outstanding.
func (c *Controller) IsHexCommandPossible(now uint32) bool {
	return c.text.IsIdle() && c.hex.canSend(now)
}

// Tick advances the HEX scheduler by one loop iteration, sending the next
// due register if IsHexCommandPossible holds.
func (c *Controller) Tick(now uint32) {
	if !c.IsHexCommandPossible(now) {
		return
	}
	c.hex.tick(now)
}

// FeedHexResponse applies a decoded HEX response frame to the stats
// snapshot and clears the outstanding-request gate.
func (c *Controller) FeedHexResponse(f HexFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.hex.onResponse(f)

	now := uptime.NowMillis()
	switch f.Register {
	case RegisterNetworkTotalDcInputPower:
		c.stats.NetworkTotalDcInputPowerMilliWatts = &TimestampedValue{Value: float64(f.Value), Timestamp: now}
	case RegisterBatteryAbsorptionVoltage:
		c.stats.BatteryAbsorptionMilliVolt = &TimestampedValue{Value: float64(f.Value), Timestamp: now}
	case RegisterBatteryFloatVoltage:
		c.stats.BatteryFloatMilliVolt = &TimestampedValue{Value: float64(f.Value), Timestamp: now}
	case RegisterChargeCurrentLimit:
		c.stats.ChargeCurrentLimitMilliAmp = &TimestampedValue{Value: float64(f.Value), Timestamp: now}
	}
}

// Stats returns a snapshot of the current stats.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Remote-control setters enqueue write-only HEX commands with the unit
// scaling each register's wire format documents.

func (c *Controller) SetRemoteMode(on bool) {
	v := int32(0)
	if on {
		v = 1
	}
	c.hex.enqueueWrite(RegisterRemoteMode, v, 8)
}

func (c *Controller) SetRemoteVoltage(volts float64) {
	c.hex.enqueueWrite(RegisterRemoteVoltage, int32(volts*1000), 16) // mV
}

func (c *Controller) SetRemoteCurrent(amps float64) {
	c.hex.enqueueWrite(RegisterRemoteCurrent, int32(amps*1000), 16) // mA
}

func (c *Controller) SetRemoteTemperature(celsius float64) {
	c.hex.enqueueWrite(RegisterRemoteTemperature, int32(celsius*1000), 16) // m°C
}

func (c *Controller) SetChargeVoltageSetPoint(volts float64) {
	c.hex.enqueueWrite(RegisterChargeVoltageSetPoint, int32(volts*1000), 16) // mV
}

func (c *Controller) SetChargeCurrentLimit(amps float64) {
	c.hex.enqueueWrite(RegisterChargeCurrentLimit, int32(amps*1000), 16) // mA
}

// Float looks up a TEXT field and parses it as a float.
func (f TextFrame) Float(key string) (float64, bool) {
	return f.FloatScaled(key, 1)
}

// FloatScaled looks up a TEXT field, parses it as an integer (as VE.Direct
// TEXT values always are), and divides by scale to produce engineering
// units.
func (f TextFrame) FloatScaled(key string, scale float64) (float64, bool) {
	raw, ok := f[key]
	if !ok {
		return 0, false
	}
	iv, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return float64(iv) / scale, true
}
