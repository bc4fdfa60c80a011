package vedirect

import (
	"time"

	"github.com/ryansname/powerctl/internal/uptime"
)

// HEX register identifiers this controller schedules. Values are the
// Victron VE.Direct HEX register addresses this system's request schedule
// covers.
const (
	RegisterDeviceState             uint16 = 0x0201
	RegisterChargerMaxCurrent       uint16 = 0x2015
	RegisterNetworkTotalDcInputPower uint16 = 0x2027
	RegisterBatteryAbsorptionVoltage uint16 = 0xEDF7
	RegisterBatteryFloatVoltage      uint16 = 0xEDF6
	RegisterChargeCurrentLimit      uint16 = 0x2022
	RegisterChargeVoltageSetPoint   uint16 = 0xEDF4
	RegisterRemoteMode              uint16 = 0x2030
	RegisterRemoteVoltage           uint16 = 0x2031
	RegisterRemoteCurrent           uint16 = 0x2032
	RegisterRemoteTemperature       uint16 = 0x2033
	RegisterPanelVoltage            uint16 = 0xEDBB
	RegisterPanelPower              uint16 = 0xEDBC
	RegisterYieldToday              uint16 = 0xEDD3
)

// HexFrame is a single decoded HEX request or response.
type HexFrame struct {
	Register uint16
	Value    int32
	SizeBits int
}

// hexEntry is one row of the 14-entry HEX request schedule: a register, its
// polling period, the last time it was sent, its write width, and an
// optional pending write value for setter-triggered one-shot writes.
type hexEntry struct {
	register   uint16
	periodS    int // 0 = write-only, 1 = high-prio (every eligible loop)
	sizeBits   int
	lastSendMs uint32
	pending    *int32 // set by a remote-control setter; cleared once sent
}

// HexScheduler drives the 14-entry HEX request schedule described by the
// component design: at most one request outstanding at a time, gated by
// sendTimeout from the last issue.
type HexScheduler struct {
	entries     []hexEntry
	send        func(HexFrame) error
	sendTimeout time.Duration
	outstanding bool
	lastSendMs  uint32
}

// defaultSendTimeoutMs bounds how long a single outstanding HEX request may
// remain unanswered before the scheduler allows another to be issued.
const defaultSendTimeoutMs = 500

// NewHexScheduler builds the fixed 14-register schedule and binds it to a
// frame-send function.
func NewHexScheduler(send func(HexFrame) error) *HexScheduler {
	return &HexScheduler{
		send:        send,
		sendTimeout: defaultSendTimeoutMs * time.Millisecond,
		entries: []hexEntry{
			{register: RegisterDeviceState, periodS: 1, sizeBits: 8},
			{register: RegisterNetworkTotalDcInputPower, periodS: 1, sizeBits: 32},
			{register: RegisterChargerMaxCurrent, periodS: 4, sizeBits: 16},
			{register: RegisterChargeCurrentLimit, periodS: 4, sizeBits: 16},
			{register: RegisterBatteryAbsorptionVoltage, periodS: 10, sizeBits: 16},
			{register: RegisterBatteryFloatVoltage, periodS: 10, sizeBits: 16},
			{register: RegisterPanelVoltage, periodS: 4, sizeBits: 16},
			{register: RegisterPanelPower, periodS: 4, sizeBits: 32},
			{register: RegisterYieldToday, periodS: 10, sizeBits: 32},
			{register: RegisterChargeVoltageSetPoint, periodS: 0, sizeBits: 16},
			{register: RegisterRemoteMode, periodS: 0, sizeBits: 8},
			{register: RegisterRemoteVoltage, periodS: 0, sizeBits: 16},
			{register: RegisterRemoteCurrent, periodS: 0, sizeBits: 16},
			{register: RegisterRemoteTemperature, periodS: 0, sizeBits: 16},
		},
	}
}

// canSend reports whether the "at most one outstanding" gate currently
// allows a new request.
func (h *HexScheduler) canSend(now uint32) bool {
	if !h.outstanding {
		return true
	}
	return uptime.Elapsed(now, h.lastSendMs) >= uint32(h.sendTimeout.Milliseconds())
}

// tick sends nothing while a request is outstanding within sendTimeout;
// otherwise it sends the first pending write if there is one, else the
// first due register (high-prio or elapsed period), marking the request
// outstanding.
func (h *HexScheduler) tick(now uint32) {
	if !h.canSend(now) {
		return
	}
	pendingIdx := -1
	for i := range h.entries {
		if h.entries[i].pending != nil {
			pendingIdx = i
			break
		}
	}
	for i := range h.entries {
		if pendingIdx >= 0 && i != pendingIdx {
			continue
		}
		e := &h.entries[i]

		due := false
		var value int32
		switch {
		case e.pending != nil:
			due = true
			value = *e.pending
		case e.periodS == 0:
			// write-only: never periodically due
			continue
		case e.periodS == 1:
			due = true
		default:
			due = uptime.Elapsed(now, e.lastSendMs) >= uint32(e.periodS)*1000
		}

		if !due {
			continue
		}

		if err := h.send(HexFrame{Register: e.register, Value: value, SizeBits: e.sizeBits}); err != nil {
			return
		}

		e.lastSendMs = now
		e.pending = nil
		h.outstanding = true
		h.lastSendMs = now
		return
	}
}

// onResponse clears the outstanding-request gate on any response, matching
// the protocol's single-outstanding-request contract (the gate is cleared
// by age in canSend as a fallback if a response never arrives).
func (h *HexScheduler) onResponse(HexFrame) {
	h.outstanding = false
}

// enqueueWrite marks a write-only register pending; it is sent at most
// once, the next time tick runs and the register is reached.
func (h *HexScheduler) enqueueWrite(register uint16, value int32, sizeBits int) {
	for i := range h.entries {
		if h.entries[i].register == register {
			v := value
			h.entries[i].pending = &v
			return
		}
	}
}
