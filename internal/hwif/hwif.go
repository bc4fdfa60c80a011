// Package hwif is the hardware-interface abstraction for CAN transports.
// No CAN-bus Go library exists in the corpus this module was grown from, so
// the Bus interface below is deliberately narrow: a real backend (MCP2515
// over SPI, an on-chip TWAI controller, or a socketcan binding) can be
// plugged in without the rest of the system noticing. The dedicated task
// loop, outbound retry queue, and inbound drain loop are implemented here
// on top of that interface and the standard library only.
package hwif

import (
	"context"
	"log"
	"sync"
	"time"
)

// Frame is a single extended-ID CAN frame: a 29-bit identifier and up to
// 8 data bytes.
type Frame struct {
	ID  uint32
	DLC uint8
	Data [8]byte
}

// Bus is the minimal transport every CAN backend must provide. Send is
// expected to be quick and non-blocking on the caller; Receive drains at
// most one queued inbound frame per call.
type Bus interface {
	Send(f Frame) error
	Receive() (Frame, bool)
}

// paramRequest is a single queued outbound parameter write, already scaled
// to integer units at enqueue time.
type paramRequest struct {
	id       uint32
	payload  [8]byte
	attempts int
}

const maxSendAttempts = 3

// Interface drives one CAN Bus: a FIFO outbound parameter-write queue with
// bounded retry, and an inbound decode callback invoked for frames whose ID
// is of interest to the caller.
type Interface struct {
	bus Bus

	statusRequestID uint32
	decode          func(Frame)

	dataRequestInterval time.Duration
	lastStatusRequest   time.Time

	maxCurrentMultiplier float64

	mu        sync.Mutex
	sendQueue []paramRequest

	notify chan struct{}
	done   chan struct{}
}

// New constructs an Interface. statusRequestID is the frame ID periodically
// sent (with no payload) to request a status frame every dataRequestInterval;
// decode is invoked for every inbound frame the bus hands back, filtering
// for whatever IDs the caller cares about. maxCurrentMultiplier is the
// integer scale applied to ampere values enqueued via EnqueueCurrent
// (voltages always scale ×1024, per the wire convention this system shares
// with every MPPT/rectifier register map it talks to).
func New(bus Bus, statusRequestID uint32, dataRequestInterval time.Duration, maxCurrentMultiplier float64, decode func(Frame)) *Interface {
	return &Interface{
		bus:                  bus,
		statusRequestID:      statusRequestID,
		decode:               decode,
		dataRequestInterval:  dataRequestInterval,
		maxCurrentMultiplier: maxCurrentMultiplier,
		notify:               make(chan struct{}, 1),
		done:                 make(chan struct{}),
	}
}

const voltageScale = 1024

// EnqueueVoltage scales a volt value to the wire's fixed-point integer
// representation (×1024) and queues a parameter write at the given ID.
func (i *Interface) EnqueueVoltage(id uint32, volts float64) {
	i.enqueueScaled(id, int32(volts*voltageScale))
}

// EnqueueCurrent scales an ampere value by maxCurrentMultiplier and queues
// a parameter write at the given ID.
func (i *Interface) EnqueueCurrent(id uint32, amps float64) {
	i.enqueueScaled(id, int32(amps*i.maxCurrentMultiplier))
}

func (i *Interface) enqueueScaled(id uint32, raw int32) {
	var payload [8]byte
	payload[0] = byte(raw >> 24)
	payload[1] = byte(raw >> 16)
	payload[2] = byte(raw >> 8)
	payload[3] = byte(raw)

	i.mu.Lock()
	i.sendQueue = append(i.sendQueue, paramRequest{id: id, payload: payload})
	i.mu.Unlock()

	select {
	case i.notify <- struct{}{}:
	default:
	}
}

// Run is the dedicated task: it sleeps until a parameter write wakes it or
// 500ms elapses, then drains RX, flushes the send queue, and — if the
// interval has elapsed — emits a status-request frame. It returns when ctx
// is cancelled.
func (i *Interface) Run(ctx context.Context) {
	defer close(i.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-i.notify:
		case <-time.After(500 * time.Millisecond):
		}

		i.drainReceive()
		i.flushSendQueue()
		i.maybeSendStatusRequest()
	}
}

// Done is closed once Run has returned.
func (i *Interface) Done() <-chan struct{} { return i.done }

func (i *Interface) drainReceive() {
	for {
		f, ok := i.bus.Receive()
		if !ok {
			return
		}
		i.decode(f)
	}
}

func (i *Interface) flushSendQueue() {
	i.mu.Lock()
	queue := i.sendQueue
	i.sendQueue = nil
	i.mu.Unlock()

	var retry []paramRequest
	for _, req := range queue {
		if err := i.bus.Send(Frame{ID: req.id, DLC: 8, Data: req.payload}); err != nil {
			req.attempts++
			if req.attempts < maxSendAttempts {
				retry = append(retry, req)
			} else {
				log.Printf("hwif: dropping parameter write to id %#x after %d attempts: %v", req.id, req.attempts, err)
			}
		}
	}

	if len(retry) > 0 {
		i.mu.Lock()
		i.sendQueue = append(retry, i.sendQueue...)
		i.mu.Unlock()
	}
}

func (i *Interface) maybeSendStatusRequest() {
	if time.Since(i.lastStatusRequest) < i.dataRequestInterval {
		return
	}
	if err := i.bus.Send(Frame{ID: i.statusRequestID, DLC: 8}); err != nil {
		log.Printf("hwif: status request send failed: %v", err)
		return
	}
	i.lastStatusRequest = time.Now()
}
