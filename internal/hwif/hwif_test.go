package hwif

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeBus struct {
	mu       sync.Mutex
	sent     []Frame
	rx       []Frame
	failNext int
}

func (b *fakeBus) Send(f Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failNext > 0 {
		b.failNext--
		return errors.New("simulated transport fault")
	}
	b.sent = append(b.sent, f)
	return nil
}

func (b *fakeBus) Receive() (Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.rx) == 0 {
		return Frame{}, false
	}
	f := b.rx[0]
	b.rx = b.rx[1:]
	return f, true
}

func (b *fakeBus) sentCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

func TestEnqueueVoltageScalesBy1024(t *testing.T) {
	bus := &fakeBus{}
	iface := New(bus, 0x108040FE, time.Hour, 100, func(Frame) {})

	iface.EnqueueVoltage(0x108180FE, 53.5)
	iface.flushSendQueue()

	assert.Len(t, bus.sent, 1)
	raw := int32(bus.sent[0].Data[0])<<24 | int32(bus.sent[0].Data[1])<<16 |
		int32(bus.sent[0].Data[2])<<8 | int32(bus.sent[0].Data[3])
	assert.Equal(t, int32(53.5*1024), raw)
}

func TestFlushSendQueueRetriesOnFailure(t *testing.T) {
	bus := &fakeBus{failNext: 1}
	iface := New(bus, 0x108040FE, time.Hour, 100, func(Frame) {})

	iface.EnqueueCurrent(0x108180FE, 10)
	iface.flushSendQueue()
	assert.Equal(t, 0, bus.sentCount(), "first attempt should have failed")

	iface.flushSendQueue()
	assert.Equal(t, 1, bus.sentCount(), "retry should have succeeded")
}

func TestFlushSendQueueDropsAfterMaxAttempts(t *testing.T) {
	bus := &fakeBus{failNext: maxSendAttempts}
	iface := New(bus, 0x108040FE, time.Hour, 100, func(Frame) {})

	iface.EnqueueCurrent(0x108180FE, 10)
	for range maxSendAttempts {
		iface.flushSendQueue()
	}

	assert.Equal(t, 0, bus.sentCount())
	assert.Empty(t, iface.sendQueue, "request should be dropped, not retried forever")
}

func TestDrainReceiveDecodesEveryQueuedFrame(t *testing.T) {
	var decoded []Frame
	bus := &fakeBus{rx: []Frame{{ID: 1}, {ID: 2}, {ID: 3}}}
	iface := New(bus, 0x108040FE, time.Hour, 100, func(f Frame) {
		decoded = append(decoded, f)
	})

	iface.drainReceive()

	assert.Len(t, decoded, 3)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	bus := &fakeBus{}
	iface := New(bus, 0x108040FE, time.Millisecond, 100, func(Frame) {})

	ctx, cancel := context.WithCancel(context.Background())
	go iface.Run(ctx)
	cancel()

	select {
	case <-iface.Done():
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
