package vedirect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// feedBlock feeds a complete VE.Direct TEXT block (label\tvalue\r\n pairs)
// into the decoder with a valid trailing checksum computed so the running
// byte sum is 0 mod 256.
func feedBlock(t *testing.T, d *TextDecoder, fields map[string]string, order []string) TextFrame {
	t.Helper()

	var raw []byte
	for _, k := range order {
		raw = append(raw, []byte("\r\n"+k+"\t"+fields[k])...)
	}

	var sum byte
	for _, b := range raw {
		sum += b
	}
	// Checksum label + tab contribute their own bytes; the single checksum
	// value byte must make the total sum 0 mod 256.
	checksumPrefix := []byte("\r\nChecksum\t")
	for _, b := range checksumPrefix {
		sum += b
	}
	checksumByte := byte(0) - sum
	raw = append(raw, checksumPrefix...)
	raw = append(raw, checksumByte, '\n')

	var frame TextFrame
	for _, b := range raw {
		if f := d.Feed(b); f != nil {
			frame = f
		}
	}
	return frame
}

func TestTextDecoderValidChecksumProducesFrame(t *testing.T) {
	d := NewTextDecoder()
	frame := feedBlock(t, d, map[string]string{
		"PPV": "350",
		"P":   "340",
		"V":   "53500",
	}, []string{"PPV", "P", "V"})

	assert.NotNil(t, frame)
	assert.Equal(t, "350", frame["PPV"])
	assert.Equal(t, "53500", frame["V"])
}

func TestTextDecoderInvalidChecksumDiscardsFrame(t *testing.T) {
	d := NewTextDecoder()
	var frame TextFrame
	for _, b := range []byte("\r\nPPV\t350\r\nChecksum\t\x00\n") {
		if f := d.Feed(b); f != nil {
			frame = f
		}
	}
	assert.Nil(t, frame)
	assert.True(t, d.IsIdle())
}

func TestTextDecoderIsIdleTracksBlockBoundary(t *testing.T) {
	d := NewTextDecoder()
	assert.True(t, d.IsIdle())

	d.Feed('\r')
	d.Feed('\n')
	d.Feed('P')
	assert.False(t, d.IsIdle(), "mid-label byte should mark the decoder busy")
}

func TestControllerAppliesTextFrameToStats(t *testing.T) {
	c := NewController(func(HexFrame) error { return nil })
	c.applyTextFrame(feedBlock(t, c.text, map[string]string{
		"PPV": "350",
		"P":   "300",
	}, []string{"PPV", "P"}))

	stats := c.Stats()
	assert.Equal(t, 350.0, stats.PanelPowerWatts)
	assert.Equal(t, 300.0, stats.OutputPowerWatts)
	assert.InDelta(t, 100*300.0/350.0, stats.EfficiencyPercent, 0.001)
}

func TestHexSchedulerHighPrioSentEveryEligibleTick(t *testing.T) {
	var sent []uint16
	sched := NewHexScheduler(func(f HexFrame) error {
		sent = append(sent, f.Register)
		return nil
	})

	var now uint32
	for i := 0; i < 5; i++ {
		sched.tick(now)
		sched.onResponse(HexFrame{}) // simulate immediate response each time
		now += 10
	}

	count := 0
	for _, r := range sent {
		if r == RegisterDeviceState {
			count++
		}
	}
	assert.Equal(t, 5, count)
}

func TestHexSchedulerWriteOnlyNotSentWithoutSetter(t *testing.T) {
	var sent []uint16
	sched := NewHexScheduler(func(f HexFrame) error {
		sent = append(sent, f.Register)
		return nil
	})

	var now uint32
	for i := 0; i < 20; i++ {
		sched.tick(now)
		sched.onResponse(HexFrame{})
		now += 100
	}

	for _, r := range sent {
		assert.NotEqual(t, RegisterRemoteVoltage, r)
	}
}

func TestHexSchedulerSetterTriggersWriteOnlySend(t *testing.T) {
	var sent []HexFrame
	sched := NewHexScheduler(func(f HexFrame) error {
		sent = append(sent, f)
		return nil
	})

	sched.enqueueWrite(RegisterRemoteVoltage, 53500, 16)
	sched.tick(0)

	assert.NotEmpty(t, sent)
	found := false
	for _, f := range sent {
		if f.Register == RegisterRemoteVoltage {
			found = true
			assert.Equal(t, int32(53500), f.Value)
		}
	}
	assert.True(t, found)
}

func TestHexSchedulerAtMostOneOutstanding(t *testing.T) {
	calls := 0
	sched := NewHexScheduler(func(f HexFrame) error {
		calls++
		return nil
	})

	sched.tick(0) // sends, becomes outstanding
	before := calls
	sched.tick(10) // far inside the send timeout: must not send again
	assert.Equal(t, before, calls)
}

func TestControllerGatesOnPartialTextFrame(t *testing.T) {
	c := NewController(func(HexFrame) error { return nil })
	c.text.Feed('\r')
	c.text.Feed('\n')
	c.text.Feed('P') // mid-frame now

	assert.False(t, c.IsHexCommandPossible(0))
}
