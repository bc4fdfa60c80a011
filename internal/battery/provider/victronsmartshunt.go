package provider

import (
	"context"
	"io"
	"sync"

	"github.com/ryansname/powerctl/internal/battery"
	"github.com/ryansname/powerctl/internal/uptime"
	"github.com/ryansname/powerctl/internal/vedirect"
)

// VictronSmartShuntConfig configures the TEXT-only VE.Direct battery
// monitor backend.
type VictronSmartShuntConfig struct {
	Port io.ReadCloser
}

// VictronSmartShunt reuses component D's TEXT decoder without its HEX half
// — the SmartShunt battery monitor never receives HEX requests from this
// system, it only reports.
type VictronSmartShunt struct {
	cfg VictronSmartShuntConfig
	dec *vedirect.TextDecoder

	mu    sync.Mutex
	stats battery.Stats

	cancel context.CancelFunc
}

// NewVictronSmartShunt constructs a SmartShunt backend bound to an
// already-opened serial port.
func NewVictronSmartShunt(cfg VictronSmartShuntConfig) *VictronSmartShunt {
	return &VictronSmartShunt{cfg: cfg, dec: vedirect.NewTextDecoder()}
}

func (v *VictronSmartShunt) Init(verbose bool) bool {
	if v.cfg.Port == nil {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	v.cancel = cancel
	go v.readLoop(ctx)
	return true
}

func (v *VictronSmartShunt) Deinit() {
	if v.cancel != nil {
		v.cancel()
	}
	_ = v.cfg.Port.Close()
}

func (v *VictronSmartShunt) Loop() {}

func (v *VictronSmartShunt) GetStats() battery.Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stats
}

func (v *VictronSmartShunt) readLoop(ctx context.Context) {
	buf := make([]byte, 1)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := v.cfg.Port.Read(buf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		if frame := v.dec.Feed(buf[0]); frame != nil {
			v.apply(frame)
		}
	}
}

func (v *VictronSmartShunt) apply(frame vedirect.TextFrame) {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := uptime.NowMillis()
	if volts, ok := frame.FloatScaled("V", 1000); ok { // mV on the wire
		v.stats.SetVoltage(now, volts)
	}
	if amps, ok := frame.FloatScaled("I", 1000); ok { // mA on the wire
		v.stats.SetCurrent(now, amps)
	}
	if soc, ok := frame.FloatScaled("SOC", 10); ok { // tenths of a percent
		v.stats.SetSoC(now, soc)
	}
}
