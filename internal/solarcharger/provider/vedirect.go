package provider

import (
	"context"
	"io"

	"github.com/ryansname/powerctl/internal/solarcharger"
	"github.com/ryansname/powerctl/internal/uptime"
	"github.com/ryansname/powerctl/internal/vedirect"
)

// VEDirectConfig configures the UART-driven solar-charger backend.
type VEDirectConfig struct {
	Instance string
	Port     io.ReadWriteCloser
}

// VEDirect is the UART-driven solar-charger Provider (component D): a
// background goroutine demultiplexes the TEXT and HEX substreams byte by
// byte and feeds component D's Controller; Loop drives the HEX scheduler
// tick, the only part of the protocol that originates from our side on a
// cadence rather than on every received byte.
type VEDirect struct {
	cfg  VEDirectConfig
	ctrl *vedirect.Controller
	hex  *vedirect.HexLineDecoder
	inHex bool

	cancel context.CancelFunc
}

// NewVEDirect constructs a VE.Direct backend bound to an already-opened
// serial port (allocation of the port itself is the caller's concern, via
// internal/serialport).
func NewVEDirect(cfg VEDirectConfig) *VEDirect {
	return &VEDirect{cfg: cfg, hex: vedirect.NewHexLineDecoder()}
}

func (v *VEDirect) Init(verbose bool) bool {
	if v.cfg.Port == nil {
		return false
	}
	v.ctrl = vedirect.NewController(func(f vedirect.HexFrame) error {
		_, err := v.cfg.Port.Write(vedirect.EncodeHexCommand(f))
		return err
	})

	ctx, cancel := context.WithCancel(context.Background())
	v.cancel = cancel
	go v.readLoop(ctx)
	return true
}

func (v *VEDirect) Deinit() {
	if v.cancel != nil {
		v.cancel()
	}
	_ = v.cfg.Port.Close()
}

// Loop advances the HEX request scheduler; reception happens continuously
// on the background goroutine started in Init.
func (v *VEDirect) Loop() {
	v.ctrl.Tick(uptime.NowMillis())
}

func (v *VEDirect) GetStats() solarcharger.Stats {
	s := v.ctrl.Stats()
	m := solarcharger.MpptStats{Instance: v.cfg.Instance}
	m.SetOutputPower(s.LastUpdate, s.OutputPowerWatts)
	m.SetOutputVoltage(s.LastUpdate, s.OutputVoltageVolts)
	m.SetPanelPower(s.LastUpdate, s.PanelPowerWatts)
	m.SetYieldTotal(s.LastUpdate, s.YieldTotalKWh)
	m.SetYieldToday(s.LastUpdate, s.YieldTodayWh)
	if s.NetworkTotalDcInputPowerMilliWatts != nil {
		m.SetNetworkTotalDcInputPower(s.NetworkTotalDcInputPowerMilliWatts.Timestamp, s.NetworkTotalDcInputPowerMilliWatts.Value/1000)
	}
	return solarcharger.Stats{Mppts: []solarcharger.MpptStats{m}}
}

func (v *VEDirect) readLoop(ctx context.Context) {
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
		v.feed(buf[0])
	}
}

func (v *VEDirect) feed(b byte) {
	if !v.inHex && b == ':' {
		v.inHex = true
	}
	if v.inHex {
		if f := v.hex.Feed(b); f != nil {
			v.ctrl.FeedHexResponse(*f)
		}
		if b == '\n' {
			v.inHex = false
		}
		return
	}
	v.ctrl.FeedText(b)
}
