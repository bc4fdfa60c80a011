package provider

import (
	"sync"

	"github.com/ryansname/powerctl/internal/battery"
	"github.com/ryansname/powerctl/internal/hwif"
)

// CANConfig configures the CAN-bus battery backend. Decode turns one
// received frame into a Stats mutation; the concrete chemistry framings
// (Pylontech, Pytes, ...) are wire-format parsers out of this module's
// scope, so the caller supplies Decode rather than this package shipping
// one.
type CANConfig struct {
	Bus    hwif.Bus
	Decode func(f hwif.Frame, stats *battery.Stats)
}

// CAN is a receive-only CAN battery Provider: Loop drains whatever frames
// the bus has queued and hands each to Decode.
type CAN struct {
	cfg CANConfig

	mu    sync.Mutex
	stats battery.Stats
}

// NewCAN constructs a CAN battery backend.
func NewCAN(cfg CANConfig) *CAN { return &CAN{cfg: cfg} }

func (c *CAN) Init(verbose bool) bool {
	return c.cfg.Bus != nil && c.cfg.Decode != nil
}

func (c *CAN) Deinit() {}

func (c *CAN) Loop() {
	for {
		f, ok := c.cfg.Bus.Receive()
		if !ok {
			return
		}
		c.mu.Lock()
		c.cfg.Decode(f, &c.stats)
		c.mu.Unlock()
	}
}

func (c *CAN) GetStats() battery.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
