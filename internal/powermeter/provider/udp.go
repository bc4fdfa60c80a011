package provider

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/ryansname/powerctl/internal/powermeter"
	"github.com/ryansname/powerctl/internal/uptime"
)

// UDPConfig configures the receive-only UDP datagram power-meter backend
// (SMA Home Manager / Victron-style broadcast readers both reduce, once
// decoded upstream, to "a number arrives on a socket").
type UDPConfig struct {
	ListenAddr string
}

// UDP is a receive-only datagram power-meter Provider. Unlike the "poll
// receive queue in loop()" kind of §4.B, nothing is polled in Loop: a
// background goroutine reads datagrams and stashes the latest decoded
// value; Loop is a no-op for the same reason as HTTPPoll.
type UDP struct {
	cfg    UDPConfig
	conn   net.PacketConn
	cancel context.CancelFunc

	mu    sync.Mutex
	stats powermeter.Stats
}

// NewUDP constructs a UDP backend.
func NewUDP(cfg UDPConfig) *UDP { return &UDP{cfg: cfg} }

func (u *UDP) Init(verbose bool) bool {
	if u.cfg.ListenAddr == "" {
		return false
	}
	conn, err := net.ListenPacket("udp", u.cfg.ListenAddr)
	if err != nil {
		return false
	}
	u.conn = conn

	ctx, cancel := context.WithCancel(context.Background())
	u.cancel = cancel
	go u.readLoop(ctx)
	return true
}

func (u *UDP) Deinit() {
	if u.cancel != nil {
		u.cancel()
	}
	if u.conn != nil {
		_ = u.conn.SetReadDeadline(time.Now())
		_ = u.conn.Close()
	}
}

func (u *UDP) Loop() {}

func (u *UDP) GetStats() powermeter.Stats {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stats
}

func (u *UDP) readLoop(ctx context.Context) {
	buf := make([]byte, 512)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_ = u.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := u.conn.ReadFrom(buf)
		if err != nil {
			continue
		}
		watts, err := strconv.ParseFloat(string(buf[:n]), 64)
		if err != nil {
			continue
		}
		u.mu.Lock()
		u.stats.Set(uptime.NowMillis(), watts)
		u.mu.Unlock()
	}
}
