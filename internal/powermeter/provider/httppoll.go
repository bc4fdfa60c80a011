package provider

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ryansname/powerctl/internal/powermeter"
	"github.com/ryansname/powerctl/internal/uptime"
)

// HTTPPollConfig configures the HTTP-polling power-meter backend.
type HTTPPollConfig struct {
	URL      string
	JSONPath string
	Interval time.Duration
}

// HTTPPoll is a polling power-meter Provider: a background goroutine polls
// URL every Interval and decodes JSONPath from the JSON body; Loop is a
// no-op since the poll already happens off the caller's thread, per the
// Provider contract's note for polling backends that need blocking I/O.
type HTTPPoll struct {
	cfg    HTTPPollConfig
	client *http.Client
	cancel context.CancelFunc

	mu    sync.Mutex
	stats powermeter.Stats
}

// NewHTTPPoll constructs an HTTP-polling backend.
func NewHTTPPoll(cfg HTTPPollConfig) *HTTPPoll {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	return &HTTPPoll{cfg: cfg, client: &http.Client{Timeout: 5 * time.Second}}
}

func (h *HTTPPoll) Init(verbose bool) bool {
	if h.cfg.URL == "" {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go h.pollLoop(ctx)
	return true
}

func (h *HTTPPoll) Deinit() {
	if h.cancel != nil {
		h.cancel()
	}
}

func (h *HTTPPoll) Loop() {}

func (h *HTTPPoll) GetStats() powermeter.Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *HTTPPoll) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()
	for {
		h.pollOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *HTTPPoll) pollOnce(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.URL, nil)
	if err != nil {
		return
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return
	}
	watts, err := extractDottedPath(body, h.cfg.JSONPath)
	if err != nil {
		return
	}
	h.mu.Lock()
	h.stats.Set(uptime.NowMillis(), watts)
	h.mu.Unlock()
}
