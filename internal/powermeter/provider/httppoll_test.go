package provider

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHTTPPollDecodesJSONPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"meter":{"power_w":742.1}}`))
	}))
	defer srv.Close()

	h := NewHTTPPoll(HTTPPollConfig{URL: srv.URL, JSONPath: "meter.power_w", Interval: 10 * time.Millisecond})
	assert.True(t, h.Init(false))
	defer h.Deinit()

	assert.Eventually(t, func() bool {
		return h.GetStats().PowerTotalWatts == 742.1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHTTPPollRequiresURL(t *testing.T) {
	h := NewHTTPPoll(HTTPPollConfig{})
	assert.False(t, h.Init(false))
}

func TestHTTPPollIgnoresMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	h := NewHTTPPoll(HTTPPollConfig{URL: srv.URL, JSONPath: "meter.power_w", Interval: 10 * time.Millisecond})
	assert.True(t, h.Init(false))
	defer h.Deinit()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0.0, h.GetStats().PowerTotalWatts)
}
