package provider

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUDPProviderDecodesDatagrams(t *testing.T) {
	u := NewUDP(UDPConfig{ListenAddr: "127.0.0.1:0"})
	ok := u.Init(false)
	assert.True(t, ok)
	defer u.Deinit()

	addr := u.conn.LocalAddr().(*net.UDPAddr)
	sender, err := net.Dial("udp", addr.String())
	assert.NoError(t, err)
	defer sender.Close()

	_, err = sender.Write([]byte("512.5"))
	assert.NoError(t, err)

	assert.Eventually(t, func() bool {
		return u.GetStats().PowerTotalWatts == 512.5
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUDPProviderRequiresListenAddr(t *testing.T) {
	u := NewUDP(UDPConfig{})
	assert.False(t, u.Init(false))
}
