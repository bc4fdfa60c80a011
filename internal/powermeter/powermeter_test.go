package powermeter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatsIsStaleWhenNeverSet(t *testing.T) {
	var s Stats
	assert.True(t, s.IsStale(1000))
}

func TestStatsFreshWithinWindow(t *testing.T) {
	var s Stats
	s.Set(1000, 500)
	assert.False(t, s.IsStale(30_000))
	assert.True(t, s.IsStale(32_000))
}

func TestPowerTotalWattsIfFresh(t *testing.T) {
	var s Stats
	s.Set(1000, -250) // exporting
	v, ok := s.PowerTotalWattsIfFresh(1000)
	assert.True(t, ok)
	assert.Equal(t, -250.0, v)

	_, ok = s.PowerTotalWattsIfFresh(40_000)
	assert.False(t, ok)
}
