package serialport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllocatePortAssignsFirstFreeSlot(t *testing.T) {
	m := NewManager()
	p0, err := m.AllocatePort("mppt1")
	assert.NoError(t, err)
	assert.Equal(t, 0, p0)

	p1, err := m.AllocatePort("gridcharger")
	assert.NoError(t, err)
	assert.Equal(t, 1, p1)
}

func TestAllocatePortFailsWhenExhausted(t *testing.T) {
	m := NewManager()
	for i := 0; i < numPorts; i++ {
		_, err := m.AllocatePort(string(rune('a' + i)))
		assert.NoError(t, err)
	}
	_, err := m.AllocatePort("one-too-many")
	assert.Error(t, err)
}

func TestAllocatePortTwiceForSameOwnerRejectsAndLatches(t *testing.T) {
	m := NewManager()
	_, err := m.AllocatePort("mppt1")
	assert.NoError(t, err)

	_, err = m.AllocatePort("mppt1")
	assert.Error(t, err, "second allocation for the same owner must fail")

	_, err = m.AllocatePort("mppt1")
	assert.Error(t, err, "owner stays rejected until FreePort")
}

func TestFreePortClearsSlotAndRejection(t *testing.T) {
	m := NewManager()
	_, _ = m.AllocatePort("mppt1")
	_, _ = m.AllocatePort("mppt1") // latch a rejection

	m.FreePort("mppt1")

	p, err := m.AllocatePort("mppt1")
	assert.NoError(t, err)
	assert.Equal(t, 0, p)
}

func TestGetAllocationsReportsCurrentOwners(t *testing.T) {
	m := NewManager()
	_, _ = m.AllocatePort("mppt1")
	_, _ = m.AllocatePort("gridcharger")

	allocs := m.GetAllocations()
	assert.Len(t, allocs, 2)
}
