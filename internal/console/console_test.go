package console

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWatchSpec(t *testing.T) {
	spec, err := parseWatchSpec([]string{"meter.power_watts"})
	require.NoError(t, err)
	assert.Equal(t, WatchSpec{Label: "meter.power_watts"}, *spec)
	assert.Equal(t, "meter.power_watts", spec.String())

	spec, err = parseWatchSpec([]string{"meter.power_watts", "-w"})
	require.NoError(t, err)
	assert.True(t, spec.Window)
	assert.Equal(t, "meter.power_watts -w", spec.String())

	_, err = parseWatchSpec(nil)
	assert.Error(t, err)

	_, err = parseWatchSpec([]string{"meter.power_watts", "-bogus"})
	assert.Error(t, err)
}

func TestAddWatchRejectsDuplicate(t *testing.T) {
	s := NewState()
	s.AddWatch(WatchSpec{Label: "a"})
	s.AddWatch(WatchSpec{Label: "a"})
	assert.Len(t, s.watches, 1)
}

func TestAddWatchSameLabelDifferentWindowIsDistinct(t *testing.T) {
	s := NewState()
	s.AddWatch(WatchSpec{Label: "a"})
	s.AddWatch(WatchSpec{Label: "a", Window: true})
	assert.Len(t, s.watches, 2)
}

func TestRemoveWatch(t *testing.T) {
	s := NewState()
	s.AddWatch(WatchSpec{Label: "a"})
	assert.True(t, s.RemoveWatch(WatchSpec{Label: "a"}))
	assert.False(t, s.RemoveWatch(WatchSpec{Label: "a"}))
	assert.Empty(t, s.watches)
}

func TestRemoveAll(t *testing.T) {
	s := NewState()
	s.AddWatch(WatchSpec{Label: "a"})
	s.AddWatch(WatchSpec{Label: "b"})
	s.RemoveAll()
	assert.Empty(t, s.watches)
}

func TestValueForTextLabel(t *testing.T) {
	s := NewState()
	s.UpdateData(Snapshot{Text: map[string]string{"dpl.status": "Stable"}})
	assert.Equal(t, "Stable", s.valueFor(WatchSpec{Label: "dpl.status"}))
}

func TestValueForNumericLabel(t *testing.T) {
	s := NewState()
	s.UpdateData(Snapshot{Numeric: map[string]float64{"battery.soc": 42.5}})
	assert.Equal(t, "42.50", s.valueFor(WatchSpec{Label: "battery.soc"}))
}

func TestValueForUnknownLabel(t *testing.T) {
	s := NewState()
	s.UpdateData(Snapshot{})
	assert.Equal(t, "-", s.valueFor(WatchSpec{Label: "missing"}))
}

func TestValueForBeforeAnyData(t *testing.T) {
	s := NewState()
	assert.Equal(t, "-", s.valueFor(WatchSpec{Label: "anything"}))
}

func TestWindowWatchTracksRollingMinMax(t *testing.T) {
	s := NewState()
	spec := WatchSpec{Label: "meter.power_watts", Window: true}
	s.AddWatch(spec)

	// Before any sample lands, the window has nothing to report.
	assert.Equal(t, "-", s.valueFor(spec))

	s.UpdateData(Snapshot{Numeric: map[string]float64{"meter.power_watts": 120}})
	got := s.valueFor(spec)
	assert.NotEqual(t, "-", got)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "42.50", formatValue(42.5))
	assert.Equal(t, "800", formatValue(800))
	assert.Equal(t, "-300", formatValue(-300))
}

func TestHandleCommandWatchAndUnwatch(t *testing.T) {
	s := NewState()
	handleCommand("watch dpl.status", s)
	require.Len(t, s.watches, 1)

	handleCommand("unwatch dpl.status", s)
	assert.Empty(t, s.watches)
}

func TestHandleCommandUnwatchAll(t *testing.T) {
	s := NewState()
	handleCommand("watch a", s)
	handleCommand("watch b", s)
	handleCommand("unwatch --all", s)
	assert.Empty(t, s.watches)
}

func TestHandleCommandUnknown(t *testing.T) {
	s := NewState()
	// Should not panic on an unrecognized command.
	handleCommand("frobnicate", s)
	assert.Empty(t, s.watches)
}

func TestListLabelsBeforeDataDoesNotPanic(t *testing.T) {
	s := NewState()
	s.ListLabels()
}

func TestPrintRowSuppressesUnchangedOutput(t *testing.T) {
	s := NewState()
	s.AddWatch(WatchSpec{Label: "dpl.status"})
	s.UpdateData(Snapshot{Text: map[string]string{"dpl.status": "Stable"}})
	s.PrintRow()
	require.NotEmpty(t, s.prevValues)

	// Printing again with the same value should leave prevValues untouched
	// (no new row emitted) rather than erroring.
	before := s.prevValues["dpl.status"]
	s.PrintRow()
	assert.Equal(t, before, s.prevValues["dpl.status"])
}
