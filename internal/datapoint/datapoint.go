// Package datapoint implements the typed, timestamped, label-indexed
// telemetry store used by every provider in the system: a DataPoint freezes
// a value plus its textual rendering at insertion time, and a
// DataPointContainer maps a closed label enum to at most one live
// DataPoint per label.
package datapoint

import (
	"fmt"
	"sync"

	"github.com/ryansname/powerctl/internal/uptime"
)

// Traits supplies the display name and unit for each label. The value type
// is not per label: one type parameter T covers every label of a container.
type Traits[L comparable] interface {
	Name(L) string
	Unit(L) string
}

// DataPoint is an immutable, timestamped value together with its frozen
// textual rendering.
type DataPoint[T any] struct {
	label     string
	valueText string
	unit      string
	value     T
	timestamp uint32
}

// Label returns the data point's display name.
func (d DataPoint[T]) Label() string { return d.label }

// ValueText returns the formatted value frozen at insertion time.
func (d DataPoint[T]) ValueText() string { return d.valueText }

// Unit returns the data point's unit string.
func (d DataPoint[T]) Unit() string { return d.unit }

// Value returns the raw typed value.
func (d DataPoint[T]) Value() T { return d.value }

// Timestamp returns the uptime-millisecond timestamp at insertion time.
func (d DataPoint[T]) Timestamp() uint32 { return d.timestamp }

// equalValues reports whether two data points carry the same raw value.
// T must be comparable for this to compile; all label value types in this
// system (float64, string, bool) satisfy that.
func equalValues[T comparable](a, b DataPoint[T]) bool {
	return a.value == b.value
}

// Container is a mutex-guarded mapping from label to its single live
// DataPoint, parametric over the label enum L and its Traits implementation.
type Container[L comparable, T comparable] struct {
	mu     sync.Mutex
	points map[L]DataPoint[T]
	traits Traits[L]
}

// NewContainer constructs an empty container bound to the given traits.
func NewContainer[L comparable, T comparable](traits Traits[L]) *Container[L, T] {
	return &Container[L, T]{
		points: make(map[L]DataPoint[T]),
		traits: traits,
	}
}

// Lock acquires the container's mutex for the duration of a coherent batch
// of additions, returning an unlock function. Callers that want several Add
// calls to be observed atomically by concurrent readers call this first.
func (c *Container[L, T]) Lock() func() {
	c.mu.Lock()
	return c.mu.Unlock
}

// Add inserts or replaces the data point at label L. No locking is done
// here; callers needing a coherent batch must wrap calls with Lock().
func (c *Container[L, T]) Add(label L, value T) {
	c.points[label] = DataPoint[T]{
		label:     c.traits.Name(label),
		valueText: fmt.Sprint(value),
		unit:      c.traits.Unit(label),
		value:     value,
		timestamp: uptime.NowMillis(),
	}
}

// Get returns the raw value at label L, if present.
func (c *Container[L, T]) Get(label L) (T, bool) {
	dp, ok := c.GetDataPointFor(label)
	return dp.value, ok
}

// GetDataPointFor returns the full DataPoint at label L, if present. It
// locks the container for the duration of the read.
func (c *Container[L, T]) GetDataPointFor(label L) (DataPoint[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dp, ok := c.points[label]
	return dp, ok
}

// Merge copies every entry from src whose value differs from the entry
// currently held under the same label, updating the timestamp; entries
// that compare equal retain their existing (older) timestamp. This is the
// linearisation point for cross-frame consistency: producers build a fresh
// container and merge it atomically after validation.
func (c *Container[L, T]) Merge(src *Container[L, T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	src.mu.Lock()
	defer src.mu.Unlock()

	for label, incoming := range src.points {
		existing, ok := c.points[label]
		if ok && equalValues(existing, incoming) {
			continue
		}
		c.points[label] = incoming
	}
}

// GetLastUpdate returns the largest timestamp across all entries, computed
// wrap-safe so it tolerates a single rollover of the underlying uptime
// counter, or 0 if the container is empty.
func (c *Container[L, T]) GetLastUpdate() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.points) == 0 {
		return 0
	}

	now := uptime.NowMillis()
	var minDiff uint32 = 1<<31 - 1
	for _, dp := range c.points {
		diff := now - dp.timestamp
		if diff < minDiff {
			minDiff = diff
		}
	}
	return now - minDiff
}

// Clear removes every entry.
func (c *Container[L, T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.points = make(map[L]DataPoint[T])
}

// Range calls fn for every currently-held label/DataPoint pair. fn must not
// call back into the container.
func (c *Container[L, T]) Range(fn func(L, DataPoint[T])) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for label, dp := range c.points {
		fn(label, dp)
	}
}

// Clone returns a snapshot copy of the container's current contents.
func (c *Container[L, T]) Clone() *Container[L, T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	clone := &Container[L, T]{
		points: make(map[L]DataPoint[T], len(c.points)),
		traits: c.traits,
	}
	for k, v := range c.points {
		clone.points[k] = v
	}
	return clone
}
