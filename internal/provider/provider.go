// Package provider implements the generic Provider/Controller template
// shared by the battery, solar-charger and power-meter subsystems: a
// singleton Controller owns an optional Provider behind a lock, plus a
// periodic task that drives Provider.Loop.
package provider

import (
	"sync"
	"sync/atomic"
)

// Provider is the contract every subsystem-specific backend implements.
// Stats is the subsystem's own stats type (battery.Stats, solarcharger.Stats,
// powermeter.Stats, ...).
type Provider[Stats any] interface {
	// Init prepares the provider (opens a UART, subscribes to MQTT topics,
	// dials an HTTP endpoint, ...). A false return means construction
	// failed and the provider must not be used.
	Init(verbose bool) bool

	// Deinit releases whatever Init acquired. Called at most once, only on
	// a provider that was successfully Init'd.
	Deinit()

	// Loop is invoked by the periodic scheduler and must never block. Event-
	// driven (MQTT) providers make this a no-op; polling providers that
	// must do blocking I/O instead spawn a background task in Init and use
	// Loop only to drain whatever that task produced.
	Loop()

	// GetStats returns the provider's latest decoded telemetry snapshot.
	GetStats() Stats
}

// Controller owns at most one live Provider behind a mutex, matching the
// "Option<Box<dyn Provider>>" singleton described by the component design.
type Controller[Stats any] struct {
	mu        sync.Mutex // serializes construct/teardown only
	current   atomic.Pointer[Provider[Stats]]
	dummyFunc func() Stats
}

// NewController constructs an empty controller. dummyFunc produces the
// "dummy" stats object returned by GetStats while no provider is installed
// — its getters must return none/zero, which callers achieve by returning
// a zero-valued Stats with every field's validity flag cleared.
func NewController[Stats any](dummyFunc func() Stats) *Controller[Stats] {
	return &Controller[Stats]{dummyFunc: dummyFunc}
}

// UpdateSettings tears down the current provider, if any, then attempts to
// build and initialize a new one via build. If build reports false (no
// provider configured) or the constructed provider's Init returns false,
// the provider slot is left empty.
func (c *Controller[Stats]) UpdateSettings(build func() (Provider[Stats], bool), verbose bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old := c.current.Load(); old != nil {
		(*old).Deinit()
		c.current.Store(nil)
	}

	p, ok := build()
	if !ok {
		return
	}
	if !p.Init(verbose) {
		return
	}
	c.current.Store(&p)
}

// Teardown deinitializes and clears the current provider, if any.
func (c *Controller[Stats]) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old := c.current.Load(); old != nil {
		(*old).Deinit()
		c.current.Store(nil)
	}
}

// Loop drives the installed provider's Loop method, if any. Safe to call
// from the main scheduler without holding any lock: reading the atomic
// pointer never blocks, satisfying the "never block in loop()" rule.
func (c *Controller[Stats]) Loop() {
	p := c.current.Load()
	if p == nil {
		return
	}
	(*p).Loop()
}

// GetStats returns the installed provider's latest stats, or the dummy
// object if no provider is installed.
func (c *Controller[Stats]) GetStats() Stats {
	p := c.current.Load()
	if p == nil {
		return c.dummyFunc()
	}
	return (*p).GetStats()
}

// HasProvider reports whether a provider is currently installed.
func (c *Controller[Stats]) HasProvider() bool {
	return c.current.Load() != nil
}
