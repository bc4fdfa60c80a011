package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/ryansname/powerctl/internal/uptime"
)

// Store publishes a versioned LoadedConfig snapshot. Readers call Snapshot,
// which briefly holds the shared lock; ReloadFromFile holds the exclusive
// lock only for the pointer swap, matching the documented "writer drains
// readers before mutating" guard without hand-rolling a condvar.
type Store struct {
	mu      sync.RWMutex
	current *LoadedConfig
	path    string
	version uint64

	lastReloadMs uint32
	haveReload   bool
}

// NewStore wraps an already-loaded config for path, ready for reload.
func NewStore(path string, initial *LoadedConfig) *Store {
	return &Store{path: path, current: initial}
}

// Snapshot returns the currently published config. The returned pointer is
// never mutated in place — a reload always swaps in a new one — so callers
// may retain it across a tick without re-acquiring the lock.
func (s *Store) Snapshot() *LoadedConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Version returns the snapshot's reload generation, starting at 0.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// ReloadFromFile re-reads the store's config file and, on success, swaps it
// in as the new snapshot and bumps Version. A reload attempted within
// reloadDebounce of the last successful one is rejected outright — the
// config-reload-pending flag in the DPL's guard chain is level-triggered,
// not edge-triggered, so a filesystem watcher that fires repeatedly must
// not thrash the live inverter set.
func (s *Store) ReloadFromFile(now uint32) error {
	s.mu.Lock()
	if s.haveReload && uptime.Elapsed(now, s.lastReloadMs) < uint32(reloadDebounce.Milliseconds()) {
		s.mu.Unlock()
		return fmt.Errorf("config: reload debounced (last reload %s ago)", time.Duration(uptime.Elapsed(now, s.lastReloadMs))*time.Millisecond)
	}
	s.mu.Unlock()

	lc, err := Load(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = lc
	s.version++
	s.lastReloadMs = now
	s.haveReload = true
	return nil
}
