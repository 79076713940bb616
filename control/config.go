// control/config.go
// Author: momentics <momentics@gmail.com>
//
// ConfigStore holds the endpoint's live-tunable surface behind
// GetConfig/SetConfig/OnReload: poller sizing, timeouts, keep-alive
// limits, and anything else api.Control exposes for runtime adjustment
// without a restart.

package control

import (
	"sync"
	"sync/atomic"
)

// ConfigStore is a dynamic key/value map with atomic snapshot and
// listener support, plus a generation counter so callers can tell
// whether a reload actually happened since they last observed it.
type ConfigStore struct {
	mu        sync.RWMutex
	config    map[string]any
	listeners []func()

	generation atomic.Int64
}

// NewConfigStore initializes a new config store with empty data.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{
		config:    make(map[string]any),
		listeners: make([]func(), 0),
	}
}

// GetSnapshot returns a copy of all config values.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	copy := make(map[string]any, len(cs.config))
	for k, v := range cs.config {
		copy[k] = v
	}
	return copy
}

// SetConfig merges new values and dispatches reload to every listener
// asynchronously — the default path, used when the caller (e.g. an
// admin API) doesn't need to know the hooks have finished running
// before it returns.
func (cs *ConfigStore) SetConfig(newCfg map[string]any) {
	cs.mu.Lock()
	for k, v := range newCfg {
		cs.config[k] = v
	}
	cs.generation.Add(1)
	listeners := cs.snapshotListenersLocked()
	cs.mu.Unlock()
	cs.dispatchReload(listeners, true)
}

// SetConfigSync merges new values and runs every reload listener on the
// calling goroutine before returning, so the caller observes the effects
// of the reload immediately — used by the endpoint's own administrative
// reload path (control.Controller.ReloadSync), where the operator wants
// to know hooks have completed before acting on the result. The listeners
// run after cs.mu is released, so a hook that reads back through
// GetSnapshot or registers a further OnReload doesn't deadlock against
// its own caller.
func (cs *ConfigStore) SetConfigSync(newCfg map[string]any) {
	cs.mu.Lock()
	for k, v := range newCfg {
		cs.config[k] = v
	}
	cs.generation.Add(1)
	listeners := cs.snapshotListenersLocked()
	cs.mu.Unlock()
	cs.dispatchReload(listeners, false)
}

// OnReload registers a listener hook called on config changes.
func (cs *ConfigStore) OnReload(fn func()) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}

// Generation returns the number of reloads dispatched so far.
func (cs *ConfigStore) Generation() int64 { return cs.generation.Load() }

// snapshotListenersLocked copies the listener slice. Called with cs.mu held.
func (cs *ConfigStore) snapshotListenersLocked() []func() {
	listeners := make([]func(), len(cs.listeners))
	copy(listeners, cs.listeners)
	return listeners
}

// dispatchReload invokes the given listeners, either asynchronously
// (async=true) or synchronously on the caller's goroutine. Called without
// cs.mu held so a listener is free to call back into the ConfigStore.
func (cs *ConfigStore) dispatchReload(listeners []func(), async bool) {
	for _, fn := range listeners {
		if async {
			go fn()
			continue
		}
		fn()
	}
}
