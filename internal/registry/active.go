// ABOUTME: Process-wide record of the focused browser tab.
// ABOUTME: Written by the active-tab tracker, read by naming and the execution proxy.

package registry

import (
	"sync"

	"github.com/2389/tabhub/internal/protocol"
)

// ActiveTab holds the focused tab handle, or nothing until first queried.
type ActiveTab struct {
	mu     sync.RWMutex
	handle protocol.TabHandle
	known  bool
}

// Get returns the focused tab and whether it is known.
func (a *ActiveTab) Get() (protocol.TabHandle, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.handle, a.known
}

// Known reports whether the focused tab has been determined.
func (a *ActiveTab) Known() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.known
}

// Set records h as focused and returns the previously focused tab.
func (a *ActiveTab) Set(h protocol.TabHandle) (prev protocol.TabHandle, hadPrev bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	prev, hadPrev = a.handle, a.known
	a.handle, a.known = h, true
	return prev, hadPrev
}

// Init records h as focused only if no tab is known yet. It reports
// whether h was stored.
func (a *ActiveTab) Init(h protocol.TabHandle) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.known {
		return false
	}
	a.handle, a.known = h, true
	return true
}

// IsActive reports whether h is the focused tab.
func (a *ActiveTab) IsActive(h protocol.TabHandle) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.known && a.handle == h
}
