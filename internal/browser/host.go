// ABOUTME: Host interface for querying and changing browser tab focus.
// ABOUTME: Includes the focus listener fan-out shared by every host implementation.

package browser

import (
	"context"
	"errors"
	"sync"

	"github.com/2389/tabhub/internal/protocol"
)

var (
	// ErrTabNotFound indicates the host does not know the tab.
	ErrTabNotFound = errors.New("tab not found")

	// ErrNoActiveTab indicates no tab is currently focused.
	ErrNoActiveTab = errors.New("no active tab")
)

// TabInfo describes one browser tab.
type TabInfo struct {
	Handle protocol.TabHandle `json:"tab"`
	URL    string             `json:"url"`
	Title  string             `json:"title,omitempty"`
}

// FocusListener is called with the newly focused tab.
type FocusListener func(ctx context.Context, h protocol.TabHandle)

// Host is the browser as the hub sees it.
type Host interface {
	// ActiveTab returns the focused tab or ErrNoActiveTab.
	ActiveTab(ctx context.Context) (protocol.TabHandle, error)
	// Tab looks up a tab or returns ErrTabNotFound.
	Tab(ctx context.Context, h protocol.TabHandle) (TabInfo, error)
	// Activate brings a tab to the front. On success the host notifies
	// focus listeners.
	Activate(ctx context.Context, h protocol.TabHandle) error
	// OnFocusChange registers fn for every later focus change.
	OnFocusChange(fn FocusListener)
	Close() error
}

// TabObserver is implemented by hosts that learn tabs from connecting
// channels instead of querying a browser.
type TabObserver interface {
	Observe(info TabInfo)
	Forget(h protocol.TabHandle)
}

type listeners struct {
	mu  sync.RWMutex
	fns []FocusListener
}

func (l *listeners) add(fn FocusListener) {
	l.mu.Lock()
	l.fns = append(l.fns, fn)
	l.mu.Unlock()
}

func (l *listeners) emit(ctx context.Context, h protocol.TabHandle) {
	l.mu.RLock()
	fns := append([]FocusListener(nil), l.fns...)
	l.mu.RUnlock()

	for _, fn := range fns {
		fn(ctx, h)
	}
}
