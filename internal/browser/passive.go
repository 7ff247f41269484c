// ABOUTME: Host without browser control, fed by channel connections and focus reports.
// ABOUTME: Used when the hub runs next to a browser it cannot drive over CDP.

package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/tabhub/internal/protocol"
)

// PassiveHost tracks tabs it is told about. Activation cannot raise a real
// window, so it only records the tab as focused.
type PassiveHost struct {
	mu     sync.Mutex
	tabs   map[protocol.TabHandle]TabInfo
	active protocol.TabHandle
	known  bool

	listeners listeners
	logger    *slog.Logger
}

// NewPassiveHost creates an empty PassiveHost.
func NewPassiveHost(logger *slog.Logger) *PassiveHost {
	if logger == nil {
		logger = slog.Default()
	}
	return &PassiveHost{
		tabs:   make(map[protocol.TabHandle]TabInfo),
		logger: logger,
	}
}

// Observe records a tab, typically when its channel connects.
func (p *PassiveHost) Observe(info TabInfo) {
	p.mu.Lock()
	p.tabs[info.Handle] = info
	p.mu.Unlock()
}

// Forget drops a tab. If it was focused, no tab is focused afterwards.
func (p *PassiveHost) Forget(h protocol.TabHandle) {
	p.mu.Lock()
	delete(p.tabs, h)
	if p.known && p.active == h {
		p.known = false
		p.active = ""
	}
	p.mu.Unlock()
}

// ReportFocus marks h as focused and notifies listeners when it changed.
func (p *PassiveHost) ReportFocus(ctx context.Context, h protocol.TabHandle) {
	p.mu.Lock()
	changed := !p.known || p.active != h
	p.active, p.known = h, true
	p.mu.Unlock()

	if changed {
		p.logger.Debug("focus reported", "tab", string(h))
		p.listeners.emit(ctx, h)
	}
}

func (p *PassiveHost) ActiveTab(_ context.Context) (protocol.TabHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.known {
		return "", ErrNoActiveTab
	}
	return p.active, nil
}

func (p *PassiveHost) Tab(_ context.Context, h protocol.TabHandle) (TabInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.tabs[h]
	if !ok {
		return TabInfo{}, fmt.Errorf("%w: %s", ErrTabNotFound, h)
	}
	return info, nil
}

// Activate focuses a known tab.
func (p *PassiveHost) Activate(ctx context.Context, h protocol.TabHandle) error {
	if _, err := p.Tab(ctx, h); err != nil {
		return err
	}
	p.ReportFocus(ctx, h)
	return nil
}

func (p *PassiveHost) OnFocusChange(fn FocusListener) { p.listeners.add(fn) }

func (p *PassiveHost) Close() error { return nil }
