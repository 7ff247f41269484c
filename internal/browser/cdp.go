// ABOUTME: Host backed by a Chromium instance reached over the DevTools protocol.
// ABOUTME: Maps collector handles to page targets and activates tabs with Target.activateTarget.

package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/2389/tabhub/internal/protocol"
)

// DefaultPollInterval is how often CDPHost checks which tab is in front.
const DefaultPollInterval = time.Second

// CDPConfig configures a CDPHost.
type CDPConfig struct {
	// URL is the DevTools endpoint, e.g. http://127.0.0.1:9222.
	URL          string
	PollInterval time.Duration
	Logger       *slog.Logger
}

// CDPHost treats the first page target Chromium lists as the focused tab.
// Handles are the ones collectors announce; a handle is bound to the page
// target showing the URL its channel connected from.
type CDPHost struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	pollInterval time.Duration
	logger       *slog.Logger
	listeners    listeners

	mu     sync.Mutex
	tabs   *tabMap
	last   protocol.TabHandle
	known  bool
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// NewCDPHost connects to the browser at cfg.URL and starts polling for focus.
func NewCDPHost(ctx context.Context, cfg CDPConfig) (*CDPHost, error) {
	if cfg.URL == "" {
		return nil, errors.New("cdp url is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), cfg.URL)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Listing targets connects to the browser without opening a tab of our
	// own. The first call must use the long-lived context or the connection
	// dies with it.
	if _, err := chromedp.Targets(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("connecting to browser at %s: %w", cfg.URL, err)
	}

	h := &CDPHost{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		pollInterval:  interval,
		logger:        logger,
		tabs:          newTabMap(),
		done:          make(chan struct{}),
	}

	if active, err := h.ActiveTab(ctx); err == nil {
		h.last, h.known = active, true
	}

	h.wg.Add(1)
	go h.poll()

	logger.Info("connected to browser", "url", cfg.URL, "poll_interval", interval)
	return h, nil
}

// pages lists page targets in the order Chromium reports them, most
// recently focused first, and rebinds collector handles against them.
func (h *CDPHost) pages(ctx context.Context) ([]*target.Info, error) {
	runCtx, cancel := h.scoped(ctx)
	defer cancel()

	infos, err := chromedp.Targets(runCtx)
	if err != nil {
		return nil, fmt.Errorf("listing targets: %w", err)
	}
	pages := make([]*target.Info, 0, len(infos))
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		pages = append(pages, info)
	}

	h.mu.Lock()
	h.tabs.resolve(pages)
	h.mu.Unlock()
	return pages, nil
}

// Observe records the URL a collector connected from so its handle can be
// bound to a page target.
func (h *CDPHost) Observe(info TabInfo) {
	h.mu.Lock()
	h.tabs.observe(info.Handle, info.URL)
	h.mu.Unlock()
}

func (h *CDPHost) Forget(handle protocol.TabHandle) {
	h.mu.Lock()
	h.tabs.forget(handle)
	h.mu.Unlock()
}

func (h *CDPHost) targetFor(ctx context.Context, handle protocol.TabHandle) (target.ID, *target.Info, error) {
	pages, err := h.pages(ctx)
	if err != nil {
		return "", nil, err
	}
	h.mu.Lock()
	id, ok := h.tabs.targetFor(handle)
	h.mu.Unlock()
	if ok {
		for _, p := range pages {
			if p.TargetID == id {
				return id, p, nil
			}
		}
	}
	return "", nil, fmt.Errorf("%w: %s", ErrTabNotFound, handle)
}

func (h *CDPHost) ActiveTab(ctx context.Context) (protocol.TabHandle, error) {
	pages, err := h.pages(ctx)
	if err != nil {
		return "", err
	}
	if len(pages) == 0 {
		return "", ErrNoActiveTab
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tabs.handleFor(pages[0].TargetID), nil
}

func (h *CDPHost) Tab(ctx context.Context, handle protocol.TabHandle) (TabInfo, error) {
	_, p, err := h.targetFor(ctx, handle)
	if err != nil {
		return TabInfo{}, err
	}
	return TabInfo{Handle: handle, URL: p.URL, Title: p.Title}, nil
}

// Activate brings the tab to the front and reports the focus change without
// waiting for the next poll.
func (h *CDPHost) Activate(ctx context.Context, handle protocol.TabHandle) error {
	id, _, err := h.targetFor(ctx, handle)
	if err != nil {
		return err
	}

	runCtx, cancel := h.scoped(ctx)
	defer cancel()

	// chromedp.Run would open a tab for the context; talk to the browser
	// connection directly instead.
	c := chromedp.FromContext(runCtx)
	if err := target.ActivateTarget(id).Do(cdp.WithExecutor(runCtx, c.Browser)); err != nil {
		return fmt.Errorf("activating tab %s: %w", handle, err)
	}

	h.noteFocus(ctx, handle)
	return nil
}

func (h *CDPHost) OnFocusChange(fn FocusListener) { h.listeners.add(fn) }

// Close stops polling and detaches from the browser. The browser itself
// keeps running.
func (h *CDPHost) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.done)
	h.mu.Unlock()

	h.wg.Wait()
	h.browserCancel()
	h.allocCancel()
	return nil
}

// scoped derives a context that carries the chromedp browser and ends when
// either ctx or the host ends.
func (h *CDPHost) scoped(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(h.browserCtx)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (h *CDPHost) poll() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), h.pollInterval)
			active, err := h.ActiveTab(ctx)
			if err != nil {
				if !errors.Is(err, ErrNoActiveTab) {
					h.logger.Debug("polling active tab", "error", err)
				}
				cancel()
				continue
			}
			h.noteFocus(ctx, active)
			cancel()
		}
	}
}

// noteFocus notifies listeners if handle differs from the last focused tab.
func (h *CDPHost) noteFocus(ctx context.Context, handle protocol.TabHandle) {
	h.mu.Lock()
	changed := !h.known || h.last != handle
	h.last, h.known = handle, true
	h.mu.Unlock()

	if changed {
		h.logger.Debug("focus changed", "tab", string(handle))
		h.listeners.emit(ctx, handle)
	}
}
