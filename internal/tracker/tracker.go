// ABOUTME: Tracks the focused browser tab and keeps tool descriptions in step with it.
// ABOUTME: On focus change it retags both tabs' tools and asks the new tab for a fresh list.

package tracker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/2389/tabhub/internal/browser"
	"github.com/2389/tabhub/internal/dedupe"
	"github.com/2389/tabhub/internal/protocol"
	"github.com/2389/tabhub/internal/registry"
)

// DefaultRefreshThrottle limits refresh requests to one per tab per window.
const DefaultRefreshThrottle = 2 * time.Second

const refreshSendTimeout = 5 * time.Second

// Tracker is the only writer of the registry's active-tab state.
type Tracker struct {
	host     browser.Host
	reg      *registry.Registry
	active   *registry.ActiveTab
	throttle *dedupe.Throttle
	logger   *slog.Logger
}

// Config contains the tracker's collaborators.
type Config struct {
	Host            browser.Host
	Registry        *registry.Registry
	RefreshThrottle time.Duration
	Logger          *slog.Logger
}

// New creates a Tracker. Call Start to query the host and subscribe.
func New(cfg Config) *Tracker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	window := cfg.RefreshThrottle
	if window < 0 {
		window = 0
	}
	return &Tracker{
		host:     cfg.Host,
		reg:      cfg.Registry,
		active:   cfg.Registry.Active(),
		throttle: dedupe.New(window, dedupe.DefaultMaxKeys),
		logger:   logger,
	}
}

// Start queries the host once for the focused tab and subscribes to focus
// changes.
func (t *Tracker) Start(ctx context.Context) {
	t.EnsureKnown(ctx)
	t.host.OnFocusChange(t.HandleFocusChange)
}

// EnsureKnown asks the host for the focused tab if none is known yet.
// Failures leave the state unknown.
func (t *Tracker) EnsureKnown(ctx context.Context) {
	if t.active.Known() {
		return
	}
	h, err := t.host.ActiveTab(ctx)
	if err != nil {
		if !errors.Is(err, browser.ErrNoActiveTab) {
			t.logger.Debug("querying active tab", "error", err)
		}
		return
	}
	if t.active.Init(h) {
		t.logger.Info("active tab resolved", "tab", string(h))
	}
}

// Active returns the focused tab, if known.
func (t *Tracker) Active() (protocol.TabHandle, bool) {
	return t.active.Get()
}

// HandleFocusChange moves the active tag from the previous tab to h and asks
// h to resend its tools. Tabs without records are skipped silently.
func (t *Tracker) HandleFocusChange(ctx context.Context, h protocol.TabHandle) {
	prev, hadPrev := t.active.Set(h)
	if hadPrev && prev == h {
		return
	}

	t.logger.Debug("focus changed", "from", string(prev), "to", string(h))

	if hadPrev {
		for _, rec := range t.reg.RecordsForHandle(prev) {
			t.refreshDescriptions(rec)
		}
	}

	for _, rec := range t.reg.RecordsForHandle(h) {
		t.refreshDescriptions(rec)
		t.requestRefresh(ctx, rec)
	}
}

// Forget clears the throttle for a record so a reopened tab is refreshed
// on its first focus.
func (t *Tracker) Forget(domain, dataID string) {
	t.throttle.Forget(throttleKey(domain, dataID))
}

// Close stops the tracker's background work.
func (t *Tracker) Close() {
	t.throttle.Close()
}

func (t *Tracker) refreshDescriptions(rec registry.TabSnapshot) {
	if err := t.reg.RefreshDescriptions(rec.Domain, rec.DataID); err != nil {
		t.logger.Debug("refreshing descriptions",
			"domain", rec.Domain,
			"data_id", rec.DataID,
			"error", err,
		)
	}
}

func (t *Tracker) requestRefresh(ctx context.Context, rec registry.TabSnapshot) {
	if rec.Channel == nil {
		return
	}
	if !t.throttle.Allow(throttleKey(rec.Domain, rec.DataID)) {
		t.logger.Debug("refresh throttled", "domain", rec.Domain, "data_id", rec.DataID)
		return
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshSendTimeout)
	defer cancel()
	if err := rec.Channel.Send(sendCtx, protocol.NewRefreshRequest()); err != nil {
		t.logger.Debug("sending refresh request",
			"domain", rec.Domain,
			"data_id", rec.DataID,
			"error", err,
		)
	}
}

func throttleKey(domain, dataID string) string {
	return domain + "/" + dataID
}
