// ABOUTME: Wires registry, correlator, tracker and proxy together and serves tab channels.
// ABOUTME: Dispatches per-tab protocol messages and tears down a tab's state on disconnect.

package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/tabhub/internal/browser"
	"github.com/2389/tabhub/internal/channel"
	"github.com/2389/tabhub/internal/correlator"
	"github.com/2389/tabhub/internal/protocol"
	"github.com/2389/tabhub/internal/proxy"
	"github.com/2389/tabhub/internal/registry"
	"github.com/2389/tabhub/internal/store"
	"github.com/2389/tabhub/internal/tracker"
)

var (
	// ErrUnknownChannel indicates a channel name the hub does not serve.
	ErrUnknownChannel = errors.New("unknown channel name")

	// ErrMissingTab indicates a channel that did not identify its tab.
	ErrMissingTab = errors.New("channel has no tab handle")

	// ErrClosed indicates the hub is shutting down.
	ErrClosed = errors.New("hub closed")
)

// Hub is the tool registry hub. It is the registry's Executor.
type Hub struct {
	reg     *registry.Registry
	corr    *correlator.Correlator
	tracker *tracker.Tracker
	proxy   *proxy.Proxy
	host    browser.Host
	calls   store.CallLog
	logger  *slog.Logger

	mu       sync.Mutex
	channels map[string]channel.Channel // channel id -> channel
	closed   bool
	wg       sync.WaitGroup
}

// Config contains the hub's collaborators and tuning.
type Config struct {
	Publisher       registry.Publisher
	Host            browser.Host
	Calls           store.CallLog // optional
	CallTimeout     time.Duration
	RefreshThrottle time.Duration
	Logger          *slog.Logger
}

// New creates a Hub. Call Start before serving channels.
func New(cfg Config) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	host := cfg.Host
	if host == nil {
		host = browser.NewPassiveHost(logger)
	}

	h := &Hub{
		host:     host,
		calls:    cfg.Calls,
		logger:   logger,
		channels: make(map[string]channel.Channel),
	}
	h.reg = registry.New(registry.Config{
		Publisher: cfg.Publisher,
		Executor:  h,
		Logger:    logger.With("component", "registry"),
	})
	h.corr = correlator.New(correlator.Config{
		Timeout: cfg.CallTimeout,
		Logger:  logger.With("component", "correlator"),
	})
	h.tracker = tracker.New(tracker.Config{
		Host:            host,
		Registry:        h.reg,
		RefreshThrottle: cfg.RefreshThrottle,
		Logger:          logger.With("component", "tracker"),
	})
	h.proxy = proxy.New(proxy.Config{
		Registry:   h.reg,
		Correlator: h.corr,
		Host:       host,
		Calls:      cfg.Calls,
		Logger:     logger.With("component", "proxy"),
	})
	return h
}

// Start resolves the focused tab and subscribes to focus changes.
func (h *Hub) Start(ctx context.Context) {
	h.tracker.Start(ctx)
}

// Registry returns the hub's registry.
func (h *Hub) Registry() *registry.Registry { return h.reg }

// Host returns the browser host.
func (h *Hub) Host() browser.Host { return h.host }

// Calls returns the call log, or nil if none is configured.
func (h *Hub) Calls() store.CallLog { return h.calls }

// ActiveTab returns the focused tab, if known.
func (h *Hub) ActiveTab() (protocol.TabHandle, bool) { return h.tracker.Active() }

// PendingCalls returns the number of in-flight tool calls.
func (h *Hub) PendingCalls() int { return h.corr.PendingCount() }

// ChannelCount returns the number of connected tab channels.
func (h *Hub) ChannelCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels)
}

// Execute implements registry.Executor.
func (h *Hub) Execute(ctx context.Context, domain, dataID, rawName string, args json.RawMessage) protocol.CallResult {
	return h.proxy.Execute(ctx, domain, dataID, rawName, args)
}

// ServeChannel reads messages from ch until it disconnects or ctx ends,
// then removes the tab's tools. It blocks for the channel's lifetime.
func (h *Hub) ServeChannel(ctx context.Context, ch channel.Channel) error {
	if ch.Name() != channel.ToolChannelName {
		_ = ch.Close()
		return fmt.Errorf("%w: %q", ErrUnknownChannel, ch.Name())
	}
	if ch.Sender().Tab == "" {
		_ = ch.Close()
		return ErrMissingTab
	}
	if err := h.track(ch); err != nil {
		_ = ch.Close()
		return err
	}
	defer h.wg.Done()
	defer h.HandleDisconnect(ch)

	sender := ch.Sender()
	if obs, ok := h.host.(browser.TabObserver); ok {
		obs.Observe(browser.TabInfo{Handle: sender.Tab, URL: sender.URL})
	}

	logger := h.logger.With("channel_id", ch.ID(), "tab", string(sender.Tab))
	logger.Info("tab channel connected", "url", sender.URL)

	for {
		msg, err := ch.Receive(ctx)
		if err != nil {
			if errors.Is(err, channel.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receiving from tab channel: %w", err)
		}
		h.HandleMessage(ctx, ch, msg)
	}
}

func (h *Hub) track(ch channel.Channel) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.channels[ch.ID()] = ch
	h.wg.Add(1)
	return nil
}

// HandleMessage applies one inbound message from ch. It never panics and
// never fails: bad input is logged and dropped.
func (h *Hub) HandleMessage(ctx context.Context, ch channel.Channel, msg protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("panic handling tab message",
				"channel_id", ch.ID(),
				"type", msg.Type,
				"panic", r,
			)
		}
	}()

	switch msg.Type {
	case protocol.TypeRegisterTools, protocol.TypeToolsUpdated:
		h.handleTools(ctx, ch, msg)

	case protocol.TypeToolResult:
		if msg.Data == nil {
			h.logger.Warn("tool result without data", "request_id", msg.RequestID)
			return
		}
		h.corr.Resolve(ch.ID(), msg.RequestID, *msg.Data)

	default:
		h.logger.Warn("ignoring unknown message type",
			"channel_id", ch.ID(),
			"type", msg.Type,
		)
	}
}

func (h *Hub) handleTools(ctx context.Context, ch channel.Channel, msg protocol.Message) {
	sender := ch.Sender()
	domain := registry.DomainFromURL(sender.URL)
	dataID := registry.DataID(sender.Tab)

	// A tools message without a list says nothing about the tab's tools;
	// only an explicit list, even an empty one, replaces them.
	if !msg.HasTools() {
		h.logger.Warn("tools message without a tool list",
			"type", msg.Type,
			"domain", domain,
			"data_id", dataID,
		)
		return
	}

	tools, skipped := protocol.ParseTools(msg.Tools)
	for _, err := range skipped {
		h.logger.Warn("skipping malformed tool descriptor",
			"domain", domain,
			"data_id", dataID,
			"error", err,
		)
	}

	// Descriptions need the active tab; resolve it before the first
	// registration if startup could not.
	h.tracker.EnsureKnown(ctx)

	initial := msg.Type == protocol.TypeRegisterTools
	if _, err := h.reg.RegisterOrUpdate(domain, dataID, ch, sender, tools, initial); err != nil {
		h.logger.Warn("registering tab tools",
			"domain", domain,
			"data_id", dataID,
			"error", err,
		)
	}
}

// HandleDisconnect removes the tab's record if ch still owns it and fails
// every call waiting on ch. Safe to call more than once.
func (h *Hub) HandleDisconnect(ch channel.Channel) {
	h.mu.Lock()
	_, tracked := h.channels[ch.ID()]
	delete(h.channels, ch.ID())
	tabStillConnected := false
	for _, other := range h.channels {
		if other.Sender().Tab == ch.Sender().Tab {
			tabStillConnected = true
			break
		}
	}
	h.mu.Unlock()

	_ = ch.Close()

	sender := ch.Sender()
	domain := registry.DomainFromURL(sender.URL)
	dataID := registry.DataID(sender.Tab)

	released := h.reg.ReleaseChannel(domain, dataID, ch)
	rejected := h.corr.RejectChannel(ch.ID())
	h.tracker.Forget(domain, dataID)

	if !tabStillConnected {
		if obs, ok := h.host.(browser.TabObserver); ok {
			obs.Forget(sender.Tab)
		}
	}

	if tracked {
		h.logger.Info("tab channel disconnected",
			"channel_id", ch.ID(),
			"tab", string(sender.Tab),
			"domain", domain,
			"released", released,
			"rejected_calls", rejected,
		)
	}
}

// Close disconnects every tab, fails in-flight calls and unpublishes all
// tools. It waits for channel goroutines to finish or ctx to end.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	open := make([]channel.Channel, 0, len(h.channels))
	for _, ch := range h.channels {
		open = append(open, ch)
	}
	h.mu.Unlock()

	for _, ch := range open {
		_ = ch.Close()
	}
	h.corr.Close()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for tab channels: %w", ctx.Err())
	}

	h.tracker.Close()
	h.reg.Close()
	return err
}
