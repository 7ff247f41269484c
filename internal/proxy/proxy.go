// ABOUTME: Routes a published tool call back to its tab and awaits the correlated result.
// ABOUTME: Activates background tabs first and turns every failure into an error result.

package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/tabhub/internal/browser"
	"github.com/2389/tabhub/internal/correlator"
	"github.com/2389/tabhub/internal/protocol"
	"github.com/2389/tabhub/internal/registry"
	"github.com/2389/tabhub/internal/store"
)

// UnavailableText is returned when the owning tab cannot be reached.
const UnavailableText = "Failed to execute tool: Tab connection lost or closed."

const recordTimeout = 2 * time.Second

// Proxy executes tools on tabs. It only reads the registry.
type Proxy struct {
	reg    *registry.Registry
	corr   *correlator.Correlator
	host   browser.Host
	calls  store.CallLog
	logger *slog.Logger
}

// Config contains the proxy's collaborators. Host and Calls are optional.
type Config struct {
	Registry   *registry.Registry
	Correlator *correlator.Correlator
	Host       browser.Host
	Calls      store.CallLog
	Logger     *slog.Logger
}

// New creates a Proxy.
func New(cfg Config) *Proxy {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{
		reg:    cfg.Registry,
		corr:   cfg.Correlator,
		host:   cfg.Host,
		calls:  cfg.Calls,
		logger: logger,
	}
}

// Execute runs rawName on the tab behind (domain, dataID). It never
// returns a Go error: every failure becomes an error CallResult the
// capability server can hand to its client as a normal tool failure.
func (p *Proxy) Execute(ctx context.Context, domain, dataID, rawName string, args json.RawMessage) (result protocol.CallResult) {
	call := &store.Call{
		RequestID: uuid.New().String(),
		Domain:    domain,
		DataID:    dataID,
		ToolName:  rawName,
		StartedAt: time.Now().UTC(),
	}
	logger := p.logger.With(
		"domain", domain,
		"data_id", dataID,
		"tool_name", rawName,
		"request_id", call.RequestID,
	)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic during tool execution", "panic", r)
			call.Outcome = store.OutcomeFailed
			result = protocol.ErrorResult("Failed to execute tool: internal error")
		}
		call.Duration = time.Since(call.StartedAt)
		if result.IsError && call.Error == "" {
			call.Error = result.Text
		}
		p.record(ctx, call)
	}()

	ch, err := p.reg.Channel(domain, dataID)
	if err != nil {
		logger.Debug("tool unavailable", "error", err)
		call.Outcome = store.OutcomeUnavailable
		return protocol.ErrorResult("%s", UnavailableText)
	}

	if err := p.ensureActive(ctx, ch.Sender().Tab); err != nil {
		logger.Warn("activating tab", "tab", string(ch.Sender().Tab), "error", err)
		call.Outcome = store.OutcomeUnavailable
		return protocol.ErrorResult("%s", UnavailableText)
	}

	logger.Info("→ forwarding tool call")
	data, err := p.corr.CallWithID(ctx, ch, call.RequestID, protocol.NewExecute(rawName, args))
	if err != nil {
		call.Outcome, result = p.failure(err)
		logger.Warn("tool call failed", "outcome", call.Outcome, "error", err)
		return result
	}

	if !data.Success {
		call.Outcome = store.OutcomeToolError
		text := protocol.FailureText(data.Payload)
		logger.Info("← tab reported tool error", "error", text)
		return protocol.ErrorResult("Tool execution failed: %s", text)
	}

	call.Outcome = store.OutcomeSuccess
	logger.Info("← tab responded", "elapsed", time.Since(call.StartedAt))
	return protocol.CallResult{Payload: data.Payload}
}

// ensureActive activates tab h if it is not the focused tab. A failed
// activation makes the tool unavailable.
func (p *Proxy) ensureActive(ctx context.Context, h protocol.TabHandle) error {
	if p.host == nil || p.reg.Active().IsActive(h) {
		return nil
	}
	return p.host.Activate(ctx, h)
}

func (p *Proxy) failure(err error) (store.Outcome, protocol.CallResult) {
	switch {
	case errors.Is(err, correlator.ErrTimeout):
		return store.OutcomeTimeout, protocol.ErrorResult("Tool execution timed out after %s", p.corr.Timeout())
	case errors.Is(err, correlator.ErrCancelled):
		return store.OutcomeCancelled, protocol.ErrorResult("Tool execution cancelled")
	case errors.Is(err, correlator.ErrChannelClosed):
		return store.OutcomeUnavailable, protocol.ErrorResult("%s", UnavailableText)
	default:
		return store.OutcomeFailed, protocol.ErrorResult("Failed to execute tool: %v", err)
	}
}

func (p *Proxy) record(ctx context.Context, call *store.Call) {
	if p.calls == nil {
		return
	}
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := p.calls.RecordCall(recCtx, call); err != nil {
		p.logger.Warn("recording tool call", "request_id", call.RequestID, "error", err)
	}
}
