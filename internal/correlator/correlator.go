// ABOUTME: Tracks in-flight tool requests and matches tab results to waiting callers.
// ABOUTME: Settles each request exactly once: on result, timeout, channel close, or cancel.

package correlator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/tabhub/internal/channel"
	"github.com/2389/tabhub/internal/protocol"
)

// DefaultTimeout bounds how long a call waits for its tab to answer.
const DefaultTimeout = 30 * time.Second

// cancelNoticeTimeout bounds the best-effort cancel-tool notice.
const cancelNoticeTimeout = 2 * time.Second

var (
	// ErrDuplicateRequestID indicates the request id is already in flight.
	ErrDuplicateRequestID = errors.New("duplicate request ID")

	// ErrTimeout indicates the tab did not answer before the deadline.
	ErrTimeout = errors.New("tool call timed out")

	// ErrChannelClosed indicates the tab disconnected before answering.
	ErrChannelClosed = errors.New("tab channel closed")

	// ErrCancelled indicates the caller abandoned the request.
	ErrCancelled = errors.New("tool call cancelled")

	// ErrClosed indicates the correlator was shut down.
	ErrClosed = errors.New("correlator closed")
)

// Sender is the part of a channel the correlator needs.
type Sender interface {
	ID() string
	Send(ctx context.Context, msg protocol.Message) error
}

type outcome struct {
	data protocol.ResultData
	err  error
}

// pending is one in-flight request. done has capacity 1 and receives exactly
// one outcome from whoever removes the entry from the map.
type pending struct {
	channelID string
	createdAt time.Time
	done      chan outcome
}

// Correlator matches tool-result messages to the callers awaiting them.
type Correlator struct {
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]*pending
	closed  bool
}

// Config contains configuration options for the Correlator.
type Config struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

// New creates a Correlator.
func New(cfg Config) *Correlator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{
		timeout: timeout,
		logger:  logger,
		pending: make(map[string]*pending),
	}
}

// Timeout returns the per-call deadline.
func (c *Correlator) Timeout() time.Duration { return c.timeout }

// Call sends msg over s under a fresh request id and waits for the result.
func (c *Correlator) Call(ctx context.Context, s Sender, msg protocol.Message) (protocol.ResultData, error) {
	return c.CallWithID(ctx, s, uuid.New().String(), msg)
}

// CallWithID is Call with a caller-chosen request id.
// Returns ErrDuplicateRequestID if requestID is already in flight.
func (c *Correlator) CallWithID(ctx context.Context, s Sender, requestID string, msg protocol.Message) (protocol.ResultData, error) {
	p, err := c.register(requestID, s.ID())
	if err != nil {
		return protocol.ResultData{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg.RequestID = requestID
	if err := s.Send(callCtx, msg); err != nil {
		c.remove(requestID)
		if errors.Is(err, channel.ErrClosed) {
			return protocol.ResultData{}, fmt.Errorf("%w: %v", ErrChannelClosed, err)
		}
		return protocol.ResultData{}, fmt.Errorf("sending request: %w", err)
	}

	c.logger.Debug("request forwarded",
		"request_id", requestID,
		"channel_id", s.ID(),
		"tool_name", msg.ToolName,
	)

	select {
	case out := <-p.done:
		return out.data, out.err

	case <-callCtx.Done():
		if !c.remove(requestID) {
			// Settled concurrently; the outcome is already buffered.
			out := <-p.done
			return out.data, out.err
		}

		// Only an explicit cancel is a cancellation. A deadline on the
		// caller's context times the call out like our own deadline does.
		if errors.Is(ctx.Err(), context.Canceled) {
			c.sendCancel(s, requestID)
			return protocol.ResultData{}, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}

		c.logger.Warn("tool call timed out",
			"request_id", requestID,
			"channel_id", s.ID(),
			"timeout", c.timeout,
			"caller_deadline", ctx.Err() != nil,
		)
		if ctx.Err() != nil {
			return protocol.ResultData{}, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
		return protocol.ResultData{}, fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
	}
}

// Resolve settles requestID with data received on channelID. Unknown ids
// are ignored: the tab may have sent a duplicate or a reply that arrived
// after the deadline. A result from a channel other than the one the request
// went out on is ignored too and leaves the request waiting.
func (c *Correlator) Resolve(channelID, requestID string, data protocol.ResultData) bool {
	c.mu.Lock()
	p, ok := c.pending[requestID]
	foreign := ok && p.channelID != channelID
	if ok && !foreign {
		delete(c.pending, requestID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("received result for unknown request", "request_id", requestID)
		return false
	}
	if foreign {
		c.logger.Warn("received result from wrong channel",
			"request_id", requestID,
			"channel_id", channelID,
			"expected_channel_id", p.channelID,
		)
		return false
	}

	p.done <- outcome{data: data}
	c.logger.Debug("request resolved",
		"request_id", requestID,
		"success", data.Success,
		"elapsed", time.Since(p.createdAt),
	)
	return true
}

// RejectChannel fails every request waiting on channelID. Called when the
// tab disconnects so no caller waits for the full timeout.
func (c *Correlator) RejectChannel(channelID string) int {
	c.mu.Lock()
	var rejected []*pending
	for id, p := range c.pending {
		if p.channelID == channelID {
			rejected = append(rejected, p)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	for _, p := range rejected {
		p.done <- outcome{err: ErrChannelClosed}
	}
	if len(rejected) > 0 {
		c.logger.Info("rejected pending requests for closed channel",
			"channel_id", channelID,
			"count", len(rejected),
		)
	}
	return len(rejected)
}

// PendingCount returns the number of in-flight requests.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close fails every in-flight request and rejects new ones.
func (c *Correlator) Close() {
	c.mu.Lock()
	c.closed = true
	all := c.pending
	c.pending = make(map[string]*pending)
	c.mu.Unlock()

	for _, p := range all {
		p.done <- outcome{err: ErrClosed}
	}
	c.logger.Info("correlator closed", "pending_cancelled", len(all))
}

func (c *Correlator) register(requestID, channelID string) (*pending, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if _, exists := c.pending[requestID]; exists {
		return nil, ErrDuplicateRequestID
	}

	p := &pending{
		channelID: channelID,
		createdAt: time.Now(),
		done:      make(chan outcome, 1),
	}
	c.pending[requestID] = p
	return p, nil
}

// remove deletes requestID and reports whether the caller now owns settlement.
func (c *Correlator) remove(requestID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[requestID]; !ok {
		return false
	}
	delete(c.pending, requestID)
	return true
}

func (c *Correlator) sendCancel(s Sender, requestID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelNoticeTimeout)
	defer cancel()
	if err := s.Send(ctx, protocol.NewCancel(requestID)); err != nil {
		c.logger.Debug("cancel notice not delivered", "request_id", requestID, "error", err)
	}
}
