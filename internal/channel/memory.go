// ABOUTME: In-process Channel used to drive the hub without a network transport.
// ABOUTME: Records outbound messages and lets the caller inject inbound ones.

package channel

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/tabhub/internal/protocol"
)

// Memory is a Channel whose peer is the calling code. Inbound messages are
// queued with Deliver; outbound messages are observable through Sent and
// Outbox.
type Memory struct {
	id     string
	name   string
	sender Sender

	inbox  chan protocol.Message
	outbox chan protocol.Message

	mu        sync.Mutex
	sent      []protocol.Message
	sendErr   error
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemory creates a tool channel for the given tab.
func NewMemory(tab protocol.TabHandle, url string) *Memory {
	return &Memory{
		id:     uuid.New().String(),
		name:   ToolChannelName,
		sender: Sender{Tab: tab, URL: url},
		inbox:  make(chan protocol.Message, 64),
		outbox: make(chan protocol.Message, 64),
		done:   make(chan struct{}),
	}
}

// WithName overrides the channel name.
func (m *Memory) WithName(name string) *Memory {
	m.name = name
	return m
}

func (m *Memory) ID() string            { return m.id }
func (m *Memory) Name() string          { return m.name }
func (m *Memory) Sender() Sender        { return m.sender }
func (m *Memory) Done() <-chan struct{} { return m.done }

// FailSends makes every subsequent Send return err.
func (m *Memory) FailSends(err error) {
	m.mu.Lock()
	m.sendErr = err
	m.mu.Unlock()
}

// Send records msg. It never blocks on a full outbox.
func (m *Memory) Send(_ context.Context, msg protocol.Message) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}

	m.mu.Lock()
	if m.sendErr != nil {
		err := m.sendErr
		m.mu.Unlock()
		return err
	}
	m.sent = append(m.sent, msg)
	m.mu.Unlock()

	select {
	case m.outbox <- msg:
	default:
	}
	return nil
}

// Outbox yields outbound messages as they are sent.
func (m *Memory) Outbox() <-chan protocol.Message { return m.outbox }

// Sent returns a copy of every message sent so far.
func (m *Memory) Sent() []protocol.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]protocol.Message, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentOfType returns the sent messages with the given type.
func (m *Memory) SentOfType(typ string) []protocol.Message {
	var out []protocol.Message
	for _, msg := range m.Sent() {
		if msg.Type == typ {
			out = append(out, msg)
		}
	}
	return out
}

// Deliver queues an inbound message for Receive.
func (m *Memory) Deliver(msg protocol.Message) {
	select {
	case <-m.done:
	case m.inbox <- msg:
	}
}

// Receive returns the next delivered message or ErrClosed after Close.
func (m *Memory) Receive(ctx context.Context) (protocol.Message, error) {
	select {
	case msg := <-m.inbox:
		return msg, nil
	case <-m.done:
		return protocol.Message{}, ErrClosed
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	}
}

// Close disconnects the channel. Safe to call multiple times.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}
