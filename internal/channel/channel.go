// ABOUTME: Named bidirectional connection between the hub and one tab's collector.
// ABOUTME: Declares the Channel contract shared by the WebSocket and in-memory transports.

package channel

import (
	"context"
	"errors"

	"github.com/2389/tabhub/internal/protocol"
)

// Well-known channel names. Tool collectors connect under ToolChannelName;
// CapabilityChannelName is reserved for the capability server's own transport.
const (
	ToolChannelName       = "mcp-content-script-proxy"
	CapabilityChannelName = "mcp"
)

// ErrClosed indicates the channel has been closed or the peer disconnected.
var ErrClosed = errors.New("channel closed")

// Sender identifies the tab on the other end of a channel.
type Sender struct {
	Tab protocol.TabHandle
	URL string
}

// Channel is one tab's connection. Receive blocks until the next message
// arrives; it returns ErrClosed once the peer is gone. Done is closed when
// the channel shuts down for any reason.
type Channel interface {
	ID() string
	Name() string
	Sender() Sender
	Send(ctx context.Context, msg protocol.Message) error
	Receive(ctx context.Context) (protocol.Message, error)
	Done() <-chan struct{}
	Close() error
}
