// ABOUTME: In-memory Publisher that records every capability server call.
// ABOUTME: Lets tests run the registry without an MCP server.

package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/2389/tabhub/internal/protocol"
)

// PublisherOp is one recorded call on a MockPublisher.
type PublisherOp struct {
	Kind string // "publish", "update" or "unpublish"
	Name string
}

// MockPublisher is a Publisher that keeps published tools in memory.
type MockPublisher struct {
	mu    sync.Mutex
	tools map[string]PublicTool
	calls map[string]CallFunc
	ops   []PublisherOp
	fail  error
}

// NewMockPublisher creates an empty MockPublisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		tools: make(map[string]PublicTool),
		calls: make(map[string]CallFunc),
	}
}

// Publish stores tool.
func (m *MockPublisher) Publish(tool PublicTool, call CallFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.tools[tool.Name] = tool
	m.calls[tool.Name] = call
	m.ops = append(m.ops, PublisherOp{Kind: "publish", Name: tool.Name})
	return nil
}

// Update replaces the stored metadata of tool.
func (m *MockPublisher) Update(tool PublicTool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.tools[tool.Name] = tool
	m.ops = append(m.ops, PublisherOp{Kind: "update", Name: tool.Name})
	return nil
}

// Unpublish removes the tool.
func (m *MockPublisher) Unpublish(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tools, name)
	delete(m.calls, name)
	m.ops = append(m.ops, PublisherOp{Kind: "unpublish", Name: name})
	return nil
}

// FailWith makes Publish and Update return err until called with nil.
func (m *MockPublisher) FailWith(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

// Tool returns the published tool with the given name.
func (m *MockPublisher) Tool(name string) (PublicTool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tools[name]
	return t, ok
}

// Names returns the published names in sorted order.
func (m *MockPublisher) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.tools))
	for n := range m.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Ops returns every recorded call in order.
func (m *MockPublisher) Ops() []PublisherOp {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PublisherOp, len(m.ops))
	copy(out, m.ops)
	return out
}

// OpsFor returns the recorded call kinds for one name.
func (m *MockPublisher) OpsFor(name string) []string {
	var kinds []string
	for _, op := range m.Ops() {
		if op.Name == name {
			kinds = append(kinds, op.Kind)
		}
	}
	return kinds
}

// ResetOps clears the recorded calls but keeps published tools.
func (m *MockPublisher) ResetOps() {
	m.mu.Lock()
	m.ops = nil
	m.mu.Unlock()
}

// Call invokes a published tool as the capability server would.
func (m *MockPublisher) Call(ctx context.Context, name string, args json.RawMessage) (protocol.CallResult, error) {
	m.mu.Lock()
	call, ok := m.calls[name]
	m.mu.Unlock()
	if !ok {
		return protocol.CallResult{}, fmt.Errorf("tool %q not published", name)
	}
	return call(ctx, args), nil
}
