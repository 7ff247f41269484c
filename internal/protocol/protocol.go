// ABOUTME: Wire messages exchanged between the hub and page-side tool collectors.
// ABOUTME: Defines the tagged message union, tool descriptors, and result envelopes.

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// TabHandle is an opaque identifier for a browser tab. It is used for
// activation and for comparing against the focused tab.
type TabHandle string

// Message types carried on a per-tab channel.
const (
	TypeRegisterTools  = "register-tools"
	TypeToolsUpdated   = "tools-updated"
	TypeToolResult     = "tool-result"
	TypeExecuteTool    = "execute-tool"
	TypeRefreshRequest = "request-tools-refresh"
	TypeCancelTool     = "cancel-tool"
)

// ErrInvalidDescriptor indicates a tool descriptor that cannot be published.
var ErrInvalidDescriptor = errors.New("invalid tool descriptor")

// Message is the tagged union sent in both directions on a tab channel.
// Tools are kept raw so a single malformed descriptor does not reject the
// whole message. A decoded Tools is nil when the field is absent or null
// and non-nil for an explicit list, even an empty one.
type Message struct {
	Type      string            `json:"type"`
	Tools     []json.RawMessage `json:"tools,omitempty"`
	RequestID string            `json:"requestId,omitempty"`
	Data      *ResultData       `json:"data,omitempty"`
	ToolName  string            `json:"toolName,omitempty"`
	Args      json.RawMessage   `json:"args,omitempty"`
}

// HasTools reports whether the message carries a tool list.
func (m Message) HasTools() bool { return m.Tools != nil }

// ResultData is the envelope a tab sends back for an execute-tool request.
type ResultData struct {
	Success bool            `json:"success"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// InputSchema is the subset of a JSON schema the hub reads. Property values
// are opaque; only their names are used.
type InputSchema struct {
	Type       string                     `json:"type,omitempty"`
	Properties map[string]json.RawMessage `json:"properties,omitempty"`
	Required   []string                   `json:"required,omitempty"`
}

// Annotations carries the optional behavioral hints of a tool.
type Annotations struct {
	Title           string `json:"title,omitempty"`
	ReadOnlyHint    *bool  `json:"readOnlyHint,omitempty"`
	DestructiveHint *bool  `json:"destructiveHint,omitempty"`
	IdempotentHint  *bool  `json:"idempotentHint,omitempty"`
	OpenWorldHint   *bool  `json:"openWorldHint,omitempty"`
}

// ToolDescriptor advertises one invocable capability of a page.
type ToolDescriptor struct {
	Name        string       `json:"name"`
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	InputSchema InputSchema  `json:"inputSchema"`
	Annotations *Annotations `json:"annotations,omitempty"`
}

// PropertyNames returns the sorted names of the descriptor's input properties.
func (d ToolDescriptor) PropertyNames() []string {
	names := make([]string, 0, len(d.InputSchema.Properties))
	for name := range d.InputSchema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseTool decodes and validates a single descriptor.
func ParseTool(raw json.RawMessage) (ToolDescriptor, error) {
	var d ToolDescriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return ToolDescriptor{}, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	if strings.TrimSpace(d.Name) == "" {
		return ToolDescriptor{}, fmt.Errorf("%w: missing name", ErrInvalidDescriptor)
	}
	return d, nil
}

// ParseTools decodes every descriptor in raw. Malformed entries are skipped
// and reported individually in the returned error slice.
func ParseTools(raw []json.RawMessage) ([]ToolDescriptor, []error) {
	tools := make([]ToolDescriptor, 0, len(raw))
	var skipped []error
	for i, r := range raw {
		d, err := ParseTool(r)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("tool %d: %w", i, err))
			continue
		}
		tools = append(tools, d)
	}
	return tools, skipped
}

// EncodeTools is the inverse of ParseTools, used by collectors and tests.
func EncodeTools(tools ...ToolDescriptor) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(tools))
	for _, t := range tools {
		b, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("encoding tool %q: %w", t.Name, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// NewExecute builds an execute-tool request. The request id is filled in by
// the correlator.
func NewExecute(toolName string, args json.RawMessage) Message {
	if len(bytes.TrimSpace(args)) == 0 || string(args) == "null" {
		args = json.RawMessage(`{}`)
	}
	return Message{Type: TypeExecuteTool, ToolName: toolName, Args: args}
}

// NewRefreshRequest asks a tab to resend its current tool list.
func NewRefreshRequest() Message {
	return Message{Type: TypeRefreshRequest}
}

// NewCancel tells a tab the caller abandoned requestID.
func NewCancel(requestID string) Message {
	return Message{Type: TypeCancelTool, RequestID: requestID}
}

// CallResult is what an execution hands back to the capability server.
// On success Payload holds the tab's result verbatim; otherwise IsError is
// set and Text describes the failure.
type CallResult struct {
	Payload json.RawMessage
	IsError bool
	Text    string
}

// ErrorResult builds a failed CallResult.
func ErrorResult(format string, args ...any) CallResult {
	return CallResult{IsError: true, Text: fmt.Sprintf(format, args...)}
}

// FailureText extracts a human-readable message from a failed payload. Tabs
// send either a bare string, an object with a message field, or arbitrary JSON.
func FailureText(payload json.RawMessage) string {
	if len(bytes.TrimSpace(payload)) == 0 {
		return "unknown error"
	}
	var s string
	if err := json.Unmarshal(payload, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(payload, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		if obj.Error != "" {
			return obj.Error
		}
	}
	return string(payload)
}
