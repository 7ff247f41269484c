// ABOUTME: Call log interface and record types for tool execution history.
// ABOUTME: Defines Call, Outcome, CallFilter and the CallLog interface.

package store

import (
	"context"
	"time"
)

// Outcome is how a tool execution ended.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeToolError   Outcome = "tool_error"  // the tab answered with success=false
	OutcomeUnavailable Outcome = "unavailable" // unknown tab, closed tab, or activation failure
	OutcomeTimeout     Outcome = "timeout"
	OutcomeCancelled   Outcome = "cancelled"
	OutcomeFailed      Outcome = "failed" // transport or internal failure
)

// Call is one recorded tool execution.
type Call struct {
	ID        string // UUID v4
	RequestID string
	Domain    string
	DataID    string
	ToolName  string // raw tool name on the tab
	Outcome   Outcome
	Error     string
	Duration  time.Duration
	StartedAt time.Time
}

// CallFilter selects calls to list.
type CallFilter struct {
	Domain  *string
	Outcome *Outcome
	Since   *time.Time
	Limit   int // default 100, max 1000
}

// CallLog records and lists tool executions.
type CallLog interface {
	RecordCall(ctx context.Context, c *Call) error
	ListCalls(ctx context.Context, f CallFilter) ([]Call, error)
}

// normalizeLimit applies the default (100) and cap (1000).
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}
