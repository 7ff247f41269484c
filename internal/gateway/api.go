// ABOUTME: Admin REST API built with huma on the chi router
// ABOUTME: Health, registered tabs and tools, focus reports and the call log

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/2389/tabhub/internal/browser"
	"github.com/2389/tabhub/internal/protocol"
	"github.com/2389/tabhub/internal/registry"
	"github.com/2389/tabhub/internal/store"
)

const apiVersion = "1.0.0"

type healthOutput struct {
	Body struct {
		Status string `json:"status"`
		Uptime string `json:"uptime"`
	}
}

type readyOutput struct {
	Body struct {
		Status string         `json:"status"`
		Stats  registry.Stats `json:"stats"`
	}
}

type tabsOutput struct {
	Body struct {
		ActiveTab string                 `json:"active_tab,omitempty"`
		Stats     registry.Stats         `json:"stats"`
		Tabs      []registry.TabSnapshot `json:"tabs"`
	}
}

type toolInfo struct {
	Name    string `json:"name"`
	Domain  string `json:"domain"`
	DataID  string `json:"data_id"`
	Tab     string `json:"tab"`
	RawName string `json:"raw_name"`
}

type toolsOutput struct {
	Body struct {
		Tools []toolInfo `json:"tools"`
	}
}

type focusInput struct {
	Body struct {
		Tab string `json:"tab" minLength:"1" doc:"Handle of the tab that gained focus"`
		URL string `json:"url,omitempty" doc:"Current URL of the tab"`
	}
}

type focusOutput struct {
	Body struct {
		ActiveTab string `json:"active_tab"`
	}
}

type callsInput struct {
	Domain  string `query:"domain" doc:"Only calls to this domain"`
	Outcome string `query:"outcome" doc:"Only calls with this outcome"`
	Since   string `query:"since" doc:"RFC 3339 lower bound on start time"`
	Limit   int    `query:"limit" minimum:"0" maximum:"1000" doc:"Maximum calls to return (default 100)"`
}

type callInfo struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"request_id"`
	Domain     string    `json:"domain"`
	DataID     string    `json:"data_id"`
	ToolName   string    `json:"tool_name"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	StartedAt  time.Time `json:"started_at"`
}

type callsOutput struct {
	Body struct {
		Calls []callInfo `json:"calls"`
	}
}

func registerAdminAPI(router chi.Router, g *Gateway) huma.API {
	cfg := huma.DefaultConfig("tabhub admin API", apiVersion)
	api := humachi.New(router, cfg)

	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Liveness check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			out.Body.Uptime = time.Since(g.startedAt).Round(time.Second).String()
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "ready", Method: http.MethodGet, Path: "/health/ready", Summary: "Ready once at least one tab has registered tools", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*readyOutput, error) {
			stats := g.hub.Registry().Stats()
			if stats.Tabs == 0 {
				return nil, huma.Error503ServiceUnavailable("no tabs registered")
			}
			out := &readyOutput{}
			out.Body.Status = "ready"
			out.Body.Stats = stats
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "List registered tabs and their tools", Tags: []string{"Registry"}},
		func(ctx context.Context, input *struct{}) (*tabsOutput, error) {
			reg := g.hub.Registry()
			out := &tabsOutput{}
			out.Body.Tabs = reg.Snapshot()
			out.Body.Stats = reg.Stats()
			if h, ok := g.hub.ActiveTab(); ok {
				out.Body.ActiveTab = string(h)
			}
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "list-tools", Method: http.MethodGet, Path: "/api/v1/tools", Summary: "List published tools and the tab that owns each", Tags: []string{"Registry"}},
		func(ctx context.Context, input *struct{}) (*toolsOutput, error) {
			targets := g.hub.Registry().Tools()
			out := &toolsOutput{}
			out.Body.Tools = make([]toolInfo, 0, len(targets))
			for _, t := range targets {
				out.Body.Tools = append(out.Body.Tools, toolInfo{
					Name:    t.PublicName,
					Domain:  t.Domain,
					DataID:  t.DataID,
					Tab:     string(t.Tab),
					RawName: t.RawName,
				})
			}
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "report-focus", Method: http.MethodPost, Path: "/api/v1/focus", Summary: "Report which tab has focus (passive browser mode)", Tags: []string{"Browser"}},
		func(ctx context.Context, input *focusInput) (*focusOutput, error) {
			passive, ok := g.host.(*browser.PassiveHost)
			if !ok {
				return nil, huma.Error409Conflict("focus is tracked by the browser in cdp mode")
			}
			h := protocol.TabHandle(input.Body.Tab)
			if input.Body.URL != "" {
				passive.Observe(browser.TabInfo{Handle: h, URL: input.Body.URL})
			}
			passive.ReportFocus(ctx, h)

			out := &focusOutput{}
			out.Body.ActiveTab = string(h)
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "list-calls", Method: http.MethodGet, Path: "/api/v1/calls", Summary: "List recent tool executions", Tags: []string{"Calls"}},
		func(ctx context.Context, input *callsInput) (*callsOutput, error) {
			calls := g.hub.Calls()
			if calls == nil {
				return nil, huma.Error503ServiceUnavailable("call log disabled")
			}

			filter, err := input.filter()
			if err != nil {
				return nil, huma.Error400BadRequest(err.Error())
			}
			list, err := calls.ListCalls(ctx, filter)
			if err != nil {
				return nil, huma.Error500InternalServerError("listing calls", err)
			}

			out := &callsOutput{}
			out.Body.Calls = make([]callInfo, 0, len(list))
			for _, c := range list {
				out.Body.Calls = append(out.Body.Calls, callInfo{
					ID:         c.ID,
					RequestID:  c.RequestID,
					Domain:     c.Domain,
					DataID:     c.DataID,
					ToolName:   c.ToolName,
					Outcome:    string(c.Outcome),
					Error:      c.Error,
					DurationMS: c.Duration.Milliseconds(),
					StartedAt:  c.StartedAt,
				})
			}
			return out, nil
		})

	return api
}

func (in *callsInput) filter() (store.CallFilter, error) {
	f := store.CallFilter{Limit: in.Limit}
	if in.Domain != "" {
		d := in.Domain
		f.Domain = &d
	}
	if in.Outcome != "" {
		o := store.Outcome(in.Outcome)
		switch o {
		case store.OutcomeSuccess, store.OutcomeToolError, store.OutcomeUnavailable,
			store.OutcomeTimeout, store.OutcomeCancelled, store.OutcomeFailed:
		default:
			return f, fmt.Errorf("unknown outcome %q", in.Outcome)
		}
		f.Outcome = &o
	}
	if in.Since != "" {
		t, err := time.Parse(time.RFC3339, in.Since)
		if err != nil {
			return f, errors.New("since must be an RFC 3339 timestamp")
		}
		f.Since = &t
	}
	return f, nil
}
