// ABOUTME: Tests for the gateway's HTTP surface using httptest and a real WebSocket client
// ABOUTME: Covers channel routing, tool execution through MCP, the admin API and shutdown

package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/tabhub/internal/config"
	"github.com/2389/tabhub/internal/protocol"
	"github.com/2389/tabhub/internal/registry"
	"github.com/2389/tabhub/internal/store"
)

const waitFor = 3 * time.Second
const tick = 10 * time.Millisecond

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Database.Path = store.MemoryPath
	cfg.Hub.CallTimeout = 2 * time.Second
	return cfg
}

type testGateway struct {
	*Gateway
	srv *httptest.Server
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	gw, err := New(context.Background(), testConfig(), testLogger())
	require.NoError(t, err)
	gw.Hub().Start(context.Background())

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = gw.Shutdown(ctx)
		srv.Close()
	})
	return &testGateway{Gateway: gw, srv: srv}
}

func (tg *testGateway) channelURL(name, tab, pageURL string) string {
	u, _ := url.Parse(tg.srv.URL)
	u.Scheme = "ws"
	u.Path = "/channel/" + name
	q := url.Values{}
	if tab != "" {
		q.Set("tab", tab)
	}
	if pageURL != "" {
		q.Set("url", pageURL)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (tg *testGateway) dialTab(t *testing.T, tab, pageURL string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(tg.channelURL("mcp-content-script-proxy", tab, pageURL), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (tg *testGateway) getJSON(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(tg.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func registerTools(t *testing.T, conn *websocket.Conn, names ...string) {
	t.Helper()
	tools := make([]map[string]any, 0, len(names))
	for _, n := range names {
		tools = append(tools, map[string]any{
			"name":        n,
			"description": "does " + n,
			"inputSchema": map[string]any{"type": "object", "properties": map[string]any{"q": map[string]any{}}},
		})
	}
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "register-tools", "tools": tools}))
}

type toolsBody struct {
	Tools []toolInfo `json:"tools"`
}

func (tg *testGateway) waitForTools(t *testing.T, n int) toolsBody {
	t.Helper()
	var body toolsBody
	require.Eventually(t, func() bool {
		body = toolsBody{}
		return tg.getJSON(t, "/api/v1/tools", &body) == http.StatusOK && len(body.Tools) == n
	}, waitFor, tick)
	return body
}

func TestChannelRouting(t *testing.T) {
	tg := newTestGateway(t)

	tests := []struct {
		name   string
		url    string
		status int
	}{
		{"capability channel reserved", tg.channelURL("mcp", "1", ""), http.StatusNotFound},
		{"unknown channel", tg.channelURL("something-else", "1", ""), http.StatusNotFound},
		{"missing tab", tg.channelURL("mcp-content-script-proxy", "", ""), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(tt.url, nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestRegisterListsTools(t *testing.T) {
	tg := newTestGateway(t)
	conn := tg.dialTab(t, "7", "https://a.example/page")
	registerTools(t, conn, "search", "summarize")

	body := tg.waitForTools(t, 2)
	assert.Equal(t, registry.PublicName("a.example", "7", "search"), body.Tools[0].Name)
	assert.Equal(t, "a.example", body.Tools[0].Domain)
	assert.Equal(t, "tab-7", body.Tools[0].DataID)
	assert.Equal(t, "7", body.Tools[0].Tab)
	assert.Equal(t, "summarize", body.Tools[1].RawName)

	var tabs struct {
		Stats registry.Stats          `json:"stats"`
		Tabs  []registry.TabSnapshot `json:"tabs"`
	}
	require.Equal(t, http.StatusOK, tg.getJSON(t, "/api/v1/tabs", &tabs))
	assert.Equal(t, registry.Stats{Domains: 1, Tabs: 1, Tools: 2}, tabs.Stats)
	require.Len(t, tabs.Tabs, 1)
	assert.True(t, tabs.Tabs[0].Connected)
	assert.Equal(t, "https://a.example/page", tabs.Tabs[0].SourceURL)
}

func TestDisconnectRemovesTools(t *testing.T) {
	tg := newTestGateway(t)
	conn := tg.dialTab(t, "7", "https://a.example/")
	registerTools(t, conn, "search")
	tg.waitForTools(t, 1)

	require.NoError(t, conn.Close())
	tg.waitForTools(t, 0)
	assert.Empty(t, tg.mcpServer.Tools())
}

func TestExecuteThroughMCP(t *testing.T) {
	tg := newTestGateway(t)
	conn := tg.dialTab(t, "7", "https://a.example/")
	registerTools(t, conn, "search")
	tg.waitForTools(t, 1)

	// Answer execute-tool requests like a collector would.
	go func() {
		for {
			var msg protocol.Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type != protocol.TypeExecuteTool {
				continue
			}
			_ = conn.WriteJSON(protocol.Message{
				Type:      protocol.TypeToolResult,
				RequestID: msg.RequestID,
				Data: &protocol.ResultData{
					Success: true,
					Payload: json.RawMessage(`{"content":[{"type":"text","text":"found 3"}]}`),
				},
			})
		}
	}()

	name := registry.PublicName("a.example", "7", "search")
	raw, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "tools/call",
		"params": map[string]any{"name": name, "arguments": map[string]any{"q": "go"}},
	})
	require.NoError(t, err)

	resp := tg.mcpServer.MCPServer().HandleMessage(context.Background(), raw)
	out, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(out), "found 3")
	assert.NotContains(t, string(out), `"isError":true`)

	var calls struct {
		Calls []callInfo `json:"calls"`
	}
	require.Eventually(t, func() bool {
		calls.Calls = nil
		return tg.getJSON(t, "/api/v1/calls", &calls) == http.StatusOK && len(calls.Calls) == 1
	}, waitFor, tick)
	assert.Equal(t, "search", calls.Calls[0].ToolName)
	assert.Equal(t, string(store.OutcomeSuccess), calls.Calls[0].Outcome)
}

func TestHealthAndReady(t *testing.T) {
	tg := newTestGateway(t)

	assert.Equal(t, http.StatusOK, tg.getJSON(t, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, tg.getJSON(t, "/health/ready", nil))

	conn := tg.dialTab(t, "1", "https://a.example/")
	registerTools(t, conn, "search")
	require.Eventually(t, func() bool {
		return tg.getJSON(t, "/health/ready", nil) == http.StatusOK
	}, waitFor, tick)
}

func TestReportFocus(t *testing.T) {
	tg := newTestGateway(t)
	conn := tg.dialTab(t, "1", "https://a.example/")
	registerTools(t, conn, "search")
	tg.waitForTools(t, 1)

	resp, err := http.Post(tg.srv.URL+"/api/v1/focus", "application/json", strings.NewReader(`{"tab":"1"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		h, ok := tg.Hub().ActiveTab()
		return ok && h == "1"
	}, waitFor, tick)

	var tabs struct {
		ActiveTab string                 `json:"active_tab"`
		Tabs      []registry.TabSnapshot `json:"tabs"`
	}
	require.Eventually(t, func() bool {
		tabs.Tabs = nil
		if tg.getJSON(t, "/api/v1/tabs", &tabs) != http.StatusOK || len(tabs.Tabs) != 1 || len(tabs.Tabs[0].Tools) != 1 {
			return false
		}
		return strings.HasPrefix(tabs.Tabs[0].Tools[0].Description, "[a.example • Active Tab]")
	}, waitFor, tick)
	assert.Equal(t, "1", tabs.ActiveTab)
}

func TestReportFocusValidation(t *testing.T) {
	tg := newTestGateway(t)
	resp, err := http.Post(tg.srv.URL+"/api/v1/focus", "application/json", strings.NewReader(`{"tab":""}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestListCallsFilters(t *testing.T) {
	tg := newTestGateway(t)
	assert.Equal(t, http.StatusBadRequest, tg.getJSON(t, "/api/v1/calls?outcome=exploded", nil))
	assert.Equal(t, http.StatusBadRequest, tg.getJSON(t, "/api/v1/calls?since=yesterday", nil))

	var calls struct {
		Calls []callInfo `json:"calls"`
	}
	require.Equal(t, http.StatusOK, tg.getJSON(t, "/api/v1/calls?domain=a.example&outcome=timeout", &calls))
	assert.Empty(t, calls.Calls)
}

func TestListCallsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Database.Path = ""
	gw, err := New(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })

	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/calls")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServeStopsOnCancel(t *testing.T) {
	gw, err := New(context.Background(), testConfig(), testLogger())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, waitFor, tick)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Serve did not return after cancel")
	}
}
