// Package gateway wires the tabhub server components together.
//
// # Overview
//
// The Gateway owns the hub, the MCP server it publishes to, the browser
// host that reports focus, and the optional SQLite call log. Everything is
// served from one HTTP listener.
//
// # HTTP Surface
//
//	GET  /channel/{name}?tab=&url=  tab channel (WebSocket), name must be mcp-content-script-proxy
//	*    /mcp                       MCP Streamable HTTP for external agents
//	GET  /health                    liveness
//	GET  /health/ready              503 until a tab has registered tools
//	GET  /api/v1/tabs               registered tabs with their tools
//	GET  /api/v1/tools              public tool name to owning tab
//	POST /api/v1/focus              report focus (passive browser mode)
//	GET  /api/v1/calls              recent tool executions
//
// The admin API is built with huma, which also serves /openapi.json and
// /docs.
//
// # Lifecycle
//
//	gw, err := gateway.New(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return gw.Run(ctx) // blocks until ctx is canceled
//
// Shutdown disconnects every tab, which unpublishes their tools and fails
// in-flight calls, before stopping the HTTP server.
package gateway
