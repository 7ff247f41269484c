// Package mcp republishes browser-tab tools to MCP clients.
//
// # Overview
//
// The hub's registry decides which tools exist and what they are called.
// This package is the Publisher it drives: each published tool becomes an
// MCP tool on a github.com/mark3labs/mcp-go server, and calls from clients
// are routed back to the registry's CallFunc for that tool.
//
// # Transport
//
// Handler returns a Streamable HTTP handler mounted at /mcp by the gateway.
// Adding, updating or deleting tools notifies connected sessions with
// notifications/tools/list_changed.
//
// # Schemas
//
// Tab tools advertise only property names. Every property is published
// with an empty schema so any JSON value is accepted and passed through
// unchanged.
package mcp
