// ABOUTME: MCP server that publishes tab tools to external agents.
// ABOUTME: Implements registry.Publisher on top of mark3labs/mcp-go with Streamable HTTP.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/2389/tabhub/internal/protocol"
	"github.com/2389/tabhub/internal/registry"
)

// Identity advertised to MCP clients in the initialize response.
const (
	DefaultName    = "Extension-Hub"
	DefaultVersion = "1.0.0"
)

// EndpointPath is where the Streamable HTTP transport expects requests.
const EndpointPath = "/mcp"

// ErrNotPublished is returned when updating a tool that was never published.
var ErrNotPublished = errors.New("tool not published")

// Config holds configuration for the MCP server.
type Config struct {
	Name    string
	Version string
	Logger  *slog.Logger
}

// Server publishes registry tools over MCP.
type Server struct {
	mcp    *server.MCPServer
	http   *server.StreamableHTTPServer
	logger *slog.Logger

	mu    sync.Mutex
	calls map[string]registry.CallFunc
	tools map[string]mcp.Tool
}

var _ registry.Publisher = (*Server)(nil)

// NewServer creates an MCP server with no tools.
func NewServer(cfg Config) *Server {
	name := cfg.Name
	if name == "" {
		name = DefaultName
	}
	version := cfg.Version
	if version == "" {
		version = DefaultVersion
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ms := server.NewMCPServer(name, version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	return &Server{
		mcp:    ms,
		http:   server.NewStreamableHTTPServer(ms, server.WithEndpointPath(EndpointPath)),
		logger: logger,
		calls:  make(map[string]registry.CallFunc),
		tools:  make(map[string]mcp.Tool),
	}
}

// Handler returns the Streamable HTTP handler for EndpointPath.
func (s *Server) Handler() http.Handler {
	return s.http
}

// MCPServer exposes the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// Publish adds tool and routes its calls to call.
func (s *Server) Publish(tool registry.PublicTool, call registry.CallFunc) error {
	if tool.Name == "" {
		return errors.New("tool name is required")
	}
	if call == nil {
		return fmt.Errorf("tool %s: call function is required", tool.Name)
	}

	mt := toMCPTool(tool)

	s.mu.Lock()
	s.calls[tool.Name] = call
	s.tools[tool.Name] = mt
	s.mu.Unlock()

	s.mcp.AddTool(mt, s.handlerFor(tool.Name))
	s.logger.Debug("published tool", "name", tool.Name, "domain", tool.Target.Domain)
	return nil
}

// Update replaces the metadata of an already published tool. mcp-go keys
// tools by name, so re-adding it swaps the definition in place.
func (s *Server) Update(tool registry.PublicTool) error {
	mt := toMCPTool(tool)

	s.mu.Lock()
	if _, ok := s.calls[tool.Name]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotPublished, tool.Name)
	}
	s.tools[tool.Name] = mt
	s.mu.Unlock()

	s.mcp.AddTool(mt, s.handlerFor(tool.Name))
	s.logger.Debug("updated tool", "name", tool.Name)
	return nil
}

// Unpublish removes the tool. Unknown names are ignored.
func (s *Server) Unpublish(name string) error {
	s.mu.Lock()
	_, ok := s.calls[name]
	delete(s.calls, name)
	delete(s.tools, name)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	s.mcp.DeleteTools(name)
	s.logger.Debug("unpublished tool", "name", name)
	return nil
}

// Tools returns the published tool definitions sorted by name.
func (s *Server) Tools() []mcp.Tool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]mcp.Tool, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// handlerFor looks the CallFunc up on every call so Update never has to
// rebuild closures and a call racing Unpublish sees the removal.
func (s *Server) handlerFor(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s.mu.Lock()
		call, ok := s.calls[name]
		s.mu.Unlock()
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("Tool %s is no longer available", name)), nil
		}

		args, err := encodeArguments(req)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid arguments: %v", err)), nil
		}

		return toMCPResult(call(ctx, args)), nil
	}
}

func encodeArguments(req mcp.CallToolRequest) (json.RawMessage, error) {
	args := req.GetArguments()
	if args == nil {
		return json.RawMessage(`{}`), nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func toMCPTool(tool registry.PublicTool) mcp.Tool {
	props := make(map[string]any, len(tool.Properties))
	for _, p := range tool.Properties {
		props[p] = map[string]any{}
	}

	mt := mcp.Tool{
		Name:        tool.Name,
		Description: tool.Description,
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: props,
		},
	}

	if a := tool.Annotations; a != nil {
		mt.Annotations = mcp.ToolAnnotation{
			Title:           a.Title,
			ReadOnlyHint:    a.ReadOnlyHint,
			DestructiveHint: a.DestructiveHint,
			IdempotentHint:  a.IdempotentHint,
			OpenWorldHint:   a.OpenWorldHint,
		}
	}
	if tool.Title != "" {
		mt.Annotations.Title = tool.Title
	}
	return mt
}

// toMCPResult passes a page's result through when it is already a tool
// result and wraps any other payload as text.
func toMCPResult(r protocol.CallResult) *mcp.CallToolResult {
	if r.IsError {
		return mcp.NewToolResultError(r.Text)
	}
	if len(r.Payload) == 0 {
		return mcp.NewToolResultText(r.Text)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(r.Payload, &fields); err == nil {
		if _, ok := fields["content"]; ok {
			raw := r.Payload
			if res, err := mcp.ParseCallToolResult(&raw); err == nil {
				return res
			}
		}
	}

	var s string
	if err := json.Unmarshal(r.Payload, &s); err == nil {
		return mcp.NewToolResultText(s)
	}
	return mcp.NewToolResultText(string(r.Payload))
}
