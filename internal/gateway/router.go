// ABOUTME: chi router for tabhub: tab channel upgrades, the MCP endpoint and the admin API
// ABOUTME: Only the tool channel name is accepted; the capability channel lives at /mcp

package gateway

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389/tabhub/internal/channel"
	"github.com/2389/tabhub/internal/mcp"
	"github.com/2389/tabhub/internal/protocol"
)

func newRouter(g *Gateway) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(g.logger))
	router.Use(middleware.Recoverer)

	router.Get("/channel/{name}", g.handleChannel)
	router.Handle(mcp.EndpointPath, g.mcpServer.Handler())

	registerAdminAPI(router, g)

	return router
}

// requestLogger logs each request once it completes. WebSocket upgrades
// are logged when the tab disconnects.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// handleChannel upgrades GET /channel/{name}?tab=&url= into a tab channel
// and serves it until the tab disconnects.
func (g *Gateway) handleChannel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	switch name {
	case channel.ToolChannelName:
	case channel.CapabilityChannelName:
		http.Error(w, "capability channel is served at "+mcp.EndpointPath, http.StatusNotFound)
		return
	default:
		g.logger.Warn("rejected unknown channel", "name", name, "remote", r.RemoteAddr)
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	tab := q.Get("tab")
	if tab == "" {
		http.Error(w, "tab query parameter is required", http.StatusBadRequest)
		return
	}
	sender := channel.Sender{Tab: protocol.TabHandle(tab), URL: q.Get("url")}

	ch, err := channel.Accept(w, r, name, sender, g.logger.With("component", "channel"))
	if err != nil {
		g.logger.Warn("channel upgrade failed", "tab", tab, "error", err)
		return
	}

	if err := g.hub.ServeChannel(r.Context(), ch); err != nil && !errors.Is(err, channel.ErrClosed) {
		g.logger.Warn("tab channel ended with error", "tab", tab, "error", err)
	}
}
