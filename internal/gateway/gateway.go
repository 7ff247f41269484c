// ABOUTME: Gateway orchestrator that wires the hub, MCP server, browser host and call log
// ABOUTME: Serves tab channels, MCP and the admin API over one HTTP server and manages their lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/2389/tabhub/internal/browser"
	"github.com/2389/tabhub/internal/config"
	"github.com/2389/tabhub/internal/hub"
	"github.com/2389/tabhub/internal/mcp"
	"github.com/2389/tabhub/internal/store"
)

// Gateway orchestrates the tabhub server components.
type Gateway struct {
	config     *config.Config
	hub        *hub.Hub
	host       browser.Host
	mcpServer  *mcp.Server
	store      *store.SQLiteStore // nil when the call log is disabled
	httpServer *http.Server
	logger     *slog.Logger

	startedAt time.Time
}

// initHost builds the browser host selected by browser.mode.
func initHost(ctx context.Context, cfg *config.Config, logger *slog.Logger) (browser.Host, error) {
	switch cfg.Browser.Mode {
	case config.BrowserCDP:
		host, err := browser.NewCDPHost(ctx, browser.CDPConfig{
			URL:          cfg.Browser.CDPURL,
			PollInterval: cfg.Browser.PollInterval,
			Logger:       logger,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to browser: %w", err)
		}
		return host, nil
	default:
		return browser.NewPassiveHost(logger), nil
	}
}

// initStore opens the call log, or returns nil when database.path is empty.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	if cfg.Database.Path == "" {
		return nil, nil
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a Gateway from cfg. ctx bounds the browser connection in cdp mode.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	host, err := initHost(ctx, cfg, logger.With("component", "browser"))
	if err != nil {
		if s != nil {
			_ = s.Close()
		}
		return nil, err
	}

	var calls store.CallLog
	if s != nil {
		calls = s
	}

	mcpServer := mcp.NewServer(mcp.Config{Logger: logger.With("component", "mcp")})
	h := hub.New(hub.Config{
		Publisher:       mcpServer,
		Host:            host,
		Calls:           calls,
		CallTimeout:     cfg.Hub.CallTimeout,
		RefreshThrottle: cfg.Hub.RefreshThrottle,
		Logger:          logger.With("component", "hub"),
	})

	gw := &Gateway{
		config:    cfg,
		hub:       h,
		host:      host,
		mcpServer: mcpServer,
		store:     s,
		logger:    logger.With("component", "gateway"),
		startedAt: time.Now(),
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Hub returns the gateway's hub.
func (g *Gateway) Hub() *hub.Hub { return g.hub }

// Handler returns the HTTP handler serving tab channels, MCP and the admin API.
func (g *Gateway) Handler() http.Handler {
	return newRouter(g)
}

// startServer starts the HTTP server in a goroutine, returning an error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	return errCh
}

// Run starts the hub and HTTP server and blocks until ctx is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	g.logger.Info("starting gateway",
		"http_addr", ln.Addr().String(),
		"browser_mode", g.config.Browser.Mode,
		"call_log", g.store != nil,
	)
	g.hub.Start(ctx)

	errCh := g.startServer(ln)

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, disconnects tabs and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "hub close", g.hub.Close(ctx))
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "browser close", g.host.Close())
	if g.store != nil {
		errs = appendCloseError(errs, "store close", g.store.Close())
	}

	return errors.Join(errs...)
}
