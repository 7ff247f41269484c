// ABOUTME: Entry point for tabhub, the browser-tab tool registry hub
// ABOUTME: Cobra commands to serve, write a default config, and query a running hub

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/tabhub/internal/config"
	"github.com/2389/tabhub/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _        _     _           _
 | |_ __ _| |__ | |__  _   _| |__
 | __/ _' | '_ \| '_ \| | | | '_ \
 | || (_| | |_) | | | | |_| | |_) |
  \__\__,_|_.__/|_| |_|\__,_|_.__/
`

var configPath string // overridable via --config flag

func main() {
	root := &cobra.Command{
		Use:           "tabhub",
		Short:         "Publish browser tab tools to MCP clients",
		Long:          "tabhub collects the tools web pages expose through the browser extension and republishes them over MCP.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to hub.yaml (default: $TABHUB_CONFIG or ~/.config/tabhub/hub.yaml)")

	root.AddCommand(serveCmd())
	root.AddCommand(initCmd())
	root.AddCommand(healthCmd())
	root.AddCommand(tabsCmd())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves the config path, loads .env files and parses the
// config. A missing file yields the defaults.
func loadConfig() (*config.Config, string, error) {
	path, err := config.ResolvePath(configPath)
	if err != nil {
		return nil, "", err
	}
	if err := config.LoadDotEnv(filepath.Dir(path)); err != nil {
		return nil, "", err
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}

	logger, closeLog, err := setupLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", path)
	green.Print("    ▶ ")
	fmt.Printf("Channels:  ws://%s/channel/mcp-content-script-proxy\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("MCP:       http://%s/mcp\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Browser:   ")
	cyan.Print(cfg.Browser.Mode)
	if cfg.Browser.Mode == config.BrowserCDP {
		gray.Printf(" (%s)", cfg.Browser.CDPURL)
	}
	fmt.Println()
	if cfg.Database.Path == "" {
		yellow.Println("    ! call log disabled (database.path is empty)")
	}
	fmt.Println()

	logger.Info("starting tabhub",
		"config", path,
		"http_addr", cfg.Server.HTTPAddr,
		"browser_mode", cfg.Browser.Mode,
	)

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}
