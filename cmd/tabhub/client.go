// ABOUTME: CLI commands that query a running hub over its admin API
// ABOUTME: health checks liveness; tabs prints registered tabs and their tools

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/tabhub/internal/registry"
)

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that a running hub is healthy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func tabsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tabs",
		Short: "List tabs registered with a running hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTabs(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func adminGet(ctx context.Context, path string) (*http.Response, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("contacting hub: %w", err)
	}
	resp.Body = cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}

func runHealth(ctx context.Context, out io.Writer) error {
	resp, err := adminGet(ctx, "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	fmt.Fprintln(out, "healthy")
	return nil
}

type tabsResponse struct {
	ActiveTab string                 `json:"active_tab"`
	Stats     registry.Stats         `json:"stats"`
	Tabs      []registry.TabSnapshot `json:"tabs"`
}

func runTabs(ctx context.Context, out io.Writer) error {
	resp, err := adminGet(ctx, "/api/v1/tabs")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("listing tabs: status %d: %s", resp.StatusCode, body)
	}

	var tr tabsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	printTabs(out, tr)
	return nil
}

func printTabs(out io.Writer, tr tabsResponse) {
	if len(tr.Tabs) == 0 {
		fmt.Fprintln(out, "no tabs registered")
		return
	}

	fmt.Fprintf(out, "%d domains, %d tabs, %d tools\n\n", tr.Stats.Domains, tr.Stats.Tabs, tr.Stats.Tools)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DOMAIN\tTAB\tSTATUS\tTOOLS\tURL")
	for _, t := range tr.Tabs {
		status := string(t.Status)
		if status == "" {
			status = "-"
		}
		if string(t.Handle) == tr.ActiveTab {
			status = color.GreenString(status)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", t.Domain, t.Handle, status, len(t.Tools), t.SourceURL)
	}
	_ = w.Flush()

	for _, t := range tr.Tabs {
		for _, tool := range t.Tools {
			fmt.Fprintf(out, "  %s\n", tool.PublicName)
		}
	}
}
