// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers defaults, YAML loading, env var expansion, path resolution and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hub.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "0.0.0.0:9000"

hub:
  call_timeout: "10s"
  refresh_throttle: "500ms"

browser:
  mode: "cdp"
  cdp_url: "http://127.0.0.1:9222"
  poll_interval: "250ms"

database:
  path: "./calls.db"

logging:
  level: "debug"
  format: "json"
  file: "/tmp/tabhub.log"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:9000" {
		t.Errorf("HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Hub.CallTimeout != 10*time.Second {
		t.Errorf("CallTimeout = %v, want 10s", cfg.Hub.CallTimeout)
	}
	if cfg.Hub.RefreshThrottle != 500*time.Millisecond {
		t.Errorf("RefreshThrottle = %v, want 500ms", cfg.Hub.RefreshThrottle)
	}
	if cfg.Browser.Mode != BrowserCDP || cfg.Browser.CDPURL != "http://127.0.0.1:9222" {
		t.Errorf("Browser = %+v", cfg.Browser)
	}
	if cfg.Browser.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %v, want 250ms", cfg.Browser.PollInterval)
	}
	if cfg.Database.Path != "./calls.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" || cfg.Logging.File != "/tmp/tabhub.log" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "127.0.0.1:9999"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	def := Default()
	if cfg.Hub.CallTimeout != def.Hub.CallTimeout {
		t.Errorf("CallTimeout = %v, want default %v", cfg.Hub.CallTimeout, def.Hub.CallTimeout)
	}
	if cfg.Browser.Mode != BrowserPassive {
		t.Errorf("Browser.Mode = %q, want passive", cfg.Browser.Mode)
	}
	if cfg.Logging.MaxBackups != def.Logging.MaxBackups {
		t.Errorf("MaxBackups = %d, want %d", cfg.Logging.MaxBackups, def.Logging.MaxBackups)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TABHUB_TEST_CDP", "http://chrome:9222")
	path := writeConfig(t, `
browser:
  mode: "cdp"
  cdp_url: "${TABHUB_TEST_CDP}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Browser.CDPURL != "http://chrome:9222" {
		t.Errorf("CDPURL = %q, want expanded value", cfg.Browser.CDPURL)
	}
}

func TestLoad_EnvVarExpansion_UnsetVar(t *testing.T) {
	path := writeConfig(t, `
browser:
  mode: "cdp"
  cdp_url: "${TABHUB_TEST_DEFINITELY_UNSET}"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error for empty cdp_url")
	}
	if !strings.Contains(err.Error(), "browser.cdp_url") {
		t.Errorf("error = %v, want mention of browser.cdp_url", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault failed: %v", err)
	}
	if cfg.Server.HTTPAddr != Default().Server.HTTPAddr {
		t.Errorf("HTTPAddr = %q, want default", cfg.Server.HTTPAddr)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unclosed")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
hub:
  call_timeout: "soon"
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected duration error")
	}
	if !strings.Contains(err.Error(), "hub.call_timeout") {
		t.Errorf("error = %v, want field name", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing http addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr"},
		{"zero timeout", func(c *Config) { c.Hub.CallTimeout = 0 }, "hub.call_timeout"},
		{"negative throttle", func(c *Config) { c.Hub.RefreshThrottle = -time.Second }, "hub.refresh_throttle"},
		{"unknown browser mode", func(c *Config) { c.Browser.Mode = "firefox" }, "browser.mode"},
		{"cdp without url", func(c *Config) { c.Browser.Mode = BrowserCDP }, "browser.cdp_url"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"zero throttle allowed", func(c *Config) { c.Hub.RefreshThrottle = 0 }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "hub.yaml")
	cfg := Default()
	cfg.Server.HTTPAddr = "127.0.0.1:8111"
	cfg.Hub.CallTimeoutRaw = "45s"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Server.HTTPAddr != "127.0.0.1:8111" {
		t.Errorf("HTTPAddr = %q", loaded.Server.HTTPAddr)
	}
	if loaded.Hub.CallTimeout != 45*time.Second {
		t.Errorf("CallTimeout = %v, want 45s", loaded.Hub.CallTimeout)
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")

	if got, _ := ResolvePath("/flag.yaml"); got != "/flag.yaml" {
		t.Errorf("flag path = %q", got)
	}
	if got, _ := ResolvePath(""); got != filepath.Join("/xdg", "tabhub", "hub.yaml") {
		t.Errorf("xdg path = %q", got)
	}

	t.Setenv(EnvConfigPath, "/env.yaml")
	if got, _ := ResolvePath(""); got != "/env.yaml" {
		t.Errorf("env path = %q", got)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TABHUB_A", "one")
	t.Setenv("TABHUB_B", "two")

	got := expandEnvVars("${TABHUB_A}-${TABHUB_B}-${TABHUB_UNSET_X}-$TABHUB_A")
	if got != "one-two--$TABHUB_A" {
		t.Errorf("expandEnvVars = %q", got)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("TABHUB_DOTENV_X=fromfile\nTABHUB_DOTENV_Y=fromfile\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TABHUB_DOTENV_Y", "preset")
	t.Cleanup(func() { os.Unsetenv("TABHUB_DOTENV_X") })

	if err := LoadDotEnv(dir); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if got := os.Getenv("TABHUB_DOTENV_X"); got != "fromfile" {
		t.Errorf("TABHUB_DOTENV_X = %q, want fromfile", got)
	}
	if got := os.Getenv("TABHUB_DOTENV_Y"); got != "preset" {
		t.Errorf("TABHUB_DOTENV_Y = %q, existing value must win", got)
	}
}
