// ABOUTME: Configuration loading and parsing for tabhub
// ABOUTME: Supports YAML files with environment variable expansion, .env files and duration parsing

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that overrides the config path.
const EnvConfigPath = "TABHUB_CONFIG"

// Browser modes.
const (
	BrowserPassive = "passive"
	BrowserCDP     = "cdp"
)

// Config represents the complete tabhub configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Hub      HubConfig      `yaml:"hub"`
	Browser  BrowserConfig  `yaml:"browser"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// HubConfig holds tool call and refresh timing
type HubConfig struct {
	CallTimeout     time.Duration `yaml:"-"`
	RefreshThrottle time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	CallTimeoutRaw     string `yaml:"call_timeout"`
	RefreshThrottleRaw string `yaml:"refresh_throttle"`
}

// BrowserConfig selects how the hub learns about tab focus.
type BrowserConfig struct {
	Mode   string `yaml:"mode"`
	CDPURL string `yaml:"cdp_url"`

	PollInterval    time.Duration `yaml:"-"`
	PollIntervalRaw string        `yaml:"poll_interval"`
}

// DatabaseConfig holds call log storage configuration. An empty path
// disables the call log.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File, when set, receives logs through a rotating writer.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default returns a configuration that runs without a config file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{HTTPAddr: "127.0.0.1:7341"},
		Hub: HubConfig{
			CallTimeout:        30 * time.Second,
			RefreshThrottle:    2 * time.Second,
			CallTimeoutRaw:     "30s",
			RefreshThrottleRaw: "2s",
		},
		Browser: BrowserConfig{
			Mode:            BrowserPassive,
			PollInterval:    time.Second,
			PollIntervalRaw: "1s",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// DefaultPath returns the config location used when neither a flag nor
// TABHUB_CONFIG is given.
func DefaultPath() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "tabhub", "hub.yaml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}
	return filepath.Join(home, ".config", "tabhub", "hub.yaml"), nil
}

// ResolvePath picks the config path: explicit flag, then TABHUB_CONFIG,
// then DefaultPath.
func ResolvePath(flagPath string) (string, error) {
	if flagPath != "" {
		return flagPath, nil
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env, nil
	}
	return DefaultPath()
}

// LoadOrDefault loads path, falling back to Default when the file does
// not exist. Any other read or parse error is returned.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// LoadDotEnv loads .env from the working directory and from dir, when
// present. Variables already set in the environment are kept.
func LoadDotEnv(dir string) error {
	candidates := []string{".env"}
	if dir != "" {
		candidates = append(candidates, filepath.Join(dir, ".env"))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Fields missing from the file keep their Default values.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Save writes cfg to path as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Hub.CallTimeout <= 0 {
		return fmt.Errorf("hub.call_timeout must be positive")
	}
	if c.Hub.RefreshThrottle < 0 {
		return fmt.Errorf("hub.refresh_throttle must not be negative")
	}

	switch c.Browser.Mode {
	case BrowserPassive:
	case BrowserCDP:
		if c.Browser.CDPURL == "" {
			return fmt.Errorf("browser.cdp_url is required when browser.mode is %q", BrowserCDP)
		}
		if c.Browser.PollInterval <= 0 {
			return fmt.Errorf("browser.poll_interval must be positive")
		}
	default:
		return fmt.Errorf("browser.mode must be %q or %q, got %q", BrowserPassive, BrowserCDP, c.Browser.Mode)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"hub.call_timeout", cfg.Hub.CallTimeoutRaw, &cfg.Hub.CallTimeout},
		{"hub.refresh_throttle", cfg.Hub.RefreshThrottleRaw, &cfg.Hub.RefreshThrottle},
		{"browser.poll_interval", cfg.Browser.PollIntervalRaw, &cfg.Browser.PollInterval},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
