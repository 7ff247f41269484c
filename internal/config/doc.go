// Package config handles configuration loading for tabhub.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// Every field has a default, so the hub also runs with no file at all.
//
// # Configuration File
//
// Locations (in order):
//
//  1. Path from the --config flag
//  2. Path from TABHUB_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/tabhub/hub.yaml
//  4. ~/.config/tabhub/hub.yaml
//
// A .env file in the working directory or next to the config file is
// loaded first, without overriding variables that are already set.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	browser:
//	  cdp_url: "${CHROME_DEBUG_URL}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	hub:
//	  call_timeout: "30s"
//	  refresh_throttle: "2s"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:7341"   # tab channels, MCP and admin API
//
//	browser:
//	  mode: "passive"                # passive or cdp
//	  cdp_url: "http://127.0.0.1:9222"
//	  poll_interval: "1s"
//
//	database:
//	  path: "~/.local/share/tabhub/calls.db"  # empty disables the call log
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//	  file: ""        # rotated log file, stderr when empty
package config
