// ABOUTME: Derives public tool names, data ids, domains, and status-tagged descriptions.
// ABOUTME: Names are stable per tab and unique across every domain and tab.

package registry

import (
	"net"
	"net/url"
	"strings"

	"github.com/2389/tabhub/internal/protocol"
)

// PublicNamePrefix starts every name published to the capability server.
const PublicNamePrefix = "website_tool_"

// UnknownDomain is used when a tab's URL cannot be parsed.
const UnknownDomain = "unknown"

// Status is the tab state shown in a tool description.
type Status string

const (
	StatusNone   Status = ""
	StatusActive Status = "Active"
	StatusClosed Status = "Closed"
)

// Sanitize replaces every character outside [A-Za-z0-9_] with '_'.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// TabPrefix is the per-tab component of a public name. Distinct handles
// always give distinct prefixes: letters and digits pass through, '_' is
// doubled, and any other byte becomes '_' and two hex digits.
func TabPrefix(h protocol.TabHandle) string {
	const hex = "0123456789abcdef"
	s := string(h)
	var b strings.Builder
	b.Grow(len("tab") + len(s))
	b.WriteString("tab")
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == '_':
			b.WriteString("__")
		default:
			b.WriteByte('_')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0f])
		}
	}
	return b.String()
}

// DataID is the registry key for a tab's record.
func DataID(h protocol.TabHandle) string {
	return "tab-" + string(h)
}

// PublicName builds the globally unique name for rawName exposed by tab h on domain.
func PublicName(domain string, h protocol.TabHandle, rawName string) string {
	return PublicNamePrefix + Sanitize(domain) + "_" + TabPrefix(h) + "_" + Sanitize(rawName)
}

// Describe prefixes a raw description with the domain and tab status tag,
// e.g. "[a.example • Active Tab] Search the site".
func Describe(domain string, status Status, raw string) string {
	tag := "Tab"
	if status != StatusNone {
		tag = string(status) + " Tab"
	}
	return "[" + domain + " • " + tag + "] " + raw
}

// DomainFromURL normalizes a tab URL into its domain bucket key. Loopback
// hosts keep their port so local dev servers on different ports stay apart.
func DomainFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return UnknownDomain
	}

	host := strings.ToLower(u.Hostname())
	if !isLoopback(host) {
		return host
	}

	port := u.Port()
	if port == "" {
		port = "80"
	}
	return "localhost:" + port
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
