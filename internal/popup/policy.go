// Package popup decides which popup windows a chat tab may keep open.
// Auth flows (SSO sign-in windows) are the only legitimate popups; the
// rest are closed on sight.
package popup

import (
	"net/url"
	"strings"
)

// authHostAllowlist covers the chat vendor's own auth surfaces plus the
// SSO providers commonly used with them. A leading dot allows the bare
// domain and any subdomain.
var authHostAllowlist = []string{
	"chatgpt.com",
	".chatgpt.com",
	"openai.com",
	".openai.com",

	"accounts.google.com",
	".google.com",
	".googleusercontent.com",
	"login.live.com",
	".live.com",
	".microsoft.com",
	".microsoftonline.com",
	"appleid.apple.com",
	".apple.com",
	"github.com",
	".github.com",
}

func normalizeHost(host string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(host)), ".")
}

func hostMatches(host, pattern string) bool {
	h := normalizeHost(host)
	p := normalizeHost(pattern)
	if h == "" || p == "" {
		return false
	}
	if strings.HasPrefix(p, ".") {
		return h == p[1:] || strings.HasSuffix(h, p)
	}
	return h == p
}

// IsAllowedAuthURL reports whether a popup URL is a recognized https
// auth surface.
func IsAllowedAuthURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	if u.Scheme != "https" {
		return false
	}
	host := normalizeHost(u.Hostname())
	if host == "" {
		return false
	}
	for _, pattern := range authHostAllowlist {
		if hostMatches(host, pattern) {
			return true
		}
	}
	return false
}

// Policy gates popups for one daemon instance.
type Policy struct {
	// AllowAuthPopups lets recognized auth popups through. Off means
	// every popup is closed.
	AllowAuthPopups bool
}

func Default() Policy {
	return Policy{AllowAuthPopups: true}
}

// Allow decides whether a popup with the given URL may stay open.
func (p Policy) Allow(rawURL string) bool {
	if !p.AllowAuthPopups {
		return false
	}
	return IsAllowedAuthURL(rawURL)
}
