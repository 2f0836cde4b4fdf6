// Package security validates job URLs against an allowlist and keeps
// an append-only audit trail of control-plane actions.
package security

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateURL requires an absolute https:// URL whose host matches one
// of allowed's suffixes exactly or as a subdomain. An empty allowed
// list permits any https host — callers that want no restriction pass
// nil, callers enforcing an allowlist pass the configured suffixes.
func ValidateURL(raw string, allowed []string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("invalid URL: scheme must be https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid URL: missing host")
	}
	if len(allowed) == 0 {
		return nil
	}

	host := strings.ToLower(u.Hostname())
	for _, suffix := range allowed {
		suffix = strings.ToLower(suffix)
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return nil
		}
	}
	return fmt.Errorf("invalid URL: host %q is not in the allowlist", host)
}
