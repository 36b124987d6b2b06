// Package provisioner turns a verified session into a running, addressable
// instance. Two strategies exist: running a configured external command, or
// handing out a static default instance URL. An orchestrator runs the chosen
// strategy as a detached task per session and applies the outcome back onto
// the session table.
package provisioner

import (
	"net/url"
	"strings"
)

// HostAllowlist matches instance hosts that count as independently
// verifiable deployments. Entries are exact hostnames or "*.domain"
// wildcards that match any subdomain.
type HostAllowlist []string

// NewHostAllowlist parses a comma-separated allowlist specification.
func NewHostAllowlist(spec string) HostAllowlist {
	parts := strings.Split(spec, ",")
	hosts := make(HostAllowlist, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			hosts = append(hosts, p)
		}
	}
	return hosts
}

// MatchesHost reports whether a hostname is allowlisted.
func (a HostAllowlist) MatchesHost(host string) bool {
	host = strings.ToLower(host)
	for _, entry := range a {
		if wild, ok := strings.CutPrefix(entry, "*"); ok {
			// entry "*.domain" keeps the leading dot, so only true
			// subdomains match.
			if strings.HasSuffix(host, wild) {
				return true
			}
			continue
		}
		if host == entry {
			return true
		}
	}
	return false
}

// MatchesURL reports whether a URL's hostname (ignoring any port) is
// allowlisted. Unparseable URLs never match.
func (a HostAllowlist) MatchesURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return a.MatchesHost(u.Hostname())
}
