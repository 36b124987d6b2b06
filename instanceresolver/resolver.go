// Package instanceresolver resolves provisioned instance hostnames to IP
// addresses. The orchestrator uses it after a successful provisioning run to
// confirm the instance URL is addressable; failures are reported but never
// affect the session outcome.
package instanceresolver

import (
	"fmt"
	"net"
	"net/url"

	"github.com/miekg/dns"
)

// DefaultDNSServer is the systemd-resolved stub listener used when no
// server is configured.
const DefaultDNSServer = "127.0.0.53:53"

// Resolver performs DNS lookups against a configurable server.
type Resolver struct {
	// Server is the DNS server address (host:port). Defaults to
	// DefaultDNSServer.
	Server string
}

// ResolveURL extracts the host from an instance URL and resolves it to IP
// addresses. Hosts that are already IP literals resolve to themselves.
func (r *Resolver) ResolveURL(rawURL string) ([]string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid instance url: %w", err)
	}

	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("instance url %q has no host", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		return []string{ip.String()}, nil
	}

	return r.resolveHost(host)
}

// resolveHost queries A records for a hostname.
func (r *Resolver) resolveHost(host string) ([]string, error) {
	server := r.Server
	if server == "" {
		server = DefaultDNSServer
	}

	m := new(dns.Msg)
	m.Id = dns.Id()
	m.RecursionDesired = true
	m.Question = []dns.Question{{
		Name:   dns.Fqdn(host),
		Qtype:  dns.TypeA,
		Qclass: dns.ClassINET,
	}}

	c := new(dns.Client)
	in, _, err := c.Exchange(m, server)
	if err != nil {
		return nil, err
	}

	ips := make([]string, 0, len(in.Answer))
	for _, ans := range in.Answer {
		if a, ok := ans.(*dns.A); ok {
			ips = append(ips, a.A.String())
		}
	}

	if len(ips) == 0 {
		return nil, fmt.Errorf("no A records for %s", host)
	}
	return ips, nil
}
