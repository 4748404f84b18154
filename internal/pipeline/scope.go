package pipeline

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ScopeConfig defines which endpoints may be probed.
// An empty ScopeConfig (no rules) allows any target.
type ScopeConfig struct {
	// AllowedDomains is a list of hostname patterns the target must match.
	// Wildcard prefix ("*.example.com") matches any single-label subdomain.
	// Exact entry ("example.com") matches only that literal value.
	AllowedDomains []string

	// AllowedCIDRs is a list of ranges every resolved address must fall
	// within.
	AllowedCIDRs []string

	networks []*net.IPNet
}

// NewScope parses the CIDR list up front so malformed entries are reported
// instead of silently ignored.
func NewScope(domains, cidrs []string) (*ScopeConfig, error) {
	s := &ScopeConfig{AllowedDomains: domains, AllowedCIDRs: cidrs}
	var errs []error
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			errs = append(errs, fmt.Errorf("scope: %w", err))
			continue
		}
		s.networks = append(s.networks, network)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return s, nil
}

// Empty reports whether the scope has no rules.
func (s *ScopeConfig) Empty() bool {
	return s == nil || (len(s.AllowedDomains) == 0 && len(s.AllowedCIDRs) == 0)
}

// ValidateTarget checks if a hostname is within scope.
// If AllowedDomains is empty, every hostname is allowed. IP literals are
// checked against the CIDR list instead.
func (s *ScopeConfig) ValidateTarget(host string) error {
	if s == nil {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil {
		return s.ValidateIP(host)
	}
	if len(s.AllowedDomains) == 0 {
		return nil
	}
	for _, pattern := range s.AllowedDomains {
		if domainMatches(host, pattern) {
			return nil
		}
	}
	return fmt.Errorf("host %q is outside allowed scope (domains: %s)",
		host, strings.Join(s.AllowedDomains, ", "))
}

// ValidateIP checks if an IP is within any allowed CIDR range.
// Returns nil if allowed or no CIDRs configured, error if out of scope.
func (s *ScopeConfig) ValidateIP(ip string) error {
	if s == nil || len(s.AllowedCIDRs) == 0 {
		return nil
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return fmt.Errorf("scope: %q is not a valid IP address", ip)
	}
	for _, network := range s.nets() {
		if network.Contains(parsed) {
			return nil
		}
	}
	return fmt.Errorf("IP %q is outside allowed CIDR scope (%s)",
		ip, strings.Join(s.AllowedCIDRs, ", "))
}

// nets returns the parsed CIDRs, parsing lazily for literal ScopeConfigs.
func (s *ScopeConfig) nets() []*net.IPNet {
	if len(s.networks) > 0 {
		return s.networks
	}
	var out []*net.IPNet
	for _, cidr := range s.AllowedCIDRs {
		if _, network, err := net.ParseCIDR(cidr); err == nil {
			out = append(out, network)
		}
	}
	return out
}

// domainMatches returns true when host satisfies the scope pattern.
//
//   - "*.example.com" matches "imap.example.com" but not "example.com" or
//     "a.imap.example.com" (single wildcard label only).
//   - "example.com" matches only "example.com".
//   - Comparison is case-insensitive and ignores a trailing dot.
func domainMatches(host, pattern string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	pattern = strings.TrimSuffix(strings.ToLower(pattern), ".")

	if !strings.HasPrefix(pattern, "*.") {
		return host == pattern
	}

	suffix := pattern[2:]
	if !strings.HasSuffix(host, "."+suffix) {
		return false
	}

	label := host[:len(host)-len(suffix)-1]
	return len(label) > 0 && !strings.Contains(label, ".")
}
