package security

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/lyzr/mediagrab/common/logger"
)

// Resolver looks up addresses for a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// HostValidator validates hostnames and IPs for SSRF protection
type HostValidator struct {
	blockedHostnames map[string]bool
	blockedSuffixes  []string
	ipValidator      *IPValidator
	resolver         Resolver
	log              logger.Interface
}

// NewHostValidator creates a new host validator with default blocked hosts
func NewHostValidator(resolver Resolver, log logger.Interface) *HostValidator {
	return &HostValidator{
		blockedHostnames: map[string]bool{
			"localhost":                true,
			"127.0.0.1":                true,
			"0.0.0.0":                  true,
			"::1":                      true,
			"::":                       true,
			"169.254.169.254":          true,
			"metadata":                 true,
			"metadata.google.internal": true,
			"instance-data":            true,
		},
		blockedSuffixes: []string{".localhost", ".internal", ".local"},
		ipValidator:     NewIPValidator(),
		resolver:        resolver,
		log:             log,
	}
}

// Validate checks if the hostname is safe (SSRF protection)
func (v *HostValidator) Validate(ctx context.Context, hostname string) error {
	host := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(hostname)), ".")
	host = strings.Trim(host, "[]")
	if host == "" {
		return fmt.Errorf("%w: hostname is required", ErrBlocked)
	}

	if v.blockedHostnames[host] {
		return fmt.Errorf("%w: hostname '%s' (SSRF protection: internal host)", ErrBlocked, hostname)
	}
	for _, suffix := range v.blockedSuffixes {
		if strings.HasSuffix(host, suffix) {
			return fmt.Errorf("%w: hostname '%s' (SSRF protection: %s domain)", ErrBlocked, hostname, suffix)
		}
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return v.ipValidator.ValidateAddr(addr)
	}

	// A and AAAA are looked up separately so one failing family does not
	// hide the other.
	v4, err4 := v.resolver.LookupNetIP(ctx, "ip4", host)
	v6, err6 := v.resolver.LookupNetIP(ctx, "ip6", host)
	if err4 != nil && err6 != nil {
		v.log.Warn("dns lookup failed, allowing host", "host", host, "error", errors.Join(err4, err6))
		return nil
	}

	addrs := append(v4, v6...)
	if err := v.ipValidator.ValidateAll(addrs); err != nil {
		return fmt.Errorf("host '%s' resolves to a blocked address: %w", hostname, err)
	}
	return nil
}
