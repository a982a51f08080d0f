package security

import (
	"fmt"
	"net"
	"net/netip"
	"syscall"
)

// IPValidator validates IP addresses for security
type IPValidator struct {
	reserved []reservedRange
}

type reservedRange struct {
	prefix   netip.Prefix
	category string
}

// Order matters only for the reported category; the first match wins.
var defaultReservedRanges = []reservedRange{
	{netip.MustParsePrefix("0.0.0.0/8"), "unspecified"},
	{netip.MustParsePrefix("127.0.0.0/8"), "loopback"},
	{netip.MustParsePrefix("10.0.0.0/8"), "private network"},
	{netip.MustParsePrefix("172.16.0.0/12"), "private network"},
	{netip.MustParsePrefix("192.168.0.0/16"), "private network"},
	{netip.MustParsePrefix("169.254.0.0/16"), "link-local"},
	{netip.MustParsePrefix("100.64.0.0/10"), "carrier-grade NAT"},
	{netip.MustParsePrefix("224.0.0.0/4"), "multicast"},
	{netip.MustParsePrefix("255.255.255.255/32"), "broadcast"},
	{netip.MustParsePrefix("240.0.0.0/4"), "reserved"},
	{netip.MustParsePrefix("::/128"), "unspecified"},
	{netip.MustParsePrefix("::1/128"), "loopback"},
	{netip.MustParsePrefix("fe80::/10"), "link-local"},
	{netip.MustParsePrefix("fc00::/7"), "private network"},
	{netip.MustParsePrefix("ff00::/8"), "multicast"},
}

// NewIPValidator creates a new IP validator
func NewIPValidator() *IPValidator {
	return &IPValidator{reserved: defaultReservedRanges}
}

// Classify reports whether addr is in a reserved range and which one.
// IPv4-mapped IPv6 addresses are classified by their IPv4 form.
func (v *IPValidator) Classify(addr netip.Addr) (reserved bool, category string) {
	if !addr.IsValid() {
		return true, "invalid"
	}
	addr = addr.Unmap().WithZone("")
	for _, r := range v.reserved {
		if r.prefix.Contains(addr) {
			return true, r.category
		}
	}
	return false, ""
}

// ValidateAddr returns an ErrBlocked error for reserved addresses
func (v *IPValidator) ValidateAddr(addr netip.Addr) error {
	if reserved, category := v.Classify(addr); reserved {
		return fmt.Errorf("%w: IP %s (SSRF protection: %s address)", ErrBlocked, addr, category)
	}
	return nil
}

// Validate checks if an IP address is safe to connect to
func (v *IPValidator) Validate(ip net.IP) error {
	if ip == nil {
		return fmt.Errorf("%w: IP address is nil", ErrBlocked)
	}
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return fmt.Errorf("%w: malformed IP %v", ErrBlocked, ip)
	}
	return v.ValidateAddr(addr)
}

// ValidateAll checks all addresses in a list
func (v *IPValidator) ValidateAll(addrs []netip.Addr) error {
	for _, addr := range addrs {
		if err := v.ValidateAddr(addr); err != nil {
			return err
		}
	}
	return nil
}

// DialControl refuses connections to reserved addresses at dial time, closing
// the window between the gate's DNS lookup and the transport's own.
// Use as net.Dialer.Control.
func (v *IPValidator) DialControl(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: bad dial address %q", ErrBlocked, address)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: bad dial address %q", ErrBlocked, address)
	}
	return v.ValidateAddr(addr)
}
