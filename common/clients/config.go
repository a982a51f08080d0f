package clients

import (
	"net/http"
	"strings"
	"time"

	"github.com/lyzr/mediagrab/common/config"
)

// ClientConfig holds outbound fetch configuration.
// Built once at startup and passed to NewHTTPClient.
type ClientConfig struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRedirects int
	MaxPageBytes int64
	HeaderRules  HeaderRules

	// Transport overrides the default transport, e.g. with a dialer that
	// refuses reserved addresses.
	Transport http.RoundTripper
}

// ClientConfigFrom derives the fetch configuration from service config
func ClientConfigFrom(cfg config.AcquisitionConfig) ClientConfig {
	return ClientConfig{
		UserAgent:    cfg.UserAgent,
		Timeout:      cfg.HTTPTimeout,
		MaxRedirects: cfg.MaxRedirects,
		MaxPageBytes: 10 << 20,
		HeaderRules:  ParseHeaderRules(cfg.HostHeaderRules),
	}
}

// HeaderRule sets Referer and Origin for hosts that refuse hotlinked requests
type HeaderRule struct {
	HostSuffix string
	Referer    string
	Origin     string
}

// HeaderRules is an ordered rule list; the first matching suffix wins
type HeaderRules []HeaderRule

// ParseHeaderRules parses "suffix=referer[|origin],suffix2=..." into rules.
// Malformed entries are skipped.
func ParseHeaderRules(spec string) HeaderRules {
	var rules HeaderRules
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		suffix, value, ok := strings.Cut(entry, "=")
		if !ok || suffix == "" || value == "" {
			continue
		}
		referer, origin, _ := strings.Cut(value, "|")
		rules = append(rules, HeaderRule{
			HostSuffix: strings.ToLower(strings.TrimSpace(suffix)),
			Referer:    strings.TrimSpace(referer),
			Origin:     strings.TrimSpace(origin),
		})
	}
	return rules
}

// Match returns the rule for host, if any
func (r HeaderRules) Match(host string) (HeaderRule, bool) {
	host = strings.ToLower(host)
	for _, rule := range r {
		if host == rule.HostSuffix || strings.HasSuffix(host, "."+rule.HostSuffix) {
			return rule, true
		}
	}
	return HeaderRule{}, false
}

// Apply sets the matching rule's headers on req
func (r HeaderRules) Apply(req *http.Request) {
	rule, ok := r.Match(req.URL.Hostname())
	if !ok {
		return
	}
	if rule.Referer != "" {
		req.Header.Set("Referer", rule.Referer)
	}
	if rule.Origin != "" {
		req.Header.Set("Origin", rule.Origin)
	}
}
