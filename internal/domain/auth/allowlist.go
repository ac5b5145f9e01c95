package auth

import (
	"net/netip"
	"net/url"
	"strings"
)

// ipAllowed reports whether ip matches any entry. Entries are addresses or
// CIDR prefixes; malformed entries never match. An empty list allows all.
func ipAllowed(allowed []string, ip netip.Addr) bool {
	if len(allowed) == 0 {
		return true
	}
	if !ip.IsValid() {
		return false
	}
	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err == nil && p.Contains(ip) {
				return true
			}
			continue
		}
		a, err := netip.ParseAddr(entry)
		if err == nil && a.Unmap() == ip {
			return true
		}
	}
	return false
}

// referrerAllowed reports whether the Referer header matches any entry.
// Entries are hosts ("example.com"), URLs ("https://example.com/app") or
// subdomain wildcards ("*.example.com"). Only hosts are compared. An empty
// list allows all; a missing Referer never matches a non-empty list.
func referrerAllowed(allowed []string, referer string) bool {
	if len(allowed) == 0 {
		return true
	}
	host := hostOf(referer)
	if host == "" {
		return false
	}
	for _, entry := range allowed {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if suffix, ok := strings.CutPrefix(entry, "*."); ok {
			if strings.HasSuffix(host, "."+suffix) {
				return true
			}
			continue
		}
		if h := hostOf(entry); h != "" && h == host {
			return true
		}
	}
	return false
}

// hostOf extracts the lowercase hostname from a URL or bare host.
func hostOf(raw string) string {
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "//" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
