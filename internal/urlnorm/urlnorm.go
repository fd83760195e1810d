// Package urlnorm canonicalizes URLs so that every fetched page has exactly
// one identity in storage. The canonical form is what sources.url stores and
// what all dedupe keys use.
package urlnorm

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// trackingParams are query keys dropped outright during canonicalization.
// Keys with the "utm_" prefix are dropped as well.
var trackingParams = map[string]struct{}{
	"gclid":   {},
	"fbclid":  {},
	"mc_cid":  {},
	"mc_eid":  {},
	"ref":     {},
	"ref_src": {},
}

// Canonicalize returns the canonical form of a URL: lowercased scheme and
// host, no fragment, no default port, tracking parameters removed, remaining
// query parameters sorted by key, and no trailing slash except at the root.
// A missing scheme defaults to https. Canonicalize is idempotent.
func Canonicalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("empty url")
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme: %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host")
	}
	u.Host = strings.ToLower(u.Host)
	if (u.Scheme == "http" && strings.HasSuffix(u.Host, ":80")) ||
		(u.Scheme == "https" && strings.HasSuffix(u.Host, ":443")) {
		u.Host = u.Hostname()
	}
	u.Fragment = ""

	q := u.Query()
	for key := range q {
		if _, drop := trackingParams[key]; drop || strings.HasPrefix(key, "utm_") {
			q.Del(key)
		}
	}
	u.RawQuery = encodeSorted(q)

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	u.RawPath = ""
	return u.String(), nil
}

// encodeSorted is url.Values.Encode with a stable alphabetical key order
// made explicit; multiple values under one key keep their relative order.
func encodeSorted(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		for _, v := range q[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// Domain returns the lowercased hostname of a URL, or "" when it cannot be
// parsed.
func Domain(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// HostMatches reports whether host equals pattern or is a subdomain of it,
// e.g. "docs.example.com" matches "example.com". Used by allow/deny domain
// filters.
func HostMatches(host, pattern string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	pattern = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(pattern), "."))
	if host == "" || pattern == "" {
		return false
	}
	return host == pattern || strings.HasSuffix(host, "."+pattern)
}
