// SPDX-License-Identifier: MIT

// Package urlutil canonicalizes submitted URLs for allow-list matching.
// Hosts are IDNA-normalized so casing, trailing dots and Unicode forms
// cannot dodge the match.
package urlutil

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// NormalizeHost validates and normalizes a bare host for comparison.
func NormalizeHost(raw string) (string, error) {
	host := strings.TrimSpace(raw)
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if strings.Contains(host, "://") {
		return "", fmt.Errorf("host must not include scheme: %s", raw)
	}
	if strings.Contains(host, "/") {
		return "", fmt.Errorf("host must not include path: %s", raw)
	}
	if strings.Contains(host, "@") {
		return "", fmt.Errorf("host must not include userinfo: %s", raw)
	}
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	}
	if strings.Contains(host, ":") && net.ParseIP(host) == nil {
		return "", fmt.Errorf("host must not include port: %s", raw)
	}
	if strings.Contains(host, "%") {
		return "", fmt.Errorf("host must not include zone: %s", raw)
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if ip := net.ParseIP(host); ip != nil {
		return strings.ToLower(ip.String()), nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", raw, err)
	}
	return strings.ToLower(ascii), nil
}

// Normalize returns raw lowercased, with the host portion IDNA-normalized
// when raw parses as a URL. Unparseable input is returned lowercased
// unchanged so containment matching still applies.
func Normalize(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))

	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Hostname() == "" {
		return lowered
	}
	host, err := NormalizeHost(u.Hostname())
	if err != nil {
		return lowered
	}
	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else {
		u.Host = host
	}
	u.Scheme = strings.ToLower(u.Scheme)
	return strings.ToLower(u.String())
}

// ContainsAny reports whether the lowercased s contains any of the
// patterns. Patterns are compared lowercased as well.
func ContainsAny(s string, patterns []string) bool {
	lowered := strings.ToLower(s)
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
