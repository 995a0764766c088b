// Package allowlist decides which hosts answers may cite. Only City College
// pages and a few system-wide sources are allowed; other CUNY campuses are
// rejected so students are not sent to another college's rules.
package allowlist

import (
	"maps"
	"net/url"
	"slices"
	"strings"
)

var allowedHosts = map[string]bool{
	"ccny.cuny.edu":            true,
	"www.ccny.cuny.edu":        true,
	"cuny.edu":                 true,
	"www.cuny.edu":             true,
	"hesc.ny.gov":              true,
	"www.hesc.ny.gov":          true,
	"thedream.us":              true,
	"www.thedream.us":          true,
	"immigrantsrising.org":     true,
	"www.immigrantsrising.org": true,
}

// Hosts returns the allowed hosts, sorted.
func Hosts() []string {
	return slices.Sorted(maps.Keys(allowedHosts))
}

// Normalize trims rawURL and prefixes "https://" when it has no scheme.
// ok is false for input that does not parse to an http(s) URL with a host,
// or that carries userinfo.
func Normalize(rawURL string) (string, bool) {
	s := strings.TrimSpace(rawURL)
	if s == "" || strings.ContainsAny(s, " \t\r\n") {
		return "", false
	}
	if !strings.Contains(s, "://") {
		s = "https://" + strings.TrimPrefix(s, "//")
	}
	u, err := url.Parse(s)
	if err != nil || u.Hostname() == "" || u.User != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	return s, true
}

// Host returns the lowercased host of rawURL without its port.
func Host(rawURL string) (string, bool) {
	s, ok := Normalize(rawURL)
	if !ok {
		return "", false
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", false
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" || !strings.Contains(host, ".") {
		return "", false
	}
	return host, true
}

// Allowed reports whether rawURL points at an allowed host. Subdomains of
// cuny.edu other than City College are rejected, as is anything that does
// not parse.
func Allowed(rawURL string) bool {
	host, ok := Host(rawURL)
	if !ok {
		return false
	}
	return allowedHosts[host]
}

// Authority returns a display label for the organisation behind rawURL.
func Authority(rawURL string) string {
	host, ok := Host(rawURL)
	if !ok {
		return "Source"
	}
	host = strings.TrimPrefix(host, "www.")
	switch {
	case host == "ccny.cuny.edu" || strings.HasSuffix(host, ".ccny.cuny.edu"):
		return "CCNY"
	case host == "cuny.edu" || strings.HasSuffix(host, ".cuny.edu"):
		return "CUNY"
	case host == "hesc.ny.gov" || strings.HasSuffix(host, ".hesc.ny.gov"):
		return "HESC"
	case host == "thedream.us" || strings.HasSuffix(host, ".thedream.us"):
		return "TheDream.US"
	case host == "immigrantsrising.org" || strings.HasSuffix(host, ".immigrantsrising.org"):
		return "Immigrants Rising"
	}
	return host
}
