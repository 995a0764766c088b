package fetchcache

import (
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dreamdesk/dreamdesk"
)

// ScrapeKey is the cache key for a page: the hash of the trimmed URL.
func ScrapeKey(rawURL string) dreamdesk.Hash {
	return dreamdesk.HashString(strings.TrimSpace(rawURL))
}

// NormalizeQuery lowercases q and collapses runs of whitespace.
func NormalizeQuery(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}

// SearchKey is the cache key for a search. Queries that differ only in case
// or whitespace share a key.
func SearchKey(query string, limit int, includePDFs bool) dreamdesk.Hash {
	return dreamdesk.HashParts(NormalizeQuery(query), strconv.Itoa(limit), strconv.FormatBool(includePDFs))
}

// HasPDFSuffix reports whether the URL path ends in ".pdf".
func HasPDFSuffix(rawURL string) bool {
	path := rawURL
	if u, err := url.Parse(strings.TrimSpace(rawURL)); err == nil {
		path = u.Path
	} else if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	return strings.HasSuffix(strings.ToLower(path), ".pdf")
}

// Truncate shortens s to at most n characters without splitting a rune.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for j := range s {
		if i == n {
			return s[:j]
		}
		i++
	}
	return s
}
