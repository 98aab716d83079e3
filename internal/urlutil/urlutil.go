// Package urlutil provides normalization, canonicalization and allow/deny
// filtering for crawl URLs. All functions are deterministic and side-effect
// free; normalized URLs are the identity keys of the ingestion ledger.
package urlutil

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gobwas/glob"
)

var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"utm_id":       {},
	"gclid":        {},
	"fbclid":       {},
	"msclkid":      {},
	"mc_cid":       {},
	"mc_eid":       {},
}

func isTrackingParam(key string) bool {
	if _, ok := trackingParams[key]; ok {
		return true
	}
	return strings.HasPrefix(key, "utm_")
}

func stripDefaultPort(scheme, host string) string {
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		return strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		return strings.TrimSuffix(host, ":443")
	}
	return host
}

// Normalize canonicalizes a URL for comparison and deduplication:
// lowercase scheme and host, default ports dropped, fragment stripped,
// tracking params removed, remaining query params sorted, trailing slash
// stripped except at root. Idempotent.
func Normalize(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return strings.TrimSpace(rawURL)
	}

	scheme := strings.ToLower(u.Scheme)
	host := stripDefaultPort(scheme, strings.ToLower(u.Host))

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if path != "/" && strings.HasSuffix(path, "/") {
		path = strings.TrimSuffix(path, "/")
	}

	query := u.Query()
	for key := range query {
		if isTrackingParam(key) {
			delete(query, key)
		}
	}

	var b strings.Builder
	if scheme != "" {
		b.WriteString(scheme)
		b.WriteString("://")
	} else if host != "" {
		b.WriteString("//")
	}
	b.WriteString(host)
	b.WriteString(path)
	if encoded := query.Encode(); encoded != "" {
		b.WriteString("?")
		b.WriteString(encoded)
	}
	return b.String()
}

// Canonicalize extracts the page-declared canonical URL from HTML, preferring
// <link rel="canonical"> and falling back to og:url. Relative references are
// resolved against pageURL. Returns the normalized absolute URL, or "" when
// absent or unparsable; failures are never fatal.
func Canonicalize(pageURL, html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	var href string
	doc.Find("link[rel]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		rel, _ := s.Attr("rel")
		if !strings.Contains(strings.ToLower(rel), "canonical") {
			return true
		}
		if h, ok := s.Attr("href"); ok && strings.TrimSpace(h) != "" {
			href = strings.TrimSpace(h)
			return false
		}
		return true
	})

	if href == "" {
		og := doc.Find(`meta[property="og:url"]`).First()
		if og.Length() == 0 {
			og = doc.Find(`meta[name="og:url"]`).First()
		}
		if content, ok := og.Attr("content"); ok {
			href = strings.TrimSpace(content)
		}
	}

	if href == "" {
		return ""
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return Normalize(base.ResolveReference(ref).String())
}

// IsAllowed glob-matches the normalized URL against allow and deny patterns.
// The URL must match at least one allow pattern and zero deny patterns;
// deny always wins. Unparsable patterns never match.
func IsAllowed(rawURL string, allow, deny []string) bool {
	n := Normalize(rawURL)

	allowed := false
	for _, pattern := range allow {
		g, err := glob.Compile(pattern)
		if err != nil {
			continue
		}
		if g.Match(n) {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}

	for _, pattern := range deny {
		g, err := glob.Compile(pattern)
		if err != nil {
			continue
		}
		if g.Match(n) {
			return false
		}
	}
	return true
}

// DomainKey returns the key used for per-domain rate limiting and robots
// lookup: lowercased hostname without port and without a leading "www.".
func DomainKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}
