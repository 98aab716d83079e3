package urlutil_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/visionllm/ingestor/internal/urlutil"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "tracking params, default port, fragment",
			in:   "https://EX.com:443/a/?utm_source=x&b=2#frag",
			want: "https://ex.com/a?b=2",
		},
		{
			name: "http default port",
			in:   "http://example.com:80/path",
			want: "http://example.com/path",
		},
		{
			name: "non-default port kept",
			in:   "https://example.com:8443/path",
			want: "https://example.com:8443/path",
		},
		{
			name: "root keeps trailing slash",
			in:   "https://example.com/",
			want: "https://example.com/",
		},
		{
			name: "empty path becomes root",
			in:   "https://example.com",
			want: "https://example.com/",
		},
		{
			name: "query params sorted",
			in:   "https://example.com/a?z=1&a=2",
			want: "https://example.com/a?a=2&z=1",
		},
		{
			name: "all utm prefixed params stripped",
			in:   "https://example.com/a?utm_whatever=1&gclid=2&fbclid=3&msclkid=4&mc_cid=5&mc_eid=6",
			want: "https://example.com/a",
		},
		{
			name: "blank value kept",
			in:   "https://example.com/a?b=",
			want: "https://example.com/a?b=",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := urlutil.Normalize(tt.in)
			assert.Equal(t, tt.want, got)

			// Idempotence
			assert.Equal(t, got, urlutil.Normalize(got))
		})
	}
}

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name    string
		pageURL string
		html    string
		want    string
	}{
		{
			name:    "link rel canonical",
			pageURL: "https://example.com/page?utm_source=x",
			html:    `<html><head><link rel="canonical" href="https://example.com/canonical/"></head></html>`,
			want:    "https://example.com/canonical",
		},
		{
			name:    "relative canonical resolved",
			pageURL: "https://example.com/docs/page",
			html:    `<html><head><link rel="canonical" href="/docs/other"></head></html>`,
			want:    "https://example.com/docs/other",
		},
		{
			name:    "og url fallback",
			pageURL: "https://example.com/page",
			html:    `<html><head><meta property="og:url" content="https://example.com/og-page"></head></html>`,
			want:    "https://example.com/og-page",
		},
		{
			name:    "absent",
			pageURL: "https://example.com/page",
			html:    `<html><head><title>no canonical</title></head></html>`,
			want:    "",
		},
		{
			name:    "garbage html is non-fatal",
			pageURL: "https://example.com/page",
			html:    "\x00\xff<<<>>>",
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, urlutil.Canonicalize(tt.pageURL, tt.html))
		})
	}
}

func TestIsAllowed(t *testing.T) {
	allow := []string{"*example.com/foo*"}
	deny := []string{"*example.com/foo/bar*"}

	assert.True(t, urlutil.IsAllowed("https://docs.example.com/foo", allow, deny))
	assert.False(t, urlutil.IsAllowed("https://docs.example.com/foo/bar", allow, deny), "deny wins over allow")
	assert.False(t, urlutil.IsAllowed("https://other.org/foo", allow, deny), "must match an allow pattern")
	assert.False(t, urlutil.IsAllowed("https://docs.example.com/foo", nil, nil), "no allow patterns means nothing allowed")
}

func TestDomainKey(t *testing.T) {
	assert.Equal(t, "docs.example.com", urlutil.DomainKey("https://docs.example.com/page"))
	assert.Equal(t, "example.com", urlutil.DomainKey("https://WWW.Example.com:8443/page"))
	assert.Equal(t, "", urlutil.DomainKey("://bad"))
}
