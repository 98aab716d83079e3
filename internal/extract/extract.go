// Package extract converts fetched HTML into clean Markdown.
package extract

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/visionllm/ingestor/internal/text"
)

// nonContentSelectors are stripped from the fallback extraction subtree.
const nonContentTags = "script, style, noscript, header, footer, form, nav, aside"
const navSelectors = `[role="navigation"], .toc, .table-of-contents, .on-this-page`

// Markdown extracts (markdown, title) from raw HTML. The strategy chain
// degrades: readability article extraction, then a heuristic main-content
// subtree conversion, then an empty document with a best-effort title.
// It never fails: arbitrary malformed input yields ("", "") at worst.
func Markdown(html, pageURL string) (markdown, title string) {
	// The extraction libraries parse arbitrary remote bytes; a panic in any
	// of them must degrade like every other extraction failure.
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("extractor panicked", "url", pageURL, "panic", r)
			markdown = ""
			if title == "" {
				title = rawTitle(html)
			}
		}
	}()

	if md, t, ok := viaReadability(html, pageURL); ok {
		return md, t
	}

	if md, t, ok := viaMainSubtree(html); ok {
		return md, t
	}

	return "", rawTitle(html)
}

func viaReadability(html, pageURL string) (string, string, bool) {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		u, _ = url.Parse("http://localhost/")
	}

	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		slog.DebugContext(context.Background(), "readability extraction failed", "url", pageURL, "error", err)
		return "", "", false
	}

	md, err := htmltomarkdown.ConvertString(article.Content)
	if err != nil {
		return "", "", false
	}

	md = text.PostprocessMarkdown(md)
	if md == "" {
		return "", "", false
	}
	return md, strings.TrimSpace(article.Title), true
}

func viaMainSubtree(html string) (string, string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", false
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())

	content := doc.Find("main").First()
	if content.Length() == 0 {
		content = doc.Find("article").First()
	}
	if content.Length() == 0 {
		content = doc.Find(`[role="main"]`).First()
	}
	if content.Length() == 0 {
		content = doc.Find("body").First()
	}
	if content.Length() == 0 {
		return "", title, false
	}

	content.Find(nonContentTags).Remove()
	content.Find(navSelectors).Remove()

	subtree, err := goquery.OuterHtml(content)
	if err != nil {
		return "", title, false
	}

	md, err := htmltomarkdown.ConvertString(subtree)
	if err != nil {
		return "", title, false
	}

	md = text.PostprocessMarkdown(md)
	if md == "" {
		return "", title, false
	}
	return md, title, true
}

func rawTitle(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
