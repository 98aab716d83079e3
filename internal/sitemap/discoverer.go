// Package sitemap resolves sitemap indexes into leaf URL sets.
package sitemap

import (
	"context"
	"encoding/xml"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

const DefaultMaxDepth = 3

// Discoverer walks <sitemapindex> documents down to <urlset> leaves using an
// explicit work queue with a shared visited set and a depth counter, so
// self-referencing sitemaps terminate and the depth bound is testable.
type Discoverer struct {
	client    *http.Client
	userAgent string
	maxDepth  int
}

func NewDiscoverer(client *http.Client, userAgent string, maxDepth int) *Discoverer {
	if client == nil {
		client = http.DefaultClient
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Discoverer{client: client, userAgent: userAgent, maxDepth: maxDepth}
}

type sitemapDoc struct {
	XMLName  xml.Name
	Sitemaps []loc `xml:"sitemap"`
	URLs     []loc `xml:"url"`
}

type loc struct {
	Loc string `xml:"loc"`
}

type workItem struct {
	url   string
	depth int
}

// Discover fans out across the root sitemap URLs and returns the
// deduplicated set of leaf page URLs. Fetch and parse failures skip the
// entry; discovery never fails the run.
func (d *Discoverer) Discover(ctx context.Context, roots []string) []string {
	var mu sync.Mutex
	visited := make(map[string]struct{})
	found := make(map[string]struct{})

	// A sitemap URL visited twice (by exact string) is not re-fetched within
	// one discovery call. Claiming under the lock keeps concurrent roots from
	// double-fetching a shared child.
	claim := func(u string) bool {
		mu.Lock()
		defer mu.Unlock()
		if _, ok := visited[u]; ok {
			return false
		}
		visited[u] = struct{}{}
		return true
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, root := range roots {
		g.Go(func() error {
			queue := []workItem{{url: root, depth: 1}}
			for len(queue) > 0 {
				item := queue[0]
				queue = queue[1:]

				if item.depth > d.maxDepth {
					continue
				}
				if !claim(item.url) {
					continue
				}

				body := d.fetchText(ctx, item.url)
				if body == "" {
					continue
				}

				var doc sitemapDoc
				if err := xml.Unmarshal([]byte(body), &doc); err != nil {
					slog.DebugContext(ctx, "sitemap parse failed", "url", item.url, "error", err)
					continue
				}

				switch strings.ToLower(doc.XMLName.Local) {
				case "sitemapindex":
					for _, sm := range doc.Sitemaps {
						if u := strings.TrimSpace(sm.Loc); u != "" {
							queue = append(queue, workItem{url: u, depth: item.depth + 1})
						}
					}
				case "urlset":
					mu.Lock()
					for _, u := range doc.URLs {
						if trimmed := strings.TrimSpace(u.Loc); trimmed != "" {
							found[trimmed] = struct{}{}
						}
					}
					mu.Unlock()
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	urls := make([]string, 0, len(found))
	for u := range found {
		urls = append(urls, u)
	}
	return urls
}

func (d *Discoverer) fetchText(ctx context.Context, rawURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		slog.DebugContext(ctx, "sitemap fetch failed", "url", rawURL, "error", err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ""
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ""
	}
	return string(body)
}
