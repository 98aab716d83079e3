package politeness

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"

	"github.com/visionllm/ingestor/internal/urlutil"
)

// RobotsCache fetches and caches robots.txt once per domain per run.
// Parse failures, non-200 responses and network errors are treated as
// "allow all" unless failClosed is set: most documentation sites serve
// permissive defaults, and failing closed would strand benign crawls.
type RobotsCache struct {
	client     *http.Client
	userAgent  string
	failClosed bool

	mu      sync.Mutex
	entries map[string]*robotstxt.RobotsData
	locks   map[string]*sync.Mutex
}

func NewRobotsCache(client *http.Client, userAgent string, failClosed bool) *RobotsCache {
	if client == nil {
		client = http.DefaultClient
	}
	return &RobotsCache{
		client:     client,
		userAgent:  userAgent,
		failClosed: failClosed,
		entries:    make(map[string]*robotstxt.RobotsData),
		locks:      make(map[string]*sync.Mutex),
	}
}

// Allowed reports whether the crawler may fetch rawURL. A nil cache entry
// means the permissive (or strict, when fail-closed) fallback applies.
func (c *RobotsCache) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return !c.failClosed
	}

	data := c.get(ctx, u)
	if data == nil {
		return !c.failClosed
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return data.TestAgent(path, c.userAgent)
}

func (c *RobotsCache) get(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	key := urlutil.DomainKey(u.String())
	if key == "" {
		return nil
	}

	c.mu.Lock()
	if data, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return data
	}
	lock, ok := c.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[key] = lock
	}
	c.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	if data, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return data
	}
	c.mu.Unlock()

	data := c.fetch(ctx, u)

	c.mu.Lock()
	c.entries[key] = data
	c.mu.Unlock()
	return data
}

func (c *RobotsCache) fetch(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		slog.DebugContext(ctx, "robots fetch failed", "url", robotsURL, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		slog.DebugContext(ctx, "robots parse failed", "url", robotsURL, "error", err)
		return nil
	}
	return data
}
