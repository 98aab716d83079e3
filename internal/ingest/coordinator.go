// Package ingest orchestrates the collect stage: worklist construction,
// polite fetching, extraction, content-addressed storage and the fetch
// ledger that makes runs resumable.
package ingest

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/visionllm/ingestor/internal/config"
	"github.com/visionllm/ingestor/internal/extract"
	"github.com/visionllm/ingestor/internal/fetch"
	"github.com/visionllm/ingestor/internal/text"
	"github.com/visionllm/ingestor/internal/urlutil"
)

// Pages with almost no prose but many links are navigation indexes, not
// documents worth storing.
const (
	indexLikeMaxWords = 60
	indexLikeMinLinks = 10
)

// Fetcher retrieves one page with retries applied.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) fetch.Result
}

// RobotsChecker answers whether a URL may be crawled.
type RobotsChecker interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// Discoverer expands sitemap roots into page URLs.
type Discoverer interface {
	Discover(ctx context.Context, roots []string) []string
}

// Options tune a collect run.
type Options struct {
	DataDir     string
	Concurrency int
	MaxURLs     int
	Resume      bool
	DryRun      bool
}

// Summary counts the outcomes of one source's run.
type Summary struct {
	Total         int
	Fetched       int
	Failed        int
	SkippedSeen   int
	SkippedRobots int
	SkippedDupes  int
	SkippedIndex  int
}

// Coordinator runs the collect stage for one source domain.
type Coordinator struct {
	fetcher    Fetcher
	robots     RobotsChecker
	discoverer Discoverer
	opts       Options
	log        *slog.Logger

	// Extract is swappable for tests; defaults to the extraction chain.
	Extract func(html, pageURL string) (markdown, title string)
}

func NewCoordinator(fetcher Fetcher, robots RobotsChecker, discoverer Discoverer, opts Options, log *slog.Logger) *Coordinator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		fetcher:    fetcher,
		robots:     robots,
		discoverer: discoverer,
		opts:       opts,
		log:        log,
		Extract:    extract.Markdown,
	}
}

// BuildWorklist expands the source's sitemaps and manual URL file into a
// normalized, filtered, deduplicated and sorted list of candidate URLs.
// Sorting keeps runs deterministic; the MaxURLs cap applies after sorting.
func (c *Coordinator) BuildWorklist(ctx context.Context, src config.SourceDomain) ([]string, error) {
	var raw []string
	if len(src.SitemapURLs) > 0 {
		raw = append(raw, c.discoverer.Discover(ctx, src.SitemapURLs)...)
	}
	if src.ManualURLsFile != "" {
		manual, err := readURLFile(src.ManualURLsFile)
		if err != nil {
			return nil, err
		}
		raw = append(raw, manual...)
	}

	seen := make(map[string]bool, len(raw))
	var urls []string
	for _, u := range raw {
		n := urlutil.Normalize(u)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		if !urlutil.IsAllowed(n, src.Allow, src.Deny) {
			continue
		}
		urls = append(urls, n)
	}
	sort.Strings(urls)

	if c.opts.MaxURLs > 0 && len(urls) > c.opts.MaxURLs {
		urls = urls[:c.opts.MaxURLs]
	}
	return urls, nil
}

// Run ingests every worklist URL for src. In dry-run mode it only logs the
// worklist. The ledger is append-only: reruns add records, never rewrite.
func (c *Coordinator) Run(ctx context.Context, src config.SourceDomain) (Summary, error) {
	urls, err := c.BuildWorklist(ctx, src)
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{Total: len(urls)}
	if c.opts.DryRun {
		for _, u := range urls {
			c.log.InfoContext(ctx, "would fetch", "url", u, "product", src.Product)
		}
		return sum, nil
	}

	seen := Seen{URLs: map[string]bool{}, Canonicals: map[string]bool{}}
	if c.opts.Resume {
		seen, err = ReadSeen(c.opts.DataDir, src.Product)
		if err != nil {
			return sum, err
		}
	}

	ledger, err := OpenLedger(c.opts.DataDir, src.Product)
	if err != nil {
		return sum, err
	}
	defer ledger.Close()

	store := NewStorage(c.opts.DataDir)

	var pending []string
	for _, u := range urls {
		if c.opts.Resume && seen.URLs[u] {
			sum.SkippedSeen++
			continue
		}
		pending = append(pending, u)
	}

	var mu sync.Mutex // guards sum and seen.Canonicals
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)

	for _, u := range pending {
		g.Go(func() error {
			return c.ingestOne(gctx, src, u, ledger, store, &seen, &mu, &sum)
		})
	}

	err = g.Wait()
	c.log.InfoContext(ctx, "collect finished",
		"product", src.Product,
		"total", sum.Total,
		"fetched", sum.Fetched,
		"failed", sum.Failed,
		"skipped_seen", sum.SkippedSeen,
		"skipped_robots", sum.SkippedRobots,
		"skipped_dupes", sum.SkippedDupes,
		"skipped_index_like", sum.SkippedIndex,
	)
	return sum, err
}

func (c *Coordinator) ingestOne(ctx context.Context, src config.SourceDomain, u string, ledger *Ledger, store *Storage, seen *Seen, mu *sync.Mutex, sum *Summary) error {
	now := time.Now().UTC().Format(time.RFC3339)
	base := FetchRecord{
		URL:       u,
		Product:   src.Product,
		Version:   src.VersionLabel,
		FetchedAt: now,
	}

	if !c.robots.Allowed(ctx, u) {
		mu.Lock()
		sum.SkippedRobots++
		mu.Unlock()
		base.Error = "robots-disallow"
		return ledger.Append(base)
	}

	res := c.fetcher.Fetch(ctx, u)
	base.Status = res.Status
	base.FinalURL = res.FinalURL
	if res.Error != "" || res.Status != 200 {
		mu.Lock()
		sum.Failed++
		mu.Unlock()
		base.Error = res.Error
		if base.Error == "" {
			base.Error = fmt.Sprintf("http_status_%d", res.Status)
		}
		c.log.WarnContext(ctx, "fetch failed", "url", u, "status", res.Status, "error", base.Error)
		return ledger.Append(base)
	}

	pageURL := res.FinalURL
	if pageURL == "" {
		pageURL = u
	}
	canonical := urlutil.Canonicalize(pageURL, res.Body)
	if canonical == "" {
		canonical = urlutil.Normalize(pageURL)
	}
	base.CanonicalURL = canonical

	// Two request URLs resolving to one canonical page keep one record.
	mu.Lock()
	if canonical != "" && seen.Canonicals[canonical] {
		sum.SkippedDupes++
		mu.Unlock()
		c.log.DebugContext(ctx, "duplicate canonical", "url", u, "canonical", canonical)
		return nil
	}
	if canonical != "" {
		seen.Canonicals[canonical] = true
	}
	mu.Unlock()

	markdown, title := c.Extract(res.Body, pageURL)
	base.Title = title

	if text.CountWords(markdown) < indexLikeMaxWords && text.CountLinkMarkers(markdown) > indexLikeMinLinks {
		mu.Lock()
		sum.SkippedIndex++
		mu.Unlock()
		base.Error = "skip-index-like"
		return ledger.Append(base)
	}

	htmlHash := HashHex([]byte(res.Body))
	mdHash := HashHex([]byte(markdown))
	htmlPath := store.HTMLPath(src.Product, htmlHash)
	mdPath := store.MarkdownPath(src.Product, mdHash)

	if !(c.opts.Resume && store.Exists(htmlPath) && store.Exists(mdPath)) {
		if _, _, err := store.WriteHTML(src.Product, []byte(res.Body)); err != nil {
			unclaimCanonical(seen, mu, canonical)
			return err
		}
		if _, _, err := store.WriteMarkdown(src.Product, markdown); err != nil {
			unclaimCanonical(seen, mu, canonical)
			return err
		}
	}

	base.HashHTML = htmlHash
	base.HashMD = mdHash
	base.PathHTML = htmlPath
	base.PathMD = mdPath
	base.ContentTokens = text.EstimateTokens(markdown)

	mu.Lock()
	sum.Fetched++
	mu.Unlock()
	c.log.InfoContext(ctx, "page ingested", "url", u, "title", title, "tokens", base.ContentTokens)
	return ledger.Append(base)
}

// unclaimCanonical releases a canonical claimed by a page whose artifacts
// failed to persist, so another URL for the same page can still be stored
// in this run.
func unclaimCanonical(seen *Seen, mu *sync.Mutex, canonical string) {
	if canonical == "" {
		return
	}
	mu.Lock()
	delete(seen.Canonicals, canonical)
	mu.Unlock()
}

func readURLFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manual url file: %w", err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read manual url file: %w", err)
	}
	return urls, nil
}
