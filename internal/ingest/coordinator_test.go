package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionllm/ingestor/internal/config"
	"github.com/visionllm/ingestor/internal/fetch"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	pages map[string]fetch.Result
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) fetch.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[rawURL]++
	if res, ok := f.pages[rawURL]; ok {
		return res
	}
	return fetch.Result{Status: 404, Error: "http_status_404"}
}

func (f *fakeFetcher) callCount(u string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[u]
}

type fakeRobots struct{ blocked map[string]bool }

func (r *fakeRobots) Allowed(_ context.Context, rawURL string) bool {
	return !r.blocked[rawURL]
}

type staticDiscoverer struct{ urls []string }

func (d *staticDiscoverer) Discover(context.Context, []string) []string { return d.urls }

func page(body string) fetch.Result {
	return fetch.Result{Status: 200, Body: body}
}

func articlePage(canonical string) fetch.Result {
	link := ""
	if canonical != "" {
		link = fmt.Sprintf(`<link rel="canonical" href="%s">`, canonical)
	}
	return page(fmt.Sprintf(
		`<html><head><title>Doc</title>%s</head><body><main><p>%s</p></main></body></html>`,
		link, strings.Repeat("useful prose about warehouses ", 30)))
}

func testSource() config.SourceDomain {
	return config.SourceDomain{
		Product:      "snowflake",
		Allow:        []string{"https://docs.example.com/*"},
		VersionLabel: "2026.1",
		SitemapURLs:  []string{"https://docs.example.com/sitemap.xml"},
	}
}

func newTestCoordinator(t *testing.T, fetcher Fetcher, robots RobotsChecker, disc Discoverer, opts Options) *Coordinator {
	t.Helper()
	if opts.DataDir == "" {
		opts.DataDir = t.TempDir()
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = 1
	}
	return NewCoordinator(fetcher, robots, disc, opts, nil)
}

func readRecords(t *testing.T, dataDir, product string) []FetchRecord {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dataDir, "meta", product+".jsonl"))
	require.NoError(t, err)

	var recs []FetchRecord
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var rec FetchRecord
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		recs = append(recs, rec)
	}
	return recs
}

func TestRun_SuccessWritesArtifactsAndLedger(t *testing.T) {
	dataDir := t.TempDir()
	url := "https://docs.example.com/guide"
	fetcher := &fakeFetcher{pages: map[string]fetch.Result{url: articlePage("")}}
	co := newTestCoordinator(t, fetcher, &fakeRobots{}, &staticDiscoverer{urls: []string{url}}, Options{DataDir: dataDir})

	sum, err := co.Run(context.Background(), testSource())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Fetched)

	recs := readRecords(t, dataDir, "snowflake")
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, url, rec.URL)
	assert.Equal(t, 200, rec.Status)
	assert.Equal(t, "Doc", rec.Title)
	assert.Equal(t, "snowflake", rec.Product)
	assert.Equal(t, "2026.1", rec.Version)
	assert.NotEmpty(t, rec.HashHTML)
	assert.Empty(t, rec.Error)
	assert.FileExists(t, filepath.Join(dataDir, rec.PathHTML))
	assert.FileExists(t, filepath.Join(dataDir, rec.PathMD))
	assert.Greater(t, rec.ContentTokens, 0)
}

func TestRun_ArtifactsAddressedByOwnContentHash(t *testing.T) {
	dataDir := t.TempDir()
	url := "https://docs.example.com/guide"
	fetcher := &fakeFetcher{pages: map[string]fetch.Result{url: articlePage("")}}
	co := newTestCoordinator(t, fetcher, &fakeRobots{}, &staticDiscoverer{urls: []string{url}}, Options{DataDir: dataDir})

	_, err := co.Run(context.Background(), testSource())
	require.NoError(t, err)

	recs := readRecords(t, dataDir, "snowflake")
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, rec.HashHTML+".html", filepath.Base(rec.PathHTML))
	assert.Equal(t, rec.HashMD+".md", filepath.Base(rec.PathMD))
	assert.NotEqual(t, rec.HashHTML, rec.HashMD)

	md, err := os.ReadFile(filepath.Join(dataDir, rec.PathMD))
	require.NoError(t, err)
	assert.Equal(t, rec.HashMD, HashHex(md))
}

func TestRun_ResumeSkipsSuccessfulURLs(t *testing.T) {
	dataDir := t.TempDir()
	url := "https://docs.example.com/guide"
	fetcher := &fakeFetcher{pages: map[string]fetch.Result{url: articlePage("")}}
	disc := &staticDiscoverer{urls: []string{url}}

	co := newTestCoordinator(t, fetcher, &fakeRobots{}, disc, Options{DataDir: dataDir})
	_, err := co.Run(context.Background(), testSource())
	require.NoError(t, err)
	require.Equal(t, 1, fetcher.callCount(url))

	co2 := newTestCoordinator(t, fetcher, &fakeRobots{}, disc, Options{DataDir: dataDir, Resume: true})
	sum, err := co2.Run(context.Background(), testSource())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.SkippedSeen)
	assert.Equal(t, 0, sum.Fetched)
	assert.Equal(t, 1, fetcher.callCount(url), "resumed run must not refetch")

	// Still exactly one ledger line: resume appends nothing for skips.
	assert.Len(t, readRecords(t, dataDir, "snowflake"), 1)
}

func TestRun_FailedFetchIsRetriedOnResume(t *testing.T) {
	dataDir := t.TempDir()
	url := "https://docs.example.com/flaky"
	fetcher := &fakeFetcher{pages: map[string]fetch.Result{url: {Status: 0, Error: "max_retries_exceeded"}}}
	disc := &staticDiscoverer{urls: []string{url}}

	co := newTestCoordinator(t, fetcher, &fakeRobots{}, disc, Options{DataDir: dataDir})
	_, err := co.Run(context.Background(), testSource())
	require.NoError(t, err)

	fetcher.pages[url] = articlePage("")
	co2 := newTestCoordinator(t, fetcher, &fakeRobots{}, disc, Options{DataDir: dataDir, Resume: true})
	sum, err := co2.Run(context.Background(), testSource())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Fetched)
	assert.Equal(t, 2, fetcher.callCount(url))
}

func TestRun_RobotsDisallowIsRecorded(t *testing.T) {
	dataDir := t.TempDir()
	url := "https://docs.example.com/private"
	fetcher := &fakeFetcher{}
	robots := &fakeRobots{blocked: map[string]bool{url: true}}
	co := newTestCoordinator(t, fetcher, robots, &staticDiscoverer{urls: []string{url}}, Options{DataDir: dataDir})

	sum, err := co.Run(context.Background(), testSource())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.SkippedRobots)
	assert.Equal(t, 0, fetcher.callCount(url))

	recs := readRecords(t, dataDir, "snowflake")
	require.Len(t, recs, 1)
	assert.Equal(t, "robots-disallow", recs[0].Error)
	assert.Equal(t, 0, recs[0].Status)
}

func TestRun_IndexLikePageIsRecordedWithoutArtifacts(t *testing.T) {
	dataDir := t.TempDir()
	url := "https://docs.example.com/index"
	links := strings.Repeat(`<a href="/x">x</a> `, 20)
	fetcher := &fakeFetcher{pages: map[string]fetch.Result{
		url: page(`<html><head><title>Index</title></head><body><main>` + links + `</main></body></html>`),
	}}
	co := newTestCoordinator(t, fetcher, &fakeRobots{}, &staticDiscoverer{urls: []string{url}}, Options{DataDir: dataDir})

	sum, err := co.Run(context.Background(), testSource())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.SkippedIndex)

	recs := readRecords(t, dataDir, "snowflake")
	require.Len(t, recs, 1)
	assert.Equal(t, 200, recs[0].Status)
	assert.Equal(t, "skip-index-like", recs[0].Error)
	assert.Empty(t, recs[0].PathMD)
	assert.Empty(t, recs[0].HashHTML)

	// The resume set treats the skip as done.
	seen, err := ReadSeen(dataDir, "snowflake")
	require.NoError(t, err)
	assert.True(t, seen.URLs[url])
}

func TestRun_CanonicalDuplicateSkipped(t *testing.T) {
	dataDir := t.TempDir()
	a := "https://docs.example.com/a"
	b := "https://docs.example.com/b"
	canon := "https://docs.example.com/a"
	fetcher := &fakeFetcher{pages: map[string]fetch.Result{
		a: articlePage(canon),
		b: articlePage(canon),
	}}
	co := newTestCoordinator(t, fetcher, &fakeRobots{}, &staticDiscoverer{urls: []string{a, b}}, Options{DataDir: dataDir})

	sum, err := co.Run(context.Background(), testSource())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Fetched)
	assert.Equal(t, 1, sum.SkippedDupes)
	assert.Len(t, readRecords(t, dataDir, "snowflake"), 1)
}

func TestIngestOne_PersistFailureReleasesCanonical(t *testing.T) {
	dataDir := t.TempDir()
	// A regular file where the md tree should go makes the markdown write fail.
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "md"), []byte("x"), 0o644))

	a := "https://docs.example.com/a"
	canon := "https://docs.example.com/page"
	fetcher := &fakeFetcher{pages: map[string]fetch.Result{a: articlePage(canon)}}
	co := newTestCoordinator(t, fetcher, &fakeRobots{}, &staticDiscoverer{}, Options{DataDir: dataDir})

	ledger, err := OpenLedger(dataDir, "snowflake")
	require.NoError(t, err)
	defer ledger.Close()

	store := NewStorage(dataDir)
	seen := Seen{URLs: map[string]bool{}, Canonicals: map[string]bool{}}
	var mu sync.Mutex
	var sum Summary

	err = co.ingestOne(context.Background(), testSource(), a, ledger, store, &seen, &mu, &sum)
	require.Error(t, err)
	assert.False(t, seen.Canonicals[canon], "failed persist must not claim the canonical")

	// With the blocker gone, another URL for the same page still gets stored.
	require.NoError(t, os.Remove(filepath.Join(dataDir, "md")))
	b := "https://docs.example.com/b"
	fetcher.pages[b] = articlePage(canon)
	require.NoError(t, co.ingestOne(context.Background(), testSource(), b, ledger, store, &seen, &mu, &sum))
	assert.Equal(t, 1, sum.Fetched)
	assert.True(t, seen.Canonicals[canon])
}

func TestRun_DryRunFetchesNothing(t *testing.T) {
	url := "https://docs.example.com/guide"
	fetcher := &fakeFetcher{pages: map[string]fetch.Result{url: articlePage("")}}
	co := newTestCoordinator(t, fetcher, &fakeRobots{}, &staticDiscoverer{urls: []string{url}}, Options{DryRun: true})

	sum, err := co.Run(context.Background(), testSource())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Total)
	assert.Equal(t, 0, fetcher.callCount(url))
}

func TestBuildWorklist_FilterDedupSortCap(t *testing.T) {
	manual := filepath.Join(t.TempDir(), "urls.txt")
	require.NoError(t, os.WriteFile(manual, []byte(
		"# pinned pages\n\nhttps://docs.example.com/c?utm_source=x\nhttps://other.example.net/z\n"), 0o644))

	disc := &staticDiscoverer{urls: []string{
		"https://docs.example.com/b",
		"https://docs.example.com/a",
		"https://docs.example.com/a#frag",
		"https://docs.example.com/internal/secret",
	}}
	co := newTestCoordinator(t, &fakeFetcher{}, &fakeRobots{}, disc, Options{})

	src := testSource()
	src.Deny = []string{"*/internal/*"}
	src.ManualURLsFile = manual

	urls, err := co.BuildWorklist(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://docs.example.com/a",
		"https://docs.example.com/b",
		"https://docs.example.com/c",
	}, urls)

	co.opts.MaxURLs = 2
	urls, err = co.BuildWorklist(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://docs.example.com/a",
		"https://docs.example.com/b",
	}, urls)
}

func TestReadSeen_ToleratesMalformedLines(t *testing.T) {
	dataDir := t.TempDir()
	dir := filepath.Join(dataDir, "meta")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	content := `{"url":"https://docs.example.com/ok","status":200,"product":"p","fetched_at":"t"}
not json at all
{"url":"https://docs.example.com/fail","status":0,"product":"p","fetched_at":"t","error":"max_retries_exceeded"}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "p.jsonl"), []byte(content), 0o644))

	seen, err := ReadSeen(dataDir, "p")
	require.NoError(t, err)
	assert.True(t, seen.URLs["https://docs.example.com/ok"])
	assert.False(t, seen.URLs["https://docs.example.com/fail"])
}
