// Package fetch implements the bounded-concurrency HTTP fetcher with a
// status-code-keyed retry policy.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/visionllm/ingestor/internal/politeness"
	"github.com/visionllm/ingestor/internal/urlutil"
)

const (
	DefaultMaxAttempts = 3
	defaultBackoffBase = 500 * time.Millisecond
)

// Result is the outcome of one fetch including retries. Status 0 means no
// usable HTTP response: cancellation, transport failure or retry exhaustion.
type Result struct {
	Status   int
	FinalURL string
	Body     string
	Elapsed  time.Duration
	Error    string
}

// Fetcher retrieves pages under two concurrency bounds: a global admission
// semaphore shared by all domains, and the per-domain serialization lock
// owned by the politeness registry.
type Fetcher struct {
	client      *http.Client
	userAgent   string
	registry    *politeness.Registry
	sem         *semaphore.Weighted
	maxAttempts int

	// BackoffBase is the first retry delay, doubled per attempt.
	// Tests shrink it; production uses the default.
	BackoffBase time.Duration
}

func NewFetcher(client *http.Client, userAgent string, registry *politeness.Registry, concurrency, maxAttempts int) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Fetcher{
		client:      client,
		userAgent:   userAgent,
		registry:    registry,
		sem:         semaphore.NewWeighted(int64(concurrency)),
		maxAttempts: maxAttempts,
		BackoffBase: defaultBackoffBase,
	}
}

// Fetch retrieves rawURL with retries. Retry policy: 429/503 back off and
// push any Retry-After delay into the domain limiter; other 5xx back off;
// any other non-2xx status returns immediately as non-retryable; transport
// errors back off. Exhaustion yields status 0 with "max_retries_exceeded".
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) Result {
	start := time.Now()

	if err := f.sem.Acquire(ctx, 1); err != nil {
		return Result{Status: 0, Elapsed: time.Since(start), Error: "canceled"}
	}
	defer f.sem.Release(1)

	domain := urlutil.DomainKey(rawURL)
	limiter := f.registry.Limiter(domain)
	lock := f.registry.Lock(domain)

	var finalURL string
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return Result{Status: 0, FinalURL: finalURL, Elapsed: time.Since(start), Error: "canceled"}
		}

		status, final, body, header, err := f.doRequest(ctx, rawURL, lock)
		if final != "" {
			finalURL = final
		}

		if err != nil {
			if ctx.Err() != nil {
				return Result{Status: 0, FinalURL: finalURL, Elapsed: time.Since(start), Error: "canceled"}
			}
			if !f.sleepBackoff(ctx, attempt) {
				return Result{Status: 0, FinalURL: finalURL, Elapsed: time.Since(start), Error: "canceled"}
			}
			continue
		}

		switch {
		case status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable:
			if delay := retryAfter(header); delay > 0 {
				limiter.PushDelay(delay)
			}
			if !f.sleepBackoff(ctx, attempt) {
				return Result{Status: 0, FinalURL: finalURL, Elapsed: time.Since(start), Error: "canceled"}
			}
		case status >= 200 && status < 300:
			return Result{Status: status, FinalURL: finalURL, Body: body, Elapsed: time.Since(start)}
		case status >= 500:
			if !f.sleepBackoff(ctx, attempt) {
				return Result{Status: 0, FinalURL: finalURL, Elapsed: time.Since(start), Error: "canceled"}
			}
		default:
			return Result{
				Status:   status,
				FinalURL: finalURL,
				Elapsed:  time.Since(start),
				Error:    fmt.Sprintf("http_status_%d", status),
			}
		}
	}

	return Result{Status: 0, FinalURL: finalURL, Elapsed: time.Since(start), Error: "max_retries_exceeded"}
}

// doRequest performs one attempt while holding the domain lock, so at most
// one request per domain is in flight at a time.
func (f *Fetcher) doRequest(ctx context.Context, rawURL string, lock *sync.Mutex) (int, string, string, http.Header, error) {
	lock.Lock()
	defer lock.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, "", "", nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, "", "", nil, err
	}
	defer resp.Body.Close()

	final := resp.Request.URL.String()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, final, "", nil, err
	}
	return resp.StatusCode, final, string(body), resp.Header, nil
}

// sleepBackoff waits base * 2^(attempt-1); false means the context expired.
func (f *Fetcher) sleepBackoff(ctx context.Context, attempt int) bool {
	d := f.BackoffBase * time.Duration(1<<(attempt-1))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func retryAfter(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	raw := header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
