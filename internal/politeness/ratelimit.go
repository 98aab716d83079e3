// Package politeness holds the per-domain crawl controls: rate limiting and
// robots.txt compliance. All state is owned by a Registry/Cache created for
// one ingestion run; there is no package-level state.
package politeness

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter enforces a minimum inter-request interval of 1/rps for one domain,
// plus a one-shot extra delay pushed by a server's Retry-After header. The
// extra delay is honored once, then reset.
type Limiter struct {
	bucket *rate.Limiter

	mu    sync.Mutex
	extra time.Duration
}

func NewLimiter(rps float64) *Limiter {
	if rps <= 0 {
		rps = 0.001
	}
	return &Limiter{bucket: rate.NewLimiter(rate.Limit(rps), 1)}
}

func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.bucket.Wait(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	extra := l.extra
	l.extra = 0
	l.mu.Unlock()

	if extra <= 0 {
		return nil
	}
	timer := time.NewTimer(extra)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PushDelay records an additional delay before the next request, keeping the
// maximum of any pending delays.
func (l *Limiter) PushDelay(d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	if d > l.extra {
		l.extra = d
	}
	l.mu.Unlock()
}

// Registry owns the per-domain limiters and in-flight locks for one run.
// The lock serializes requests per domain: politeness, not throughput.
type Registry struct {
	rps float64

	mu       sync.Mutex
	limiters map[string]*Limiter
	locks    map[string]*sync.Mutex
}

func NewRegistry(rps float64) *Registry {
	return &Registry{
		rps:      rps,
		limiters: make(map[string]*Limiter),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (r *Registry) Limiter(domain string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[domain]
	if !ok {
		l = NewLimiter(r.rps)
		r.limiters[domain] = l
	}
	return l
}

func (r *Registry) Lock(domain string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.locks[domain]
	if !ok {
		m = &sync.Mutex{}
		r.locks[domain] = m
	}
	return m
}
