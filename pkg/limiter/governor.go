package limiter

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

/*
Governor composes the three coupled gates a dispatch must pass before a
page is fetched:

  - concurrency: a counting semaphore of render.concurrency outstanding pages
  - global: a token bucket shared across every host
  - per-host: a token bucket per hostname, augmented with crawl-delay and
    exponential backoff bookkeeping inherited from ConcurrentRateLimiter

Acquisition order is concurrency -> global -> per-host, matching the
dispatch loop's contract. Every wait is cancellable via context. Release
happens once, on completion, regardless of outcome.
*/
type Governor struct {
	sem    *semaphore.Weighted
	global *tokenBucket

	mu        sync.Mutex
	perHost   map[string]*tokenBucket
	perHostRps float64

	hostDelay *ConcurrentRateLimiter
}

func NewGovernor(param GovernorParam) *Governor {
	hostDelay := NewConcurrentRateLimiter()
	hostDelay.SetJitter(param.Jitter)
	if param.RandomSeed != 0 {
		hostDelay.SetRandomSeed(param.RandomSeed)
	}

	g := &Governor{
		perHost:    make(map[string]*tokenBucket),
		perHostRps: param.PerHostRps,
		hostDelay:  hostDelay,
	}
	if param.Concurrency > 0 {
		g.sem = semaphore.NewWeighted(int64(param.Concurrency))
	}
	if param.Rps > 0 {
		g.global = newTokenBucket(param.Rps)
	}
	return g
}

// Lease represents one admitted dispatch slot; Release must be called
// exactly once, regardless of whether the dispatch succeeded.
type Lease struct {
	g    *Governor
	host string
}

// Acquire blocks until concurrency, global, and per-host budget are all
// available for host, or ctx is cancelled.
func (g *Governor) Acquire(ctx context.Context, host string) (Lease, error) {
	if g.sem != nil {
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return Lease{}, err
		}
	}

	if g.global != nil {
		if err := g.global.acquire(ctx); err != nil {
			if g.sem != nil {
				g.sem.Release(1)
			}
			return Lease{}, err
		}
	}

	bucket := g.hostBucket(host)
	if bucket != nil {
		if err := bucket.acquire(ctx); err != nil {
			if g.global != nil {
				g.global.release()
			}
			if g.sem != nil {
				g.sem.Release(1)
			}
			return Lease{}, err
		}
	}

	if delay := g.hostDelay.ResolveDelay(host); delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			g.Release(Lease{g: g, host: host})
			return Lease{}, ctx.Err()
		}
	}

	return Lease{g: g, host: host}, nil
}

// Release returns the concurrency and global tokens to the pool and marks
// the host as fetched for crawl-delay/backoff bookkeeping. It is safe to
// call on a zero Lease.
func (g *Governor) Release(l Lease) {
	if l.g == nil {
		return
	}
	l.g.hostDelay.MarkLastFetchAsNow(l.host)
	if l.g.global != nil {
		l.g.global.release()
	}
	if l.g.sem != nil {
		l.g.sem.Release(1)
	}
}

// Backoff records a transient failure against host, extending the next
// ResolveDelay computation exponentially.
func (g *Governor) Backoff(host string) {
	g.hostDelay.Backoff(host)
}

// ResetBackoff clears accumulated backoff for host after a success.
func (g *Governor) ResetBackoff(host string) {
	g.hostDelay.ResetBackoff(host)
}

// SetCrawlDelay records a robots.txt Crawl-delay directive for host.
func (g *Governor) SetCrawlDelay(host string, delay time.Duration) {
	g.hostDelay.SetCrawlDelay(host, delay)
}

func (g *Governor) hostBucket(host string) *tokenBucket {
	if g.perHostRps <= 0 {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.perHost[host]
	if !ok {
		b = newTokenBucket(g.perHostRps)
		g.perHost[host] = b
	}
	return b
}

// tokenBucket is a classic token bucket: capacity = ceil(rps), refill =
// rps tokens/second, used for the burst-tolerant global and per-host gates.
type tokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	refillRate float64
	tokens     float64
	lastRefill time.Time
}

func newTokenBucket(rps float64) *tokenBucket {
	capacity := math.Ceil(rps)
	if capacity < 1 {
		capacity = 1
	}
	return &tokenBucket{
		capacity:   capacity,
		refillRate: rps,
		tokens:     capacity,
		lastRefill: time.Now(),
	}
}

func (b *tokenBucket) acquire(ctx context.Context) error {
	for {
		wait, ok := b.tryTake()
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (b *tokenBucket) tryTake() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return 0, true
	}

	missing := 1 - b.tokens
	wait := time.Duration(missing / b.refillRate * float64(time.Second))
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

// release is a no-op for the global/per-host buckets: tokens are reclaimed
// by time-based refill, not by an explicit return. It exists so Acquire's
// unwind path reads symmetrically with the semaphore release.
func (b *tokenBucket) release() {}
