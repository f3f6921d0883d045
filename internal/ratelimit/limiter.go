// Package ratelimit implements the per-key twin token-bucket limiter from
// SPEC_FULL.md: one bucket refills every second to the plan's per-second
// cap, the other refills every day to the plan's per-day cap. Both must
// have a token available for a request to be allowed.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/keycache"
	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/timeutil"
)

// bucket is a greedy token bucket: it refills to full capacity once per
// window rather than trickling continuously, matching SPEC_FULL.md's
// "refill is greedy at capacity per refill window" rule.
type bucket struct {
	capacity     int64
	tokens       int64
	window       time.Duration
	lastRefill   time.Time
}

func newBucket(capacity int64, window time.Duration, now time.Time) *bucket {
	return &bucket{capacity: capacity, tokens: capacity, window: window, lastRefill: now}
}

// refill tops the bucket back up to capacity if a full window has elapsed
// since the last refill.
func (b *bucket) refill(now time.Time) {
	if now.Sub(b.lastRefill) >= b.window {
		b.tokens = b.capacity
		b.lastRefill = now
	}
}

// tryConsume attempts to take one token, refilling first if due. It returns
// whether the token was taken and, if not, how long until the next refill.
func (b *bucket) tryConsume(now time.Time) (bool, time.Duration) {
	b.refill(now)
	if b.tokens > 0 {
		b.tokens--
		return true, 0
	}
	wait := b.window - now.Sub(b.lastRefill)
	if wait < 0 {
		wait = 0
	}
	return false, wait
}

func (b *bucket) remaining() int64 { return b.tokens }

// Entry pairs a key's cached info with its twin buckets. When the stored
// info no longer equals the cache's current value, the entry is discarded
// and rebuilt atomically.
type Entry struct {
	mu     sync.Mutex
	info   keycache.Info
	second *bucket
	day    *bucket
}

// Result is the outcome of a tryConsume call.
type Result struct {
	Allowed           bool
	Remaining         int64
	RetryAfterSeconds int
}

// Limiter keeps one Entry per api key.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*Entry
	cache   *keycache.Cache
	clock   timeutil.Meter
}

// New constructs a Limiter that reads key info from cache and uses clk as
// the time source for bucket refills.
func New(cache *keycache.Cache, clk timeutil.Meter) *Limiter {
	return &Limiter{entries: make(map[string]*Entry), cache: cache, clock: clk}
}

// TryConsume attempts to consume one token from both of apiKey's buckets.
func (l *Limiter) TryConsume(apiKey string) (Result, error) {
	info, err := l.cache.Get(apiKey)
	if err != nil {
		return Result{}, err
	}
	if info == nil {
		return Result{Allowed: false, RetryAfterSeconds: 0}, nil
	}

	now := l.clock.Now()

	l.mu.Lock()
	e, ok := l.entries[apiKey]
	if !ok || !e.info.Equal(*info) {
		e = &Entry{
			info:   *info,
			second: newBucket(int64(info.RPS), time.Second, now),
			day:    newBucket(int64(info.RPD), 24*time.Hour, now),
		}
		l.entries[apiKey] = e
	}
	l.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	okSecond, waitSecond := e.second.tryConsume(now)
	okDay, waitDay := e.day.tryConsume(now)

	if okSecond && okDay {
		return Result{Allowed: true, Remaining: minInt64(e.second.remaining(), e.day.remaining())}, nil
	}

	// Consumption from a bucket that did succeed must be refunded: both
	// buckets must agree for the request to be allowed.
	if okSecond {
		e.second.tokens++
	}
	if okDay {
		e.day.tokens++
	}

	wait := waitSecond
	if waitDay > wait {
		wait = waitDay
	}
	seconds := int(math.Ceil(wait.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return Result{Allowed: false, RetryAfterSeconds: seconds}, nil
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
