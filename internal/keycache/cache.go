// Package keycache fronts the key store with a short-TTL in-memory cache,
// per SPEC_FULL.md's ApiKeyCache module. Negative results are cached too,
// so a flood of unknown keys doesn't hammer the database.
package keycache

import (
	"sync"
	"time"

	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/timeutil"
)

// TTL is the absolute-time expiry for every cache entry.
const TTL = 60 * time.Second

// Info is the projection of an api key record the rate limiter and auth
// gate need. Equality of all fields determines whether the rate limiter
// keeps or rebuilds its buckets for a key (see internal/ratelimit).
type Info struct {
	APIKey        string
	RPS           int32
	RPD           int32
	PricingPlanID int64
	HasPlan       bool
	ActiveUntil   time.Time
	HasExpiry     bool
	Status        string
}

// Equal reports whether two Info values are identical in every field used
// for bucket-rebuild comparison.
func (i Info) Equal(o Info) bool {
	return i.APIKey == o.APIKey && i.RPS == o.RPS && i.RPD == o.RPD &&
		i.PricingPlanID == o.PricingPlanID && i.HasPlan == o.HasPlan &&
		i.ActiveUntil.Equal(o.ActiveUntil) && i.HasExpiry == o.HasExpiry &&
		i.Status == o.Status
}

// Usable reports whether the key is active, has a plan, and is not expired.
func (i Info) Usable(now time.Time) bool {
	if i.Status != "active" || !i.HasPlan {
		return false
	}
	if i.HasExpiry && !now.Before(i.ActiveUntil) {
		return false
	}
	return true
}

// Loader fetches fresh key info from the backing store. A nil Info with a
// nil error means the key does not exist (a negative result worth caching).
type Loader func(apiKey string) (*Info, error)

type entry struct {
	info    *Info // nil = negative cache entry
	expires time.Time
}

// Cache is the concurrent, TTL-bounded api-key cache.
type Cache struct {
	mu     sync.RWMutex
	data   map[string]entry
	load   Loader
	clock  timeutil.Meter
}

// New constructs a Cache backed by load, using clk for expiry timestamps.
func New(load Loader, clk timeutil.Meter) *Cache {
	return &Cache{data: make(map[string]entry), load: load, clock: clk}
}

// Get returns the cached (or freshly loaded) info for apiKey, or nil if the
// key does not exist. On a miss a load error is returned so the handler
// can surface a 500; the error itself is never cached.
func (c *Cache) Get(apiKey string) (*Info, error) {
	now := c.clock.Now()

	c.mu.RLock()
	e, ok := c.data[apiKey]
	c.mu.RUnlock()
	if ok && now.Before(e.expires) {
		return e.info, nil
	}

	info, err := c.load(apiKey)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.data[apiKey] = entry{info: info, expires: now.Add(TTL)}
	c.mu.Unlock()
	return info, nil
}

// Invalidate drops any cached entry for apiKey. Admin-path mutations call
// this synchronously with the DB write so a single replica reflects the
// change immediately.
func (c *Cache) Invalidate(apiKey string) {
	c.mu.Lock()
	delete(c.data, apiKey)
	c.mu.Unlock()
}

// InvalidateAll clears the entire cache.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.data = make(map[string]entry)
	c.mu.Unlock()
}
