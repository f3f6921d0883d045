package ratelimit

import (
	"testing"
	"time"

	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/keycache"
	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/timeutil"
)

func TestTryConsumeUnknownKeyDenied(t *testing.T) {
	clk := timeutil.NewMock()
	cache := keycache.New(func(string) (*keycache.Info, error) { return nil, nil }, clk)
	l := New(cache, clk)

	res, err := l.TryConsume("ghost")
	if err != nil {
		t.Fatalf("TryConsume failed: %v", err)
	}
	if res.Allowed {
		t.Fatalf("expected denied for unknown key")
	}
}

func TestTryConsumeAllowsUpToCapacityThenDenies(t *testing.T) {
	clk := timeutil.NewMock()
	cache := keycache.New(func(key string) (*keycache.Info, error) {
		return &keycache.Info{APIKey: key, RPS: 5, RPD: 50000, HasPlan: true, Status: "active"}, nil
	}, clk)
	l := New(cache, clk)

	for i := 0; i < 5; i++ {
		res, err := l.TryConsume("k1")
		if err != nil {
			t.Fatalf("TryConsume failed: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request %d: expected allowed", i)
		}
	}
	res, err := l.TryConsume("k1")
	if err != nil {
		t.Fatalf("TryConsume failed: %v", err)
	}
	if res.Allowed {
		t.Fatalf("6th request: expected denied")
	}
	if res.RetryAfterSeconds < 1 {
		t.Fatalf("expected RetryAfterSeconds >= 1, got %d", res.RetryAfterSeconds)
	}
}

func TestTryConsumeRemainingIsMinOfBothBuckets(t *testing.T) {
	clk := timeutil.NewMock()
	cache := keycache.New(func(key string) (*keycache.Info, error) {
		return &keycache.Info{APIKey: key, RPS: 100, RPD: 3, HasPlan: true, Status: "active"}, nil
	}, clk)
	l := New(cache, clk)

	res, err := l.TryConsume("k1")
	if err != nil {
		t.Fatalf("TryConsume failed: %v", err)
	}
	if res.Remaining != 2 {
		t.Fatalf("expected remaining=min(99,2)=2, got %d", res.Remaining)
	}
}

func TestTryConsumeRefillsAfterWindow(t *testing.T) {
	clk := timeutil.NewMock()
	cache := keycache.New(func(key string) (*keycache.Info, error) {
		return &keycache.Info{APIKey: key, RPS: 1, RPD: 50000, HasPlan: true, Status: "active"}, nil
	}, clk)
	l := New(cache, clk)

	if res, _ := l.TryConsume("k1"); !res.Allowed {
		t.Fatalf("expected first request allowed")
	}
	if res, _ := l.TryConsume("k1"); res.Allowed {
		t.Fatalf("expected second request denied within the same second")
	}
	clk.Add(time.Second)
	if res, _ := l.TryConsume("k1"); !res.Allowed {
		t.Fatalf("expected request allowed after refill")
	}
}

func TestTryConsumeRebuildsBucketsOnPlanChange(t *testing.T) {
	clk := timeutil.NewMock()
	plan := &keycache.Info{APIKey: "k1", RPS: 5, RPD: 10000, HasPlan: true, Status: "active"}
	cache := keycache.New(func(string) (*keycache.Info, error) { return plan, nil }, clk)
	l := New(cache, clk)

	// Exhaust the 5 rps plan.
	for i := 0; i < 5; i++ {
		l.TryConsume("k1")
	}
	if res, _ := l.TryConsume("k1"); res.Allowed {
		t.Fatalf("expected exhausted bucket to deny")
	}

	// Simulate a plan change observed by the cache: new Info means the
	// rate limiter's compute-if-absent/equal-or-replace step must rebuild.
	cache.Invalidate("k1")
	plan = &keycache.Info{APIKey: "k1", RPS: 20, RPD: 500000, HasPlan: true, Status: "active"}

	allowed := 0
	for i := 0; i < 6; i++ {
		if res, _ := l.TryConsume("k1"); res.Allowed {
			allowed++
		}
	}
	if allowed < 6 {
		t.Fatalf("expected new capacity to allow at least 6 requests, got %d", allowed)
	}
}
