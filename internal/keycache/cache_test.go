package keycache

import (
	"testing"
	"time"

	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/timeutil"
)

func TestCacheLoadsOnMissAndReusesWithinTTL(t *testing.T) {
	clk := timeutil.NewMock()
	loads := 0
	c := New(func(apiKey string) (*Info, error) {
		loads++
		return &Info{APIKey: apiKey, RPS: 5, RPD: 1000, HasPlan: true, Status: "active"}, nil
	}, clk)

	if _, err := c.Get("k1"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, err := c.Get("k1"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if loads != 1 {
		t.Fatalf("expected 1 load within TTL, got %d", loads)
	}

	clk.Add(TTL + 1)
	if _, err := c.Get("k1"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if loads != 2 {
		t.Fatalf("expected reload after TTL expiry, got %d loads", loads)
	}
}

func TestCacheCachesNegativeResult(t *testing.T) {
	clk := timeutil.NewMock()
	loads := 0
	c := New(func(apiKey string) (*Info, error) {
		loads++
		return nil, nil
	}, clk)

	info, err := c.Get("unknown")
	if err != nil || info != nil {
		t.Fatalf("expected nil, nil for unknown key, got %v, %v", info, err)
	}
	if _, err := c.Get("unknown"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if loads != 1 {
		t.Fatalf("expected negative result to be cached, got %d loads", loads)
	}
}

func TestCacheInvalidate(t *testing.T) {
	clk := timeutil.NewMock()
	loads := 0
	c := New(func(apiKey string) (*Info, error) {
		loads++
		return &Info{APIKey: apiKey, Status: "active", HasPlan: true}, nil
	}, clk)

	c.Get("k1")
	c.Invalidate("k1")
	c.Get("k1")
	if loads != 2 {
		t.Fatalf("expected invalidate to force reload, got %d loads", loads)
	}
}

func TestInfoUsable(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		info Info
		want bool
	}{
		{"active with plan no expiry", Info{Status: "active", HasPlan: true}, true},
		{"revoked", Info{Status: "revoked", HasPlan: true}, false},
		{"no plan", Info{Status: "active", HasPlan: false}, false},
		{"expired", Info{Status: "active", HasPlan: true, HasExpiry: true, ActiveUntil: now.Add(-time.Second)}, false},
		{"future expiry", Info{Status: "active", HasPlan: true, HasExpiry: true, ActiveUntil: now.Add(time.Second)}, true},
	}
	for _, tc := range cases {
		if got := tc.info.Usable(now); got != tc.want {
			t.Errorf("%s: Usable() = %v, want %v", tc.name, got, tc.want)
		}
	}
}
