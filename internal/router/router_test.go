package router

import (
	"strings"
	"testing"
)

func twoShardConfig() ShardConfig {
	return ShardConfig{Version: 1, Shards: []Shard{
		{ID: 2, URL: "http://shard-a"},
		{ID: 3, URL: "http://shard-b"},
	}}
}

func fourShardConfig() ShardConfig {
	return ShardConfig{Version: 1, Shards: []Shard{
		{ID: 4, URL: "http://shard-4"},
		{ID: 5, URL: "http://shard-5"},
		{ID: 6, URL: "http://shard-6"},
		{ID: 7, URL: "http://shard-7"},
	}}
}

func TestFromConfigRejectsZeroID(t *testing.T) {
	_, err := FromConfig(ShardConfig{Shards: []Shard{{ID: 0, URL: "http://x"}}})
	if err == nil {
		t.Fatalf("expected error for shard id 0")
	}
}

func TestFromConfigRejectsDuplicateID(t *testing.T) {
	_, err := FromConfig(ShardConfig{Shards: []Shard{
		{ID: 2, URL: "http://a"}, {ID: 2, URL: "http://b"},
	}})
	if err == nil {
		t.Fatalf("expected error for duplicate shard id")
	}
}

func TestFromConfigRejectsAmbiguousPrefix(t *testing.T) {
	// id=1 -> empty suffix (bitLen 0), id=2 -> suffix "0" (bitLen 1).
	// The empty suffix is a prefix of everything, so this is ambiguous.
	_, err := FromConfig(ShardConfig{Shards: []Shard{
		{ID: 1, URL: "http://a"}, {ID: 2, URL: "http://b"},
	}})
	if err == nil {
		t.Fatalf("expected error for ambiguous prefix")
	}
}

func TestFromConfigRejectsEmpty(t *testing.T) {
	_, err := FromConfig(ShardConfig{})
	if err == nil {
		t.Fatalf("expected error for empty config")
	}
}

func TestValidateCompleteConfig(t *testing.T) {
	r, err := FromConfig(twoShardConfig())
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}
	if err := Validate(r); err != nil {
		t.Fatalf("expected complete config to validate, got: %v", err)
	}
}

func TestValidateReportsUncoveredSuffix(t *testing.T) {
	cfg := twoShardConfig()
	cfg.Shards = cfg.Shards[:1] // drop shard 3, leaving only the even suffix
	r, err := FromConfig(cfg)
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}
	err = Validate(r)
	if err == nil {
		t.Fatalf("expected validation failure for incomplete config")
	}
	if !strings.Contains(err.Error(), "uncovered") {
		t.Fatalf("expected uncovered-suffix message, got: %v", err)
	}
}

func TestRouteByRequestIDEvenOdd(t *testing.T) {
	r, err := FromConfig(twoShardConfig())
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}
	even := strings.Repeat("0", 63) + "0"
	odd := strings.Repeat("0", 63) + "1"

	url, id, err := r.RouteByRequestID(even)
	if err != nil || url != "http://shard-a" || id != 2 {
		t.Fatalf("even suffix: got url=%s id=%d err=%v", url, id, err)
	}
	url, id, err = r.RouteByRequestID(odd)
	if err != nil || url != "http://shard-b" || id != 3 {
		t.Fatalf("odd suffix: got url=%s id=%d err=%v", url, id, err)
	}
}

func TestRouteByRequestIDFourWay(t *testing.T) {
	r, err := FromConfig(fourShardConfig())
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}
	cases := map[string]int32{
		strings.Repeat("0", 63) + "0": 4, // ...00 mod 4
		strings.Repeat("0", 63) + "1": 5, // ...01 mod 4
		strings.Repeat("0", 63) + "2": 6, // ...10 mod 4
		strings.Repeat("0", 63) + "3": 7, // ...11 mod 4
	}
	for hex, wantID := range cases {
		_, id, err := r.RouteByRequestID(hex)
		if err != nil {
			t.Fatalf("RouteByRequestID(%s) failed: %v", hex, err)
		}
		if id != wantID {
			t.Fatalf("RouteByRequestID(%s) = shard %d, want %d", hex, id, wantID)
		}
	}
}

func TestRouteByRequestIDCaseAndPrefixInsensitive(t *testing.T) {
	r, err := FromConfig(twoShardConfig())
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}
	base := strings.Repeat("0", 63) + "F"
	lower, _, err1 := r.RouteByRequestID(strings.ToLower(base))
	upper, _, err2 := r.RouteByRequestID(strings.ToUpper(base))
	prefixed, _, err3 := r.RouteByRequestID("0x" + base)
	if err1 != nil || err2 != nil || err3 != nil {
		t.Fatalf("unexpected errors: %v %v %v", err1, err2, err3)
	}
	if lower != upper || upper != prefixed {
		t.Fatalf("case/prefix handling mismatch: %s %s %s", lower, upper, prefixed)
	}
}

func TestRouteByRequestIDRejectsShortInput(t *testing.T) {
	r, err := FromConfig(twoShardConfig())
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}
	_, _, err = r.RouteByRequestID("00")
	if err == nil || !strings.Contains(err.Error(), "invalid request ID format") {
		t.Fatalf("expected invalid format error, got %v", err)
	}
}

func TestRouteByShardID(t *testing.T) {
	r, err := FromConfig(twoShardConfig())
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}
	if url, ok := r.RouteByShardID(2); !ok || url != "http://shard-a" {
		t.Fatalf("RouteByShardID(2) = %s, %v", url, ok)
	}
	if _, ok := r.RouteByShardID(99); ok {
		t.Fatalf("expected no match for unknown shard id")
	}
}

func TestRandomTargetCollapsesDuplicates(t *testing.T) {
	cfg := ShardConfig{Shards: []Shard{
		{ID: 4, URL: "http://same"},
		{ID: 5, URL: "http://same"},
		{ID: 6, URL: "http://other"},
		{ID: 7, URL: "http://other"},
	}}
	r, err := FromConfig(cfg)
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}
	targets := r.AllTargets()
	if len(targets) != 2 {
		t.Fatalf("expected 2 distinct targets, got %d: %v", len(targets), targets)
	}
}

func TestFailsafeRouterRejectsEverything(t *testing.T) {
	r := NewFailsafe()
	if !IsFailsafe(r) {
		t.Fatalf("expected IsFailsafe to report true")
	}
	if _, _, err := r.RouteByRequestID(strings.Repeat("0", 64)); err == nil {
		t.Fatalf("expected failsafe router to reject routing")
	}
	if _, err := r.RandomTarget(); err == nil {
		t.Fatalf("expected failsafe router to reject RandomTarget")
	}
}
