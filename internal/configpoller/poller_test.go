package configpoller

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/router"
	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/store"
	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/timeutil"
)

type fakeReader struct {
	records []*store.ShardConfigRecord
	calls   int
}

func (f *fakeReader) GetLatest(ctx context.Context) (*store.ShardConfigRecord, error) {
	if f.calls >= len(f.records) {
		if len(f.records) == 0 {
			return nil, nil
		}
		return f.records[len(f.records)-1], nil
	}
	rec := f.records[f.calls]
	f.calls++
	return rec, nil
}

func decodeJSON(raw string) (router.ShardConfig, error) {
	var cfg router.ShardConfig
	err := json.Unmarshal([]byte(raw), &cfg)
	return cfg, err
}

func configJSON(t *testing.T, cfg router.ShardConfig) string {
	t.Helper()
	b, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	return string(b)
}

func TestPollerPublishesValidConfig(t *testing.T) {
	clk := timeutil.NewMock()
	cfg := router.ShardConfig{Version: 1, Shards: []router.Shard{{ID: 2, URL: "http://a"}, {ID: 3, URL: "http://b"}}}
	reader := &fakeReader{records: []*store.ShardConfigRecord{{ID: 1, ConfigJSON: configJSON(t, cfg)}}}

	p := New(reader, decodeJSON, clk, router.NewFailsafe(), false)
	if !router.IsFailsafe(p.Router()) {
		t.Fatalf("expected failsafe router before first tick")
	}

	p.tick(context.Background())

	if router.IsFailsafe(p.Router()) {
		t.Fatalf("expected a live router after a valid tick")
	}
	_, shardID, err := p.Router().RouteByRequestID("0000000000000000000000000000000000000000000000000000000000000000")
	if err != nil {
		t.Fatalf("RouteByRequestID failed: %v", err)
	}
	if shardID != 2 {
		t.Fatalf("expected even suffix to route to shard 2, got %d", shardID)
	}
}

func TestPollerDoesNotAdvanceOnInvalidConfig(t *testing.T) {
	clk := timeutil.NewMock()
	badCfg := router.ShardConfig{Version: 1, Shards: []router.Shard{{ID: 4, URL: "http://a"}}} // incomplete coverage
	reader := &fakeReader{records: []*store.ShardConfigRecord{{ID: 1, ConfigJSON: configJSON(t, badCfg)}}}

	p := New(reader, decodeJSON, clk, router.NewFailsafe(), false)
	p.tick(context.Background())

	if !router.IsFailsafe(p.Router()) {
		t.Fatalf("expected the failsafe router to survive an invalid publish")
	}
	if p.lastID.Load() != 0 {
		t.Fatalf("expected watermark to stay at 0 after a failed validation, got %d", p.lastID.Load())
	}
}

func TestPollerSkipsUnchangedID(t *testing.T) {
	clk := timeutil.NewMock()
	cfg := router.ShardConfig{Version: 1, Shards: []router.Shard{{ID: 2, URL: "http://a"}, {ID: 3, URL: "http://b"}}}
	rec := &store.ShardConfigRecord{ID: 5, ConfigJSON: configJSON(t, cfg)}
	reader := &fakeReader{records: []*store.ShardConfigRecord{rec, rec}}

	p := New(reader, decodeJSON, clk, router.NewFailsafe(), false)
	p.tick(context.Background())
	first := p.Router()
	p.tick(context.Background())
	second := p.Router()

	if first != second {
		t.Fatalf("expected the router pointer to stay stable across an unchanged id")
	}
}

func TestPollerReaderErrorDoesNotAdvance(t *testing.T) {
	clk := timeutil.NewMock()
	p := New(failingReader{}, decodeJSON, clk, router.NewFailsafe(), false)
	p.tick(context.Background())
	if !router.IsFailsafe(p.Router()) {
		t.Fatalf("expected failsafe router to survive a store read error")
	}
}

type failingReader struct{}

func (failingReader) GetLatest(ctx context.Context) (*store.ShardConfigRecord, error) {
	return nil, errors.New("connection refused")
}
