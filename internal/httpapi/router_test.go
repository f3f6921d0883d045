package httpapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/router"
)

type fakeReadiness struct {
	rtr     router.Router
	dbError error
}

func (f fakeReadiness) Router() router.Router { return f.rtr }
func (f fakeReadiness) PingDatabase() error    { return f.dbError }

func TestHealthzAlwaysOK(t *testing.T) {
	s := NewSurface(nil, fakeReadiness{rtr: router.NewFailsafe()})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestReadyzFailsOnFailsafeRouter(t *testing.T) {
	s := NewSurface(nil, fakeReadiness{rtr: router.NewFailsafe()})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestReadyzFailsOnDatabaseError(t *testing.T) {
	cfg := router.ShardConfig{Version: 1, Shards: []router.Shard{{ID: 1, URL: "http://a"}}}
	rtr, _ := router.FromConfig(cfg)
	s := NewSurface(nil, fakeReadiness{rtr: rtr, dbError: errors.New("connection refused")})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestReadyzOKWithLiveRouterAndDatabase(t *testing.T) {
	cfg := router.ShardConfig{Version: 1, Shards: []router.Shard{{ID: 1, URL: "http://a"}}}
	rtr, _ := router.FromConfig(cfg)
	s := NewSurface(nil, fakeReadiness{rtr: rtr})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestCORSPreflightReturns204(t *testing.T) {
	s := NewSurface(nil, fakeReadiness{rtr: router.NewFailsafe()})
	req := httptest.NewRequest(http.MethodOptions, "/api/payment/plans", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://example.com" {
		t.Fatalf("expected CORS origin echoed, got %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}
