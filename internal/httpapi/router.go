// Package httpapi implements the public payment surface and the admin
// health/metrics endpoints from SPEC_FULL.md §6, using
// github.com/go-chi/chi/v5 for routing.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/payment"
	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/router"
)

// ReadinessChecker reports whether the service is ready to serve traffic:
// the live router is not a FailsafeRouter and the database is reachable.
type ReadinessChecker interface {
	Router() router.Router
	PingDatabase() error
}

// Surface wires the payment HTTP surface plus health/readiness/metrics.
type Surface struct {
	payments  *payment.Service
	readiness ReadinessChecker
}

// NewSurface constructs the admin/public HTTP surface.
func NewSurface(payments *payment.Service, readiness ReadinessChecker) *Surface {
	return &Surface{payments: payments, readiness: readiness}
}

// NewRouter builds the chi router for the admin/public listener.
func (s *Surface) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/payment", func(pr chi.Router) {
		pr.Get("/plans", s.handleListPlans)
		pr.Post("/initiate", s.handleInitiate)
		pr.Post("/complete", s.handleComplete)
		pr.Get("/session/{id}", s.handleGetSession)
		pr.Get("/key/{apiKey}", s.handleGetKey)
	})

	return r
}

// corsMiddleware applies the permissive CORS policy from spec.md §6.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Requested-With, Accept, Origin")
		w.Header().Set("Access-Control-Max-Age", "3600")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Surface) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Surface) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if router.IsFailsafe(s.readiness.Router()) {
		http.Error(w, "shard router not yet configured", http.StatusServiceUnavailable)
		return
	}
	if err := s.readiness.PingDatabase(); err != nil {
		http.Error(w, "database unreachable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
