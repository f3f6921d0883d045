package proxyserver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/keycache"
	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/metrics"
	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/ratelimit"
	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/router"
	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/timeutil"
)

// RouterSource returns the currently live Router; satisfied by
// *configpoller.Poller, narrowed here to avoid an import cycle.
type RouterSource interface {
	Router() router.Router
}

// Settings are the ingress limits and protected-method set from
// spec.md §4.5 and §6.
type Settings struct {
	MaxBodyBytes     int64
	MaxHeaders       int
	ProtectedMethods map[string]bool
	ForwardTimeout   time.Duration
}

// Handler implements the end-to-end request pipeline.
type Handler struct {
	routers  RouterSource
	cache    *keycache.Cache
	limiter  *ratelimit.Limiter
	settings Settings
	client   *http.Client
	clock    timeutil.Meter
	log      *logrus.Entry
}

// New constructs a proxy Handler.
func New(routers RouterSource, cache *keycache.Cache, limiter *ratelimit.Limiter, clk timeutil.Meter, settings Settings) *Handler {
	return &Handler{
		routers: routers, cache: cache, limiter: limiter, settings: settings, clock: clk,
		client: &http.Client{Timeout: settings.ForwardTimeout},
		log:    logrus.WithField("component", "proxyserver"),
	}
}

// NewRouter builds the gorilla/mux router for the proxy listener.
func (h *Handler) NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.requestLogger)
	r.PathPrefix("/").HandlerFunc(h.ServeHTTP)
	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logrus.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path}).Debug("incoming proxy request")
		next.ServeHTTP(w, r)
	})
}

// ServeHTTP runs the full classify → route → auth → rate-limit → forward
// pipeline for a single request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.settings.MaxBodyBytes {
		http.Error(w, "request body too large", http.StatusBadRequest)
		return
	}
	if len(r.Header) > h.settings.MaxHeaders {
		http.Error(w, "too many headers", http.StatusBadRequest)
		return
	}

	c, err := classifyRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	requestID, hasReqID, shardID, hasShard, err := extractRoutingKey(r, c)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if c.isJSONRPC && h.settings.ProtectedMethods[c.method] {
		if !h.authenticateAndRateLimit(w, r) {
			return
		}
	}

	live := h.routers.Router()
	targetURL, targetShard, err := h.resolveTarget(live, requestID, hasReqID, shardID, hasShard)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	h.forward(w, r, c.body, targetURL, targetShard)
}

func (h *Handler) resolveTarget(live router.Router, requestID string, hasReqID bool, shardID int32, hasShard bool) (string, int32, error) {
	switch {
	case hasReqID:
		return live.RouteByRequestID(requestID)
	case hasShard:
		url, ok := live.RouteByShardID(shardID)
		if !ok {
			return "", 0, fmt.Errorf("router: no shard configured for id %d", shardID)
		}
		return url, shardID, nil
	default:
		url, err := live.RandomTarget()
		return url, 0, err
	}
}

// authenticateAndRateLimit runs spec.md §4.5 steps 3-4. It writes the
// response itself on denial and returns whether the pipeline may proceed.
func (h *Handler) authenticateAndRateLimit(w http.ResponseWriter, r *http.Request) bool {
	key, ok := extractCredential(r)
	if !ok {
		metrics.ProxyAuthFailuresTotal.Inc()
		h.deny401(w)
		return false
	}

	info, err := h.cache.Get(key)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return false
	}
	if info == nil || !info.Usable(h.clock.Now()) {
		metrics.ProxyAuthFailuresTotal.Inc()
		h.deny401(w)
		return false
	}

	result, err := h.limiter.TryConsume(key)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return false
	}
	if !result.Allowed {
		metrics.ProxyRateLimitedTotal.Inc()
		w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfterSeconds))
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return false
	}

	w.Header().Set("X-Rate-Limit-Remaining", strconv.FormatInt(result.Remaining, 10))
	return true
}

func (h *Handler) deny401(w http.ResponseWriter) {
	metrics.ProxyAuthFailuresTotal.Inc()
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

func (h *Handler) forward(w http.ResponseWriter, r *http.Request, body []byte, targetBaseURL string, shardID int32) {
	out, err := buildOutbound(r, body, targetBaseURL)
	if err != nil {
		http.Error(w, "bad upstream target", http.StatusBadGateway)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.settings.ForwardTimeout)
	defer cancel()
	out = out.WithContext(ctx)

	resp, err := h.client.Do(out)
	statusClass := "5xx"
	defer func() {
		metrics.ProxyRequestsTotal.WithLabelValues(shardIDHeader(shardID), statusClass).Inc()
	}()
	if err != nil {
		if ctx.Err() != nil {
			http.Error(w, "upstream timeout", http.StatusGatewayTimeout)
		} else {
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
		}
		return
	}
	defer resp.Body.Close()

	copyResponseHeaders(w, resp)
	w.Header().Set("X-Shard-ID", shardIDHeader(shardID))
	w.WriteHeader(resp.StatusCode)
	statusClass = strconv.Itoa(resp.StatusCode/100) + "xx"
	_, _ = io.Copy(w, resp.Body)
}
