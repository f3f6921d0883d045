// Package metrics exposes the proxy's prometheus counters and histograms.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProxyRequestsTotal counts every proxied request by shard id and
	// outcome status class ("2xx", "4xx", "5xx").
	ProxyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxy_requests_total",
		Help: "Total number of proxied requests, by shard id and status class.",
	}, []string{"shard_id", "status_class"})

	// ProxyRateLimitedTotal counts requests denied by the rate limiter.
	ProxyRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proxy_rate_limited_total",
		Help: "Total number of requests denied by the per-key rate limiter.",
	})

	// ProxyAuthFailuresTotal counts requests denied at the auth gate.
	ProxyAuthFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proxy_auth_failures_total",
		Help: "Total number of requests rejected for missing or invalid credentials.",
	})

	// ProxyUpstreamDuration observes the latency of forwarded requests.
	ProxyUpstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "proxy_upstream_duration_seconds",
		Help:    "Latency of requests forwarded to upstream shards.",
		Buckets: prometheus.DefBuckets,
	}, []string{"shard_id"})

	// PaymentSessionsTotal counts payment sessions by terminal status.
	PaymentSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_sessions_total",
		Help: "Total number of payment sessions, by terminal status.",
	}, []string{"status"})

	// ShardConfigPublishesTotal counts successful hot-reload publishes.
	ShardConfigPublishesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shard_config_publishes_total",
		Help: "Total number of times the config poller published a new shard router.",
	})
)
