// Package configpoller implements the background shard-configuration
// watcher from SPEC_FULL.md §4.2: every 2 s it reads the highest-id shard
// config row, and on strictly newer ids builds, validates, and atomically
// publishes a new router. A bad publish never replaces a good one. The
// ticker-driven background-loop shape is grounded on
// other_examples' sharding-system proxy's shardRefreshLoop (time.NewTicker
// plus a select over ticker.C/ctx.Done()).
package configpoller

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/metrics"
	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/router"
	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/store"
	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/timeutil"
)

// PollInterval is the fixed tick period, per spec.md §4.2.
const PollInterval = 2 * time.Second

// ShutdownDrain is the shutdown budget; cmd/aggregator-proxy uses it as the
// deadline for draining the HTTP servers. The poller itself does not wait
// on it: Run returns as soon as its context is cancelled, and an in-flight
// tick sees the same cancelled context.
const ShutdownDrain = 5 * time.Second

// ConfigJSONDecoder parses the wire shard-config JSON into a router.ShardConfig.
type ConfigJSONDecoder func(raw string) (router.ShardConfig, error)

// ConfigReader is the read dependency the poller needs; satisfied by
// *store.ShardConfigStore, narrowed here so tests can fake it.
type ConfigReader interface {
	GetLatest(ctx context.Context) (*store.ShardConfigRecord, error)
}

// Poller owns the live router reference and keeps it current by polling
// the shard_config store.
type Poller struct {
	store   ConfigReader
	decode  ConfigJSONDecoder
	clock   timeutil.Meter
	log     *logrus.Entry
	probe   bool // validateShardConnectivity
	envOnly bool // config came from SHARD_CONFIG_URI; probe failure is fail-fast

	live     atomic.Pointer[router.Router]
	lastID   atomic.Int64
}

// New constructs a Poller. initial is installed immediately (typically a
// FailsafeRouter until the first successful tick, or a router built from
// SHARD_CONFIG_URI at startup).
func New(st ConfigReader, decode ConfigJSONDecoder, clk timeutil.Meter, initial router.Router, validateConnectivity bool) *Poller {
	p := &Poller{store: st, decode: decode, clock: clk, probe: validateConnectivity, log: logrus.WithField("component", "configpoller")}
	p.live.Store(&initial)
	return p
}

// Router returns the currently published router. Safe for concurrent use;
// callers should snapshot it once per request.
func (p *Poller) Router() router.Router {
	return *p.live.Load()
}

// PublishStartup installs r as the live router without going through the
// poll/validate path, used at process start with the router loaded from
// SHARD_CONFIG_URI, from the database, or the failsafe router. lastID pins
// the watermark so a row that is not newer doesn't immediately override it.
func (p *Poller) PublishStartup(r router.Router, lastID int64) {
	p.live.Store(&r)
	p.lastID.Store(lastID)
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := p.clock.Ticker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	rec, err := p.store.GetLatest(ctx)
	if err != nil {
		p.log.WithError(err).Warn("failed to read shard config")
		return
	}
	if rec == nil {
		return
	}
	if int64(rec.ID) <= p.lastID.Load() {
		return
	}

	cfg, err := p.decode(rec.ConfigJSON)
	if err != nil {
		p.log.WithError(err).WithField("config_id", rec.ID).Warn("failed to parse shard config, not advancing")
		return
	}

	newRouter, err := router.FromConfig(cfg)
	if err != nil {
		p.log.WithError(err).WithField("config_id", rec.ID).Warn("failed to build router, not advancing")
		return
	}
	if err := router.Validate(newRouter); err != nil {
		p.log.WithError(err).WithField("config_id", rec.ID).Warn("shard config failed coverage validation, not advancing")
		return
	}
	if p.probe {
		if err := router.ProbeConnectivity(cfg, 5*time.Second); err != nil {
			p.log.WithError(err).WithField("config_id", rec.ID).Warn("shard connectivity probe failed, not advancing")
			return
		}
	}

	p.live.Store(&newRouter)
	p.lastID.Store(int64(rec.ID))
	metrics.ShardConfigPublishesTotal.Inc()
	p.log.WithField("config_id", rec.ID).Info("published new shard router")
}
