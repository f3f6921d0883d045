package main

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/aggregatorclient"
	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/config"
	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/configpoller"
	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/httpapi"
	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/keycache"
	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/payment"
	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/proxyserver"
	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/ratelimit"
	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/router"
	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/store"
	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/timeutil"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the proxy, the admin HTTP surface, and the background pollers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

// readinessBundle wires the live poller and database handle into
// httpapi.ReadinessChecker without httpapi needing to know about either
// concrete type.
type readinessBundle struct {
	poller *configpoller.Poller
	db     interface{ PingContext(context.Context) error }
}

func (b readinessBundle) Router() router.Router { return b.poller.Router() }
func (b readinessBundle) PingDatabase() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return b.db.PingContext(ctx)
}

func runServe() error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	if level, lerr := logrus.ParseLevel(cfg.Logging.Level); lerr == nil {
		logrus.SetLevel(level)
	}

	db, err := store.Open(cfg.DatabaseURL, store.PoolConfigFromConfig(*cfg))
	if err != nil {
		return err
	}
	defer db.Close()

	keys := store.NewKeyStore(db)
	sessions := store.NewPaymentStore(db)
	shardConfigs := store.NewShardConfigStore(db)

	clk := timeutil.System
	cache := keycache.New(func(apiKey string) (*keycache.Info, error) {
		k, err := keys.FindByAPIKey(context.Background(), apiKey)
		if err != nil || k == nil {
			return nil, err
		}
		info := &keycache.Info{APIKey: k.APIKey, Status: string(k.Status), HasPlan: k.PricingPlanID != nil}
		if k.PricingPlanID != nil {
			info.PricingPlanID = *k.PricingPlanID
			if plan, perr := keys.FindPlanByID(context.Background(), *k.PricingPlanID); perr == nil && plan != nil {
				info.RPS = plan.RequestsPerSecond
				info.RPD = plan.RequestsPerDay
			}
		}
		if k.ActiveUntil != nil {
			info.HasExpiry = true
			info.ActiveUntil = *k.ActiveUntil
		}
		return info, nil
	}, clk)
	limiter := ratelimit.New(cache, clk)

	initialRouter, lastID := loadStartupRouter(cfg, shardConfigs)
	poller := configpoller.New(shardConfigs, decodeShardConfig, clk, initialRouter, false)
	poller.PublishStartup(initialRouter, lastID)

	agg := aggregatorclient.NewFakeClient([]byte(cfg.PaymentServerSecret))
	minimum := big.NewInt(cfg.Payment.MinimumPayment)
	paymentSvc := payment.New(keys, sessions, cache, agg, clk, payment.Settings{
		SessionTTL:     time.Duration(cfg.Payment.SessionTTLMinutes) * time.Minute,
		MinimumPayment: minimum,
		PlanDuration:   time.Duration(cfg.Payment.PlanDurationDays) * 24 * time.Hour,
		AcceptWait:     time.Duration(cfg.Payment.AcceptWaitSeconds) * time.Second,
		ProofWait:      time.Duration(cfg.Payment.ProofWaitSeconds) * time.Second,
		ServerSecret:   []byte(cfg.PaymentServerSecret),
	})
	sweeper := payment.NewSweeper(sessions, clk)

	protected := make(map[string]bool, len(cfg.Auth.ProtectedMethods))
	for _, m := range cfg.Auth.ProtectedMethods {
		protected[m] = true
	}
	proxyHandler := proxyserver.New(poller, cache, limiter, clk, proxyserver.Settings{
		MaxBodyBytes:     cfg.Server.MaxBodyBytes,
		MaxHeaders:       cfg.Server.MaxHeaders,
		ProtectedMethods: protected,
		ForwardTimeout:   30 * time.Second,
	})

	surface := httpapi.NewSurface(paymentSvc, readinessBundle{poller: poller, db: db})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go poller.Run(ctx)
	go sweeper.Run(ctx)

	proxySrv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: proxyHandler.NewRouter()}
	adminSrv := &http.Server{Addr: cfg.Server.AdminAddr, Handler: surface.NewRouter()}

	go func() {
		logrus.WithField("addr", cfg.Server.ListenAddr).Info("proxy listening")
		if err := proxySrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("proxy server stopped")
		}
	}()
	go func() {
		logrus.WithField("addr", cfg.Server.AdminAddr).Info("admin surface listening")
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("admin server stopped")
		}
	}()

	<-ctx.Done()
	logrus.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), configpoller.ShutdownDrain)
	defer cancel()
	_ = proxySrv.Shutdown(shutdownCtx)
	_ = adminSrv.Shutdown(shutdownCtx)
	return nil
}

func decodeShardConfig(raw string) (router.ShardConfig, error) {
	var cfg router.ShardConfig
	err := json.Unmarshal([]byte(raw), &cfg)
	return cfg, err
}

// loadStartupRouter implements spec.md §6's startup precedence: load from
// SHARD_CONFIG_URI if set (fail-fast on any error), otherwise from the DB,
// downgrading to a FailsafeRouter if the DB has no usable config yet. A
// config loaded from SHARD_CONFIG_URI is persisted to shard_config so the
// DB and the live router stay consistent across restarts and replicas.
func loadStartupRouter(cfg *config.Config, shardConfigs *store.ShardConfigStore) (router.Router, int64) {
	if cfg.ShardConfigURI != "" {
		sc, err := configpoller.LoadFromURI(context.Background(), cfg.ShardConfigURI)
		if err != nil {
			logrus.WithError(err).Fatal("failed to load shard config from SHARD_CONFIG_URI")
		}
		r, err := router.FromConfig(sc)
		if err != nil {
			logrus.WithError(err).Fatal("invalid shard config from SHARD_CONFIG_URI")
		}
		if err := router.Validate(r); err != nil {
			logrus.WithError(err).Fatal("shard config from SHARD_CONFIG_URI failed coverage validation")
		}

		raw, err := json.Marshal(sc)
		if err != nil {
			logrus.WithError(err).Fatal("failed to re-encode shard config from SHARD_CONFIG_URI")
		}
		id, err := shardConfigs.SaveConfig(context.Background(), string(raw), "env:SHARD_CONFIG_URI")
		if err != nil {
			logrus.WithError(err).Fatal("failed to persist shard config from SHARD_CONFIG_URI")
		}
		return r, int64(id)
	}

	rec, err := shardConfigs.GetLatest(context.Background())
	if err != nil || rec == nil {
		logrus.WithError(err).Warn("no usable shard configuration in the database yet, starting with a failsafe router")
		return router.NewFailsafe(), 0
	}
	sc, err := decodeShardConfig(rec.ConfigJSON)
	if err != nil {
		logrus.WithError(err).Warn("stored shard configuration is malformed, starting with a failsafe router")
		return router.NewFailsafe(), 0
	}
	r, err := router.FromConfig(sc)
	if err != nil {
		logrus.WithError(err).Warn("stored shard configuration is invalid, starting with a failsafe router")
		return router.NewFailsafe(), 0
	}
	if err := router.Validate(r); err != nil {
		logrus.WithError(err).Warn("stored shard configuration failed coverage validation, starting with a failsafe router")
		return router.NewFailsafe(), 0
	}
	return r, int64(rec.ID)
}
