// Package store implements the SQL persistence layer described in
// SPEC_FULL.md §4.7 and §6: api keys, pricing plans, payment sessions, and
// shard configuration. Pool sizing and the Postgres lock-conflict
// translation are grounded on the connection-pool pattern used by
// other_examples' sharding-system proxy (sql.Open("postgres", ...) plus
// SetMaxOpenConns/SetMaxIdleConns/SetConnMaxLifetime).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	_ "github.com/lib/pq"

	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/config"
)

// PoolConfig controls connection pool sizing, defaulted per SPEC_FULL.md §5.
type PoolConfig struct {
	MaxIdleConns        int
	MaxOpenConns        int
	ConnTimeout         time.Duration
	IdleTimeout         time.Duration
	MaxLifetime         time.Duration
	LeakDetectThreshold time.Duration
}

// PoolConfigFromConfig derives a PoolConfig from the loaded application
// configuration, falling back to spec.md's defaults (10/50/30s/10m/30m/60s).
func PoolConfigFromConfig(cfg config.Config) PoolConfig {
	return PoolConfig{
		MaxIdleConns:        orDefault(cfg.Database.MaxIdleConns, 10),
		MaxOpenConns:        orDefault(cfg.Database.MaxOpenConns, 50),
		ConnTimeout:         time.Duration(orDefault(cfg.Database.ConnTimeoutSec, 30)) * time.Second,
		IdleTimeout:         time.Duration(orDefault(cfg.Database.IdleTimeoutMin, 10)) * time.Minute,
		MaxLifetime:         time.Duration(orDefault(cfg.Database.MaxLifetimeMin, 30)) * time.Minute,
		LeakDetectThreshold: time.Duration(orDefault(cfg.Database.LeakDetectSec, 60)) * time.Second,
	}
}

func orDefault(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

// Open connects to Postgres at dsn and applies pool sizing from pc. It
// verifies connectivity within pc.ConnTimeout and starts a background
// sampler that warns when the pool looks like it is leaking connections
// (every slot in use for longer than pc.LeakDetectThreshold).
func Open(dsn string, pc PoolConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	db.SetMaxIdleConns(pc.MaxIdleConns)
	db.SetMaxOpenConns(pc.MaxOpenConns)
	db.SetConnMaxIdleTime(pc.IdleTimeout)
	db.SetConnMaxLifetime(pc.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), pc.ConnTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: connect to database within %s: %w", pc.ConnTimeout, err)
	}

	go watchForLeaks(db, pc)
	return db, nil
}

// watchForLeaks polls db.Stats() and logs a warning when every connection
// in the pool has been in use continuously for at least
// pc.LeakDetectThreshold, a sign that callers are failing to release
// connections on some code path.
func watchForLeaks(db *sql.DB, pc PoolConfig) {
	if pc.LeakDetectThreshold <= 0 || pc.MaxOpenConns <= 0 {
		return
	}
	ticker := time.NewTicker(pc.LeakDetectThreshold / 4)
	defer ticker.Stop()

	var busySince time.Time
	for range ticker.C {
		stats := db.Stats()
		if stats.InUse >= pc.MaxOpenConns {
			if busySince.IsZero() {
				busySince = time.Now()
				continue
			}
			if time.Since(busySince) >= pc.LeakDetectThreshold {
				logrus.WithFields(logrus.Fields{
					"in_use":     stats.InUse,
					"open":       stats.OpenConnections,
					"wait_count": stats.WaitCount,
				}).Warn("store: connection pool has been fully saturated past the leak-detection threshold, possible connection leak")
				busySince = time.Now()
			}
			continue
		}
		busySince = time.Time{}
	}
}
