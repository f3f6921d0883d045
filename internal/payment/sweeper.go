package payment

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/store"
	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/timeutil"
)

// SweepInterval is how often the background sweeper calls ExpirePending.
const SweepInterval = 30 * time.Second

// Sweeper periodically expires pending sessions past their expiry, per
// SPEC_FULL.md's supplemented "background payment-session sweep" feature
// implementing PaymentStore.expirePending() — spec.md names the operation
// but does not say who calls it.
type Sweeper struct {
	sessions *store.PaymentStore
	clock    timeutil.Meter
	log      *logrus.Entry
}

// NewSweeper constructs a Sweeper.
func NewSweeper(sessions *store.PaymentStore, clk timeutil.Meter) *Sweeper {
	return &Sweeper{sessions: sessions, clock: clk, log: logrus.WithField("component", "payment-sweeper")}
}

// Run loops until ctx is cancelled, calling ExpirePending every
// SweepInterval.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := sw.clock.Ticker(SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sw.tick(ctx)
		}
	}
}

func (sw *Sweeper) tick(ctx context.Context) {
	n, err := sw.sessions.ExpirePending(ctx, sw.clock.Now())
	if err != nil {
		sw.log.WithError(err).Warn("expirePending sweep failed")
		return
	}
	if n > 0 {
		sw.log.WithField("count", n).Info("expired stale pending payment sessions")
	}
}
